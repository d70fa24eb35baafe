package utils

import "encoding/json"

// MapEntry is a single key/value pair, used to seed or iterate an OrderedMap.
type MapEntry[K comparable, V any] struct {
	Key   K
	Value V
}

// OrderedMap behaves like a map[K]V but remembers insertion order, so code that
// iterates it (e.g. class field/subroutine lowering) produces reproducible output
// across runs instead of relying on Go's randomized map iteration order.
type OrderedMap[K comparable, V any] struct {
	entries []MapEntry[K, V]
	index   map[K]int
}

// NewOrderedMap returns an empty, ready to use OrderedMap.
func NewOrderedMap[K comparable, V any]() OrderedMap[K, V] {
	return OrderedMap[K, V]{index: map[K]int{}}
}

// NewOrderedMapFromList builds an OrderedMap preserving the given slice's order.
// Later entries with a duplicate key overwrite earlier ones without changing position.
func NewOrderedMapFromList[K comparable, V any](entries []MapEntry[K, V]) OrderedMap[K, V] {
	m := NewOrderedMap[K, V]()
	for _, entry := range entries {
		m.Set(entry.Key, entry.Value)
	}
	return m
}

// Set inserts a new key/value pair, or overwrites the value of an existing key in place.
func (m *OrderedMap[K, V]) Set(key K, value V) {
	if m.index == nil {
		m.index = map[K]int{}
	}

	if i, exists := m.index[key]; exists {
		m.entries[i].Value = value
		return
	}

	m.index[key] = len(m.entries)
	m.entries = append(m.entries, MapEntry[K, V]{Key: key, Value: value})
}

// Get looks up the value for 'key', the second return mirrors the plain map "comma ok" idiom.
func (m OrderedMap[K, V]) Get(key K) (V, bool) {
	if i, exists := m.index[key]; exists {
		return m.entries[i].Value, true
	}

	var zero V
	return zero, false
}

// Entries returns the stored values in insertion order.
func (m OrderedMap[K, V]) Entries() []V {
	values := make([]V, len(m.entries))
	for i, entry := range m.entries {
		values[i] = entry.Value
	}
	return values
}

// Size returns the count of distinct keys currently stored.
func (m OrderedMap[K, V]) Size() int { return len(m.entries) }

// MarshalJSON renders the map as an ordered array of entries rather than a plain JSON
// object, so insertion order survives a round trip through JSON (e.g. the embedded
// standard library ABI).
func (m OrderedMap[K, V]) MarshalJSON() ([]byte, error) {
	if m.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.entries)
}

// UnmarshalJSON rebuilds the map from the array shape produced by MarshalJSON.
func (m *OrderedMap[K, V]) UnmarshalJSON(data []byte) error {
	var entries []MapEntry[K, V]
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*m = NewOrderedMapFromList(entries)
	return nil
}
