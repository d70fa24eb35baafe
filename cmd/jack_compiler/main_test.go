package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// No external 'projects/'/git-diff harness here: fixtures are small enough to assert on
// the generated VM text directly.
func TestJackCompiler(t *testing.T) {
	run := func(t *testing.T, className string, source string, options map[string]string) string {
		dir := t.TempDir()
		input := filepath.Join(dir, className+".jack")
		if err := os.WriteFile(input, []byte(source), 0644); err != nil {
			t.Fatalf("unable to write fixture input: %v", err)
		}

		status := Handler([]string{input}, options)
		if status != 0 {
			t.Fatalf("unexpected exit status code: expected 0 got: %d", status)
		}

		compiled, err := os.ReadFile(filepath.Join(dir, className+".vm"))
		if err != nil {
			t.Fatalf("error reading output file: %v", err)
		}
		return string(compiled)
	}

	t.Run("Void method emits implicit return 0", func(t *testing.T) {
		vm := run(t, "M", "class M { method void f() { return; } }", map[string]string{})
		if !strings.Contains(vm, "function M.f 0") {
			t.Fatalf("expected 'function M.f 0', got:\n%s", vm)
		}
		if !strings.Contains(vm, "push constant 0") {
			t.Fatalf("expected implicit 'push constant 0' before return, got:\n%s", vm)
		}
		if !strings.Contains(vm, "return") {
			t.Fatalf("expected a 'return', got:\n%s", vm)
		}
	})

	t.Run("Constructor allocates the object via Memory.alloc", func(t *testing.T) {
		vm := run(t, "Point", `
			class Point {
				field int x, y;
				constructor Point new(int ax, int ay) {
					let x = ax;
					let y = ay;
					return this;
				}
			}
		`, map[string]string{})
		if !strings.Contains(vm, "function Point.new 0") {
			t.Fatalf("expected 'function Point.new 0', got:\n%s", vm)
		}
		if !strings.Contains(vm, "call Memory.alloc 1") {
			t.Fatalf("expected constructor to call 'Memory.alloc 1', got:\n%s", vm)
		}
		if !strings.Contains(vm, "pop pointer 0") {
			t.Fatalf("expected constructor to bind the allocated object to 'this', got:\n%s", vm)
		}
	})

	t.Run("Method binds implicit this from argument 0", func(t *testing.T) {
		vm := run(t, "Point", `
			class Point {
				field int x;
				method int getX() { return x; }
			}
		`, map[string]string{})
		if !strings.Contains(vm, "push argument 0") || !strings.Contains(vm, "pop pointer 0") {
			t.Fatalf("expected method prologue to bind 'this' from argument 0, got:\n%s", vm)
		}
		if !strings.Contains(vm, "push this 0") {
			t.Fatalf("expected field access to read 'this 0', got:\n%s", vm)
		}
	})

	t.Run("stdlib option resolves OS calls without their source present", func(t *testing.T) {
		vm := run(t, "Main", `
			class Main {
				function void main() {
					do Output.printInt(42);
					return;
				}
			}
		`, map[string]string{"stdlib": "true"})
		if !strings.Contains(vm, "call Output.printInt 1") {
			t.Fatalf("expected a call into 'Output.printInt', got:\n%s", vm)
		}
	})

	t.Run("typecheck option rejects an undefined variable", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "Bad.jack")
		source := `class Bad { function void run() { let x = 1; return; } }`
		if err := os.WriteFile(input, []byte(source), 0644); err != nil {
			t.Fatalf("unable to write fixture input: %v", err)
		}

		status := Handler([]string{input}, map[string]string{"typecheck": "true"})
		if status == 0 {
			t.Fatalf("expected a non-zero exit status for an undefined variable, got 0")
		}
	})
}
