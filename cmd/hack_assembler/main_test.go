package main

import (
	"os"
	"path/filepath"
	"testing"
)

// These fixtures are self-contained (no external course 'projects/' tree): short enough to
// hand-verify their expected binary against pkg/hack's own Comp/Dest/Jump encoding tables.
func TestHackAssembler(t *testing.T) {
	test := func(t *testing.T, source string, expected string) {
		dir := t.TempDir()
		input := filepath.Join(dir, "program.asm")
		output := filepath.Join(dir, "program.hack")

		if err := os.WriteFile(input, []byte(source), 0644); err != nil {
			t.Fatalf("unable to write fixture input: %v", err)
		}

		status := Handler([]string{input, output}, nil)
		if status != 0 {
			t.Fatalf("unexpected exit status code: expected 0 got: %d", status)
		}

		compiled, err := os.ReadFile(output)
		if err != nil {
			t.Fatalf("error reading output file %s: %v", output, err)
		}

		if string(compiled) != expected {
			t.Fatalf("output does not match:\nexpected:\n%s\ngot:\n%s", expected, compiled)
		}
	}

	t.Run("Add (constant arithmetic, no symbols)", func(t *testing.T) {
		test(t, `
			// Computes R0 = 2 + 3
			@2
			D=A
			@3
			D=D+A
			@0
			M=D
		`, "0000000000000010\n"+
			"1110110000010000\n"+
			"0000000000000011\n"+
			"1110000010010000\n"+
			"0000000000000000\n"+
			"1110001100001000\n")
	})

	t.Run("Undeclared labels allocated as variables starting at 16", func(t *testing.T) {
		test(t, `
			@i
			M=1
			@sum
			M=0
		`, "0000000000010000\n"+
			"1110111111001000\n"+
			"0000000000010001\n"+
			"1110101010001000\n")
	})
}
