package asm_test

import (
	"testing"

	"n2t.dev/toolchain/pkg/asm"
	"n2t.dev/toolchain/pkg/hack"
)

func TestLowerAInst(t *testing.T) {
	lowerer := asm.NewLowerer(asm.Program{})

	test := func(inst asm.AInstruction, expected hack.LocationType) {
		res, err := lowerer.HandleAInst(inst)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		hackInst, ok := res.(hack.AInstruction)
		if !ok {
			t.Fatalf("expected a 'hack.AInstruction', got %T", res)
		}
		if hackInst.LocType != expected {
			t.Fatalf("expected LocType '%v', got '%v'", expected, hackInst.LocType)
		}
	}

	t.Run("Built-in symbols", func(t *testing.T) {
		test(asm.AInstruction{Location: "SP"}, hack.BuiltIn)
		test(asm.AInstruction{Location: "R13"}, hack.BuiltIn)
	})

	t.Run("Raw addresses", func(t *testing.T) {
		test(asm.AInstruction{Location: "16"}, hack.Raw)
		test(asm.AInstruction{Location: "1024"}, hack.Raw)
	})

	t.Run("User-defined labels", func(t *testing.T) {
		test(asm.AInstruction{Location: "LOOP_START"}, hack.Label)
		test(asm.AInstruction{Location: "Main.sum"}, hack.Label)
	})
}

func TestLowerCInst(t *testing.T) {
	lowerer := asm.NewLowerer(asm.Program{})

	test := func(inst asm.CInstruction, fail bool) {
		res, err := lowerer.HandleCInst(inst)
		if fail {
			if err == nil {
				t.Fatalf("expected an error, got none")
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		hackInst, ok := res.(hack.CInstruction)
		if !ok {
			t.Fatalf("expected a 'hack.CInstruction', got %T", res)
		}
		if hackInst.Dest != inst.Dest || hackInst.Jump != inst.Jump || hackInst.Comp != inst.Comp {
			t.Fatalf("expected lowered fields to match input 1:1, got %+v from %+v", hackInst, inst)
		}
	}

	t.Run("Dest only", func(t *testing.T) {
		test(asm.CInstruction{Comp: "D+1", Dest: "D"}, false)
	})

	t.Run("Jump only", func(t *testing.T) {
		test(asm.CInstruction{Comp: "0", Jump: "JMP"}, false)
	})

	t.Run("Dest and Jump together", func(t *testing.T) {
		// A single C Instruction is allowed to carry both a destination and a jump,
		// e.g. 'M=D;JEQ' is valid Hack assembly and must preserve both fields.
		test(asm.CInstruction{Comp: "D", Dest: "M", Jump: "JEQ"}, false)
	})

	t.Run("Missing both Dest and Jump", func(t *testing.T) {
		test(asm.CInstruction{Comp: "D+1"}, true)
	})

	t.Run("Missing Comp", func(t *testing.T) {
		test(asm.CInstruction{Dest: "D"}, true)
	})
}

func TestLowerLabelDecl(t *testing.T) {
	lowerer := asm.NewLowerer(asm.Program{})

	res, err := lowerer.HandleLabelDecl(asm.LabelDecl{Name: "LOOP_START"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res != "LOOP_START" {
		t.Fatalf("expected label name to pass through unchanged, got '%s'", res)
	}
}

func TestLower(t *testing.T) {
	t.Run("resolves labels to their instruction index", func(t *testing.T) {
		lowerer := asm.NewLowerer(asm.Program{
			asm.AInstruction{Location: "16"},
			asm.LabelDecl{Name: "LOOP"},
			asm.CInstruction{Comp: "D", Dest: "M", Jump: "JEQ"},
			asm.AInstruction{Location: "LOOP"},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		})

		program, table, err := lowerer.Lower()
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if len(program) != 4 {
			t.Fatalf("expected label declarations to not emit an instruction, got %d instructions", len(program))
		}
		if table["LOOP"] != 1 {
			t.Fatalf("expected 'LOOP' to resolve to instruction index 1, got %d", table["LOOP"])
		}
	})

	t.Run("rejects an empty program", func(t *testing.T) {
		lowerer := asm.NewLowerer(asm.Program{})
		if _, _, err := lowerer.Lower(); err == nil {
			t.Fatal("expected an error lowering an empty program")
		}
	})
}
