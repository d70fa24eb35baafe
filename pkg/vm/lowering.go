package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"n2t.dev/toolchain/pkg/asm"
)

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' and produces its 'asm.Program' counterpart.
//
// Translation units (modules) are visited in lexicographic order by name, giving a
// deterministic output regardless of the order files were provided on the command line.
// Static segment references are namespaced per module ('currentFile') and branch labels
// are namespaced per function ('currentFunction'), matching the VM language's scoping rules.
//
// When 'optimize' is enabled, compare operations (eq/gt/lt), the call prologue and the
// return epilogue are lowered as jumps into shared subroutines instead of being inlined
// at every call site. The shared bodies are appended once, after all module code, and are
// referenced through fully resolved labels so forward references (e.g. the bootstrap
// jumping into a thunk defined further down the program) resolve fine at assembly time.
type Lowerer struct {
	program  Program
	optimize bool

	currentFile     string
	currentFunction string

	compareCounter int
	callCounter    int

	sharedUsed  map[string]bool
	callThunks  map[string]bool
	thunkBodies asm.Program
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
func NewLowerer(p Program, optimize bool) Lowerer {
	return Lowerer{
		program:    p,
		optimize:   optimize,
		sharedUsed: map[string]bool{},
		callThunks: map[string]bool{},
	}
}

// Lowerer triggers the lowering process for the whole program, visiting one module at a
// time (in lexicographic order) and appending the shared subroutine bodies (if any were
// used) once translation is complete.
func (l *Lowerer) Lowerer() (asm.Program, error) {
	if len(l.program) == 0 {
		return nil, fmt.Errorf("the given 'program' is empty")
	}

	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	converted := asm.Program{}
	for _, name := range names {
		l.currentFile = strings.TrimSuffix(name, ".vm")
		l.currentFunction = ""

		for _, op := range l.program[name] {
			lowered, err := l.lowerOperation(op)
			if err != nil {
				return nil, fmt.Errorf("module '%s': %w", name, err)
			}
			converted = append(converted, lowered...)
		}
	}

	converted = append(converted, l.thunkBodies...)
	return converted, nil
}

// Bootstrap lowers the fixed prologue that initializes SP to 256 and invokes 'Sys.init'.
// It must be prepended (not appended) to the result of 'Lowerer()' by the caller, since its
// use of the shared subroutines (if optimize is set) is captured in this same Lowerer
// instance and only flushed once 'Lowerer()' runs.
func (l *Lowerer) Bootstrap() (asm.Program, error) {
	prologue := asm.Program{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	call, err := l.lowerFuncCallOp(FuncCallOp{Name: "Sys.init", NArgs: 0})
	if err != nil {
		return nil, err
	}

	return append(prologue, call...), nil
}

func (l *Lowerer) lowerOperation(op Operation) (asm.Program, error) {
	switch tOp := op.(type) {
	case MemoryOp:
		return l.lowerMemoryOp(tOp)
	case ArithmeticOp:
		return l.lowerArithmeticOp(tOp)
	case LabelDecl:
		return l.lowerLabelDecl(tOp)
	case GotoOp:
		return l.lowerGotoOp(tOp)
	case FuncDecl:
		return l.lowerFuncDecl(tOp)
	case FuncCallOp:
		return l.lowerFuncCallOp(tOp)
	case ReturnOp:
		return l.lowerReturnOp(tOp)
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", op)
	}
}

// ----------------------------------------------------------------------------
// Shared Asm fragments

// pushD appends the value currently held in D onto the top of the stack, advancing SP.
func pushD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M+1"},
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// segmentBase maps a VM segment to the Hack assembly symbol holding its base address.
// Only 'local', 'argument', 'this' and 'that' are base-relative; the caller is expected
// to have handled 'constant', 'temp', 'pointer' and 'static' beforehand.
func segmentBase(seg SegmentType) (string, error) {
	switch seg {
	case Local:
		return "LCL", nil
	case Argument:
		return "ARG", nil
	case This:
		return "THIS", nil
	case That:
		return "THAT", nil
	default:
		return "", fmt.Errorf("segment '%s' has no base-relative address", seg)
	}
}

// segmentAddress produces the instructions that leave the A register pointing at the
// target memory cell for the given segment/offset pair. 'constant' has no address (it's
// a literal) and must be handled separately by the caller.
func (l *Lowerer) segmentAddress(seg SegmentType, offset uint16) (asm.Program, error) {
	switch seg {
	case Temp:
		if offset > 7 {
			return nil, fmt.Errorf("invalid 'temp' offset, got %d", offset)
		}
		return asm.Program{asm.AInstruction{Location: strconv.Itoa(int(5 + offset))}}, nil

	case Pointer:
		if offset > 1 {
			return nil, fmt.Errorf("invalid 'pointer' offset, got %d", offset)
		}
		return asm.Program{asm.AInstruction{Location: strconv.Itoa(int(3 + offset))}}, nil

	case Static:
		label := fmt.Sprintf("%s.%d", l.currentFile, offset)
		return asm.Program{asm.AInstruction{Location: label}}, nil

	case Local, Argument, This, That:
		base, err := segmentBase(seg)
		if err != nil {
			return nil, err
		}
		return asm.Program{
			asm.AInstruction{Location: strconv.Itoa(int(offset))},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: base},
			asm.CInstruction{Dest: "A", Comp: "D+M"},
		}, nil

	default:
		return nil, fmt.Errorf("segment '%s' has no indexable address", seg)
	}
}

// ----------------------------------------------------------------------------
// Memory Ops

func (l *Lowerer) lowerMemoryOp(op MemoryOp) (asm.Program, error) {
	if op.Operation == Push {
		if op.Segment == Constant {
			program := asm.Program{
				asm.AInstruction{Location: strconv.Itoa(int(op.Offset))},
				asm.CInstruction{Dest: "D", Comp: "A"},
			}
			return append(program, pushD()...), nil
		}

		address, err := l.segmentAddress(op.Segment, op.Offset)
		if err != nil {
			return nil, err
		}
		address = append(address, asm.CInstruction{Dest: "D", Comp: "M"})
		return append(address, pushD()...), nil
	}

	// Pop
	if op.Segment == Constant {
		return nil, fmt.Errorf("cannot 'pop' into the 'constant' segment")
	}

	address, err := l.segmentAddress(op.Segment, op.Offset)
	if err != nil {
		return nil, err
	}

	program := append(address, asm.CInstruction{Dest: "D", Comp: "A"})
	program = append(program, asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"})
	program = append(program,
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	)
	program = append(program,
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)
	return program, nil
}

// ----------------------------------------------------------------------------
// Arithmetic Ops

func (l *Lowerer) lowerArithmeticOp(op ArithmeticOp) (asm.Program, error) {
	switch op.Operation {
	case Add, Sub, And, Or:
		return l.lowerBinaryOp(op.Operation)
	case Neg, Not:
		return l.lowerUnaryOp(op.Operation)
	case Eq, Gt, Lt:
		if l.optimize {
			return l.lowerCompareOpShared(op.Operation)
		}
		return l.lowerCompareOpInline(op.Operation)
	default:
		return nil, fmt.Errorf("unrecognized arithmetic operation '%s'", op.Operation)
	}
}

func (l *Lowerer) lowerBinaryOp(op ArithOpType) (asm.Program, error) {
	var comp string
	switch op {
	case Add:
		comp = "D+M"
	case Sub:
		comp = "M-D"
	case And:
		comp = "D&M"
	case Or:
		comp = "D|M"
	default:
		return nil, fmt.Errorf("'%s' is not a binary operation", op)
	}

	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "M", Comp: comp},
	}, nil
}

func (l *Lowerer) lowerUnaryOp(op ArithOpType) (asm.Program, error) {
	var comp string
	switch op {
	case Neg:
		comp = "-M"
	case Not:
		comp = "!M"
	default:
		return nil, fmt.Errorf("'%s' is not a unary operation", op)
	}

	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: comp},
	}, nil
}

func compareJump(op ArithOpType) (string, error) {
	switch op {
	case Eq:
		return "JEQ", nil
	case Gt:
		return "JGT", nil
	case Lt:
		return "JLT", nil
	default:
		return "", fmt.Errorf("'%s' is not a compare operation", op)
	}
}

// lowerCompareOpInline emits the full eq/gt/lt sequence at the call site, each instance
// carrying its own uniquely numbered true/end labels to avoid collisions.
func (l *Lowerer) lowerCompareOpInline(op ArithOpType) (asm.Program, error) {
	jump, err := compareJump(op)
	if err != nil {
		return nil, err
	}

	scope := l.currentFunction
	if scope == "" {
		scope = l.currentFile
	}
	trueLabel := fmt.Sprintf("%s$COMPARE_TRUE_%d", scope, l.compareCounter)
	endLabel := fmt.Sprintf("%s$COMPARE_END_%d", scope, l.compareCounter)
	l.compareCounter++

	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: trueLabel},
		asm.CInstruction{Comp: "D", Jump: jump},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.AInstruction{Location: endLabel},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: trueLabel},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "-1"},
		asm.LabelDecl{Name: endLabel},
	}, nil
}

// lowerCompareOpShared computes the comparison value at the call site, then delegates
// to a shared '$EQ$'/'$GT$'/'$LT$' subroutine (emitted once, on first use) that writes
// the boolean result and jumps back via R15.
func (l *Lowerer) lowerCompareOpShared(op ArithOpType) (asm.Program, error) {
	jump, err := compareJump(op)
	if err != nil {
		return nil, err
	}
	shared := fmt.Sprintf("$%s$", strings.ToUpper(string(op)))

	if !l.sharedUsed[shared] {
		l.sharedUsed[shared] = true
		doneLabel := shared + "DONE"
		l.thunkBodies = append(l.thunkBodies,
			asm.LabelDecl{Name: shared},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "-1"},
			asm.AInstruction{Location: doneLabel},
			asm.CInstruction{Comp: "D", Jump: jump},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "0"},
			asm.LabelDecl{Name: doneLabel},
			asm.AInstruction{Location: "R15"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		)
	}

	returnLabel := fmt.Sprintf("%s$COMPARE_RET_%d", l.currentFile, l.callCounter)
	l.callCounter++

	// The return address is stored in R15 first, so D still holds the comparison value
	// when the shared subroutine tests it.
	return asm.Program{
		asm.AInstruction{Location: returnLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "R15"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: shared},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: returnLabel},
	}, nil
}

// ----------------------------------------------------------------------------
// Program Flow Ops

func (l *Lowerer) scopedLabel(name string) string {
	if l.currentFunction == "" {
		return name
	}
	return fmt.Sprintf("%s$%s", l.currentFunction, name)
}

func (l *Lowerer) lowerLabelDecl(op LabelDecl) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower empty label declaration")
	}
	return asm.Program{asm.LabelDecl{Name: l.scopedLabel(op.Name)}}, nil
}

func (l *Lowerer) lowerGotoOp(op GotoOp) (asm.Program, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to lower jump with an empty label")
	}
	target := l.scopedLabel(op.Label)

	if op.Jump == Unconditional {
		return asm.Program{
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}
	if op.Jump == Conditional {
		return asm.Program{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "D", Jump: "JNE"},
		}, nil
	}

	return nil, fmt.Errorf("unrecognized jump type '%s'", op.Jump)
}

// ----------------------------------------------------------------------------
// Function Ops

func (l *Lowerer) lowerFuncDecl(op FuncDecl) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower function declaration with an empty name")
	}
	l.currentFunction = op.Name

	program := asm.Program{asm.LabelDecl{Name: op.Name}}
	for i := uint8(0); i < op.NLocal; i++ {
		program = append(program, asm.AInstruction{Location: "0"}, asm.CInstruction{Dest: "D", Comp: "A"})
		program = append(program, pushD()...)
	}
	return program, nil
}

// callSetup pushes the return address followed by LCL, ARG, THIS and THAT, and then
// rebases ARG/LCL for the callee. Shared by both the inline and the thunk call paths.
func callSetup(returnLabel string, nArgs uint8) asm.Program {
	program := asm.Program{asm.AInstruction{Location: returnLabel}, asm.CInstruction{Dest: "D", Comp: "A"}}
	program = append(program, pushD()...)

	for _, seg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		program = append(program, asm.AInstruction{Location: seg}, asm.CInstruction{Dest: "D", Comp: "M"})
		program = append(program, pushD()...)
	}

	program = append(program,
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: strconv.Itoa(int(nArgs) + 5)}, asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	return program
}

func (l *Lowerer) lowerFuncCallOp(op FuncCallOp) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower function call with an empty name")
	}

	if l.optimize {
		return l.lowerFuncCallOpShared(op)
	}
	return l.lowerFuncCallOpInline(op)
}

func (l *Lowerer) lowerFuncCallOpInline(op FuncCallOp) (asm.Program, error) {
	returnLabel := fmt.Sprintf("%s$ret.%d", op.Name, l.callCounter)
	l.callCounter++

	program := callSetup(returnLabel, op.NArgs)
	program = append(program, asm.AInstruction{Location: op.Name}, asm.CInstruction{Comp: "0", Jump: "JMP"})
	program = append(program, asm.LabelDecl{Name: returnLabel})
	return program, nil
}

// lowerFuncCallOpShared delegates the caller-side setup to a thunk shared by every call
// to the same (function, nArgs) pair, emitting the thunk body itself once on first use.
func (l *Lowerer) lowerFuncCallOpShared(op FuncCallOp) (asm.Program, error) {
	thunkKey := fmt.Sprintf("%s#%d", op.Name, op.NArgs)
	thunkLabel := fmt.Sprintf("$CALL$%s$%d", op.Name, op.NArgs)

	if !l.callThunks[thunkKey] {
		l.callThunks[thunkKey] = true
		// The caller's return address arrives in R15 and is pushed as the frame's return
		// address, so the callee's 'return' jumps straight back to the call site.
		setup := callSetup("R15", op.NArgs)
		setup[1] = asm.CInstruction{Dest: "D", Comp: "M"}

		body := asm.Program{asm.LabelDecl{Name: thunkLabel}}
		body = append(body, setup...)
		body = append(body, asm.AInstruction{Location: op.Name}, asm.CInstruction{Comp: "0", Jump: "JMP"})
		l.thunkBodies = append(l.thunkBodies, body...)
	}

	returnLabel := fmt.Sprintf("%s$ret.%d", op.Name, l.callCounter)
	l.callCounter++

	return asm.Program{
		asm.AInstruction{Location: returnLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "R15"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: thunkLabel},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: returnLabel},
	}, nil
}

func (l *Lowerer) lowerReturnOp(op ReturnOp) (asm.Program, error) {
	if l.optimize {
		return l.lowerReturnOpShared()
	}
	return l.lowerReturnOpInline()
}

func (l *Lowerer) lowerReturnOpInline() (asm.Program, error) {
	return asm.Program{
		// R13 = FRAME = LCL
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// R14 = RET = *(FRAME-5)
		asm.AInstruction{Location: "5"}, asm.CInstruction{Dest: "A", Comp: "D-A"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// *ARG = pop()
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "A", Comp: "M"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// SP = ARG+1
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// THAT = *(FRAME-1)
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "THAT"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// THIS = *(FRAME-2)
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "THIS"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// ARG = *(FRAME-3)
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// LCL = *(FRAME-4)
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// goto RET
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "A", Comp: "M"}, asm.CInstruction{Comp: "0", Jump: "JMP"},
	}, nil
}

func (l *Lowerer) lowerReturnOpShared() (asm.Program, error) {
	const shared = "$RETURN$"

	if !l.sharedUsed[shared] {
		l.sharedUsed[shared] = true
		body, err := l.lowerReturnOpInline()
		if err != nil {
			return nil, err
		}
		l.thunkBodies = append(l.thunkBodies, asm.LabelDecl{Name: shared})
		l.thunkBodies = append(l.thunkBodies, body...)
	}

	return asm.Program{
		asm.AInstruction{Location: shared},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	}, nil
}
