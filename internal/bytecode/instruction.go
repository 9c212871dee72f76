// Package bytecode defines the 32-bit instruction encoding shared by the
// compiler, the verifier and the interpreter. An Instruction is either three
// small operands (opcode A B C) or one small operand plus one 16-bit operand
// (opcode A L), with the shape implied by the opcode.
package bytecode

import "fmt"

// OpCode identifies the operation encoded in the top byte of an Instruction.
type OpCode uint8

const (
	NoOp OpCode = iota
	LoadConstant
	LoadGlobal
	StoreGlobal
	Invoke
	Return
	Copy
	Equal
	Add
	Sub
	Mul
	Not
	JumpIfFalse
	Jump
	NewMap
	MapSet
	opCodeCount
)

var names = [...]string{
	NoOp:         "NoOp",
	LoadConstant: "LoadConstant",
	LoadGlobal:   "LoadGlobal",
	StoreGlobal:  "StoreGlobal",
	Invoke:       "Invoke",
	Return:       "Return",
	Copy:         "Copy",
	Equal:        "Equal",
	Add:          "Add",
	Sub:          "Sub",
	Mul:          "Mul",
	Not:          "Not",
	JumpIfFalse:  "JumpIfFalse",
	Jump:         "Jump",
	NewMap:       "NewMap",
	MapSet:       "MapSet",
}

func (op OpCode) String() string {
	if int(op) < len(names) && names[op] != "" {
		return names[op]
	}
	return fmt.Sprintf("OpCode(%d)", uint8(op))
}

// Valid reports whether op is a recognized opcode.
func (op OpCode) Valid() bool {
	return op < opCodeCount
}

// Instruction is a single 32-bit bytecode word.
type Instruction uint32

// MakeABC encodes a three-small-argument instruction: opcode, A, B, C.
func MakeABC(op OpCode, a, b, c uint8) Instruction {
	return Instruction(uint32(op)<<24 | uint32(a)<<16 | uint32(b)<<8 | uint32(c))
}

// MakeAL encodes a one-small-argument, one-large-argument instruction.
func MakeAL(op OpCode, a uint8, l uint16) Instruction {
	return Instruction(uint32(op)<<24 | uint32(a)<<16 | uint32(l))
}

// Op extracts the opcode from bits 31..24.
func (i Instruction) Op() OpCode { return OpCode(i >> 24) }

// A extracts the first small argument from bits 23..16.
func (i Instruction) A() uint8 { return uint8(i >> 16) }

// B extracts the second small argument from bits 15..8 (ABC form only).
func (i Instruction) B() uint8 { return uint8(i >> 8) }

// C extracts the third small argument from bits 7..0 (ABC form only).
func (i Instruction) C() uint8 { return uint8(i) }

// L extracts the 16-bit large argument from bits 15..0 (AL form only).
func (i Instruction) L() uint16 { return uint16(i) }

func (i Instruction) String() string {
	op := i.Op()
	switch op {
	case LoadConstant, JumpIfFalse, Jump, NewMap:
		return fmt.Sprintf("%-12s A=%-3d L=%-5d", op, i.A(), i.L())
	case LoadGlobal, StoreGlobal, Invoke, Return, Copy, Not:
		return fmt.Sprintf("%-12s A=%-3d B=%-3d", op, i.A(), i.B())
	case Equal, Add, Sub, Mul, MapSet:
		return fmt.Sprintf("%-12s A=%-3d B=%-3d C=%-3d", op, i.A(), i.B(), i.C())
	default:
		return fmt.Sprintf("%-12s A=%-3d B=%-3d C=%-3d", op, i.A(), i.B(), i.C())
	}
}
