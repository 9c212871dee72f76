package vm

import (
	"fmt"

	"espresso/internal/bytecode"
)

// Verify statically checks fn and every Function reachable through its
// constant pool, rejecting malformed bytecode before it ever reaches the
// interpreter. A function that passes Verify is guaranteed, by the
// interpreter's contract, to either return or throw but never panic from
// malformed register or jump arithmetic.
func (fn *Function) Verify() error {
	return fn.verify(make(map[*Function]bool))
}

func (fn *Function) verify(seen map[*Function]bool) error {
	if seen[fn] {
		return nil
	}
	seen[fn] = true

	if fn.Arity < 1 {
		return fmt.Errorf("verify %s: arity %d must be at least 1 (register 0 is reserved)", fn.Name, fn.Arity)
	}
	if fn.Arity > fn.LocalCount {
		return fmt.Errorf("verify %s: arity %d exceeds localCount %d", fn.Name, fn.Arity, fn.LocalCount)
	}
	if fn.LocalCount < 1 {
		return fmt.Errorf("verify %s: localCount must be at least 1", fn.Name)
	}
	if fn.LocalCount > 256 {
		return fmt.Errorf("verify %s: localCount %d exceeds the 256 register limit", fn.Name, fn.LocalCount)
	}

	for pc, instr := range fn.Code {
		if err := fn.verifyInstruction(pc, instr); err != nil {
			return err
		}
	}

	for i, c := range fn.Constants {
		if c.tag == TagFunction {
			if err := c.asFunction().verify(seen); err != nil {
				return fmt.Errorf("constant %d: %w", i, err)
			}
		}
	}
	return nil
}

func (fn *Function) verifyInstruction(pc int, instr bytecode.Instruction) error {
	op := instr.Op()
	if !op.Valid() {
		return fmt.Errorf("verify %s: instruction %d: unrecognized opcode %d", fn.Name, pc, uint8(op))
	}

	dest := func(reg uint8) error {
		if int(reg) <= 0 || int(reg) >= fn.LocalCount {
			return fmt.Errorf("verify %s: instruction %d: destination register %d out of range (0,%d)", fn.Name, pc, reg, fn.LocalCount)
		}
		return nil
	}
	src := func(reg uint8) error {
		if int(reg) < 0 || int(reg) >= fn.LocalCount {
			return fmt.Errorf("verify %s: instruction %d: source register %d out of range [0,%d)", fn.Name, pc, reg, fn.LocalCount)
		}
		return nil
	}
	jumpTarget := func(l uint16) error {
		if int(l) < 0 || int(l) >= len(fn.Code) {
			return fmt.Errorf("verify %s: instruction %d: jump target %d out of range [0,%d)", fn.Name, pc, l, len(fn.Code))
		}
		return nil
	}
	constantIndex := func(l uint16) error {
		if int(l) < 0 || int(l) >= len(fn.Constants) {
			return fmt.Errorf("verify %s: instruction %d: constant index %d out of range [0,%d)", fn.Name, pc, l, len(fn.Constants))
		}
		return nil
	}

	switch op {
	case bytecode.NoOp:
		return nil

	case bytecode.LoadConstant:
		if err := dest(instr.A()); err != nil {
			return err
		}
		return constantIndex(instr.L())

	case bytecode.LoadGlobal:
		if err := dest(instr.A()); err != nil {
			return err
		}
		return src(instr.B())

	case bytecode.StoreGlobal:
		if err := src(instr.A()); err != nil {
			return err
		}
		return src(instr.B())

	case bytecode.Invoke:
		if err := src(instr.A()); err != nil {
			return err
		}
		if instr.B() < 1 {
			return fmt.Errorf("verify %s: instruction %d: Invoke argumentCount %d must be at least 1", fn.Name, pc, instr.B())
		}
		return nil

	case bytecode.Return:
		return src(instr.A())

	case bytecode.Copy, bytecode.Not:
		if err := dest(instr.A()); err != nil {
			return err
		}
		return src(instr.B())

	case bytecode.Equal, bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.MapSet:
		if err := dest(instr.A()); err != nil {
			return err
		}
		if err := src(instr.B()); err != nil {
			return err
		}
		return src(instr.C())

	case bytecode.JumpIfFalse:
		if err := src(instr.A()); err != nil {
			return err
		}
		return jumpTarget(instr.L())

	case bytecode.Jump:
		return jumpTarget(instr.L())

	case bytecode.NewMap:
		return dest(instr.A())

	default:
		return fmt.Errorf("verify %s: instruction %d: unhandled opcode %v", fn.Name, pc, op)
	}
}
