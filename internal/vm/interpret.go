package vm

import (
	"espresso/internal/bytecode"
	"espresso/internal/errs"
)

// Invoke is the single primitive through which every transition between
// host code and user code passes. base is the absolute stack index holding
// the callee (Function or NativeFunction); argc is the argument count,
// counting the callee's own register 0 slot (so a zero-parameter function
// is invoked with argc == 1, matching its arity).
func (rt *Runtime) Invoke(base, argc int) error {
	calleeVal := *rt.StackAt(base)

	var arity, localCount int
	isNative := false
	switch calleeVal.tag {
	case TagFunction:
		fn := calleeVal.asFunction()
		arity, localCount = fn.Arity, fn.LocalCount
	case TagNativeFunction:
		nf := calleeVal.asNative()
		arity, localCount = nf.Arity, nf.LocalCount
		isNative = true
	default:
		return rt.Throwf("Illegal cast to function")
	}
	if argc != arity {
		return rt.Throwf("Invalid arity")
	}

	rt.growStack(base + localCount)
	for i := argc; i < localCount; i++ {
		rt.stack[base+i] = Nil()
	}

	rt.frames = append(rt.frames, CallFrame{stackBase: base, stackSize: localCount})
	defer func() {
		rt.frames = rt.frames[:len(rt.frames)-1]
		keep := base + 1
		if caller := rt.CurrentFrame(); caller != nil && caller.stackBase+caller.stackSize > keep {
			keep = caller.stackBase + caller.stackSize
		}
		if len(rt.stack) > keep {
			rt.stack = rt.stack[:keep]
		}
	}()

	if isNative {
		return calleeVal.asNative().Handle(rt)
	}
	return rt.interpret()
}

func (rt *Runtime) localPtr(frame *CallFrame, i int) *Value {
	if i < 0 || i >= frame.stackSize {
		errs.Raise("Stack underflow: register %d out of range [0,%d)", i, frame.stackSize)
	}
	return &rt.stack[frame.stackBase+i]
}

// interpret runs the fetch-decode-dispatch loop for the innermost frame
// until it returns or an exception propagates out.
func (rt *Runtime) interpret() error {
	for {
		frame := rt.CurrentFrame()
		callee := rt.stack[frame.stackBase]
		fn, ok := callee.obj.(*Function)
		if !ok {
			errs.Raise("Register 0 does not hold the executing Function")
		}
		if frame.pc < 0 || frame.pc >= len(fn.Code) {
			errs.Raise("Program counter %d out of range [0,%d)", frame.pc, len(fn.Code))
		}
		instr := fn.Code[frame.pc]

		switch instr.Op() {
		case bytecode.NoOp:
			frame.pc++

		case bytecode.LoadConstant:
			a, l := int(instr.A()), int(instr.L())
			if l < 0 || l >= len(fn.Constants) {
				errs.Raise("Constant index %d out of range", l)
			}
			*rt.localPtr(frame, a) = fn.Constants[l]
			frame.pc++

		case bytecode.LoadGlobal:
			a, b := int(instr.A()), int(instr.B())
			key := *rt.localPtr(frame, b)
			if err := rt.AssertType(key, TagString); err != nil {
				return err
			}
			val, found := rt.globals.Get(key)
			if !found {
				return rt.Throwf("Undefined Global: %s", key.asString())
			}
			*rt.localPtr(frame, a) = val
			frame.pc++

		case bytecode.StoreGlobal:
			a, b := int(instr.A()), int(instr.B())
			key := *rt.localPtr(frame, a)
			if err := rt.AssertType(key, TagString); err != nil {
				return err
			}
			value := *rt.localPtr(frame, b)
			rt.globals.Put(key, value)
			frame.pc++

		case bytecode.Invoke:
			a, b := int(instr.A()), int(instr.B())
			absBase := frame.stackBase + a
			frame.pc++
			if err := rt.Invoke(absBase, b); err != nil {
				return err
			}

		case bytecode.Return:
			a := int(instr.A())
			result := *rt.localPtr(frame, a)
			*rt.localPtr(frame, 0) = result
			return nil

		case bytecode.Copy:
			a, b := int(instr.A()), int(instr.B())
			*rt.localPtr(frame, a) = *rt.localPtr(frame, b)
			frame.pc++

		case bytecode.Equal:
			a, b, c := int(instr.A()), int(instr.B()), int(instr.C())
			lhs, rhs := *rt.localPtr(frame, b), *rt.localPtr(frame, c)
			*rt.localPtr(frame, a) = BooleanValue(lhs.Equals(rhs))
			frame.pc++

		case bytecode.Add, bytecode.Sub, bytecode.Mul:
			a, b, c := int(instr.A()), int(instr.B()), int(instr.C())
			lhs, rhs := *rt.localPtr(frame, b), *rt.localPtr(frame, c)
			result, err := NumericOp(rt, instr.Op(), lhs, rhs)
			if err != nil {
				return err
			}
			*rt.localPtr(frame, a) = result
			frame.pc++

		case bytecode.Not:
			a, b := int(instr.A()), int(instr.B())
			*rt.localPtr(frame, a) = BooleanValue(!rt.localPtr(frame, b).IsTruthy())
			frame.pc++

		case bytecode.JumpIfFalse:
			a, l := int(instr.A()), int(instr.L())
			if !rt.localPtr(frame, a).IsTruthy() {
				frame.pc = l
			} else {
				frame.pc++
			}

		case bytecode.Jump:
			frame.pc = int(instr.L())

		case bytecode.NewMap:
			a := int(instr.A())
			*rt.localPtr(frame, a) = MapValue(rt.NewMap())
			frame.pc++

		case bytecode.MapSet:
			a, b, c := int(instr.A()), int(instr.B()), int(instr.C())
			mapVal := *rt.localPtr(frame, a)
			if err := rt.AssertType(mapVal, TagMap); err != nil {
				return err
			}
			mapVal.asMap().Put(*rt.localPtr(frame, b), *rt.localPtr(frame, c))
			frame.pc++

		default:
			errs.Raise("Unknown opcode %v", instr.Op())
		}
	}
}

// NumericOp implements the Add/Sub/Mul family shared by the interpreter's
// dispatch loop and the "+"/"-"/"*" native builtins: same-type Integer or
// Double, no implicit conversion, everything else Throws a type mismatch.
func NumericOp(rt *Runtime, op bytecode.OpCode, lhs, rhs Value) (Value, error) {
	if lhs.tag != rhs.tag || (lhs.tag != TagInteger && lhs.tag != TagDouble) {
		return Nil(), rt.Throwf("Type mismatch: %s %s %s", lhs.tag, op, rhs.tag)
	}
	if lhs.tag == TagInteger {
		a, b := lhs.asInteger(), rhs.asInteger()
		switch op {
		case bytecode.Add:
			return IntegerValue(a + b), nil
		case bytecode.Sub:
			return IntegerValue(a - b), nil
		case bytecode.Mul:
			return IntegerValue(a * b), nil
		}
	}
	a, b := lhs.asDouble(), rhs.asDouble()
	switch op {
	case bytecode.Add:
		return DoubleValue(a + b), nil
	case bytecode.Sub:
		return DoubleValue(a - b), nil
	case bytecode.Mul:
		return DoubleValue(a * b), nil
	}
	errs.Raise("unreachable numericOp %v", op)
	return Nil(), nil
}

// InvokeValue is a convenience for host and native code: push callee and
// args onto the stack at its current top and Invoke. It returns the result
// (local[0] at the call's base) on success.
func (rt *Runtime) InvokeValue(callee Value, args []Value) (Value, error) {
	base := len(rt.stack)
	rt.stack = append(rt.stack, callee)
	rt.stack = append(rt.stack, args...)
	if err := rt.Invoke(base, 1+len(args)); err != nil {
		return Nil(), err
	}
	result := rt.stack[base]
	rt.stack = rt.stack[:base]
	return result, nil
}
