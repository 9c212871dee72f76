package vm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"espresso/internal/bytecode"
)

// Serialized bytecode format, all multi-byte fields big-endian:
//
//	function := u16 arity, u16 byteCodeCount, u32*byteCodeCount bytecodes,
//	            u16 constantCount, constant*
//	constant := u8 tag, payload
//	  tag=0 nil:       (empty)
//	  tag=1 integer:   i64
//	  tag=2 double:    f64
//	  tag=3 string:    u32 length, length bytes
//	  tag=4 boolean:   u8 {0,1}
//	  tag=5 function:  nested function
//
// A function with more than 65535 constants cannot be addressed by the
// 16-bit constant indices bytecode uses, so the writer rejects it rather
// than emit a file the reader could never round-trip.

const (
	constTagNil     = 0
	constTagInteger = 1
	constTagDouble  = 2
	constTagString  = 3
	constTagBoolean = 4
	constTagFunction = 5
)

// ReadFunction parses one serialized function (and, recursively, every
// nested function in its constant pool) from r. The result is unverified;
// callers must run Function.Verify before invoking it.
func ReadFunction(rt *Runtime, r io.Reader) (*Function, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading function header: %w", err)
	}
	arity := int(binary.BigEndian.Uint16(header[0:2]))
	byteCodeCount := int(binary.BigEndian.Uint16(header[2:4]))

	fn := rt.NewFunction()
	fn.Arity = arity

	fn.Code = make([]bytecode.Instruction, byteCodeCount)
	raw := make([]byte, 4*byteCodeCount)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading bytecodes: %w", err)
	}
	for i := 0; i < byteCodeCount; i++ {
		fn.Code[i] = bytecode.Instruction(binary.BigEndian.Uint32(raw[i*4:]))
	}

	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("reading constant count: %w", err)
	}
	constantCount := int(binary.BigEndian.Uint16(countBuf[:]))

	fn.Constants = make([]Value, constantCount)
	for i := 0; i < constantCount; i++ {
		v, err := readConstant(rt, r)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		fn.Constants[i] = v
	}

	fn.LocalCount = requiredLocalCount(arity, fn.Code)
	return fn, nil
}

// requiredLocalCount recovers localCount from a function's bytecode: the
// wire format carries only arity and byteCodeCount, not localCount (it is
// a codegen-time bookkeeping value, not something the interpreter needs
// stored), so the reader reconstructs it as one past the highest register
// any instruction addresses.
func requiredLocalCount(arity int, code []bytecode.Instruction) int {
	highest := arity - 1
	reg := func(r uint8) {
		if int(r) > highest {
			highest = int(r)
		}
	}
	for _, instr := range code {
		switch instr.Op() {
		case bytecode.LoadConstant, bytecode.NewMap:
			reg(instr.A())
		case bytecode.LoadGlobal, bytecode.Copy, bytecode.Not:
			reg(instr.A())
			reg(instr.B())
		case bytecode.StoreGlobal:
			reg(instr.A())
			reg(instr.B())
		case bytecode.Invoke:
			reg(instr.A())
		case bytecode.Return, bytecode.JumpIfFalse:
			reg(instr.A())
		case bytecode.Equal, bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.MapSet:
			reg(instr.A())
			reg(instr.B())
			reg(instr.C())
		}
	}
	if highest < 0 {
		highest = 0
	}
	return highest + 1
}

func readConstant(rt *Runtime, r io.Reader) (Value, error) {
	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return Nil(), fmt.Errorf("reading tag: %w", err)
	}
	switch tagByte[0] {
	case constTagNil:
		return Nil(), nil

	case constTagInteger:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Nil(), fmt.Errorf("reading integer payload: %w", err)
		}
		return IntegerValue(int64(binary.BigEndian.Uint64(buf[:]))), nil

	case constTagDouble:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Nil(), fmt.Errorf("reading double payload: %w", err)
		}
		return DoubleValue(math.Float64frombits(binary.BigEndian.Uint64(buf[:]))), nil

	case constTagString:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return Nil(), fmt.Errorf("reading string length: %w", err)
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return Nil(), fmt.Errorf("reading string payload: %w", err)
		}
		return StringValue(rt.NewString(string(data))), nil

	case constTagBoolean:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Nil(), fmt.Errorf("reading boolean payload: %w", err)
		}
		if b[0] > 1 {
			return Nil(), fmt.Errorf("invalid boolean payload %d", b[0])
		}
		return BooleanValue(b[0] == 1), nil

	case constTagFunction:
		nested, err := ReadFunction(rt, r)
		if err != nil {
			return Nil(), fmt.Errorf("reading nested function: %w", err)
		}
		return FunctionValue(nested), nil

	default:
		return Nil(), fmt.Errorf("unknown constant tag %d", tagByte[0])
	}
}

// WriteFunction serializes fn (and its nested function constants) in the
// format ReadFunction parses.
func WriteFunction(w io.Writer, fn *Function) error {
	if fn.Arity > 0xFFFF {
		return fmt.Errorf("arity %d exceeds u16", fn.Arity)
	}
	if len(fn.Code) > 0xFFFF {
		return fmt.Errorf("byteCodeCount %d exceeds u16", len(fn.Code))
	}
	if len(fn.Constants) > 0xFFFF {
		return fmt.Errorf("constantCount %d exceeds u16: function has more constants than a 16-bit constant index can address", len(fn.Constants))
	}

	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(fn.Arity))
	binary.BigEndian.PutUint16(header[2:4], uint16(len(fn.Code)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	raw := make([]byte, 4*len(fn.Code))
	for i, instr := range fn.Code {
		binary.BigEndian.PutUint32(raw[i*4:], uint32(instr))
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}

	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(fn.Constants)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for i, c := range fn.Constants {
		if err := writeConstant(w, c); err != nil {
			return fmt.Errorf("constant %d: %w", i, err)
		}
	}
	return nil
}

func writeConstant(w io.Writer, v Value) error {
	switch v.tag {
	case TagNil:
		_, err := w.Write([]byte{constTagNil})
		return err

	case TagInteger:
		buf := make([]byte, 9)
		buf[0] = constTagInteger
		binary.BigEndian.PutUint64(buf[1:], uint64(v.asInteger()))
		_, err := w.Write(buf)
		return err

	case TagDouble:
		buf := make([]byte, 9)
		buf[0] = constTagDouble
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.asDouble()))
		_, err := w.Write(buf)
		return err

	case TagString:
		s := v.asString()
		data := s.Bytes()
		buf := make([]byte, 5+len(data))
		buf[0] = constTagString
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(data)))
		copy(buf[5:], data)
		_, err := w.Write(buf)
		return err

	case TagBoolean:
		b := byte(0)
		if v.asBoolean() {
			b = 1
		}
		_, err := w.Write([]byte{constTagBoolean, b})
		return err

	case TagFunction:
		if _, err := w.Write([]byte{constTagFunction}); err != nil {
			return err
		}
		return WriteFunction(w, v.asFunction())

	default:
		return fmt.Errorf("cannot serialize constant of tag %s", v.tag)
	}
}
