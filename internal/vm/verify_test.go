package vm

import (
	"testing"

	"espresso/internal/bytecode"
)

type fakeFile struct{}

func (fakeFile) ReadByte() (byte, bool)    { return 0, false }
func (fakeFile) Write(p []byte) (int, error) { return len(p), nil }
func (fakeFile) Close() error              { return nil }

type fakeHost struct{}

func (fakeHost) Open(path, mode string) (File, error) { return fakeFile{}, nil }
func (fakeHost) Stdin() File                           { return fakeFile{} }
func (fakeHost) Stdout() File                          { return fakeFile{} }
func (fakeHost) Realloc(buf []byte, newSize int) ([]byte, error) {
	if newSize == 0 {
		return nil, nil
	}
	out := make([]byte, newSize)
	copy(out, buf)
	return out, nil
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(fakeHost{}, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

func TestVerifyRejectsArityZero(t *testing.T) {
	rt := newTestRuntime(t)
	fn := rt.NewFunction()
	fn.Arity = 0
	fn.LocalCount = 1
	if err := fn.Verify(); err == nil {
		t.Fatal("expected arity-zero rejection")
	}
}

func TestVerifyRejectsArityAboveLocalCount(t *testing.T) {
	rt := newTestRuntime(t)
	fn := rt.NewFunction()
	fn.Arity = 3
	fn.LocalCount = 2
	if err := fn.Verify(); err == nil {
		t.Fatal("expected arity>localCount rejection")
	}
}

func TestVerifyLocalCountBoundary(t *testing.T) {
	rt := newTestRuntime(t)

	ok := rt.NewFunction()
	ok.Arity = 1
	ok.LocalCount = 256
	ok.Code = []bytecode.Instruction{bytecode.MakeABC(bytecode.Return, 0, 0, 0)}
	if err := ok.Verify(); err != nil {
		t.Fatalf("localCount 256 should verify: %v", err)
	}

	bad := rt.NewFunction()
	bad.Arity = 1
	bad.LocalCount = 257
	bad.Code = []bytecode.Instruction{bytecode.MakeABC(bytecode.Return, 0, 0, 0)}
	if err := bad.Verify(); err == nil {
		t.Fatal("localCount 257 should not verify")
	}
}

func TestVerifyRejectsUnknownOpcode(t *testing.T) {
	rt := newTestRuntime(t)
	fn := rt.NewFunction()
	fn.Arity, fn.LocalCount = 1, 1
	fn.Code = []bytecode.Instruction{bytecode.Instruction(0xFF << 24)}
	if err := fn.Verify(); err == nil {
		t.Fatal("expected rejection of an unrecognized opcode")
	}
}

func TestVerifyRejectsOutOfRangeJumpTarget(t *testing.T) {
	rt := newTestRuntime(t)
	fn := rt.NewFunction()
	fn.Arity, fn.LocalCount = 1, 1
	fn.Code = []bytecode.Instruction{
		bytecode.MakeAL(bytecode.Jump, 0, 1), // target == byteCodeCount: out of range
	}
	if err := fn.Verify(); err == nil {
		t.Fatal("expected rejection of a jump target equal to byteCodeCount")
	}
}

func TestVerifyRejectsDestinationRegisterZero(t *testing.T) {
	rt := newTestRuntime(t)
	fn := rt.NewFunction()
	fn.Arity, fn.LocalCount = 1, 2
	fn.Constants = append(fn.Constants, IntegerValue(1))
	fn.Code = []bytecode.Instruction{
		bytecode.MakeAL(bytecode.LoadConstant, 0, 0), // writes register 0
	}
	if err := fn.Verify(); err == nil {
		t.Fatal("expected rejection of a write to register 0")
	}
}

func TestVerifyRejectsConstantIndexOutOfRange(t *testing.T) {
	rt := newTestRuntime(t)
	fn := rt.NewFunction()
	fn.Arity, fn.LocalCount = 1, 2
	fn.Code = []bytecode.Instruction{
		bytecode.MakeAL(bytecode.LoadConstant, 1, 0), // no constants at all
	}
	if err := fn.Verify(); err == nil {
		t.Fatal("expected rejection of an out-of-range constant index")
	}
}

func TestVerifyRejectsInvokeWithZeroArgCount(t *testing.T) {
	rt := newTestRuntime(t)
	fn := rt.NewFunction()
	fn.Arity, fn.LocalCount = 1, 2
	fn.Code = []bytecode.Instruction{
		bytecode.MakeABC(bytecode.Invoke, 1, 0, 0),
	}
	if err := fn.Verify(); err == nil {
		t.Fatal("expected rejection of Invoke with argumentCount 0")
	}
}

func TestVerifyRecursesIntoNestedFunctionConstants(t *testing.T) {
	rt := newTestRuntime(t)
	nested := rt.NewFunction()
	nested.Arity, nested.LocalCount = 1, 1
	nested.Code = []bytecode.Instruction{
		bytecode.MakeAL(bytecode.Jump, 0, 99), // malformed: out of range
	}

	outer := rt.NewFunction()
	outer.Arity, outer.LocalCount = 1, 1
	outer.Constants = append(outer.Constants, FunctionValue(nested))
	outer.Code = []bytecode.Instruction{bytecode.MakeABC(bytecode.Return, 0, 0, 0)}

	if err := outer.Verify(); err == nil {
		t.Fatal("expected outer.Verify() to fail because the nested function is malformed")
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t)
	fn := rt.NewFunction()
	fn.Arity, fn.LocalCount = 1, 1
	fn.Code = []bytecode.Instruction{bytecode.MakeABC(bytecode.Return, 0, 0, 0)}
	err1 := fn.Verify()
	err2 := fn.Verify()
	if (err1 == nil) != (err2 == nil) {
		t.Fatalf("verify outcome changed across runs: %v then %v", err1, err2)
	}
}
