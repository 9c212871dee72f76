package compiler_test

import (
	"testing"

	"espresso/internal/bytecode"
	"espresso/internal/compiler"
	"espresso/internal/host"
	"espresso/internal/vm"
)

func newRuntime(t *testing.T) *vm.Runtime {
	t.Helper()
	rt, err := vm.New(host.New(), "")
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	return rt
}

func compileAndVerify(t *testing.T, source string) *vm.Function {
	t.Helper()
	rt := newRuntime(t)
	fn, err := compiler.Compile(rt, source)
	if err != nil {
		t.Fatalf("Compile(%q): %v", source, err)
	}
	if err := fn.Verify(); err != nil {
		t.Fatalf("Verify(Compile(%q)): %v", source, err)
	}
	return fn
}

func TestCompileArithmeticEmitsInvoke(t *testing.T) {
	fn := compileAndVerify(t, "(+ 1 2)")
	foundInvoke := false
	for _, instr := range fn.Code {
		if instr.Op() == bytecode.Invoke {
			foundInvoke = true
		}
	}
	if !foundInvoke {
		t.Fatalf("expected an Invoke instruction in %v", fn.Code)
	}
	if fn.Code[len(fn.Code)-1].Op() != bytecode.Return {
		t.Fatalf("last instruction should be Return, got %v", fn.Code[len(fn.Code)-1])
	}
}

func TestCompileEmptyProgramReturnsNil(t *testing.T) {
	rt := newRuntime(t)
	fn, err := compiler.Compile(rt, "")
	if err != nil {
		t.Fatalf("Compile(\"\"): %v", err)
	}
	if len(fn.Code) != 2 {
		t.Fatalf("expected exactly LoadConstant+Return, got %v", fn.Code)
	}
	if fn.Code[0].Op() != bytecode.LoadConstant || fn.Code[1].Op() != bytecode.Return {
		t.Fatalf("got %v", fn.Code)
	}
}

func TestCompileTopLevelIsImplicitDo(t *testing.T) {
	// Two top-level forms: only the second's value should be returned.
	fn := compileAndVerify(t, "1 2")
	last := fn.Code[len(fn.Code)-1]
	if last.Op() != bytecode.Return {
		t.Fatalf("got %v", last)
	}
	prev := fn.Code[len(fn.Code)-2]
	if prev.Op() != bytecode.LoadConstant || prev.A() != last.A() {
		t.Fatalf("expected the returned register to be loaded just before Return, got %v", fn.Code)
	}
	if got := fn.Constants[prev.L()]; !got.Equals(vm.IntegerValue(2)) {
		t.Fatalf("returned constant = %s, want 2", vm.DisplayString(got))
	}
}

func TestCompileIfProducesJumps(t *testing.T) {
	fn := compileAndVerify(t, "(if true 1 2)")
	var jumpIfFalse, jump bool
	for _, instr := range fn.Code {
		switch instr.Op() {
		case bytecode.JumpIfFalse:
			jumpIfFalse = true
		case bytecode.Jump:
			jump = true
		}
	}
	if !jumpIfFalse || !jump {
		t.Fatalf("expected both JumpIfFalse and Jump, got %v", fn.Code)
	}
}

func TestCompileIfWithoutElseLoadsNil(t *testing.T) {
	fn := compileAndVerify(t, "(if nil 10)")
	if fn.Code[len(fn.Code)-2].Op() != bytecode.LoadConstant {
		t.Fatalf("expected else-less if to load a constant for the implicit Nil, got %v", fn.Code)
	}
}

func TestCompileDefStoresGlobal(t *testing.T) {
	fn := compileAndVerify(t, "(def x 42)")
	found := false
	for _, instr := range fn.Code {
		if instr.Op() == bytecode.StoreGlobal {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected StoreGlobal, got %v", fn.Code)
	}
}

func TestCompileFnEmitsNestedFunctionConstant(t *testing.T) {
	fn := compileAndVerify(t, "(fn (a b) (+ a b))")
	found := false
	for _, c := range fn.Constants {
		if c.Tag() == vm.TagFunction {
			found = true
			nested := c.AsFunction()
			if nested.Arity != 3 {
				t.Errorf("nested fn arity = %d, want 3 (self + a + b)", nested.Arity)
			}
		}
	}
	if !found {
		t.Fatalf("expected a Function constant, got %v", fn.Constants)
	}
}

func TestCompileLetBindsSequentialLocals(t *testing.T) {
	fn := compileAndVerify(t, "(let (a 1 b 2) (+ a b))")
	if fn.LocalCount < 3 {
		t.Fatalf("expected at least 3 locals (self, a, b), got %d", fn.LocalCount)
	}
}

func TestCompileLetDuplicateNameErrors(t *testing.T) {
	rt := newRuntime(t)
	_, err := compiler.Compile(rt, "(let (a 1 a 2) a)")
	if err == nil {
		t.Fatal("expected a duplicate-variable error, got nil")
	}
}

func TestCompileUnresolvedIdentifierFallsBackToGlobal(t *testing.T) {
	fn := compileAndVerify(t, "undefinedThing")
	foundLoadGlobal := false
	for _, instr := range fn.Code {
		if instr.Op() == bytecode.LoadGlobal {
			foundLoadGlobal = true
		}
	}
	if !foundLoadGlobal {
		t.Fatalf("expected a LoadGlobal for an unresolved identifier, got %v", fn.Code)
	}
}

func TestCompileUnterminatedFormErrors(t *testing.T) {
	rt := newRuntime(t)
	if _, err := compiler.Compile(rt, "(+ 1 2"); err == nil {
		t.Fatal("expected an error for an unterminated form")
	}
}

func TestCompileEmptyFormErrors(t *testing.T) {
	rt := newRuntime(t)
	if _, err := compiler.Compile(rt, "()"); err == nil {
		t.Fatal("expected an error for an empty form")
	}
}
