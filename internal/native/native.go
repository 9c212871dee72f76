// Package native is the bridge between the core runtime and the host:
// every builtin the standard bootstrap exposes to scripts is registered
// here as a vm.NativeFunction. It is the one package allowed to import
// both internal/vm and internal/compiler, since wiring "compile" and
// "eval" to the compiler would otherwise cycle back into vm.
package native

import (
	"bytes"
	"fmt"
	"strings"

	"espresso/internal/bytecode"
	"espresso/internal/compiler"
	"espresso/internal/vm"
)

// Bootstrap installs the compiler hook and registers every required
// builtin (print, println, readFile, readByteCode, verifyByteCode,
// compile, eval, load, try, throw, arithmetic/comparison, endsWith,
// readline, shell, globals) into rt's globals map, then enables garbage
// collection. rt must not have had GC enabled before this call: every
// native allocated here is only reachable from a Go local until
// `register` puts it into globals, so a collection mid-bootstrap would
// sweep it right off the heap.
func Bootstrap(rt *vm.Runtime) {
	rt.SetCompiler(compiler.Compile)

	register(rt, "print", 2, printHandle)
	register(rt, "println", 2, printlnHandle)
	register(rt, "readFile", 2, readFileHandle)
	register(rt, "readByteCode", 2, readByteCodeHandle)
	register(rt, "verifyByteCode", 2, verifyByteCodeHandle)
	register(rt, "compile", 2, compileHandle)
	register(rt, "eval", 2, evalHandle)
	register(rt, "load", 2, loadHandle)
	register(rt, "try", 2, tryHandle)
	register(rt, "throw", 2, throwHandle)

	register(rt, "+", 3, arithHandle(bytecode.Add))
	register(rt, "-", 3, arithHandle(bytecode.Sub))
	register(rt, "*", 3, arithHandle(bytecode.Mul))
	register(rt, "/", 3, divideHandle)
	register(rt, "=", 3, equalHandle)
	register(rt, "<", 3, compareHandle(func(c int) bool { return c < 0 }))
	register(rt, "<=", 3, compareHandle(func(c int) bool { return c <= 0 }))
	register(rt, ">", 3, compareHandle(func(c int) bool { return c > 0 }))
	register(rt, ">=", 3, compareHandle(func(c int) bool { return c >= 0 }))

	register(rt, "endsWith", 3, endsWithHandle)
	register(rt, "readline", 1, readlineHandle)
	register(rt, "shell", 1, shellHandle)
	register(rt, "globals", 1, globalsHandle)

	rt.EnableGC()
}

func register(rt *vm.Runtime, name string, arity int, handle vm.NativeHandle) {
	nf := rt.NewNativeFunction(name, arity, arity, handle)
	rt.Globals().Put(vm.StringValue(rt.NewString(name)), vm.NativeFunctionValue(nf))
}

func printHandle(rt *vm.Runtime) error {
	rt.Host.Stdout().Write([]byte(vm.DisplayString(*rt.Local(1))))
	*rt.Local(0) = vm.Nil()
	return nil
}

func printlnHandle(rt *vm.Runtime) error {
	rt.Host.Stdout().Write([]byte(vm.DisplayString(*rt.Local(1)) + "\n"))
	*rt.Local(0) = vm.Nil()
	return nil
}

func readFileHandle(rt *vm.Runtime) error {
	path := *rt.Local(1)
	if err := rt.AssertType(path, vm.TagString); err != nil {
		return err
	}
	data, err := readWholeFile(rt, pathString(path))
	if err != nil {
		return rt.Throwf("Could not open file: %s", pathString(path))
	}
	*rt.Local(0) = vm.StringValue(rt.NewString(string(data)))
	return nil
}

func readByteCodeHandle(rt *vm.Runtime) error {
	src := *rt.Local(1)
	if err := rt.AssertType(src, vm.TagString); err != nil {
		return err
	}
	fn, err := vm.ReadFunction(rt, bytes.NewReader(stringBytes(src)))
	if err != nil {
		return rt.Throwf("Malformed bytecode: %v", err)
	}
	*rt.Local(0) = vm.FunctionValue(fn)
	return nil
}

func verifyByteCodeHandle(rt *vm.Runtime) error {
	val := *rt.Local(1)
	if err := rt.AssertType(val, vm.TagFunction); err != nil {
		return err
	}
	if err := val.AsFunction().Verify(); err != nil {
		return rt.Throwf("%v", err)
	}
	*rt.Local(0) = val
	return nil
}

func compileHandle(rt *vm.Runtime) error {
	src := *rt.Local(1)
	if err := rt.AssertType(src, vm.TagString); err != nil {
		return err
	}
	fn, err := rt.Compile(stringText(src))
	if err != nil {
		return rt.Throwf("%v", err)
	}
	*rt.Local(0) = vm.FunctionValue(fn)
	return nil
}

func evalHandle(rt *vm.Runtime) error {
	src := *rt.Local(1)
	if err := rt.AssertType(src, vm.TagString); err != nil {
		return err
	}
	fn, err := rt.Compile(stringText(src))
	if err != nil {
		return rt.Throwf("%v", err)
	}
	result, err := rt.InvokeValue(vm.FunctionValue(fn), nil)
	if err != nil {
		return err
	}
	rt.Root(result)
	defer rt.Unroot()
	*rt.Local(0) = result
	return nil
}

func loadHandle(rt *vm.Runtime) error {
	path := *rt.Local(1)
	if err := rt.AssertType(path, vm.TagString); err != nil {
		return err
	}
	data, err := findAndReadFile(rt, pathString(path))
	if err != nil {
		return rt.Throwf("Could not open file: %s", pathString(path))
	}
	fn, err := rt.Compile(string(data))
	if err != nil {
		return rt.Throwf("%v", err)
	}
	result, err := rt.InvokeValue(vm.FunctionValue(fn), nil)
	if err != nil {
		return err
	}
	rt.Root(result)
	defer rt.Unroot()
	*rt.Local(0) = result
	return nil
}

func tryHandle(rt *vm.Runtime) error {
	callee := *rt.Local(1)
	result, err := rt.InvokeValue(callee, nil)

	key := "result"
	value := result
	if err != nil {
		thrown, ok := err.(*vm.ThrownError)
		if !ok {
			return err
		}
		key, value = "error", thrown.Value
	}

	// value is only a Go local here, unreachable from any root; root it
	// before the Map and key-String allocations below can trigger a
	// collection that would sweep it out from under us.
	rt.Root(value)
	defer rt.Unroot()
	m := rt.NewMap()
	rt.Root(vm.MapValue(m))
	defer rt.Unroot()
	m.Put(vm.StringValue(rt.NewString(key)), value)
	*rt.Local(0) = vm.MapValue(m)
	return nil
}

func throwHandle(rt *vm.Runtime) error {
	return rt.Throw(*rt.Local(1))
}

func arithHandle(op bytecode.OpCode) vm.NativeHandle {
	return func(rt *vm.Runtime) error {
		result, err := vm.NumericOp(rt, op, *rt.Local(1), *rt.Local(2))
		if err != nil {
			return err
		}
		*rt.Local(0) = result
		return nil
	}
}

func divideHandle(rt *vm.Runtime) error {
	lhs, rhs := *rt.Local(1), *rt.Local(2)
	if lhs.Tag() != rhs.Tag() || (lhs.Tag() != vm.TagInteger && lhs.Tag() != vm.TagDouble) {
		return rt.Throwf("Type mismatch: %s / %s", lhs.Tag(), rhs.Tag())
	}
	if lhs.Tag() == vm.TagInteger {
		a, b := asInt(lhs), asInt(rhs)
		if b == 0 {
			return rt.Throwf("Division by zero")
		}
		*rt.Local(0) = vm.IntegerValue(a / b)
		return nil
	}
	a, b := asDouble(lhs), asDouble(rhs)
	*rt.Local(0) = vm.DoubleValue(a / b)
	return nil
}

func equalHandle(rt *vm.Runtime) error {
	*rt.Local(0) = vm.BooleanValue(rt.Local(1).Equals(*rt.Local(2)))
	return nil
}

func compareHandle(accept func(cmp int) bool) vm.NativeHandle {
	return func(rt *vm.Runtime) error {
		lhs, rhs := *rt.Local(1), *rt.Local(2)
		if lhs.Tag() != rhs.Tag() || (lhs.Tag() != vm.TagInteger && lhs.Tag() != vm.TagDouble) {
			return rt.Throwf("Type mismatch: %s vs %s", lhs.Tag(), rhs.Tag())
		}
		var cmp int
		if lhs.Tag() == vm.TagInteger {
			a, b := asInt(lhs), asInt(rhs)
			switch {
			case a < b:
				cmp = -1
			case a > b:
				cmp = 1
			}
		} else {
			a, b := asDouble(lhs), asDouble(rhs)
			switch {
			case a < b:
				cmp = -1
			case a > b:
				cmp = 1
			}
		}
		*rt.Local(0) = vm.BooleanValue(accept(cmp))
		return nil
	}
}

func endsWithHandle(rt *vm.Runtime) error {
	s, suffix := *rt.Local(1), *rt.Local(2)
	if err := rt.AssertType(s, vm.TagString); err != nil {
		return err
	}
	if err := rt.AssertType(suffix, vm.TagString); err != nil {
		return err
	}
	*rt.Local(0) = vm.BooleanValue(strings.HasSuffix(stringText(s), stringText(suffix)))
	return nil
}

func readlineHandle(rt *vm.Runtime) error {
	line, ok := readHostLine(rt.Host.Stdin())
	if !ok {
		*rt.Local(0) = vm.Nil()
		return nil
	}
	*rt.Local(0) = vm.StringValue(rt.NewString(line))
	return nil
}

func shellHandle(rt *vm.Runtime) error {
	*rt.Local(0) = vm.IntegerValue(int64(rt.Shell()))
	return nil
}

func globalsHandle(rt *vm.Runtime) error {
	*rt.Local(0) = vm.MapValue(rt.Globals())
	return nil
}

// ---------------------------------------------------------------------------
// small helpers with no natural home in vm (they read vm.File, build paths)
// ---------------------------------------------------------------------------

func readWholeFile(rt *vm.Runtime, path string) ([]byte, error) {
	f, err := rt.Host.Open(path, "r")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []byte
	for {
		b, ok := f.ReadByte()
		if !ok {
			return out, nil
		}
		out = append(out, b)
	}
}

// findAndReadFile tries path directly, then each load-path entry joined
// with "/" and path, in insertion order.
func findAndReadFile(rt *vm.Runtime, path string) ([]byte, error) {
	if data, err := readWholeFile(rt, path); err == nil {
		return data, nil
	}
	lp := rt.LoadPath()
	for i := 0; i < lp.Len(); i++ {
		_, dir := lp.EntryAt(i)
		full := stringText(dir) + "/" + path
		if data, err := readWholeFile(rt, full); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("not found: %s", path)
}

func pathString(v vm.Value) string  { return v.AsString().String() }
func stringBytes(v vm.Value) []byte { return v.AsString().Bytes() }
func stringText(v vm.Value) string  { return v.AsString().String() }
func asInt(v vm.Value) int64        { return v.AsInteger() }
func asDouble(v vm.Value) float64   { return v.AsDouble() }

func readHostLine(f vm.File) (string, bool) {
	var out []byte
	for {
		b, ok := f.ReadByte()
		if !ok {
			return string(out), len(out) > 0
		}
		if b == '\n' {
			return string(out), true
		}
		out = append(out, b)
	}
}
