package vm

import "fmt"

// CompileFunc lexes and emits source as an unverified top-level Function.
// It is injected at bootstrap time (see SetCompiler) rather than imported
// directly, since the compiler package itself depends on vm: the runtime
// reaches the compiler only through this narrow function value, avoiding an
// import cycle between the two packages.
type CompileFunc func(rt *Runtime, source string) (*Function, error)

// SetCompiler installs the compiler used by Compile, Load and Shell, and by
// the "compile"/"eval"/"load" native builtins. Bootstrap wires this to
// compiler.Compile before registering any native that calls it.
func (rt *Runtime) SetCompiler(fn CompileFunc) { rt.compileFn = fn }

// Compile lexes, emits and verifies source in one step: the form every
// caller above the compiler package itself should use, so that "compiled"
// always means "verified" outside of internal/compiler's own tests.
func (rt *Runtime) Compile(source string) (*Function, error) {
	if rt.compileFn == nil {
		return nil, fmt.Errorf("no compiler installed on this runtime")
	}
	fn, err := rt.compileFn(rt, source)
	if err != nil {
		return nil, err
	}
	if err := fn.Verify(); err != nil {
		return nil, err
	}
	return fn, nil
}

// Load reads the named file, compiles, verifies and invokes it with no
// arguments. It returns 0 on success, 1 if an uncaught exception was
// printed to the host's stdout. Compile errors are reported the same way.
func (rt *Runtime) Load(name string) int {
	f, err := rt.Host.Open(name, "r")
	if err != nil {
		rt.reportError(fmt.Sprintf("Could not open %s: %v", name, err))
		return 1
	}
	data := readAll(f)
	f.Close()

	fn, err := rt.Compile(string(data))
	if err != nil {
		rt.reportError(err.Error())
		return 1
	}
	if _, err := rt.InvokeValue(FunctionValue(fn), nil); err != nil {
		rt.reportError(err.Error())
		return 1
	}
	return 0
}

// Shell runs a REPL over the host's stdin/stdout: read a line, compile it,
// verify it, invoke it, print the result or the error, until EOF.
func (rt *Runtime) Shell() int {
	in, out := rt.Host.Stdin(), rt.Host.Stdout()
	for {
		out.Write([]byte("espresso> "))
		line, ok := readLine(in)
		if !ok {
			out.Write([]byte("\n"))
			return 0
		}
		if line == "" {
			continue
		}
		fn, err := rt.Compile(line)
		if err != nil {
			out.Write([]byte(err.Error() + "\n"))
			continue
		}
		result, err := rt.InvokeValue(FunctionValue(fn), nil)
		if err != nil {
			out.Write([]byte(err.Error() + "\n"))
			continue
		}
		out.Write([]byte(DisplayString(result) + "\n"))
	}
}

func (rt *Runtime) reportError(msg string) {
	out := rt.Host.Stdout()
	out.Write([]byte(msg))
	out.Write([]byte("\n"))
}

func readAll(f File) []byte {
	var out []byte
	for {
		b, ok := f.ReadByte()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func readLine(f File) (string, bool) {
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
