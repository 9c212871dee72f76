package vm

import (
	"fmt"
	"strings"

	"espresso/internal/errs"
)

// CallFrame is a (stackBase, stackSize, programCounter) triple describing
// one in-flight call's window onto the runtime's value stack.
type CallFrame struct {
	stackBase int
	stackSize int
	pc        int
}

// AbsoluteIndex maps a local register number to an absolute stack index.
func (f *CallFrame) AbsoluteIndex(local int) int { return f.stackBase + local }

// Runtime owns the value stack, the frame stack, the globals map, the
// load-path map, the heap and the GC accounting state. Every transition
// between host code and user code goes through Invoke.
type Runtime struct {
	Host Host

	stack  []Value
	frames []CallFrame

	globals  *Map
	loadPath *Map

	heap           Object
	bytesAllocated int64
	nextGc         int64
	gcEnabled      bool

	// tempRoots holds Values that are momentarily reachable only from a Go
	// local at the host/native boundary (a result just back from Invoke, a
	// thrown Value pulled out of a ThrownError, a Map built to carry one
	// home), not yet written into globals, a register, or another rooted
	// object. Root/Unroot bracket that gap so a collection triggered by the
	// very next allocation cannot sweep them.
	tempRoots []Value

	compileFn CompileFunc
}

// Root pins v against collection until the matching Unroot call. Root and
// Unroot calls must nest like a stack.
func (rt *Runtime) Root(v Value) { rt.tempRoots = append(rt.tempRoots, v) }

// Unroot releases the most recently Rooted value.
func (rt *Runtime) Unroot() { rt.tempRoots = rt.tempRoots[:len(rt.tempRoots)-1] }

const minGcThreshold = 128

// New constructs a Runtime bound to host, with loadPathString a
// colon-separated list of directories (no trailing separator) stored in the
// load-path map keyed by integer position. An empty segment (e.g. "a::b", or
// a leading/trailing colon) is an invalid format and aborts initialization.
func New(host Host, loadPathString string) (*Runtime, error) {
	rt := &Runtime{
		Host:   host,
		nextGc: minGcThreshold,
	}
	// GC is disabled during bootstrap; EnableGC turns it on once the
	// caller's own bootstrap work (e.g. native.Bootstrap) is done.
	rt.gcEnabled = false

	rt.globals = rt.newMap()
	rt.loadPath = rt.newMap()

	if loadPathString != "" {
		parts := strings.Split(loadPathString, ":")
		for i, dir := range parts {
			if dir == "" {
				return nil, fmt.Errorf("invalid load path: empty segment at position %d", i)
			}
			rt.loadPath.Put(IntegerValue(int64(i)), StringValue(rt.NewString(dir)))
		}
	}

	// GC stays disabled past New(): the caller still has to register the
	// standard builtins into globals (see native.Bootstrap), and a native
	// allocated before it is linked into globals is not yet reachable from
	// any root. EnableGC is the last thing Bootstrap calls.
	return rt, nil
}

// EnableGC turns on collection once the caller has finished any bootstrap
// work that allocates objects not yet reachable from a root (globals, the
// load path, or an active frame). native.Bootstrap calls this as its last
// step.
func (rt *Runtime) EnableGC() { rt.gcEnabled = true }

// Globals returns the runtime's global variable map.
func (rt *Runtime) Globals() *Map { return rt.globals }

// BytesAllocated reports the runtime's current accounted heap size, for
// diagnostics (e.g. a --stats flag on a driver).
func (rt *Runtime) BytesAllocated() int64 { return rt.bytesAllocated }

// LoadPath returns the runtime's load-path map.
func (rt *Runtime) LoadPath() *Map { return rt.loadPath }

// ---------------------------------------------------------------------------
// Allocation accounting
// ---------------------------------------------------------------------------

func (rt *Runtime) trackAlloc(n int64) {
	rt.bytesAllocated += n
}

func (rt *Runtime) trackFree(n int64) {
	rt.bytesAllocated -= n
	if rt.bytesAllocated < 0 {
		rt.bytesAllocated = 0
	}
}

// maybeCollect runs a GC cycle if accounted bytes have crossed the
// threshold and collection is enabled. Called before satisfying any growth
// allocation.
func (rt *Runtime) maybeCollect() {
	if rt.gcEnabled && rt.bytesAllocated >= rt.nextGc {
		rt.Collect()
	}
}

func sizeOfObject(obj Object) int64 {
	switch o := obj.(type) {
	case *String:
		return int64(cap(o.data))
	case *Function:
		return int64(64 + len(o.Code)*4 + len(o.Constants)*24)
	case *NativeFunction:
		return 48
	case *Map:
		return int64(len(o.keys)*24*2 + 16)
	default:
		return 0
	}
}

func (rt *Runtime) link(obj Object) {
	h := obj.gcHeader()
	h.next = rt.heap
	rt.heap = obj
	rt.trackAlloc(sizeOfObject(obj))
}

// ---------------------------------------------------------------------------
// Heap object constructors
// ---------------------------------------------------------------------------

// NewString allocates a String containing the given text, rooted on the
// heap list immediately.
func (rt *Runtime) NewString(text string) *String {
	rt.maybeCollect()
	buf, err := rt.Host.Realloc(nil, len(text)+1)
	if err != nil || buf == nil {
		errs.Raise("Out Of Memory")
	}
	copy(buf, text)
	buf[len(text)] = 0
	s := &String{data: buf}
	s.kind = ObjString
	rt.link(s)
	return s
}

// NewFunction allocates an empty Function, to be filled in by the compiler
// or the bytecode reader.
func (rt *Runtime) NewFunction() *Function {
	rt.maybeCollect()
	fn := &Function{}
	fn.kind = ObjFunction
	rt.link(fn)
	return fn
}

// NewNativeFunction allocates a host-provided callable.
func (rt *Runtime) NewNativeFunction(name string, arity, localCount int, handle NativeHandle) *NativeFunction {
	rt.maybeCollect()
	nf := &NativeFunction{Name: name, Arity: arity, LocalCount: localCount, Handle: handle}
	nf.kind = ObjNativeFunction
	rt.link(nf)
	return nf
}

// NewMap allocates an empty Map.
func (rt *Runtime) NewMap() *Map {
	rt.maybeCollect()
	return rt.newMap()
}

// newMap allocates without triggering GC, used during bootstrap before the
// globals map exists to be a root.
func (rt *Runtime) newMap() *Map {
	m := &Map{}
	m.kind = ObjMap
	rt.link(m)
	return m
}

// ---------------------------------------------------------------------------
// Stack and frame access
// ---------------------------------------------------------------------------

// growStack ensures the stack covers absolute index up to (exclusive) size.
func (rt *Runtime) growStack(size int) {
	for len(rt.stack) < size {
		rt.stack = append(rt.stack, Nil())
	}
}

// CurrentFrame returns the innermost active call frame, or nil if no frame
// is active.
func (rt *Runtime) CurrentFrame() *CallFrame {
	if len(rt.frames) == 0 {
		return nil
	}
	return &rt.frames[len(rt.frames)-1]
}

// FrameCount returns the number of live call frames.
func (rt *Runtime) FrameCount() int { return len(rt.frames) }

// StackAt returns the value at an absolute stack index.
func (rt *Runtime) StackAt(index int) *Value {
	if index < 0 || index >= len(rt.stack) {
		errs.Raise("Stack underflow")
	}
	return &rt.stack[index]
}

// Local returns a pointer to local register i of the current frame.
func (rt *Runtime) Local(i int) *Value {
	frame := rt.CurrentFrame()
	if frame == nil {
		errs.Raise("No active frame")
	}
	if i < 0 || i >= frame.stackSize {
		errs.Raise("Stack underflow: register %d out of range [0,%d)", i, frame.stackSize)
	}
	return rt.StackAt(frame.AbsoluteIndex(i))
}

// ---------------------------------------------------------------------------
// Throwing a user-level exception
// ---------------------------------------------------------------------------

// ThrownError is a user-level exception value propagating as a Go error. It
// carries the thrown Value directly: unlike the reference implementation's
// stack-index indirection, Go's error-return unwinding already guarantees
// that every deferred frame pop along the path runs before a caller
// observes the error, so there is nothing to preserve across a stack
// truncation.
type ThrownError struct {
	Value Value
}

func (e *ThrownError) Error() string {
	if e.Value.tag == TagString {
		return e.Value.asString().String()
	}
	return fmt.Sprintf("uncaught exception: %v", e.Value.tag)
}

// Throw wraps v as a user-level exception.
func (rt *Runtime) Throw(v Value) error {
	return &ThrownError{Value: v}
}

// Throwf formats a message, allocates it as a String, and throws it.
func (rt *Runtime) Throwf(format string, args ...interface{}) error {
	return rt.Throw(StringValue(rt.NewString(fmt.Sprintf(format, args...))))
}

// AssertType throws a descriptive "Illegal Cast" exception unless v has the
// expected tag.
func (rt *Runtime) AssertType(v Value, expected Tag) error {
	if v.tag == expected {
		return nil
	}
	return rt.Throwf("Illegal Cast: expected %s, got %s", expected, v.tag)
}
