package vm

import "espresso/internal/bytecode"

// Tag discriminates the dynamically-typed Value union.
type Tag uint8

const (
	TagNil Tag = iota
	TagInteger
	TagDouble
	TagBoolean
	TagString
	TagFunction
	TagNativeFunction
	TagMap
)

func (t Tag) String() string {
	switch t {
	case TagNil:
		return "Nil"
	case TagInteger:
		return "Integer"
	case TagDouble:
		return "Double"
	case TagBoolean:
		return "Boolean"
	case TagString:
		return "String"
	case TagFunction:
		return "Function"
	case TagNativeFunction:
		return "NativeFunction"
	case TagMap:
		return "Map"
	default:
		return "Unknown"
	}
}

// Value is a small tagged union. Reference tags (String, Function,
// NativeFunction, Map) carry a pointer into the heap; copying a Value is
// always shallow, so reference tags share their referent.
type Value struct {
	tag   Tag
	asInt int64
	asF64 float64
	obj   Object
}

func Nil() Value                       { return Value{tag: TagNil} }
func IntegerValue(i int64) Value       { return Value{tag: TagInteger, asInt: i} }
func DoubleValue(f float64) Value      { return Value{tag: TagDouble, asF64: f} }
func BooleanValue(b bool) Value {
	var i int64
	if b {
		i = 1
	}
	return Value{tag: TagBoolean, asInt: i}
}
func StringValue(s *String) Value                 { return Value{tag: TagString, obj: s} }
func FunctionValue(f *Function) Value              { return Value{tag: TagFunction, obj: f} }
func NativeFunctionValue(n *NativeFunction) Value  { return Value{tag: TagNativeFunction, obj: n} }
func MapValue(m *Map) Value                        { return Value{tag: TagMap, obj: m} }

func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNil() bool { return v.tag == TagNil }

// IsTruthy reports whether v is neither Nil nor Boolean-false.
func (v Value) IsTruthy() bool {
	if v.tag == TagNil {
		return false
	}
	if v.tag == TagBoolean {
		return v.asInt != 0
	}
	return true
}

func (v Value) asInteger() int64          { return v.asInt }
func (v Value) asDouble() float64         { return v.asF64 }
func (v Value) asBoolean() bool           { return v.asInt != 0 }
func (v Value) asString() *String         { return v.obj.(*String) }
func (v Value) asFunction() *Function     { return v.obj.(*Function) }
func (v Value) asNative() *NativeFunction { return v.obj.(*NativeFunction) }
func (v Value) asMap() *Map               { return v.obj.(*Map) }

// Exported accessors for use outside the vm package (the native bridge,
// the compiler, the serializer). Callers are expected to have already
// checked Tag() or used AssertType. Like the unexported forms, the reference
// accessors panic via a Go type assertion failure on a tag mismatch; the
// Integer, Double and Boolean accessors do no check and return whatever the
// raw field holds.
func (v Value) AsInteger() int64          { return v.asInt }
func (v Value) AsDouble() float64         { return v.asF64 }
func (v Value) AsBoolean() bool           { return v.asInt != 0 }
func (v Value) AsString() *String         { return v.obj.(*String) }
func (v Value) AsFunction() *Function     { return v.obj.(*Function) }
func (v Value) AsNative() *NativeFunction { return v.obj.(*NativeFunction) }
func (v Value) AsMap() *Map               { return v.obj.(*Map) }

// Equals is structural for primitives and strings, by identity for Function,
// NativeFunction and Map.
func (v Value) Equals(other Value) bool {
	if v.tag != other.tag {
		return false
	}
	switch v.tag {
	case TagNil:
		return true
	case TagInteger:
		return v.asInt == other.asInt
	case TagDouble:
		return v.asF64 == other.asF64
	case TagBoolean:
		return v.asInt == other.asInt
	case TagString:
		return v.asString().Equals(other.asString())
	case TagFunction:
		return v.obj == other.obj
	case TagNativeFunction:
		return v.obj == other.obj
	case TagMap:
		return v.obj == other.obj
	default:
		return false
	}
}

// ObjectKind identifies the concrete type of a heap Object.
type ObjectKind uint8

const (
	ObjString ObjectKind = iota
	ObjFunction
	ObjNativeFunction
	ObjMap
)

// header is embedded by every heap object to provide the GC's mark bit and
// heap-list "next" pointer.
type header struct {
	kind   ObjectKind
	marked bool
	next   Object
}

func (h *header) gcHeader() *header { return h }

// Object is implemented by every heap-allocated type: String, Function,
// NativeFunction, Map.
type Object interface {
	gcHeader() *header
}

// String is a growable byte buffer terminated by a trailing NUL that is not
// counted in Length().
type String struct {
	header
	data []byte
}

func (s *String) Length() int { return len(s.data) - 1 }

func (s *String) At(i int) byte { return s.data[i] }

// RawPointer exposes the buffer (including the trailing NUL) for host I/O.
func (s *String) RawPointer() []byte { return s.data }

// Bytes returns the logical contents, excluding the trailing NUL.
func (s *String) Bytes() []byte { return s.data[:len(s.data)-1] }

func (s *String) String() string { return string(s.Bytes()) }

func (s *String) Equals(other *String) bool {
	if s == other {
		return true
	}
	return string(s.Bytes()) == string(other.Bytes())
}

// Function is a compiled unit of bytecode: a fixed arity, a local register
// count, an ordered bytecode sequence and an ordered constant pool. It is
// not verified on construction; Verify checks it.
type Function struct {
	header
	Name       string
	Arity      int
	LocalCount int
	Code       []bytecode.Instruction
	Constants  []Value
}

// NativeHandle is the host-implemented body of a NativeFunction. It reads
// arguments from rt.Local(1)..rt.Local(arity-1) (arity counts register 0),
// writes its result to rt.Local(0), and returns a *ThrownError on failure.
type NativeHandle func(rt *Runtime) error

// NativeFunction is a host-provided callable registered as a global.
type NativeFunction struct {
	header
	Name       string
	Arity      int
	LocalCount int
	Handle     NativeHandle
}

// Map is an ordered (key, value) association list; lookup is linear and
// iteration order is insertion order.
type Map struct {
	header
	keys   []Value
	values []Value
}

func (m *Map) Len() int { return len(m.keys) }

func (m *Map) Get(key Value) (Value, bool) {
	for i, k := range m.keys {
		if k.Equals(key) {
			return m.values[i], true
		}
	}
	return Nil(), false
}

// Put replaces the value in place if key is already present (by value
// equality), otherwise appends a new entry, preserving insertion order.
func (m *Map) Put(key, value Value) {
	for i, k := range m.keys {
		if k.Equals(key) {
			m.values[i] = value
			return
		}
	}
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// EntryAt supports insertion-ordered iteration, used by print and by the
// load-path search.
func (m *Map) EntryAt(i int) (Value, Value) { return m.keys[i], m.values[i] }
