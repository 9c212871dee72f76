package vm

import (
	"fmt"
	"strconv"
)

// DisplayString renders v the way print, println and the shell present it:
// strings unquoted, floats with Go's shortest round-trip form, functions as
// "<function name>" / "<native name>", and maps as "{key: value, ...}" in
// insertion order. The map printer does not detect cycles: a map that
// contains itself recurses without end.
func DisplayString(v Value) string {
	switch v.tag {
	case TagNil:
		return "nil"
	case TagInteger:
		return strconv.FormatInt(v.asInteger(), 10)
	case TagDouble:
		return strconv.FormatFloat(v.asDouble(), 'g', -1, 64)
	case TagBoolean:
		if v.asBoolean() {
			return "true"
		}
		return "false"
	case TagString:
		return v.asString().String()
	case TagFunction:
		return fmt.Sprintf("<function %s>", v.asFunction().Name)
	case TagNativeFunction:
		return fmt.Sprintf("<native %s>", v.asNative().Name)
	case TagMap:
		return displayMap(v.asMap())
	default:
		return "<?>"
	}
}

func displayMap(m *Map) string {
	out := "{"
	for i := 0; i < m.Len(); i++ {
		if i > 0 {
			out += ", "
		}
		k, v := m.EntryAt(i)
		out += DisplayString(k) + ": " + DisplayString(v)
	}
	return out + "}"
}
