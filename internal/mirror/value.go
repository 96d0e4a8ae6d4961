package mirror

import "strconv"

// ValueKind tags the payload of an attribute or property value.
type ValueKind uint8

const (
	ValueString ValueKind = iota + 1
	ValueBool
	ValueInt
	ValueFloat
)

func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueBool:
		return "bool"
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Value is an attribute or property value. Absent values are expressed
// by the key not being present, never by a null Value.
type Value struct {
	kind ValueKind
	s    string
	b    bool
	i    int64
	f    float64
}

func StringValue(s string) Value { return Value{kind: ValueString, s: s} }
func BoolValue(b bool) Value { return Value{kind: ValueBool, b: b} }
func IntValue(i int64) Value { return Value{kind: ValueInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: ValueFloat, f: f} }

func (v Value) Kind() ValueKind { return v.kind }

// Bool returns the value when it is a bool.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == ValueBool
}

// Int returns the value when it is an int.
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == ValueInt
}

// Float returns the value when it is a float.
func (v Value) Float() (float64, bool) {
	return v.f, v.kind == ValueFloat
}

// Text renders the value the way it would appear as markup.
func (v Value) Text() string {
	switch v.kind {
	case ValueString:
		return v.s
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueInt:
		return strconv.FormatInt(v.i, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return ""
	}
}
