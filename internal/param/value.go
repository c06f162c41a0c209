package param

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Type tags the small fixed set of value kinds a parameter may hold.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeFloat
	TypeInt
	TypeBool
	TypeString
	TypeFloats
)

var typeNames = map[Type]string{
	TypeFloat:  "float",
	TypeInt:    "int",
	TypeBool:   "bool",
	TypeString: "string",
	TypeFloats: "floats",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "invalid"
}

func (t Type) numeric() bool {
	return t == TypeFloat || t == TypeInt || t == TypeFloats
}

func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	switch name {
	case "float64", "double":
		return TypeFloat, nil
	case "int64", "integer":
		return TypeInt, nil
	case "[]float64", "array":
		return TypeFloats, nil
	}
	return TypeInvalid, fmt.Errorf("unknown parameter type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	if t == TypeInvalid {
		return nil, fmt.Errorf("cannot marshal invalid parameter type")
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value is a tagged variant over Type. The zero Value has TypeInvalid.
type Value struct {
	typ Type
	f   float64
	i   int64
	b   bool
	s   string
	fs  []float64
}

func Float(v float64) Value    { return Value{typ: TypeFloat, f: v} }
func Int(v int64) Value        { return Value{typ: TypeInt, i: v} }
func Bool(v bool) Value        { return Value{typ: TypeBool, b: v} }
func String(v string) Value    { return Value{typ: TypeString, s: v} }
func Floats(v []float64) Value { return Value{typ: TypeFloats, fs: slices.Clone(v)} }

// Zero is the value Get reports for an unset parameter of type t.
func Zero(t Type) Value { return Value{typ: t} }

func (v Value) Type() Type       { return v.typ }
func (v Value) Valid() bool      { return v.typ != TypeInvalid }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) AsInt() int64     { return v.i }
func (v Value) AsBool() bool     { return v.b }
func (v Value) AsString() string { return v.s }

// AsFloats returns a copy of the array payload.
func (v Value) AsFloats() []float64 { return slices.Clone(v.fs) }

func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeFloat:
		return v.f == o.f
	case TypeInt:
		return v.i == o.i
	case TypeBool:
		return v.b == o.b
	case TypeString:
		return v.s == o.s
	case TypeFloats:
		return slices.Equal(v.fs, o.fs)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeFloat:
		return fmt.Sprintf("%g", v.f)
	case TypeInt:
		return fmt.Sprintf("%d", v.i)
	case TypeBool:
		return fmt.Sprintf("%t", v.b)
	case TypeString:
		return v.s
	case TypeFloats:
		return fmt.Sprintf("%v", v.fs)
	default:
		return "<invalid>"
	}
}

// Payload returns the untagged Go value, used by the snapshot encoder.
func (v Value) Payload() any {
	switch v.typ {
	case TypeFloat:
		return v.f
	case TypeInt:
		return v.i
	case TypeBool:
		return v.b
	case TypeString:
		return v.s
	case TypeFloats:
		if v.fs == nil {
			return []float64{}
		}
		return v.fs
	default:
		return nil
	}
}

// Decode parses a JSON encoded payload of type t.
func Decode(t Type, data []byte) (Value, error) {
	var err error
	out := Value{typ: t}
	switch t {
	case TypeFloat:
		err = json.Unmarshal(data, &out.f)
	case TypeInt:
		err = json.Unmarshal(data, &out.i)
	case TypeBool:
		err = json.Unmarshal(data, &out.b)
	case TypeString:
		err = json.Unmarshal(data, &out.s)
	case TypeFloats:
		err = json.Unmarshal(data, &out.fs)
	default:
		return Value{}, fmt.Errorf("decode %s value", t)
	}
	if err != nil {
		return Value{}, fmt.Errorf("decode %s value: %w", t, err)
	}
	return out, nil
}

// Raw is a value whose parameter is not known to the current registry. It
// is kept verbatim so it can be written back unchanged.
type Raw struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (r Raw) clone() Raw {
	return Raw{Type: r.Type, Data: slices.Clone(r.Data)}
}
