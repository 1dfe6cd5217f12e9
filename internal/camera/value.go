package camera

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the type carried by a property Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindUint
	KindFloat
	KindDouble
	KindBool
	KindString
	KindUintArray
)

func (k Kind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindUintArray:
		return "uint-array"
	default:
		return "invalid"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Value is a tagged property value. The zero Value has KindInvalid.
//
// Typed accessors return the zero value of their type when called on a Value
// of another kind; the registry checks kinds before a handler ever sees a
// Value, so handlers can use the accessors directly.
type Value struct {
	kind Kind
	u    uint64
	f    float64
	b    bool
	s    string
	a    []uint64
}

func Uint(v uint64) Value    { return Value{kind: KindUint, u: v} }
func Float(v float32) Value  { return Value{kind: KindFloat, f: float64(v)} }
func Double(v float64) Value { return Value{kind: KindDouble, f: v} }
func Bool(v bool) Value      { return Value{kind: KindBool, b: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }

// UintArray copies vs into a new array Value.
func UintArray(vs ...uint64) Value {
	return Value{kind: KindUintArray, a: slices.Clone(vs)}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) Uint() uint64 {
	if v.kind != KindUint {
		return 0
	}
	return v.u
}

func (v Value) Float() float32 {
	if v.kind != KindFloat {
		return 0
	}
	return float32(v.f)
}

func (v Value) Double() float64 {
	if v.kind != KindDouble {
		return 0
	}
	return v.f
}

func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Str returns the string payload. String is reserved for fmt.Stringer.
func (v Value) Str() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// UintArray returns a copy of the array payload.
func (v Value) UintArray() []uint64 {
	if v.kind != KindUintArray {
		return nil
	}
	return slices.Clone(v.a)
}

// Number returns the value as float64 for numeric kinds.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindUint:
		return float64(v.u), true
	case KindFloat, KindDouble:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports whether v and o have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUint:
		return v.u == o.u
	case KindFloat, KindDouble:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindUintArray:
		return slices.Equal(v.a, o.a)
	default:
		return true
	}
}

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindUint:
		return v.u
	case KindFloat:
		return float32(v.f)
	case KindDouble:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindUintArray:
		return slices.Clone(v.a)
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	case KindUintArray:
		parts := make([]string, len(v.a))
		for i, x := range v.a {
			parts[i] = strconv.FormatUint(x, 10)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the payload as the matching JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// ParseValue converts raw into a Value of the given kind. raw may be a Go
// value of a compatible type, a value decoded by encoding/json, or a string
// in the format produced by Value.String.
func ParseValue(kind Kind, raw any) (Value, error) {
	if s, ok := raw.(string); ok && kind != KindString {
		return parseString(kind, s)
	}
	switch kind {
	case KindUint:
		u, err := toUint(raw)
		if err != nil {
			return Value{}, err
		}
		return Uint(u), nil
	case KindFloat, KindDouble:
		f, err := toFloat(raw)
		if err != nil {
			return Value{}, err
		}
		if kind == KindFloat {
			return Float(float32(f)), nil
		}
		return Double(f), nil
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("%w: %T is not a bool", ErrInvalidProperty, raw)
		}
		return Bool(b), nil
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: %T is not a string", ErrInvalidProperty, raw)
		}
		return String(s), nil
	case KindUintArray:
		var out []uint64
		switch xs := raw.(type) {
		case []uint64:
			out = xs
		case []any:
			out = make([]uint64, len(xs))
			for i, x := range xs {
				u, err := toUint(x)
				if err != nil {
					return Value{}, err
				}
				out[i] = u
			}
		default:
			return Value{}, fmt.Errorf("%w: %T is not an array", ErrInvalidProperty, raw)
		}
		return UintArray(out...), nil
	default:
		return Value{}, fmt.Errorf("%w: kind %v", ErrInvalidProperty, kind)
	}
}

func parseString(kind Kind, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case KindUint:
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
		}
		return Uint(u), nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
		}
		return Float(float32(f)), nil
	case KindDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
		}
		return Double(f), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
		}
		return Bool(b), nil
	case KindUintArray:
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		var out []uint64
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			u, err := strconv.ParseUint(part, 0, 64)
			if err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
			}
			out = append(out, u)
		}
		return UintArray(out...), nil
	default:
		return Value{}, fmt.Errorf("%w: kind %v", ErrInvalidProperty, kind)
	}
}

func toUint(raw any) (uint64, error) {
	switch x := raw.(type) {
	case uint64:
		return x, nil
	case uint:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case int:
		if x < 0 {
			return 0, fmt.Errorf("%w: negative value %d", ErrInvalidProperty, x)
		}
		return uint64(x), nil
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("%w: negative value %d", ErrInvalidProperty, x)
		}
		return uint64(x), nil
	case float64:
		if x < 0 || x != math.Trunc(x) || x > math.MaxUint64 {
			return 0, fmt.Errorf("%w: %v is not an unsigned integer", ErrInvalidProperty, x)
		}
		return uint64(x), nil
	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(x), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
		}
		return u, nil
	default:
		return 0, fmt.Errorf("%w: %T is not an unsigned integer", ErrInvalidProperty, raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrInvalidProperty, raw)
	}
}
