package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValueType tags the payload type of a typed extra.
type ValueType string

const (
	TypeString       ValueType = "STRING"
	TypeInt          ValueType = "INT"
	TypeBoolean      ValueType = "BOOLEAN"
	TypeFloat        ValueType = "FLOAT"
	TypeLong         ValueType = "LONG"
	TypeDouble       ValueType = "DOUBLE"
	TypeByteArray    ValueType = "BYTE_ARRAY"
	TypeCharSequence ValueType = "CHAR_SEQUENCE"
)

// ErrUnknownValueType is returned when a type tag is not one of the known ValueTypes.
var ErrUnknownValueType = errors.New("unknown value type")

// ParseValueType parses a type tag case-insensitively.
// An empty tag defaults to TypeString.
func ParseValueType(s string) (ValueType, error) {
	if s == "" {
		return TypeString, nil
	}
	t := ValueType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeString, TypeInt, TypeBoolean, TypeFloat, TypeLong, TypeDouble, TypeByteArray, TypeCharSequence:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownValueType, s)
}

// TypedValue is a message extra value carrying an explicit type tag.
// Value holds string, int32, bool, float32, int64, float64 or []byte
// depending on Type.
type TypedValue struct {
	Type  ValueType `json:"type" yaml:"type"`
	Value any       `json:"value" yaml:"value"`
}

// String returns a STRING typed value.
func String(s string) TypedValue { return TypedValue{Type: TypeString, Value: s} }

// CharSequence returns a CHAR_SEQUENCE typed value.
func CharSequence(s string) TypedValue { return TypedValue{Type: TypeCharSequence, Value: s} }

// Int returns an INT typed value.
func Int(i int32) TypedValue { return TypedValue{Type: TypeInt, Value: i} }

// Long returns a LONG typed value.
func Long(i int64) TypedValue { return TypedValue{Type: TypeLong, Value: i} }

// Bool returns a BOOLEAN typed value.
func Bool(b bool) TypedValue { return TypedValue{Type: TypeBoolean, Value: b} }

// Float returns a FLOAT typed value.
func Float(f float32) TypedValue { return TypedValue{Type: TypeFloat, Value: f} }

// Double returns a DOUBLE typed value.
func Double(f float64) TypedValue { return TypedValue{Type: TypeDouble, Value: f} }

// Bytes returns a BYTE_ARRAY typed value.
func Bytes(b []byte) TypedValue { return TypedValue{Type: TypeByteArray, Value: b} }

// ParseTypedValue converts a raw configuration value into a TypedValue of
// type t. raw is usually a string but may be a decoded JSON/YAML scalar.
func ParseTypedValue(t ValueType, raw any) (TypedValue, error) {
	s := FormatRaw(raw)
	switch t {
	case TypeString, TypeCharSequence:
		return TypedValue{Type: t, Value: s}, nil
	case TypeInt:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return TypedValue{}, fmt.Errorf("parse %s value %q: %w", t, s, err)
		}
		return Int(int32(i)), nil
	case TypeLong:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return TypedValue{}, fmt.Errorf("parse %s value %q: %w", t, s, err)
		}
		return Long(i), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
		if err != nil {
			return TypedValue{}, fmt.Errorf("parse %s value %q: %w", t, s, err)
		}
		return Float(float32(f)), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return TypedValue{}, fmt.Errorf("parse %s value %q: %w", t, s, err)
		}
		return Double(f), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return TypedValue{}, fmt.Errorf("parse %s value %q: %w", t, s, err)
		}
		return Bool(b), nil
	case TypeByteArray:
		return Bytes([]byte(s)), nil
	}
	return TypedValue{}, fmt.Errorf("%w: %q", ErrUnknownValueType, string(t))
}

// FormatRaw renders a decoded configuration scalar as a string.
func FormatRaw(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// String returns the canonical string form of the value. Extra matchers
// compare against this form.
func (v TypedValue) String() string {
	switch x := v.Value.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Equal reports whether both values carry the same type and content.
func (v TypedValue) Equal(o TypedValue) bool {
	if v.Type != o.Type {
		return false
	}
	if a, ok := v.Value.([]byte); ok {
		b, ok := o.Value.([]byte)
		return ok && bytes.Equal(a, b)
	}
	return v.String() == o.String()
}

// clone copies byte slices so a cloned message never aliases the original.
func (v TypedValue) clone() TypedValue {
	if b, ok := v.Value.([]byte); ok {
		return TypedValue{Type: v.Type, Value: append([]byte(nil), b...)}
	}
	return v
}

type typedValueJSON struct {
	Type  ValueType `json:"type"`
	Value any       `json:"value"`
}

// MarshalJSON encodes byte arrays as plain strings so the encoded form can
// be fed back through ParseTypedValue.
func (v TypedValue) MarshalJSON() ([]byte, error) {
	out := typedValueJSON{Type: v.Type, Value: v.Value}
	if b, ok := v.Value.([]byte); ok {
		out.Value = string(b)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the native Go type for the tagged value.
func (v *TypedValue) UnmarshalJSON(data []byte) error {
	var in typedValueJSON
	if err := DecodeJSON(data, &in); err != nil {
		return err
	}
	t, err := ParseValueType(string(in.Type))
	if err != nil {
		return err
	}
	parsed, err := ParseTypedValue(t, in.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// DecodeJSON unmarshals data into v, keeping numbers in untyped fields as
// json.Number so 64-bit integers above 2^53 decode exactly.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("invalid character after top-level value")
	}
	return nil
}
