// Package optional provides an explicit set/unset wrapper for values that
// may be absent. It distinguishes "not specified" from a zero value, which
// plain Go fields cannot do.
package optional

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Value holds a T that may or may not be set.
// The zero Value is unset.
type Value[T any] struct {
	value T
	set   bool
}

// Of returns a set Value holding v.
func Of[T any](v T) Value[T] {
	return Value[T]{value: v, set: true}
}

// None returns an unset Value.
func None[T any]() Value[T] {
	return Value[T]{}
}

// FromPtr returns an unset Value for nil and a set Value otherwise.
func FromPtr[T any](p *T) Value[T] {
	if p == nil {
		return Value[T]{}
	}
	return Of(*p)
}

// NonEmpty returns a set Value for a non-empty string and an unset Value
// for "". Configuration records use empty strings as "not specified".
func NonEmpty(s string) Value[string] {
	if s == "" {
		return Value[string]{}
	}
	return Of(s)
}

// IsSet reports whether the value is present.
func (v Value[T]) IsSet() bool {
	return v.set
}

// Get returns the value and whether it is set.
func (v Value[T]) Get() (T, bool) {
	return v.value, v.set
}

// OrElse returns the value when set and def otherwise.
func (v Value[T]) OrElse(def T) T {
	if v.set {
		return v.value
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil when unset.
func (v Value[T]) Ptr() *T {
	if !v.set {
		return nil
	}
	c := v.value
	return &c
}

// String renders the value for diagnostics; unset renders as "<unset>".
func (v Value[T]) String() string {
	if !v.set {
		return "<unset>"
	}
	return fmt.Sprintf("%v", v.value)
}

// MarshalJSON encodes an unset value as null.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

// UnmarshalJSON decodes null as unset.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value[T]{}
		return nil
	}
	var t T
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	*v = Of(t)
	return nil
}

// IsZero lets encoders with omitempty/omitzero skip unset values.
func (v Value[T]) IsZero() bool {
	return !v.set
}

// MarshalYAML encodes an unset value as null.
func (v Value[T]) MarshalYAML() (interface{}, error) {
	if !v.set {
		return nil, nil
	}
	return v.value, nil
}

// UnmarshalYAML decodes a null node as unset.
func (v *Value[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*v = Value[T]{}
		return nil
	}
	var t T
	if err := node.Decode(&t); err != nil {
		return err
	}
	*v = Of(t)
	return nil
}
