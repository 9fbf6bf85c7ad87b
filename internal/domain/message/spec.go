package message

import (
	"fmt"

	"github.com/intentgate/intentgate/pkg/optional"
)

// ExtraSpec is the configuration form of a typed extra: a key, a raw value
// and a type tag. It appears in simulation requests and in rule
// modifications.
type ExtraSpec struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Convert parses the spec into a key and TypedValue.
func (e ExtraSpec) Convert() (string, TypedValue, error) {
	if e.Key == "" {
		return "", TypedValue{}, fmt.Errorf("extra has empty key")
	}
	t, err := ParseValueType(e.Type)
	if err != nil {
		return "", TypedValue{}, fmt.Errorf("extra %q: %w", e.Key, err)
	}
	v, err := ParseTypedValue(t, e.Value)
	if err != nil {
		return "", TypedValue{}, fmt.Errorf("extra %q: %w", e.Key, err)
	}
	return e.Key, v, nil
}

// Spec describes a synthetic message in configuration form. It has the
// same optional shape as Message but carries the component as a string and
// extras as ExtraSpecs.
type Spec struct {
	Action        optional.Value[string] `json:"action" yaml:"action"`
	DataURI       optional.Value[string] `json:"dataUri" yaml:"dataUri"`
	MimeType      optional.Value[string] `json:"mimeType" yaml:"mimeType"`
	Component     optional.Value[string] `json:"component" yaml:"component"`
	Categories    []string               `json:"categories,omitempty" yaml:"categories,omitempty"`
	Extras        []ExtraSpec            `json:"extras,omitempty" yaml:"extras,omitempty"`
	Flags         optional.Value[int]    `json:"flags" yaml:"flags"`
	SourcePackage optional.Value[string] `json:"sourcePackage" yaml:"sourcePackage"`
}

// Build converts the spec into a Message. Fields that cannot be converted
// are left unset and reported as diagnostics.
func (s Spec) Build() (*Message, []string) {
	var diags []string
	m := &Message{
		Action:        s.Action,
		DataURI:       s.DataURI,
		MimeType:      s.MimeType,
		Flags:         s.Flags,
		SourcePackage: s.SourcePackage,
	}
	if raw, ok := s.Component.Get(); ok && raw != "" {
		c, err := ParseComponent(raw)
		if err != nil {
			diags = append(diags, fmt.Sprintf("component: %v", err))
		} else {
			m.Component = optional.Of(c)
		}
	}
	if len(s.Categories) > 0 {
		m.Categories = append([]string(nil), s.Categories...)
	}
	for _, e := range s.Extras {
		k, v, err := e.Convert()
		if err != nil {
			diags = append(diags, err.Error())
			continue
		}
		if m.Extras == nil {
			m.Extras = make(map[string]TypedValue, len(s.Extras))
		}
		m.Extras[k] = v
	}
	return m, diags
}
