// Package message contains the domain types for intercepted inter-component
// messages: the message record itself, its component address and its typed
// payload extras.
package message

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/intentgate/intentgate/pkg/optional"
)

// ErrInvalidComponent is returned when a component string is not of the
// form "package/class".
var ErrInvalidComponent = errors.New("invalid component")

// Component addresses a concrete receiver: a package plus a class inside it.
type Component struct {
	Package string
	Class   string
}

// ParseComponent parses the flattened "package/class" form. A class
// starting with "." is relative to the package ("pkg/.Main").
func ParseComponent(s string) (Component, error) {
	pkg, cls, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || pkg == "" || cls == "" || strings.Contains(cls, "/") {
		return Component{}, fmt.Errorf("%w: %q", ErrInvalidComponent, s)
	}
	if strings.HasPrefix(cls, ".") {
		cls = pkg + cls
	}
	return Component{Package: pkg, Class: cls}, nil
}

// Flatten returns the "package/class" form.
func (c Component) Flatten() string {
	return c.Package + "/" + c.Class
}

// String implements fmt.Stringer.
func (c Component) String() string {
	return c.Flatten()
}

// MarshalText encodes the component in flattened form.
func (c Component) MarshalText() ([]byte, error) {
	return []byte(c.Flatten()), nil
}

// UnmarshalText decodes the flattened form.
func (c *Component) UnmarshalText(b []byte) error {
	parsed, err := ParseComponent(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Message is one intercepted inter-component request. Every field is
// optional; criteria that reference an unset field are not satisfied.
type Message struct {
	Action        optional.Value[string]    `json:"action"`
	DataURI       optional.Value[string]    `json:"dataUri"`
	MimeType      optional.Value[string]    `json:"mimeType"`
	Component     optional.Value[Component] `json:"component"`
	Categories    []string                  `json:"categories,omitempty"`
	Extras        map[string]TypedValue     `json:"extras,omitempty"`
	Flags         optional.Value[int]       `json:"flags"`
	SourcePackage optional.Value[string]    `json:"sourcePackage"`
}

// Clone returns a deep copy of m. Transformations always operate on a
// clone so the intercepted original is never mutated.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Categories != nil {
		c.Categories = slices.Clone(m.Categories)
	}
	if m.Extras != nil {
		c.Extras = make(map[string]TypedValue, len(m.Extras))
		for k, v := range m.Extras {
			c.Extras[k] = v.clone()
		}
	}
	return &c
}

// HasCategory reports whether the category is present.
func (m *Message) HasCategory(category string) bool {
	return slices.Contains(m.Categories, category)
}

// FlatComponent returns the flattened component and whether one is set.
func (m *Message) FlatComponent() (string, bool) {
	c, ok := m.Component.Get()
	if !ok {
		return "", false
	}
	return c.Flatten(), true
}

// SortedCategories returns the categories in lexical order, for stable
// rendering and comparison.
func (m *Message) SortedCategories() []string {
	out := slices.Clone(m.Categories)
	sort.Strings(out)
	return slices.Compact(out)
}

// SameCategories compares two category sets ignoring order and duplicates.
func SameCategories(a, b []string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	x := slices.Compact(sortedCopy(a))
	y := slices.Compact(sortedCopy(b))
	return slices.Equal(x, y)
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	sort.Strings(out)
	return out
}
