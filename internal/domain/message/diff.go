package message

import (
	"fmt"
	"sort"
	"strings"

	"github.com/intentgate/intentgate/pkg/optional"
)

// Change describes one field that differs between two messages.
type Change struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// String renders the change as `field: "before" -> "after"`.
func (c Change) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Field, c.Before, c.After)
}

// Diff lists the fields that differ between before and after, in a fixed
// field order followed by extras sorted by key.
func Diff(before, after *Message) []Change {
	var changes []Change
	add := func(field, b, a string) {
		changes = append(changes, Change{Field: field, Before: b, After: a})
	}

	diffString := func(field string, b, a optional.Value[string]) {
		if b != a {
			add(field, quoteOpt(b), quoteOpt(a))
		}
	}
	diffString("action", before.Action, after.Action)
	diffString("dataUri", before.DataURI, after.DataURI)
	diffString("mimeType", before.MimeType, after.MimeType)

	bc, bok := before.FlatComponent()
	ac, aok := after.FlatComponent()
	if bc != ac || bok != aok {
		add("component", quote(bc, bok), quote(ac, aok))
	}

	if !SameCategories(before.Categories, after.Categories) {
		add("categories", renderSet(before.Categories), renderSet(after.Categories))
	}

	if before.Flags != after.Flags {
		add("flags", before.Flags.String(), after.Flags.String())
	}
	diffString("sourcePackage", before.SourcePackage, after.SourcePackage)

	keys := make(map[string]struct{}, len(before.Extras)+len(after.Extras))
	for k := range before.Extras {
		keys[k] = struct{}{}
	}
	for k := range after.Extras {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		bv, bok := before.Extras[k]
		av, aok := after.Extras[k]
		if bok && aok && bv.Equal(av) {
			continue
		}
		add("extras["+k+"]", renderExtra(bv, bok), renderExtra(av, aok))
	}
	return changes
}

func quoteOpt(v optional.Value[string]) string {
	s, ok := v.Get()
	return quote(s, ok)
}

func quote(s string, ok bool) string {
	if !ok {
		return "<unset>"
	}
	return fmt.Sprintf("%q", s)
}

func renderSet(s []string) string {
	if s == nil {
		return "<unset>"
	}
	c := append([]string(nil), s...)
	sort.Strings(c)
	return "[" + strings.Join(c, ", ") + "]"
}

func renderExtra(v TypedValue, ok bool) string {
	if !ok {
		return "<absent>"
	}
	return fmt.Sprintf("%s(%q)", v.Type, v.String())
}
