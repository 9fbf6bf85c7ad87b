package rule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/intentgate/intentgate/internal/domain/message"
)

// Pattern is a compiled regex criterion with full-match semantics. Mime
// patterns may additionally use the "<prefix>/*" wildcard form.
type Pattern struct {
	Source string
	re     *regexp.Regexp
	// mimePrefix is set for "<prefix>/*" patterns; "*" matches any prefix.
	mimePrefix string
}

// CompileRegex compiles src so that it must match the whole input.
func CompileRegex(src string) (Pattern, error) {
	re, err := regexp.Compile(`^(?:` + src + `)$`)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid regex %q: %w", src, err)
	}
	return Pattern{Source: src, re: re}, nil
}

// CompileMimePattern compiles a mime type criterion. A pattern of the form
// "<prefix>/*" matches any mime type whose part before the "/" equals
// prefix exactly; "*/*" matches any mime type. Such patterns are not
// compiled as regular expressions.
func CompileMimePattern(src string) (Pattern, error) {
	prefix, rest, ok := strings.Cut(src, "/")
	if ok && rest == "*" && prefix != "" {
		return Pattern{Source: src, mimePrefix: prefix}, nil
	}
	return CompileRegex(src)
}

// MatchString reports whether s satisfies the pattern.
func (p Pattern) MatchString(s string) bool {
	if p.mimePrefix != "" {
		prefix, _, ok := strings.Cut(s, "/")
		return ok && (p.mimePrefix == "*" || prefix == p.mimePrefix)
	}
	return p.re != nil && p.re.MatchString(s)
}

// String returns the source text.
func (p Pattern) String() string {
	return p.Source
}

// MatchType selects how an ExtraMatcher compares a message extra.
type MatchType string

const (
	MatchEquals    MatchType = "EQUALS"
	MatchContains  MatchType = "CONTAINS"
	MatchRegex     MatchType = "REGEX"
	MatchExists    MatchType = "EXISTS"
	MatchNotExists MatchType = "NOT_EXISTS"
)

// ErrUnknownMatchType is returned for a match type outside the known set.
var ErrUnknownMatchType = errors.New("unknown match type")

// ParseMatchType parses a match type case-insensitively. Empty means EQUALS.
func ParseMatchType(s string) (MatchType, error) {
	if strings.TrimSpace(s) == "" {
		return MatchEquals, nil
	}
	t := MatchType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case MatchEquals, MatchContains, MatchRegex, MatchExists, MatchNotExists:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMatchType, s)
}

// ExtraMatcher tests one key of a message's extras.
type ExtraMatcher struct {
	Key       string
	MatchType MatchType
	// Value is ignored for EXISTS and NOT_EXISTS.
	Value string
	re    Pattern
}

// NewExtraMatcher validates and compiles a matcher.
func NewExtraMatcher(key string, t MatchType, value string) (ExtraMatcher, error) {
	if key == "" {
		return ExtraMatcher{}, errors.New("extra matcher has empty key")
	}
	m := ExtraMatcher{Key: key, MatchType: t, Value: value}
	if t == MatchRegex {
		p, err := CompileRegex(value)
		if err != nil {
			return ExtraMatcher{}, fmt.Errorf("extra matcher %q: %w", key, err)
		}
		m.re = p
	}
	return m, nil
}

// Matches evaluates the matcher against a message's extras. A missing key
// fails every value-based match type.
func (m ExtraMatcher) Matches(extras map[string]message.TypedValue) bool {
	v, ok := extras[m.Key]
	switch m.MatchType {
	case MatchExists:
		return ok
	case MatchNotExists:
		return !ok
	}
	if !ok {
		return false
	}
	switch m.MatchType {
	case MatchEquals:
		return v.String() == m.Value
	case MatchContains:
		return strings.Contains(v.String(), m.Value)
	case MatchRegex:
		return m.re.MatchString(v.String())
	}
	return false
}
