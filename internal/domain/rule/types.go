// Package rule contains the domain types for interception rules: the
// compiled rule, its match criteria and modification, the immutable
// published snapshot, and the wire configuration schema.
package rule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/pkg/optional"
)

// Action is what happens to a message matched by a rule.
type Action string

const (
	// ActionModify rewrites fields of the message.
	ActionModify Action = "MODIFY"
	// ActionRedirect rewrites the target component (any field may be set).
	ActionRedirect Action = "REDIRECT"
	// ActionBlock stops the message.
	ActionBlock Action = "BLOCK"
	// ActionLog passes the message unchanged and only records it.
	ActionLog Action = "LOG"
	// ActionNone is recorded in audit entries when no rule matched.
	ActionNone Action = "NONE"
)

// ErrUnknownAction is returned for an action outside the known set.
var ErrUnknownAction = errors.New("unknown rule action")

// ParseAction parses a rule action case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionModify, ActionRedirect, ActionBlock, ActionLog:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Rewrites reports whether the action carries a modification.
func (a Action) Rewrites() bool {
	return a == ActionModify || a == ActionRedirect
}

// Condition is an optional expression criterion evaluated against a message.
type Condition interface {
	// Expression returns the source text.
	Expression() string
	// Matches evaluates the condition. An error means "not satisfied".
	Matches(m *message.Message) (bool, error)
}

// ConditionCompiler compiles condition expressions at load time.
type ConditionCompiler interface {
	CompileCondition(expr string) (Condition, error)
}

// Criteria are the match conditions of a rule. An unset criterion is a
// wildcard and always passes.
type Criteria struct {
	PackageName optional.Value[string]
	Action      optional.Value[string]
	Data        optional.Value[Pattern]
	Type        optional.Value[Pattern]
	// Component holds the flattened "package/class" form.
	Component  optional.Value[string]
	Categories []string
	Extras     []ExtraMatcher
	Condition  Condition
}

// Modification lists absolute replacement values. Unset fields are left
// untouched by the transformation.
type Modification struct {
	NewAction     optional.Value[string]
	NewData       optional.Value[string]
	NewType       optional.Value[string]
	NewComponent  optional.Value[string]
	NewCategories optional.Value[[]string]
	NewFlags      optional.Value[int]
	// ExtrasToAdd are converted at apply time; a failing entry is skipped.
	ExtrasToAdd    []message.ExtraSpec
	ExtrasToRemove []string
}

// Rule is a validated, compiled interception rule.
type Rule struct {
	ID       string
	Name     string
	Enabled  bool
	Priority int
	// Index is the declaration position in the loaded rule list.
	Index        int
	Criteria     Criteria
	Action       Action
	Modification optional.Value[Modification]
	// Config is the record the rule was compiled from.
	Config Config
}

// Label returns the rule name, falling back to its ID.
func (r *Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Diagnostic describes a problem with a single rule record.
type Diagnostic struct {
	// Index is the record position in the input list.
	Index   int    `json:"index"`
	RuleID  string `json:"rule_id,omitempty"`
	Message string `json:"message"`
}

// String implements fmt.Stringer.
func (d Diagnostic) String() string {
	if d.RuleID != "" {
		return fmt.Sprintf("rule[%d] %q: %s", d.Index, d.RuleID, d.Message)
	}
	return fmt.Sprintf("rule[%d]: %s", d.Index, d.Message)
}

// LoadReport summarizes a rule load.
type LoadReport struct {
	// Loaded is the number of rules published.
	Loaded int `json:"loaded"`
	// Skipped is the number of records dropped.
	Skipped int `json:"skipped"`
	// Diagnostics explain every skipped record.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	// Warnings flag loaded rules whose modification has entries that
	// will be skipped at apply time.
	Warnings []Diagnostic `json:"warnings,omitempty"`
	// Version is the fingerprint of the published snapshot.
	Version string `json:"version"`
}
