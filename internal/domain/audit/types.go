// Package audit contains the domain types for the decision audit trail.
package audit

import (
	"context"
	"time"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

// Source identifies what produced a decision.
type Source string

const (
	// SourceIntercept marks decisions made for a live interception.
	SourceIntercept Source = "intercept"
	// SourceSimulation marks decisions made by the simulation harness.
	SourceSimulation Source = "simulation"
)

// Entry is one recorded decision.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// Message is the pre-transformation snapshot.
	Message  *message.Message `json:"message"`
	RuleID   string           `json:"rule_id,omitempty"`
	RuleName string           `json:"rule_name,omitempty"`
	// Action is the matched rule's action, or NONE.
	Action      rule.Action      `json:"action"`
	Modified    bool             `json:"modified"`
	Blocked     bool             `json:"blocked"`
	Source      Source           `json:"source"`
	Changes     []message.Change `json:"changes,omitempty"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
	// SnapshotVersion is the rule set fingerprint used for the decision.
	SnapshotVersion string `json:"snapshot_version,omitempty"`
}

// Matched reports whether a rule was selected.
func (e Entry) Matched() bool {
	return e.RuleID != ""
}

// Log is the bounded in-memory decision history.
type Log interface {
	// Record inserts the entry at the head, evicting the oldest entries
	// beyond capacity.
	Record(e Entry)
	// Query returns a copy of all entries, most recent first.
	Query() []Entry
	// Clear empties the log.
	Clear()
	Len() int
	Capacity() int
}

// Sink persists audit entries outside the process.
// Interface owned by domain per hexagonal architecture.
type Sink interface {
	// Append stores entries. Called from the background audit worker.
	Append(ctx context.Context, entries ...Entry) error
	// Close releases resources.
	Close() error
}

// Filter narrows an audit query. Zero fields match everything.
type Filter struct {
	Action rule.Action
	RuleID string
	Source Source
	Since  time.Time
	// Limit caps the result size; 0 means unlimited.
	Limit int
}

// Apply returns the entries accepted by f, preserving order.
func (f Filter) Apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.RuleID != "" && e.RuleID != f.RuleID {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out
}
