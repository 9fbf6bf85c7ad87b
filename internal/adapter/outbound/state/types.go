// Package state provides file-based persistence for IntentGate runtime state.
//
// The state.json file stores the last loaded rule records, the engine
// settings and a bounded snapshot of the audit log so that a restart
// resumes where the previous process stopped. This package provides atomic
// writes, file locking, and backup functionality.
package state

import (
	"time"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

// CurrentVersion is the schema version written by this package.
const CurrentVersion = "1"

// AppState is the top-level structure persisted in state.json.
type AppState struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Rules are the rule records of the last published snapshot, in
	// declaration order.
	Rules []rule.Config `json:"rules"`

	// Settings are the engine runtime switches.
	Settings SettingsEntry `json:"settings"`

	// AuditEntries is the audit log snapshot, most recent first.
	AuditEntries []audit.Entry `json:"audit_entries,omitempty"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsEntry is the persisted form of the engine settings.
type SettingsEntry struct {
	Enabled         bool     `json:"enabled"`
	TargetPackages  []string `json:"target_packages"`
	RecordUnmatched bool     `json:"record_unmatched"`
}
