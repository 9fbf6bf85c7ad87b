package service

import (
	"context"
	"log/slog"
	"slices"

	"github.com/intentgate/intentgate/internal/adapter/outbound/state"
	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

// StatePersistence writes rules, settings and the audit snapshot to
// state.json. It implements RulePersister, SettingsPersister and
// audit.Sink; every write is a read-modify-write of its own section.
type StatePersistence struct {
	store    *state.FileStateStore
	log      audit.Log
	maxAudit int
	logger   *slog.Logger
}

// NewStatePersistence creates a StatePersistence. When log is non-nil the
// audit section is refreshed from it (bounded to maxAudit entries) each
// time a batch is appended.
func NewStatePersistence(store *state.FileStateStore, log audit.Log, maxAudit int, logger *slog.Logger) *StatePersistence {
	return &StatePersistence{
		store:    store,
		log:      log,
		maxAudit: maxAudit,
		logger:   logger,
	}
}

// SaveRules implements RulePersister.
func (p *StatePersistence) SaveRules(_ context.Context, configs []rule.Config) error {
	return p.store.Update(func(st *state.AppState) error {
		st.Rules = slices.Clone(configs)
		if st.Rules == nil {
			st.Rules = []rule.Config{}
		}
		return nil
	})
}

// SaveSettings implements SettingsPersister.
func (p *StatePersistence) SaveSettings(_ context.Context, es EngineSettings) error {
	return p.store.Update(func(st *state.AppState) error {
		st.Settings = SettingsToState(es)
		return nil
	})
}

// Append implements audit.Sink. The persisted snapshot mirrors the
// in-memory log rather than accumulating batches, so a cleared log stays
// cleared on disk after the next write.
func (p *StatePersistence) Append(_ context.Context, entries ...audit.Entry) error {
	if p.log == nil || p.maxAudit <= 0 {
		return nil
	}
	snapshot := p.log.Query()
	if len(snapshot) > p.maxAudit {
		snapshot = snapshot[:p.maxAudit]
	}
	return p.store.Update(func(st *state.AppState) error {
		st.AuditEntries = snapshot
		return nil
	})
}

// Close implements audit.Sink.
func (p *StatePersistence) Close() error {
	return nil
}

// ClearAudit removes the audit snapshot from state.json.
func (p *StatePersistence) ClearAudit() error {
	return p.store.Update(func(st *state.AppState) error {
		st.AuditEntries = nil
		return nil
	})
}

// SettingsToState converts engine settings to their persisted form.
func SettingsToState(es EngineSettings) state.SettingsEntry {
	c := es.clone()
	return state.SettingsEntry{
		Enabled:         c.Enabled,
		TargetPackages:  c.TargetPackages,
		RecordUnmatched: c.RecordUnmatched,
	}
}

// SettingsFromState converts persisted settings to engine settings.
func SettingsFromState(se state.SettingsEntry) EngineSettings {
	return EngineSettings{
		Enabled:         se.Enabled,
		TargetPackages:  se.TargetPackages,
		RecordUnmatched: se.RecordUnmatched,
	}.clone()
}

// LoadFromState publishes the rule records stored in state.json. It
// returns nil when the state holds no rules, leaving the current snapshot
// untouched.
func (s *RuleStore) LoadFromState(appState *state.AppState) *rule.LoadReport {
	if appState == nil || len(appState.Rules) == 0 {
		return nil
	}
	return s.LoadConfigs(appState.Rules)
}

var (
	_ RulePersister     = (*StatePersistence)(nil)
	_ SettingsPersister = (*StatePersistence)(nil)
	_ audit.Sink        = (*StatePersistence)(nil)
)
