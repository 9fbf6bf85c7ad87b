package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/intercept"
	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

// EngineSettings are the runtime switches of the decision path.
type EngineSettings struct {
	// Enabled is the global on/off switch; disabled means pass-through.
	Enabled bool `json:"enabled"`
	// TargetPackages restricts the engine to these source packages.
	// Empty means every package.
	TargetPackages []string `json:"target_packages"`
	// RecordUnmatched controls whether decisions where no rule matched are
	// written to the audit log.
	RecordUnmatched bool `json:"record_unmatched"`
}

// DefaultEngineSettings returns enabled settings targeting every package.
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{Enabled: true, TargetPackages: []string{}, RecordUnmatched: true}
}

func (s EngineSettings) clone() EngineSettings {
	s.TargetPackages = slices.Clone(s.TargetPackages)
	if s.TargetPackages == nil {
		s.TargetPackages = []string{}
	}
	return s
}

// SettingsPersister stores engine settings.
type SettingsPersister interface {
	SaveSettings(ctx context.Context, s EngineSettings) error
}

// DecisionObserver is notified of every decision, for metrics.
type DecisionObserver interface {
	ObserveDecision(source audit.Source, action rule.Action, blocked, modified bool, elapsed time.Duration)
}

// Evaluation is the full result of one Match+Transform pass.
type Evaluation struct {
	// InScope is false when the engine is disabled or the source package
	// is not targeted.
	InScope bool
	Rule    rule.Rule
	Matched bool
	Outcome Outcome
	// SnapshotVersion identifies the rule set used.
	SnapshotVersion string
}

// Action returns the matched rule's action, or NONE.
func (e Evaluation) Action() rule.Action {
	if !e.Matched {
		return rule.ActionNone
	}
	return e.Rule.Action
}

// InterceptionService is the decision path: it takes one snapshot,
// matches, transforms, records to the audit log and returns the verdict.
// It implements intercept.Handler.
type InterceptionService struct {
	rules     *RuleStore
	matcher   *MatchEngine
	transform *TransformEngine
	audit     *AuditService
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []DecisionObserver

	settings    atomic.Pointer[EngineSettings]
	persistMu   sync.Mutex
	persister   SettingsPersister
	persistWG   sync.WaitGroup
	persistTime time.Duration
}

// InterceptionOption configures InterceptionService.
type InterceptionOption func(*InterceptionService)

// WithTracer sets the tracer used for decision spans.
func WithTracer(t trace.Tracer) InterceptionOption {
	return func(s *InterceptionService) {
		s.tracer = t
	}
}

// WithDecisionObserver registers a decision observer. It may be given
// more than once.
func WithDecisionObserver(o DecisionObserver) InterceptionOption {
	return func(s *InterceptionService) {
		s.observers = append(s.observers, o)
	}
}

// WithSettings sets the initial engine settings.
func WithSettings(es EngineSettings) InterceptionOption {
	return func(s *InterceptionService) {
		c := es.clone()
		s.settings.Store(&c)
	}
}

// WithSettingsPersister sets the best-effort persister for settings changes.
func WithSettingsPersister(p SettingsPersister) InterceptionOption {
	return func(s *InterceptionService) {
		s.persister = p
	}
}

// NewInterceptionService wires the decision path.
func NewInterceptionService(rules *RuleStore, matcher *MatchEngine, transform *TransformEngine, auditSvc *AuditService, logger *slog.Logger, opts ...InterceptionOption) *InterceptionService {
	s := &InterceptionService{
		rules:       rules,
		matcher:     matcher,
		transform:   transform,
		audit:       auditSvc,
		logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer("intentgate"),
		persistTime: 5 * time.Second,
	}
	def := DefaultEngineSettings()
	s.settings.Store(&def)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns a copy of the current engine settings.
func (s *InterceptionService) Settings() EngineSettings {
	return s.settings.Load().clone()
}

// UpdateSettings replaces the engine settings. Persistence happens in the
// background; failures are logged.
func (s *InterceptionService) UpdateSettings(es EngineSettings) {
	c := es.clone()
	s.settings.Store(&c)

	s.logger.Info("engine settings updated",
		"enabled", c.Enabled,
		"target_packages", c.TargetPackages,
		"record_unmatched", c.RecordUnmatched,
	)

	if s.persister == nil {
		return
	}
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		s.persistMu.Lock()
		defer s.persistMu.Unlock()
		// Persist the latest settings, not necessarily c.
		latest := s.Settings()
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTime)
		defer cancel()
		if err := s.persister.SaveSettings(ctx, latest); err != nil {
			s.logger.Error("failed to persist engine settings", "error", err)
		}
	}()
}

// Wait blocks until pending settings writes finish.
func (s *InterceptionService) Wait() {
	s.persistWG.Wait()
}

// Evaluate runs Match+Transform for msg against a single snapshot without
// recording anything.
func (s *InterceptionService) Evaluate(ctx context.Context, msg *message.Message) Evaluation {
	_, span := s.tracer.Start(ctx, "intentgate.evaluate")
	defer span.End()

	if msg == nil {
		msg = &message.Message{}
	}

	settings := s.settings.Load()
	snap := s.rules.Snapshot()
	ev := Evaluation{
		InScope:         InScope(msg, settings.Enabled, settings.TargetPackages),
		SnapshotVersion: snap.Version(),
	}

	if ev.InScope {
		ev.Rule, ev.Matched = s.matcher.Evaluate(msg, snap, settings.Enabled, settings.TargetPackages)
	}
	if ev.Matched {
		ev.Outcome = s.transform.Apply(msg, ev.Rule)
	} else {
		ev.Outcome = Passthrough(msg)
	}

	span.SetAttributes(
		attribute.Bool("intentgate.in_scope", ev.InScope),
		attribute.String("intentgate.rule_id", ev.Rule.ID),
		attribute.String("intentgate.action", string(ev.Action())),
		attribute.Bool("intentgate.blocked", ev.Outcome.Blocked),
		attribute.Bool("intentgate.modified", ev.Outcome.Modified),
		attribute.String("intentgate.snapshot_version", ev.SnapshotVersion),
	)
	return ev
}

// Record writes ev to the audit log as produced by source. The message
// snapshot is the pre-transformation input.
func (s *InterceptionService) Record(msg *message.Message, ev Evaluation, source audit.Source) audit.Entry {
	return s.audit.Record(EntryFor(msg, ev, source))
}

// EntryFor builds the audit entry describing ev.
func EntryFor(msg *message.Message, ev Evaluation, source audit.Source) audit.Entry {
	e := audit.Entry{
		Message:         msg.Clone(),
		Action:          ev.Action(),
		Modified:        ev.Outcome.Modified,
		Blocked:         ev.Outcome.Blocked,
		Source:          source,
		Changes:         ev.Outcome.Changes,
		Diagnostics:     ev.Outcome.Diagnostics,
		SnapshotVersion: ev.SnapshotVersion,
	}
	if ev.Matched {
		e.RuleID = ev.Rule.ID
		e.RuleName = ev.Rule.Name
	}
	return e
}

func (s *InterceptionService) observe(source audit.Source, action rule.Action, blocked, modified bool, elapsed time.Duration) {
	for _, o := range s.observers {
		o.ObserveDecision(source, action, blocked, modified, elapsed)
	}
}

// Intercept implements intercept.Handler.
func (s *InterceptionService) Intercept(ctx context.Context, msg *message.Message) intercept.Decision {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "intentgate.intercept")
	defer span.End()

	if msg == nil {
		msg = &message.Message{}
	}

	ev := s.Evaluate(ctx, msg)
	d := intercept.Decision{
		Message:  ev.Outcome.Output,
		Blocked:  ev.Outcome.Blocked,
		Modified: ev.Outcome.Modified,
		Action:   ev.Action(),
	}
	if ev.Matched {
		d.RuleID = ev.Rule.ID
	}

	if ev.InScope && (ev.Matched || s.settings.Load().RecordUnmatched) {
		entry := s.Record(msg, ev, audit.SourceIntercept)
		d.AuditID = entry.ID
	}

	s.observe(audit.SourceIntercept, d.Action, d.Blocked, d.Modified, time.Since(start))
	if ev.Matched {
		s.logger.Debug("message intercepted",
			"rule_id", d.RuleID,
			"action", d.Action,
			"blocked", d.Blocked,
			"modified", d.Modified,
		)
	}
	return d
}

var _ intercept.Handler = (*InterceptionService)(nil)
