// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/intentgate/intentgate/internal/domain/rule"
)

// RuleSource supplies the raw rule document for Reload.
type RuleSource interface {
	ReadRules(ctx context.Context) ([]byte, error)
}

// RulePersister stores the loaded rule records. Called asynchronously.
type RulePersister interface {
	SaveRules(ctx context.Context, configs []rule.Config) error
}

// LoadObserver is notified after every load.
type LoadObserver interface {
	ObserveLoad(report *rule.LoadReport)
}

// ErrNoRuleSource is returned by Reload when no source is configured.
var ErrNoRuleSource = errors.New("no rule source configured")

// RuleStore owns the active rule set and publishes it as immutable
// snapshots. Reads are lock-free; loads are serialized and publish with a
// single atomic pointer swap.
type RuleStore struct {
	current  atomic.Pointer[rule.Snapshot]
	loadMu   sync.Mutex // orders publish with notification; never held by readers
	compiler rule.ConditionCompiler
	source   RuleSource
	reloads  singleflight.Group
	logger   *slog.Logger
	observer LoadObserver
	now      func() time.Time

	persister   RulePersister
	persistCh   chan []rule.Config
	persistWG   sync.WaitGroup
	persistStop chan struct{}
	persistOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]chan *rule.Snapshot
	nextSub int
}

// RuleStoreOption configures RuleStore.
type RuleStoreOption func(*RuleStore)

// WithConditionCompiler enables condition expressions on rules.
func WithConditionCompiler(cc rule.ConditionCompiler) RuleStoreOption {
	return func(s *RuleStore) {
		s.compiler = cc
	}
}

// WithRuleSource sets the source read by Reload.
func WithRuleSource(src RuleSource) RuleStoreOption {
	return func(s *RuleStore) {
		s.source = src
	}
}

// WithRulePersister sets the best-effort persister for loaded rules.
func WithRulePersister(p RulePersister) RuleStoreOption {
	return func(s *RuleStore) {
		s.persister = p
	}
}

// WithLoadObserver registers an observer for load reports.
func WithLoadObserver(o LoadObserver) RuleStoreOption {
	return func(s *RuleStore) {
		s.observer = o
	}
}

// withClock overrides time.Now, for tests.
func withClock(now func() time.Time) RuleStoreOption {
	return func(s *RuleStore) {
		s.now = now
	}
}

// NewRuleStore creates a RuleStore holding an empty snapshot.
func NewRuleStore(logger *slog.Logger, opts ...RuleStoreOption) *RuleStore {
	s := &RuleStore{
		logger:      logger,
		now:         time.Now,
		persistCh:   make(chan []rule.Config, 1),
		persistStop: make(chan struct{}),
		subs:        make(map[int]chan *rule.Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(rule.EmptySnapshot())
	return s
}

// Start begins the background persister. It is a no-op without a
// persister.
func (s *RuleStore) Start(ctx context.Context) {
	if s.persister == nil {
		return
	}
	s.persistWG.Add(1)
	go s.persistWorker(ctx)
}

// Stop terminates the persister after writing any pending rule set and
// closes all subscriptions.
func (s *RuleStore) Stop() {
	s.persistOnce.Do(func() { close(s.persistStop) })
	s.persistWG.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
}

// Snapshot returns the currently published snapshot. Callers must use the
// same snapshot for a whole decision.
func (s *RuleStore) Snapshot() *rule.Snapshot {
	return s.current.Load()
}

// Load decodes a raw rule document and publishes the surviving rules. Only
// a document that is not a list at all fails; bad records are skipped and
// described in the report.
func (s *RuleStore) Load(raw []byte) (*rule.LoadReport, error) {
	configs, decodeDiags, err := rule.Decode(raw)
	if err != nil {
		s.logger.Warn("rule load rejected", "error", err)
		return nil, err
	}
	return s.load(configs, decodeDiags), nil
}

// LoadConfigs publishes already decoded records.
func (s *RuleStore) LoadConfigs(configs []rule.Config) *rule.LoadReport {
	return s.load(configs, nil)
}

// Reload re-reads the configured source and loads it. Concurrent calls
// share one read and load.
func (s *RuleStore) Reload(ctx context.Context) (*rule.LoadReport, error) {
	if s.source == nil {
		return nil, ErrNoRuleSource
	}
	v, err, _ := s.reloads.Do("reload", func() (any, error) {
		raw, err := s.source.ReadRules(ctx)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		return s.Load(raw)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rule.LoadReport), nil
}

func (s *RuleStore) load(configs []rule.Config, decodeDiags []rule.Diagnostic) *rule.LoadReport {
	report := &rule.LoadReport{}
	malformed := make(map[int]bool, len(decodeDiags))
	for _, d := range decodeDiags {
		malformed[d.Index] = true
		report.Diagnostics = append(report.Diagnostics, d)
	}

	rules := make([]rule.Rule, 0, len(configs))
	seen := make(map[string]bool, len(configs))
	for i, cfg := range configs {
		if malformed[i] {
			continue
		}
		r, warnings, err := rule.Compile(cfg, i, s.compiler)
		if err != nil {
			report.Diagnostics = append(report.Diagnostics, rule.Diagnostic{Index: i, RuleID: cfg.ID, Message: err.Error()})
			continue
		}
		if seen[r.ID] {
			report.Diagnostics = append(report.Diagnostics, rule.Diagnostic{Index: i, RuleID: r.ID, Message: "duplicate rule id"})
			continue
		}
		seen[r.ID] = true
		for _, w := range warnings {
			report.Warnings = append(report.Warnings, rule.Diagnostic{Index: i, RuleID: r.ID, Message: w})
		}
		rules = append(rules, r)
	}

	snap := rule.NewSnapshot(rules, s.now())
	s.loadMu.Lock()
	s.current.Store(snap)
	s.notify(snap)
	s.enqueuePersist(snap.Configs())
	s.loadMu.Unlock()

	report.Loaded = snap.Len()
	report.Skipped = len(configs) - snap.Len()
	report.Version = snap.Version()

	for _, d := range report.Diagnostics {
		s.logger.Warn("rule skipped", "index", d.Index, "rule_id", d.RuleID, "reason", d.Message)
	}
	s.logger.Info("rules loaded",
		"loaded", report.Loaded,
		"skipped", report.Skipped,
		"warnings", len(report.Warnings),
		"snapshot_version", report.Version,
	)

	if s.observer != nil {
		s.observer.ObserveLoad(report)
	}
	return report
}

// Subscribe returns a channel receiving every newly published snapshot.
// Delivery is latest-wins: a slow subscriber only sees the most recent
// snapshot. The returned function cancels the subscription.
func (s *RuleStore) Subscribe() (<-chan *rule.Snapshot, func()) {
	ch := make(chan *rule.Snapshot, 1)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
	return ch, cancel
}

func (s *RuleStore) notify(snap *rule.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		replaceLatest(ch, snap)
	}
}

// replaceLatest sends v on a 1-buffered channel, discarding an unread
// older value. It never blocks.
func replaceLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (s *RuleStore) enqueuePersist(configs []rule.Config) {
	if s.persister == nil {
		return
	}
	replaceLatest(s.persistCh, configs)
}

func (s *RuleStore) persistWorker(ctx context.Context) {
	defer s.persistWG.Done()
	for {
		select {
		case configs := <-s.persistCh:
			s.persist(ctx, configs)
		case <-s.persistStop:
			select {
			case configs := <-s.persistCh:
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.persist(flushCtx, configs)
				cancel()
			default:
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// persist writes the rule set. Errors are logged, never propagated.
func (s *RuleStore) persist(ctx context.Context, configs []rule.Config) {
	if err := s.persister.SaveRules(ctx, configs); err != nil {
		s.logger.Error("failed to persist rules", "error", err, "count", len(configs))
		return
	}
	s.logger.Debug("rules persisted", "count", len(configs))
}
