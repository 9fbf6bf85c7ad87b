package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

// StatsService keeps running decision counters for the stats endpoint.
// It is a DecisionObserver; counters are lock-free, the per-rule-action
// breakdown sits behind a mutex.
type StatsService struct {
	intercepted atomic.Int64
	simulated   atomic.Int64
	blocked     atomic.Int64
	modified    atomic.Int64
	passed      atomic.Int64

	mu           sync.Mutex
	actionCounts map[rule.Action]int64
	since        time.Time
}

// NewStatsService creates a StatsService with all counters at zero.
func NewStatsService() *StatsService {
	return &StatsService{
		actionCounts: make(map[rule.Action]int64),
		since:        time.Now().UTC(),
	}
}

// ObserveDecision implements DecisionObserver.
func (s *StatsService) ObserveDecision(source audit.Source, action rule.Action, blocked, modified bool, _ time.Duration) {
	if source == audit.SourceSimulation {
		s.simulated.Add(1)
	} else {
		s.intercepted.Add(1)
	}
	switch {
	case blocked:
		s.blocked.Add(1)
	case modified:
		s.modified.Add(1)
	default:
		s.passed.Add(1)
	}

	s.mu.Lock()
	s.actionCounts[action]++
	s.mu.Unlock()
}

// Stats is a snapshot of the decision counters.
type Stats struct {
	Intercepted  int64                 `json:"intercepted"`
	Simulated    int64                 `json:"simulated"`
	Blocked      int64                 `json:"blocked"`
	Modified     int64                 `json:"modified"`
	Passed       int64                 `json:"passed"`
	ActionCounts map[rule.Action]int64 `json:"action_counts"`
	Since        time.Time             `json:"since"`
}

// GetStats returns a snapshot. Each counter is read atomically but the
// snapshot as a whole is not.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	ac := make(map[rule.Action]int64, len(s.actionCounts))
	for k, v := range s.actionCounts {
		ac[k] = v
	}
	since := s.since
	s.mu.Unlock()

	return Stats{
		Intercepted:  s.intercepted.Load(),
		Simulated:    s.simulated.Load(),
		Blocked:      s.blocked.Load(),
		Modified:     s.modified.Load(),
		Passed:       s.passed.Load(),
		ActionCounts: ac,
		Since:        since,
	}
}

// Reset zeroes every counter and restarts the window.
func (s *StatsService) Reset() {
	s.intercepted.Store(0)
	s.simulated.Store(0)
	s.blocked.Store(0)
	s.modified.Store(0)
	s.passed.Store(0)

	s.mu.Lock()
	s.actionCounts = make(map[rule.Action]int64)
	s.since = time.Now().UTC()
	s.mu.Unlock()
}

var _ DecisionObserver = (*StatsService)(nil)
