package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/delivery"
	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

var errNoDeliverer = errors.New("no deliverer configured")

// SimulationResult describes one simulated decision.
type SimulationResult struct {
	ID       string           `json:"id"`
	Matched  bool             `json:"matched"`
	RuleID   string           `json:"rule_id,omitempty"`
	RuleName string           `json:"rule_name,omitempty"`
	Action   rule.Action      `json:"action"`
	Modified bool             `json:"modified"`
	Blocked  bool             `json:"blocked"`
	InScope  bool             `json:"in_scope"`
	Input    *message.Message `json:"input"`
	// Output is nil when Blocked is true.
	Output      *message.Message `json:"output"`
	Changes     []message.Change `json:"changes,omitempty"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
	Dispatched  bool             `json:"dispatched"`
	// DispatchError is set when dispatch was requested and failed.
	DispatchError string `json:"dispatch_error,omitempty"`
	AuditID       string `json:"audit_id,omitempty"`
	// Description is the human-readable report.
	Description string `json:"description"`
}

// SimulationService drives synthetic messages through Match+Transform,
// optionally dispatching the result.
type SimulationService struct {
	engine    *InterceptionService
	deliverer delivery.Deliverer
	logger    *slog.Logger
	timeout   time.Duration
}

// SimulationOption configures SimulationService.
type SimulationOption func(*SimulationService)

// WithDeliverer sets the delivery collaborator used when dispatch is requested.
func WithDeliverer(d delivery.Deliverer) SimulationOption {
	return func(s *SimulationService) {
		s.deliverer = d
	}
}

// WithDispatchTimeout bounds a single dispatch.
func WithDispatchTimeout(d time.Duration) SimulationOption {
	return func(s *SimulationService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSimulationService creates a SimulationService.
func NewSimulationService(engine *InterceptionService, logger *slog.Logger, opts ...SimulationOption) *SimulationService {
	s := &SimulationService{
		engine:  engine,
		logger:  logger,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTest builds a message from spec, evaluates and transforms it against
// the current snapshot and, only when dispatch is true, hands the result
// to the deliverer. It always returns a description; dispatch failures are
// reported in it rather than returned.
func (s *SimulationService) RunTest(ctx context.Context, spec message.Spec, dispatch bool, mode delivery.Mode) SimulationResult {
	start := time.Now()
	msg, buildDiags := spec.Build()
	ev := s.engine.Evaluate(ctx, msg)

	res := SimulationResult{
		ID:          uuid.NewString(),
		Matched:     ev.Matched,
		Action:      ev.Action(),
		Modified:    ev.Outcome.Modified,
		Blocked:     ev.Outcome.Blocked,
		InScope:     ev.InScope,
		Input:       msg,
		Output:      ev.Outcome.Output,
		Changes:     ev.Outcome.Changes,
		Diagnostics: append(buildDiags, ev.Outcome.Diagnostics...),
	}
	if ev.Matched {
		res.RuleID = ev.Rule.ID
		res.RuleName = ev.Rule.Name
	}

	entry := EntryFor(msg, ev, audit.SourceSimulation)
	entry.Diagnostics = res.Diagnostics
	res.AuditID = s.engine.audit.Record(entry).ID
	s.engine.observe(audit.SourceSimulation, res.Action, res.Blocked, res.Modified, time.Since(start))

	if dispatch {
		res.Dispatched = true
		if err := s.dispatch(ctx, res, mode); err != nil {
			res.DispatchError = err.Error()
			s.logger.Warn("simulation dispatch failed", "simulation_id", res.ID, "mode", mode, "error", err)
		}
	}

	res.Description = describe(res, ev, mode)
	return res
}

func (s *SimulationService) dispatch(ctx context.Context, res SimulationResult, mode delivery.Mode) error {
	if s.deliverer == nil {
		return errNoDeliverer
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.deliverer.Deliver(ctx, delivery.Dispatch{
		ID:      res.ID,
		Mode:    mode,
		Message: res.Output,
		Blocked: res.Blocked,
		RuleID:  res.RuleID,
	})
}

// describe renders the human-readable report.
func describe(res SimulationResult, ev Evaluation, mode delivery.Mode) string {
	var b strings.Builder

	switch {
	case !ev.InScope:
		b.WriteString("engine not applied (disabled or source package not targeted); no rule matched\n")
	case !res.Matched:
		b.WriteString("no rule matched\n")
	default:
		fmt.Fprintf(&b, "matched rule %q", res.RuleID)
		if res.RuleName != "" && res.RuleName != res.RuleID {
			fmt.Fprintf(&b, " (%s)", res.RuleName)
		}
		fmt.Fprintf(&b, " priority %d, action %s\n", ev.Rule.Priority, res.Action)
	}

	switch {
	case res.Blocked:
		b.WriteString("outcome: blocked\n")
	case res.Modified:
		fmt.Fprintf(&b, "outcome: modified (%d change(s))\n", len(res.Changes))
		for _, c := range res.Changes {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	default:
		b.WriteString("outcome: passed unchanged\n")
	}

	for _, d := range res.Diagnostics {
		fmt.Fprintf(&b, "diagnostic: %s\n", d)
	}

	switch {
	case !res.Dispatched:
		b.WriteString("dispatch: skipped")
	case res.DispatchError != "":
		fmt.Fprintf(&b, "dispatch (%s): failed: %s", mode, res.DispatchError)
	case res.Blocked:
		fmt.Fprintf(&b, "dispatch (%s): block decision delivered", mode)
	default:
		fmt.Fprintf(&b, "dispatch (%s): delivered", mode)
	}
	return b.String()
}
