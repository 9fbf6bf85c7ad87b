package service

import (
	"log/slog"
	"slices"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/pkg/optional"
)

// MatchEngine selects the single rule that applies to a message.
// It is stateless apart from its logger and safe for concurrent use.
type MatchEngine struct {
	logger *slog.Logger
}

// NewMatchEngine creates a MatchEngine.
func NewMatchEngine(logger *slog.Logger) *MatchEngine {
	return &MatchEngine{logger: logger}
}

// Evaluate returns the first enabled rule in snapshot order whose specified
// criteria all hold for msg. A disabled engine, or a non-empty target list
// that does not contain the message's source package, matches nothing.
func (e *MatchEngine) Evaluate(msg *message.Message, snap *rule.Snapshot, globalEnabled bool, targetPackages []string) (rule.Rule, bool) {
	if msg == nil || snap == nil || !InScope(msg, globalEnabled, targetPackages) {
		return rule.Rule{}, false
	}
	for i := 0; i < snap.Len(); i++ {
		r := snap.At(i)
		if !r.Enabled {
			continue
		}
		if e.matches(r, msg) {
			return *r, true
		}
	}
	return rule.Rule{}, false
}

// InScope reports whether the engine applies to msg at all.
func InScope(msg *message.Message, globalEnabled bool, targetPackages []string) bool {
	if !globalEnabled {
		return false
	}
	if len(targetPackages) == 0 {
		return true
	}
	src, ok := msg.SourcePackage.Get()
	return ok && slices.Contains(targetPackages, src)
}

// matches checks every specified criterion, cheapest first.
func (e *MatchEngine) matches(r *rule.Rule, msg *message.Message) bool {
	c := &r.Criteria

	if want, ok := c.PackageName.Get(); ok && !equalsSet(msg.SourcePackage, want) {
		return false
	}
	if want, ok := c.Action.Get(); ok && !equalsSet(msg.Action, want) {
		return false
	}
	if want, ok := c.Component.Get(); ok {
		got, set := msg.FlatComponent()
		if !set || got != want {
			return false
		}
	}
	for _, cat := range c.Categories {
		if !msg.HasCategory(cat) {
			return false
		}
	}
	if p, ok := c.Data.Get(); ok {
		uri, set := msg.DataURI.Get()
		if !set || !p.MatchString(uri) {
			return false
		}
	}
	if p, ok := c.Type.Get(); ok {
		mime, set := msg.MimeType.Get()
		if !set || !p.MatchString(mime) {
			return false
		}
	}
	for _, m := range c.Extras {
		if !m.Matches(msg.Extras) {
			return false
		}
	}
	if c.Condition != nil {
		ok, err := c.Condition.Matches(msg)
		if err != nil {
			e.logger.Debug("rule condition failed", "rule_id", r.ID, "error", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func equalsSet(v optional.Value[string], want string) bool {
	got, ok := v.Get()
	return ok && got == want
}
