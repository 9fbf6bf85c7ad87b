package service

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/pkg/optional"
)

// Outcome is the result of applying a rule to a message.
type Outcome struct {
	// Output is nil when Blocked is true.
	Output   *message.Message
	Modified bool
	Blocked  bool
	// Changes lists every field that differs between input and Output.
	Changes []message.Change
	// Diagnostics describe modification entries that were skipped.
	Diagnostics []string
}

// TransformEngine turns a matched rule into a concrete outcome. It never
// fails because of rule content: malformed modification entries are
// skipped individually.
type TransformEngine struct {
	logger *slog.Logger
}

// NewTransformEngine creates a TransformEngine.
func NewTransformEngine(logger *slog.Logger) *TransformEngine {
	return &TransformEngine{logger: logger}
}

// Passthrough is the outcome for a message no rule applies to.
func Passthrough(msg *message.Message) Outcome {
	return Outcome{Output: msg}
}

// Apply executes r against msg. The input message is never mutated.
func (e *TransformEngine) Apply(msg *message.Message, r rule.Rule) Outcome {
	switch r.Action {
	case rule.ActionBlock:
		return Outcome{Blocked: true}
	case rule.ActionModify, rule.ActionRedirect:
		return e.rewrite(msg, r)
	default:
		return Passthrough(msg)
	}
}

func (e *TransformEngine) rewrite(msg *message.Message, r rule.Rule) Outcome {
	if msg == nil {
		msg = &message.Message{}
	}
	out := msg.Clone()
	mod, ok := r.Modification.Get()
	if !ok {
		return Outcome{Output: out}
	}

	var diags []string
	skip := func(format string, args ...any) {
		d := fmt.Sprintf(format, args...)
		diags = append(diags, d)
		e.logger.Debug("modification entry skipped", "rule_id", r.ID, "reason", d)
	}

	if v, ok := mod.NewAction.Get(); ok {
		out.Action = optional.Of(v)
	}
	if v, ok := mod.NewData.Get(); ok {
		out.DataURI = optional.Of(v)
	}
	if v, ok := mod.NewType.Get(); ok {
		out.MimeType = optional.Of(v)
	}
	if raw, ok := mod.NewComponent.Get(); ok {
		c, err := message.ParseComponent(raw)
		if err != nil {
			skip("newComponent: %v", err)
		} else {
			out.Component = optional.Of(c)
		}
	}
	if cats, ok := mod.NewCategories.Get(); ok {
		out.Categories = slices.Clone(cats)
		if out.Categories == nil {
			out.Categories = []string{}
		}
	}
	if v, ok := mod.NewFlags.Get(); ok {
		out.Flags = optional.Of(v)
	}

	for _, spec := range mod.ExtrasToAdd {
		key, val, err := spec.Convert()
		if err != nil {
			skip("extrasToAdd: %v", err)
			continue
		}
		if out.Extras == nil {
			out.Extras = make(map[string]message.TypedValue, len(mod.ExtrasToAdd))
		}
		out.Extras[key] = val
	}
	for _, key := range mod.ExtrasToRemove {
		delete(out.Extras, key)
	}

	changes := message.Diff(msg, out)
	return Outcome{
		Output:      out,
		Modified:    len(changes) > 0,
		Changes:     changes,
		Diagnostics: diags,
	}
}
