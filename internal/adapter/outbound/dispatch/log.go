package dispatch

import (
	"context"
	"log/slog"

	"github.com/intentgate/intentgate/internal/domain/delivery"
)

// LogDeliverer records dispatches in the log instead of sending them. It is
// the default when no webhook is configured.
type LogDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer creates a LogDeliverer.
func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

// Deliver logs d and never fails.
func (l *LogDeliverer) Deliver(ctx context.Context, d delivery.Dispatch) error {
	attrs := []any{
		"dispatch_id", d.ID,
		"mode", string(d.Mode),
		"blocked", d.Blocked,
	}
	if d.RuleID != "" {
		attrs = append(attrs, "rule_id", d.RuleID)
	}
	if d.Message != nil {
		attrs = append(attrs, "message_action", d.Message.Action.OrElse(""))
		if c, ok := d.Message.Component.Get(); ok {
			attrs = append(attrs, "component", c.Flatten())
		}
	}
	l.logger.InfoContext(ctx, "message dispatched", attrs...)
	return nil
}

var _ delivery.Deliverer = (*LogDeliverer)(nil)
