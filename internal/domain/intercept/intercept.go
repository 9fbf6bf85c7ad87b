// Package intercept defines the hook through which a host hands messages
// to the engine before delivery.
package intercept

import (
	"context"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

// Decision is the engine's verdict for one intercepted message.
type Decision struct {
	// Message is the message to forward. It is nil when Blocked is true
	// and is the original message when nothing changed.
	Message  *message.Message `json:"message"`
	Blocked  bool             `json:"blocked"`
	Modified bool             `json:"modified"`
	RuleID   string           `json:"rule_id,omitempty"`
	Action   rule.Action      `json:"action"`
	AuditID  string           `json:"audit_id,omitempty"`
}

// Forward reports whether the host should deliver Message.
func (d Decision) Forward() bool {
	return !d.Blocked
}

// Handler is implemented by the engine and called synchronously by an
// interception point. It never returns an error: a misconfigured rule must
// not make the interception fail.
type Handler interface {
	Intercept(ctx context.Context, msg *message.Message) Decision
}
