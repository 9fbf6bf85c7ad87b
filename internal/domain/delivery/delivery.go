// Package delivery defines the collaborator that performs real message
// dispatch for the simulation harness.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/intentgate/intentgate/internal/domain/message"
)

// Mode is an opaque hint selecting the delivery method.
type Mode string

const (
	ModeActivity  Mode = "activity"
	ModeService   Mode = "service"
	ModeBroadcast Mode = "broadcast"
)

// ErrUnknownMode is returned for a mode outside the known set.
var ErrUnknownMode = errors.New("unknown delivery mode")

// ParseMode parses a mode case-insensitively. Empty means ModeActivity.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return ModeActivity, nil
	case ModeActivity, ModeService, ModeBroadcast:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Dispatch is one delivery request.
type Dispatch struct {
	ID   string `json:"id"`
	Mode Mode   `json:"mode"`
	// Message is nil when Blocked is true.
	Message *message.Message `json:"message"`
	Blocked bool             `json:"blocked"`
	RuleID  string           `json:"rule_id,omitempty"`
}

// Deliverer forwards a decided message to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, d Dispatch) error
}
