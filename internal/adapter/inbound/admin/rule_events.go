package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/intentgate/intentgate/internal/domain/rule"
)

// SnapshotEvent is the payload of one snapshot event on the rule stream.
type SnapshotEvent struct {
	Version  string    `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`
	Count    int       `json:"count"`
}

// CloseStreams ends every open rule event stream. Register it as a server
// shutdown hook so long-lived streams do not hold up a graceful shutdown.
func (h *AdminAPIHandler) CloseStreams() {
	h.closeStreams.Do(func() { close(h.streamsDone) })
}

// handleRuleEvents streams the active snapshot and then every newly
// published one as server-sent events. Only the latest snapshot is
// delivered to a slow reader.
// GET /api/v1/rules/events
func (h *AdminAPIHandler) handleRuleEvents(w http.ResponseWriter, r *http.Request) {
	if h.ruleStore == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rule store not configured")
		return
	}
	rc := http.NewResponseController(w)

	updates, cancel := h.ruleStore.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(snap *rule.Snapshot) bool {
		data, err := json.Marshal(SnapshotEvent{Version: snap.Version(), LoadedAt: snap.LoadedAt(), Count: snap.Len()})
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\nid: %s\ndata: %s\n\n", snap.Version(), data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send(h.ruleStore.Snapshot()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.streamsDone:
			return
		case snap, ok := <-updates:
			if !ok || !send(snap) {
				return
			}
		}
	}
}
