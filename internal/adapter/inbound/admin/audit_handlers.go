package admin

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

var errNoArchive = errors.New("audit archive not configured")

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
	maxExportLimit    = 100000
)

// AuditQueryResponse is the JSON response for GET /api/v1/audit.
type AuditQueryResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
	// Archive is true when the entries came from the long-term archive.
	Archive bool `json:"archive"`
}

// handleQueryAudit returns audit entries, newest first. ?archive=true
// reads the archive instead of the in-memory log.
// GET /api/v1/audit
func (h *AdminAPIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit service not configured")
		return
	}
	filter, err := parseAuditFilter(r, defaultAuditLimit, maxAuditLimit)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, fromArchive, err := h.queryAudit(r, filter)
	if errors.Is(err, errNoArchive) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	h.respondJSON(w, http.StatusOK, AuditQueryResponse{
		Entries: entries,
		Count:   len(entries),
		Archive: fromArchive,
	})
}

func (h *AdminAPIHandler) queryAudit(r *http.Request, filter audit.Filter) ([]audit.Entry, bool, error) {
	if wantArchive, _ := strconv.ParseBool(r.URL.Query().Get("archive")); wantArchive {
		if h.archive == nil {
			return nil, false, errNoArchive
		}
		entries, err := h.archive.Query(r.Context(), filter)
		return entries, true, err
	}
	return filter.Apply(h.auditService.Query()), false, nil
}

// handleAuditExport streams audit entries as JSON lines, or as CSV with
// ?format=csv.
// GET /api/v1/audit/export
func (h *AdminAPIHandler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if h.auditService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit service not configured")
		return
	}
	filter, err := parseAuditFilter(r, 0, maxExportLimit)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format != "" && format != "jsonl" && format != "csv" {
		h.respondError(w, http.StatusBadRequest, "invalid format: must be 'jsonl' or 'csv'")
		return
	}
	entries, _, err := h.queryAudit(r, filter)
	if errors.Is(err, errNoArchive) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("audit export failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit export failed")
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-export.csv")
		w.WriteHeader(http.StatusOK)
		writeAuditCSV(w, entries)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", "attachment; filename=audit-export.jsonl")
	w.WriteHeader(http.StatusOK)
	if err := audit.WriteJSONLines(w, entries); err != nil {
		h.logger.Warn("audit export interrupted", "error", err)
	}
}

func writeAuditCSV(w http.ResponseWriter, entries []audit.Entry) {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	_ = writer.Write([]string{
		"id", "timestamp", "source", "rule_id", "rule_name", "action",
		"blocked", "modified", "message_action", "component", "changes",
		"snapshot_version",
	})
	for _, e := range entries {
		var msgAction, component string
		if e.Message != nil {
			msgAction = e.Message.Action.OrElse("")
			if c, ok := e.Message.Component.Get(); ok {
				component = c.Flatten()
			}
		}
		changes := make([]string, len(e.Changes))
		for i, c := range e.Changes {
			changes[i] = c.String()
		}
		_ = writer.Write([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.Source),
			e.RuleID,
			e.RuleName,
			string(e.Action),
			strconv.FormatBool(e.Blocked),
			strconv.FormatBool(e.Modified),
			msgAction,
			component,
			strings.Join(changes, "; "),
			e.SnapshotVersion,
		})
	}
}

// handleClearAudit empties the in-memory log and the persisted snapshot.
// The archive keeps its entries; retention prunes it.
// DELETE /api/v1/audit
func (h *AdminAPIHandler) handleClearAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit service not configured")
		return
	}
	h.auditService.Clear()
	if h.auditClearer != nil {
		if err := h.auditClearer.ClearAudit(); err != nil {
			h.logger.Error("failed to clear persisted audit", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to clear persisted audit")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseAuditFilter reads action, rule_id, source, since and limit query
// parameters. A missing limit uses def; limits above max are clamped.
func parseAuditFilter(r *http.Request, def, max int) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{Limit: def}

	if a := q.Get("action"); a != "" {
		if strings.EqualFold(a, string(rule.ActionNone)) {
			filter.Action = rule.ActionNone
		} else {
			action, err := rule.ParseAction(a)
			if err != nil {
				return filter, fmt.Errorf("invalid action filter: %w", err)
			}
			filter.Action = action
		}
	}
	filter.RuleID = q.Get("rule_id")
	if s := q.Get("source"); s != "" {
		src := audit.Source(strings.ToLower(s))
		if src != audit.SourceIntercept && src != audit.SourceSimulation {
			return filter, fmt.Errorf("invalid source filter: must be 'intercept' or 'simulation'")
		}
		filter.Source = src
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, fmt.Errorf("invalid since time: %w", err)
		}
		filter.Since = t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit: must be a positive integer")
		}
		filter.Limit = limit
	}
	if max > 0 && (filter.Limit == 0 || filter.Limit > max) {
		filter.Limit = max
	}
	return filter, nil
}
