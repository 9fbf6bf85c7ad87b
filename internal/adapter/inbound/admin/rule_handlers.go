package admin

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/internal/service"
)

// RulesResponse is the JSON response for GET /api/v1/rules.
type RulesResponse struct {
	Version  string        `json:"version"`
	LoadedAt time.Time     `json:"loaded_at"`
	Count    int           `json:"count"`
	Rules    []rule.Config `json:"rules"`
}

// handleGetRules returns the active rule records in declaration order.
// GET /api/v1/rules
func (h *AdminAPIHandler) handleGetRules(w http.ResponseWriter, r *http.Request) {
	if h.ruleStore == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rule store not configured")
		return
	}
	snap := h.ruleStore.Snapshot()
	configs := snap.Configs()
	if configs == nil {
		configs = []rule.Config{}
	}
	h.respondJSON(w, http.StatusOK, RulesResponse{
		Version:  snap.Version(),
		LoadedAt: snap.LoadedAt(),
		Count:    len(configs),
		Rules:    configs,
	})
}

// handlePutRules replaces the rule set with the document in the body,
// JSON or YAML. Invalid records are skipped and reported; only a body that
// is not a rule list is rejected.
// PUT /api/v1/rules
func (h *AdminAPIHandler) handlePutRules(w http.ResponseWriter, r *http.Request) {
	if h.ruleStore == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rule store not configured")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.respondError(w, http.StatusRequestEntityTooLarge, "rule document too large")
		return
	}

	report, err := h.ruleStore.Load(raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("rules replaced via API",
		"loaded", report.Loaded,
		"skipped", report.Skipped,
		"snapshot_version", report.Version,
	)
	h.respondJSON(w, http.StatusOK, report)
}

// handleExportRules serializes the active rules in the configuration
// schema. The format comes from ?format= or the Accept header; JSON is
// the default.
// GET /api/v1/rules/export
func (h *AdminAPIHandler) handleExportRules(w http.ResponseWriter, r *http.Request) {
	if h.ruleStore == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rule store not configured")
		return
	}

	format := exportFormat(r)
	data, err := rule.Encode(h.ruleStore.Snapshot().Configs(), format)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	contentType := "application/json"
	if format == "yaml" {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=rules."+format)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func exportFormat(r *http.Request) string {
	if f := strings.ToLower(r.URL.Query().Get("format")); f != "" {
		if f == "yml" {
			return "yaml"
		}
		return f
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if strings.HasSuffix(mt, "yaml") {
			return "yaml"
		}
	}
	return "json"
}

// handleReloadRules re-reads the configured rule source.
// POST /api/v1/rules/reload
func (h *AdminAPIHandler) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.ruleStore == nil {
		h.respondError(w, http.StatusServiceUnavailable, "rule store not configured")
		return
	}

	report, err := h.ruleStore.Reload(r.Context())
	switch {
	case errors.Is(err, service.ErrNoRuleSource):
		h.respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, rule.ErrNotAList):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.logger.Error("rule reload failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "rule reload failed")
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}
