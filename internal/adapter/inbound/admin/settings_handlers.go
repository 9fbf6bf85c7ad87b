package admin

import (
	"net/http"
	"strings"
)

// SettingsRequest is the JSON body for PUT /api/v1/settings. Omitted
// fields keep their current value.
type SettingsRequest struct {
	Enabled         *bool     `json:"enabled"`
	TargetPackages  *[]string `json:"target_packages"`
	RecordUnmatched *bool     `json:"record_unmatched"`
}

// handleGetSettings returns the current engine settings.
// GET /api/v1/settings
func (h *AdminAPIHandler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if h.interception == nil {
		h.respondError(w, http.StatusServiceUnavailable, "interception service not configured")
		return
	}
	h.respondJSON(w, http.StatusOK, h.interception.Settings())
}

// handleUpdateSettings applies a partial settings update. The change takes
// effect for the next decision; persistence happens in the background.
// PUT /api/v1/settings
func (h *AdminAPIHandler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if h.interception == nil {
		h.respondError(w, http.StatusServiceUnavailable, "interception service not configured")
		return
	}

	var req SettingsRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	next := h.interception.Settings()
	if req.Enabled != nil {
		next.Enabled = *req.Enabled
	}
	if req.TargetPackages != nil {
		pkgs := make([]string, 0, len(*req.TargetPackages))
		for _, p := range *req.TargetPackages {
			p = strings.TrimSpace(p)
			if p == "" {
				h.respondError(w, http.StatusBadRequest, "target_packages must not contain empty names")
				return
			}
			pkgs = append(pkgs, p)
		}
		next.TargetPackages = pkgs
	}
	if req.RecordUnmatched != nil {
		next.RecordUnmatched = *req.RecordUnmatched
	}

	h.interception.UpdateSettings(next)
	h.logger.Info("engine settings updated",
		"enabled", next.Enabled,
		"target_packages", len(next.TargetPackages),
		"record_unmatched", next.RecordUnmatched,
	)
	h.respondJSON(w, http.StatusOK, h.interception.Settings())
}
