package admin

import (
	"net/http"
	"runtime"
	"time"
)

// BuildInfo holds build-time version information.
// Injected via WithBuildInfo option to avoid import cycles with cmd package.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// SystemInfoResponse is the JSON response for GET /api/v1/system.
type SystemInfoResponse struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	BuildDate       string `json:"build_date"`
	GoVersion       string `json:"go_version"`
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	Uptime          string `json:"uptime"`
	UptimeSec       int64  `json:"uptime_seconds"`
	RulesLoaded     int    `json:"rules_loaded"`
	SnapshotVersion string `json:"snapshot_version,omitempty"`
	EngineEnabled   bool   `json:"engine_enabled"`
	AuditEntries    int    `json:"audit_entries"`
	AuditDropped    int64  `json:"audit_dropped"`
}

// handleSystemInfo returns build, runtime and engine information.
// GET /api/v1/system
func (h *AdminAPIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	resp := SystemInfoResponse{
		Version:   "dev",
		Commit:    "none",
		BuildDate: "unknown",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    uptime.Truncate(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	}
	if h.buildInfo != nil {
		resp.Version = h.buildInfo.Version
		resp.Commit = h.buildInfo.Commit
		resp.BuildDate = h.buildInfo.BuildDate
	}
	if h.ruleStore != nil {
		snap := h.ruleStore.Snapshot()
		resp.RulesLoaded = snap.Len()
		resp.SnapshotVersion = snap.Version()
	}
	if h.interception != nil {
		resp.EngineEnabled = h.interception.Settings().Enabled
	}
	if h.auditService != nil {
		resp.AuditEntries = h.auditService.Log().Len()
		resp.AuditDropped = h.auditService.DroppedRecords()
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// handleGetStats returns the decision counters.
// GET /api/v1/stats
func (h *AdminAPIHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.respondError(w, http.StatusServiceUnavailable, "stats not configured")
		return
	}
	h.respondJSON(w, http.StatusOK, h.stats.GetStats())
}

// handleResetStats zeroes the decision counters.
// DELETE /api/v1/stats
func (h *AdminAPIHandler) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.respondError(w, http.StatusServiceUnavailable, "stats not configured")
		return
	}
	h.stats.Reset()
	w.WriteHeader(http.StatusNoContent)
}
