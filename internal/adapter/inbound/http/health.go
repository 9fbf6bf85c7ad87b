package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/intentgate/intentgate/internal/service"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	// auditDegradedPercent is the audit queue fill level at which health
	// reports the engine as unhealthy.
	auditDegradedPercent = 90
	archivePingTimeout   = 2 * time.Second
)

// Pinger is a dependency whose reachability is part of health, such as the
// audit archive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports on the rule snapshot, the audit pipeline and the
// archive.
type HealthChecker struct {
	ruleStore    *service.RuleStore
	auditService *service.AuditService
	archive      Pinger
	version      string
}

// NewHealthChecker creates a HealthChecker. Any component may be nil.
func NewHealthChecker(ruleStore *service.RuleStore, auditService *service.AuditService, archive Pinger, version string) *HealthChecker {
	return &HealthChecker{
		ruleStore:    ruleStore,
		auditService: auditService,
		archive:      archive,
		version:      version,
	}
}

// report collects check results; any failed check marks the whole report
// unhealthy.
type report struct {
	checks  map[string]string
	failing bool
}

func (r *report) ok(name, detail string)   { r.checks[name] = detail }
func (r *report) fail(name, detail string) { r.checks[name] = detail; r.failing = true }

// Check runs every component check.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	rep := &report{checks: make(map[string]string)}

	h.checkRules(rep)
	h.checkAudit(rep)
	h.checkArchive(ctx, rep)
	rep.ok("goroutines", strconv.Itoa(runtime.NumGoroutine()))

	status := statusHealthy
	if rep.failing {
		status = statusUnhealthy
	}
	return HealthResponse{Status: status, Checks: rep.checks, Version: h.version}
}

func (h *HealthChecker) checkRules(rep *report) {
	if h.ruleStore == nil {
		rep.ok("rules", "not configured")
		return
	}
	snap := h.ruleStore.Snapshot()
	rep.ok("rules", fmt.Sprintf("ok: %d loaded, version %s", snap.Len(), snap.Version()))
}

// checkAudit flags a nearly full audit queue: persistence is falling behind
// even though decisions still succeed.
func (h *HealthChecker) checkAudit(rep *report) {
	if h.auditService == nil {
		rep.ok("audit", "not configured")
		return
	}

	depth, capacity := h.auditService.ChannelDepth(), h.auditService.ChannelCapacity()
	pct := 0
	if capacity > 0 {
		pct = depth * 100 / capacity
	}
	usage := fmt.Sprintf("%d/%d (%d%%)", depth, capacity, pct)
	if pct >= auditDegradedPercent {
		rep.fail("audit", "degraded: "+usage)
	} else {
		rep.ok("audit", "ok: "+usage)
	}

	if drops := h.auditService.DroppedRecords(); drops > 0 {
		rep.ok("audit_drops", fmt.Sprintf("%d dropped", drops))
	}
}

func (h *HealthChecker) checkArchive(ctx context.Context, rep *report) {
	if h.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, archivePingTimeout)
	defer cancel()
	if err := h.archive.Ping(ctx); err != nil {
		rep.fail("archive", "error: "+err.Error())
		return
	}
	rep.ok("archive", "ok")
}

// Handler serves the health report, with 503 when unhealthy.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())

		code := http.StatusOK
		if resp.Status != statusHealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}
