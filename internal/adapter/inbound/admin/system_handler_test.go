package admin

import (
	"net/http"
	"runtime"
	"testing"
	"time"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/internal/service"
)

func TestHandleSystemInfo_Fields(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, WithStartTime(time.Now().UTC().Add(-5*time.Second)))
	seedDecisions(t, f, `{"action":"VIEW"}`)

	rec := f.do(t, http.MethodGet, "/api/v1/system", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decodeBody[SystemInfoResponse](t, rec)

	if resp.Version != "dev" || resp.Commit != "none" || resp.BuildDate != "unknown" {
		t.Errorf("default build info = %q/%q/%q", resp.Version, resp.Commit, resp.BuildDate)
	}
	if resp.GoVersion != runtime.Version() || resp.OS != runtime.GOOS || resp.Arch != runtime.GOARCH {
		t.Errorf("runtime info = %+v", resp)
	}
	if resp.UptimeSec < 4 || resp.Uptime == "" {
		t.Errorf("uptime = %q (%d s)", resp.Uptime, resp.UptimeSec)
	}
	if resp.RulesLoaded != 3 || resp.SnapshotVersion == "" || !resp.EngineEnabled {
		t.Errorf("engine info = %+v", resp)
	}
	if resp.AuditEntries != 1 {
		t.Errorf("AuditEntries = %d, want 1", resp.AuditEntries)
	}
}

func TestHandleSystemInfo_WithBuildInfo(t *testing.T) {
	t.Parallel()

	h := NewAdminAPIHandler(
		WithAPILogger(discardLogger()),
		WithBuildInfo(&BuildInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2026-01-15"}),
	).Routes()

	rec := serve(h, newLocalRequest(http.MethodGet, "/api/v1/system", ""))
	resp := decodeBody[SystemInfoResponse](t, rec)
	if resp.Version != "1.2.3" || resp.Commit != "abc123" || resp.BuildDate != "2026-01-15" {
		t.Errorf("build info = %+v", resp)
	}
	if resp.RulesLoaded != 0 || resp.EngineEnabled {
		t.Errorf("engine fields without services = %+v", resp)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	stats := service.NewStatsService()
	stats.ObserveDecision(audit.SourceIntercept, rule.ActionBlock, true, false, 0)
	stats.ObserveDecision(audit.SourceSimulation, rule.ActionNone, false, false, 0)
	h := NewAdminAPIHandler(WithAPILogger(discardLogger()), WithStatsService(stats)).Routes()

	rec := serve(h, newLocalRequest(http.MethodGet, "/api/v1/stats", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[service.Stats](t, rec)
	if resp.Intercepted != 1 || resp.Simulated != 1 || resp.Blocked != 1 || resp.Passed != 1 {
		t.Errorf("stats = %+v", resp)
	}

	if rec := serve(h, newLocalRequest(http.MethodDelete, "/api/v1/stats", "")); rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if got := stats.GetStats(); got.Intercepted != 0 {
		t.Errorf("after reset = %+v", got)
	}

	bare := NewAdminAPIHandler(WithAPILogger(discardLogger())).Routes()
	if rec := serve(bare, newLocalRequest(http.MethodGet, "/api/v1/stats", "")); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", rec.Code)
	}
}
