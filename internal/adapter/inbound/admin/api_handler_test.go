package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/intentgate/intentgate/internal/adapter/outbound/memory"
	"github.com/intentgate/intentgate/internal/service"
)

const testRules = `[
	{"id":"images","name":"Chrome images","priority":5,"action":"GET_CONTENT","type":"image/.*","packageName":"chrome","intentAction":"MODIFY","modification":{"newType":"*/*"}},
	{"id":"tracking","priority":10,"action":"TRACK_EVENT","intentAction":"BLOCK"},
	{"id":"observe","priority":1,"action":"VIEW","intentAction":"LOG"}
]`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiFixture struct {
	rules        *service.RuleStore
	auditService *service.AuditService
	interception *service.InterceptionService
	handler      http.Handler
}

func newAPIFixture(t *testing.T, ruleOpts []service.RuleStoreOption, opts ...AdminAPIOption) *apiFixture {
	t.Helper()
	logger := discardLogger()

	f := &apiFixture{rules: service.NewRuleStore(logger, ruleOpts...)}
	if _, err := f.rules.Load([]byte(testRules)); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	f.auditService = service.NewAuditService(memory.NewAuditLog(50), logger)
	f.interception = service.NewInterceptionService(f.rules,
		service.NewMatchEngine(logger), service.NewTransformEngine(logger), f.auditService, logger)
	sim := service.NewSimulationService(f.interception, logger)

	base := []AdminAPIOption{
		WithRuleStore(f.rules),
		WithInterceptionService(f.interception),
		WithSimulationService(sim),
		WithAuditService(f.auditService),
		WithAPILogger(logger),
	}
	f.handler = NewAdminAPIHandler(append(base, opts...)...).Routes()
	t.Cleanup(f.interception.Wait)
	return f
}

// do sends a request from the loopback interface.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.doFrom(t, "127.0.0.1:40000", method, path, body)
}

func (f *apiFixture) doFrom(t *testing.T, remote, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestRoutes_ManagementIsLocalOnly(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)

	rec := f.doFrom(t, "10.1.2.3:5000", http.MethodGet, "/api/v1/rules", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("remote GET /rules status = %d, want 403", rec.Code)
	}

	rec = f.doFrom(t, "10.1.2.3:5000", http.MethodPost, "/api/v1/intercept", `{"action":"VIEW"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("remote POST /intercept status = %d, want 200", rec.Code)
	}

	rec = f.doFrom(t, "[::1]:5000", http.MethodGet, "/api/v1/settings", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("IPv6 loopback GET /settings status = %d, want 200", rec.Code)
	}
}

func TestRoutes_AllowRemote(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, WithAllowRemote(true))
	rec := f.doFrom(t, "10.1.2.3:5000", http.MethodGet, "/api/v1/rules", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("remote GET /rules with allow-remote status = %d, want 200", rec.Code)
	}
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/v1/system", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/v1/intercept", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /intercept status = %d, want 405", rec.Code)
	}
}

func TestHandlers_NotConfigured(t *testing.T) {
	t.Parallel()

	h := NewAdminAPIHandler(WithAPILogger(discardLogger())).Routes()
	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/intercept"},
		{http.MethodPost, "/api/v1/simulate"},
		{http.MethodGet, "/api/v1/rules"},
		{http.MethodGet, "/api/v1/settings"},
		{http.MethodGet, "/api/v1/audit"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, bytes.NewBufferString(`{}`))
		req.RemoteAddr = "127.0.0.1:1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want 503", p.method, p.path, rec.Code)
		}
	}
}

func newLocalRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.RemoteAddr = "127.0.0.1:40000"
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
