package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	var gotID string
	var gotLogger *slog.Logger
	handler := RequestIDMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
		gotLogger = LoggerFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/system", nil)
	req.Header.Set("X-Request-ID", "req-42")
	handler.ServeHTTP(rec, req)

	if gotID != "req-42" {
		t.Errorf("request id = %q, want req-42", gotID)
	}
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("response header = %q", rec.Header().Get("X-Request-ID"))
	}
	if gotLogger == nil || gotLogger == slog.Default() {
		t.Error("expected an enriched logger in context")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(gotID) != 36 || rec.Header().Get("X-Request-ID") != gotID {
		t.Errorf("generated id = %q, header %q", gotID, rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDMiddleware_ReplacesUnsafeIDs(t *testing.T) {
	t.Parallel()

	var gotID string
	handler := RequestIDMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
	}))

	for _, id := range []string{"has space", "line\nbreak", strings.Repeat("x", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", id)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if gotID == id || len(gotID) != 36 {
			t.Errorf("X-Request-ID %q kept as %q, want a generated id", id, gotID)
		}
	}
}

func TestLoggerFromContext_Default(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if LoggerFromContext(req.Context()) != slog.Default() {
		t.Error("expected slog.Default() without middleware")
	}
	if RequestIDFromContext(req.Context()) != "" {
		t.Error("expected empty request id without middleware")
	}
}

func TestAccessLogMiddleware(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	})
	handler := RequestIDMiddleware(logger)(AccessLogMiddleware(mux))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("X-Request-ID", "abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"api request", "request_id=abc", "status=418", "bytes=3", `route="GET /api/v1/rules"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestDNSRebindingProtection(t *testing.T) {
	t.Parallel()

	handler := DNSRebindingProtection([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		origin string
		want   int
	}{
		{"no origin", "", http.StatusOK},
		{"allowed origin", "http://localhost:3000", http.StatusOK},
		{"allowed origin different case", "HTTP://LocalHost:3000/", http.StatusOK},
		{"foreign origin", "http://evil.example", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/intercept", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
