package admin

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/intentgate/intentgate/internal/service"
)

// nextEvent reads one server-sent event and decodes its data line.
func nextEvent(t *testing.T, r *bufio.Reader) (SnapshotEvent, error) {
	t.Helper()
	var ev SnapshotEvent
	var data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("event data %q: %v", data, err)
	}
	return ev, nil
}

func TestHandleRuleEvents(t *testing.T) {
	t.Parallel()

	rules := service.NewRuleStore(discardLogger())
	if _, err := rules.Load([]byte(testRules)); err != nil {
		t.Fatal(err)
	}
	h := NewAdminAPIHandler(WithRuleStore(rules), WithAPILogger(discardLogger()))
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/rules/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := bufio.NewReader(resp.Body)

	first, err := nextEvent(t, body)
	if err != nil {
		t.Fatalf("initial event: %v", err)
	}
	if first.Count != 3 || first.Version != rules.Snapshot().Version() {
		t.Errorf("initial event = %+v", first)
	}

	if _, err := rules.Load([]byte(`[{"id":"only","action":"VIEW","intentAction":"BLOCK"}]`)); err != nil {
		t.Fatal(err)
	}
	second, err := nextEvent(t, body)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if second.Count != 1 || second.Version == first.Version {
		t.Errorf("reload event = %+v, previous %+v", second, first)
	}

	h.CloseStreams()
	h.CloseStreams()
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, body)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("stream ended with %v, want a clean end", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream still open after CloseStreams")
	}
}

func TestHandleRuleEvents_NoStore(t *testing.T) {
	t.Parallel()

	h := NewAdminAPIHandler(WithAPILogger(discardLogger()))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules/events", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
