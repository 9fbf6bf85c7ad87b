package admin

import (
	"net/http"
	"strings"
	"testing"

	"github.com/intentgate/intentgate/internal/domain/delivery"
	"github.com/intentgate/intentgate/internal/domain/intercept"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/internal/service"
)

func TestHandleIntercept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		body         string
		wantRule     string
		wantAction   rule.Action
		wantBlocked  bool
		wantModified bool
		wantType     string
	}{
		{
			name:        "block",
			body:        `{"action":"TRACK_EVENT"}`,
			wantRule:    "tracking",
			wantAction:  rule.ActionBlock,
			wantBlocked: true,
		},
		{
			name:         "modify",
			body:         `{"action":"GET_CONTENT","mimeType":"image/png","sourcePackage":"chrome"}`,
			wantRule:     "images",
			wantAction:   rule.ActionModify,
			wantModified: true,
			wantType:     "*/*",
		},
		{
			name:       "log",
			body:       `{"action":"VIEW","component":"com.example/.Main","extras":{"id":{"type":"INT","value":7}}}`,
			wantRule:   "observe",
			wantAction: rule.ActionLog,
		},
		{
			name:       "no match",
			body:       `{"action":"EDIT"}`,
			wantAction: rule.ActionNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newAPIFixture(t, nil)

			rec := f.do(t, http.MethodPost, "/api/v1/intercept", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			d := decodeBody[intercept.Decision](t, rec)

			if d.RuleID != tt.wantRule || d.Action != tt.wantAction {
				t.Errorf("rule/action = %q/%q, want %q/%q", d.RuleID, d.Action, tt.wantRule, tt.wantAction)
			}
			if d.Blocked != tt.wantBlocked || d.Modified != tt.wantModified {
				t.Errorf("blocked/modified = %v/%v, want %v/%v", d.Blocked, d.Modified, tt.wantBlocked, tt.wantModified)
			}
			if tt.wantBlocked && d.Message != nil {
				t.Error("blocked decision carries a message")
			}
			if tt.wantType != "" && d.Message.MimeType.OrElse("") != tt.wantType {
				t.Errorf("mimeType = %q, want %q", d.Message.MimeType.OrElse(""), tt.wantType)
			}
			if d.AuditID == "" {
				t.Error("decision has no audit id")
			}
		})
	}
}

func TestHandleIntercept_BadRequest(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	for _, body := range []string{`not json`, `{"action":"VIEW","bogus":1}`, `{"component":"noslash"}`} {
		rec := f.do(t, http.MethodPost, "/api/v1/intercept", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandleSimulate(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/simulate", SimulateRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := `{"message":{"action":"GET_CONTENT","mimeType":"image/jpeg","sourcePackage":"chrome","extras":[{"key":"n","value":"3","type":"INT"}]},"dispatch":false}`
	rec = f.do(t, http.MethodPost, "/api/v1/simulate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[service.SimulationResult](t, rec)

	if !res.Matched || res.RuleID != "images" || !res.Modified {
		t.Errorf("result = %+v", res)
	}
	if res.Dispatched {
		t.Error("dispatch=false must not dispatch")
	}
	if !strings.Contains(res.Description, `matched rule "images"`) || !strings.Contains(res.Description, "dispatch: skipped") {
		t.Errorf("description = %q", res.Description)
	}

	entries := f.auditService.Query()
	if len(entries) == 0 || entries[0].ID != res.AuditID {
		t.Errorf("simulation not audited: %+v", entries)
	}
}

func TestHandleSimulate_InvalidMode(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/simulate", `{"message":{"action":"VIEW"},"dispatch":true,"mode":"carrier-pigeon"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSimulate_DefaultMode(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, WithDefaultMode(delivery.ModeBroadcast))
	rec := f.do(t, http.MethodPost, "/api/v1/simulate", `{"message":{"action":"VIEW"},"dispatch":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	res := decodeBody[service.SimulationResult](t, rec)
	if !strings.Contains(res.Description, "dispatch (broadcast)") {
		t.Errorf("description = %q, want the default broadcast mode", res.Description)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/simulate", `{"message":{"action":"VIEW"},"dispatch":true,"mode":"service"}`)
	res = decodeBody[service.SimulationResult](t, rec)
	if !strings.Contains(res.Description, "dispatch (service)") {
		t.Errorf("description = %q, want explicit service mode", res.Description)
	}
}
