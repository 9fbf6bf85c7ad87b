package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/delivery"
	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/pkg/optional"
)

// fakeDeliverer implements delivery.Deliverer for testing.
type fakeDeliverer struct {
	mu    sync.Mutex
	calls []delivery.Dispatch
	err   error
}

func (d *fakeDeliverer) Deliver(_ context.Context, dispatch delivery.Dispatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatch)
	return d.err
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func TestSimulationService_DispatchFalseNeverDelivers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		spec     message.Spec
		wantDesc string
	}{
		{
			name: "matched",
			spec: message.Spec{
				Action:        optional.Of("GET_CONTENT"),
				MimeType:      optional.Of("image/png"),
				SourcePackage: optional.Of("chrome"),
			},
			wantDesc: `matched rule "images"`,
		},
		{
			name:     "unmatched",
			spec:     message.Spec{Action: optional.Of("SEND")},
			wantDesc: "no rule matched",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newEngineFixture(t, scenarioRules)
			d := &fakeDeliverer{}
			sim := NewSimulationService(f.svc, discardLogger(), WithDeliverer(d))

			res := sim.RunTest(context.Background(), tt.spec, false, delivery.ModeActivity)

			if d.count() != 0 {
				t.Errorf("deliverer called %d times with dispatch=false", d.count())
			}
			if res.Dispatched {
				t.Error("Dispatched = true with dispatch=false")
			}
			if !strings.Contains(res.Description, tt.wantDesc) {
				t.Errorf("Description = %q, want it to contain %q", res.Description, tt.wantDesc)
			}
			if !strings.Contains(res.Description, "dispatch: skipped") {
				t.Errorf("Description = %q, want dispatch skipped", res.Description)
			}
		})
	}
}

func TestSimulationService_RecordsSimulationAudit(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, scenarioRules)
	sim := NewSimulationService(f.svc, discardLogger())

	res := sim.RunTest(context.Background(), message.Spec{
		Action:    optional.Of("VIEW"),
		Component: optional.Of("broken"),
	}, false, "")

	entries := f.audit.Query()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != res.AuditID || e.Source != audit.SourceSimulation || e.RuleID != "observe" {
		t.Errorf("audit entry = %+v", e)
	}
	if len(e.Diagnostics) == 0 || len(res.Diagnostics) == 0 {
		t.Error("component build diagnostic missing")
	}
	if obs := f.observer.all(); len(obs) != 1 || obs[0].source != audit.SourceSimulation {
		t.Errorf("observer decisions = %+v", obs)
	}
}

func TestSimulationService_Dispatch(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, scenarioRules)
	d := &fakeDeliverer{}
	sim := NewSimulationService(f.svc, discardLogger(), WithDeliverer(d))

	res := sim.RunTest(context.Background(), message.Spec{
		Action:        optional.Of("GET_CONTENT"),
		MimeType:      optional.Of("video/mp4"),
		SourcePackage: optional.Of("chrome"),
	}, true, delivery.ModeService)

	if d.count() != 1 {
		t.Fatalf("deliverer called %d times, want 1", d.count())
	}
	got := d.calls[0]
	if got.Mode != delivery.ModeService || got.ID != res.ID || got.RuleID != "images" {
		t.Errorf("dispatch = %+v", got)
	}
	if got.Message.MimeType.OrElse("") != "*/*" {
		t.Error("dispatched message is not the transformed output")
	}
	if !res.Modified || res.DispatchError != "" {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Description, "dispatch (service): delivered") {
		t.Errorf("Description = %q", res.Description)
	}
	if !strings.Contains(res.Description, `mimeType: "video/mp4" -> "*/*"`) {
		t.Errorf("Description does not list the change: %q", res.Description)
	}
}

func TestSimulationService_DispatchFailureIsReported(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, scenarioRules)
	d := &fakeDeliverer{err: errors.New("connection refused")}
	sim := NewSimulationService(f.svc, discardLogger(), WithDeliverer(d))

	res := sim.RunTest(context.Background(), message.Spec{Action: optional.Of("TRACK_EVENT")}, true, delivery.ModeBroadcast)

	if !res.Blocked || res.Output != nil {
		t.Errorf("result = %+v, want blocked", res)
	}
	if res.DispatchError != "connection refused" {
		t.Errorf("DispatchError = %q", res.DispatchError)
	}
	if !strings.Contains(res.Description, "failed: connection refused") {
		t.Errorf("Description = %q", res.Description)
	}
}

func TestSimulationService_DispatchWithoutDeliverer(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, scenarioRules)
	sim := NewSimulationService(f.svc, discardLogger())

	res := sim.RunTest(context.Background(), message.Spec{}, true, delivery.ModeActivity)

	if res.DispatchError != errNoDeliverer.Error() {
		t.Errorf("DispatchError = %q, want %q", res.DispatchError, errNoDeliverer)
	}
}

func TestSimulationService_OutOfScope(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, scenarioRules, WithSettings(EngineSettings{Enabled: false}))
	sim := NewSimulationService(f.svc, discardLogger())

	res := sim.RunTest(context.Background(), message.Spec{Action: optional.Of("TRACK_EVENT")}, false, "")

	if res.InScope || res.Blocked {
		t.Errorf("result = %+v, want out of scope pass-through", res)
	}
	if !strings.Contains(res.Description, "no rule matched") {
		t.Errorf("Description = %q", res.Description)
	}
}
