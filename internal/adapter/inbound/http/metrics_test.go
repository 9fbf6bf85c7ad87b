package http

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/intentgate/intentgate/internal/adapter/outbound/memory"
	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/internal/service"
)

func TestMetrics_ObserveLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveLoad(&rule.LoadReport{
		Loaded:      3,
		Skipped:     2,
		Diagnostics: []rule.Diagnostic{{Index: 1}, {Index: 4}},
		Warnings:    []rule.Diagnostic{{Index: 0}},
	})
	m.ObserveLoad(nil)

	if got := testutil.ToFloat64(m.RulesLoaded); got != 3 {
		t.Errorf("rules_loaded = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.RuleLoadsTotal); got != 1 {
		t.Errorf("rule_loads_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RuleDiagnostics.WithLabelValues("skipped")); got != 2 {
		t.Errorf("rule_diagnostics_total{kind=skipped} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RuleDiagnostics.WithLabelValues("warning")); got != 1 {
		t.Errorf("rule_diagnostics_total{kind=warning} = %v, want 1", got)
	}
}

func TestMetrics_ObserveDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveDecision(audit.SourceIntercept, rule.ActionBlock, true, false, time.Millisecond)
	m.ObserveDecision(audit.SourceIntercept, rule.ActionModify, false, true, time.Millisecond)
	m.ObserveDecision(audit.SourceSimulation, "", false, false, time.Millisecond)

	tests := []struct {
		labels []string
		want   float64
	}{
		{[]string{"intercept", "BLOCK", "blocked"}, 1},
		{[]string{"intercept", "MODIFY", "modified"}, 1},
		{[]string{"simulation", "none", "unchanged"}, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues(tt.labels...)); got != tt.want {
			t.Errorf("decisions_total%v = %v, want %v", tt.labels, got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(m.EvaluationDuration); n != 2 {
		t.Errorf("evaluation_duration series = %d, want 2", n)
	}
}

func TestRegisterAuditCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	log := memory.NewAuditLog(10)
	auditSvc := service.NewAuditService(log, discardLogger(), service.WithChannelSize(8))
	RegisterAuditCollectors(reg, auditSvc)

	auditSvc.Record(audit.Entry{RuleID: "r1", Action: rule.ActionLog})
	auditSvc.Record(audit.Entry{RuleID: "r2", Action: rule.ActionLog})

	expected := `
# HELP intentgate_audit_log_entries Entries held in the in-memory audit log
# TYPE intentgate_audit_log_entries gauge
intentgate_audit_log_entries 2
# HELP intentgate_audit_drops_total Total audit entries not persisted due to backpressure
# TYPE intentgate_audit_drops_total counter
intentgate_audit_drops_total 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"intentgate_audit_log_entries", "intentgate_audit_drops_total"); err != nil {
		t.Error(err)
	}
}
