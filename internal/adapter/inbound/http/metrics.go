package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/internal/service"
)

const namespace = "intentgate"

// Metrics holds all Prometheus metrics for IntentGate.
// It implements service.LoadObserver and service.DecisionObserver.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	DecisionsTotal     *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	RuleLoadsTotal     prometheus.Counter
	RuleDiagnostics    *prometheus.CounterVec
	RulesLoaded        prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total interception decisions",
			},
			[]string{"source", "action", "outcome"}, // outcome=blocked/modified/unchanged
		),
		EvaluationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Time spent matching and transforming one message",
				Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
			},
			[]string{"source"},
		),
		RuleLoadsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_loads_total",
				Help:      "Total rule snapshots published",
			},
		),
		RuleDiagnostics: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_diagnostics_total",
				Help:      "Total per-record problems reported by rule loads",
			},
			[]string{"kind"}, // kind=skipped/warning
		),
		RulesLoaded: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rules_loaded",
				Help:      "Number of rules in the active snapshot",
			},
		),
	}
}

// ObserveLoad records a published rule snapshot.
func (m *Metrics) ObserveLoad(report *rule.LoadReport) {
	if report == nil {
		return
	}
	m.RuleLoadsTotal.Inc()
	m.RulesLoaded.Set(float64(report.Loaded))
	m.RuleDiagnostics.WithLabelValues("skipped").Add(float64(len(report.Diagnostics)))
	m.RuleDiagnostics.WithLabelValues("warning").Add(float64(len(report.Warnings)))
}

// ObserveDecision records one decision.
func (m *Metrics) ObserveDecision(source audit.Source, action rule.Action, blocked, modified bool, elapsed time.Duration) {
	outcome := "unchanged"
	switch {
	case blocked:
		outcome = "blocked"
	case modified:
		outcome = "modified"
	}
	act := string(action)
	if act == "" {
		act = "none"
	}
	m.DecisionsTotal.WithLabelValues(string(source), act, outcome).Inc()
	m.EvaluationDuration.WithLabelValues(string(source)).Observe(elapsed.Seconds())
}

// RegisterAuditCollectors exposes the audit pipeline's counters. They are
// read on scrape, so the audit service needs no reference to Prometheus.
func RegisterAuditCollectors(reg prometheus.Registerer, auditSvc *service.AuditService) {
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_drops_total",
		Help:      "Total audit entries not persisted due to backpressure",
	}, func() float64 { return float64(auditSvc.DroppedRecords()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_persist_failures_total",
		Help:      "Total audit batches the sinks failed to write",
	}, func() float64 { return float64(auditSvc.PersistFailures()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_channel_depth",
		Help:      "Audit entries waiting to be persisted",
	}, func() float64 { return float64(auditSvc.ChannelDepth()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_log_entries",
		Help:      "Entries held in the in-memory audit log",
	}, func() float64 { return float64(auditSvc.Log().Len()) })
}

var (
	_ service.LoadObserver     = (*Metrics)(nil)
	_ service.DecisionObserver = (*Metrics)(nil)
)
