// Package telemetry exports decision spans and decision metrics through
// OpenTelemetry. The stdout exporters write to a configurable writer; a
// disabled provider hands out noop instruments.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

const instrumentationName = "github.com/intentgate/intentgate"

// DefaultMetricInterval is how often decision metrics are exported.
const DefaultMetricInterval = time.Minute

// Config selects what the provider exports.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Sampler is always, never or ratio.
	Sampler     string
	SampleRatio float64
	// MetricInterval is the export period for decision metrics.
	MetricInterval time.Duration
	// Writer receives exported spans and metrics. Defaults to stderr.
	Writer io.Writer
}

// Provider owns the tracer and meter providers. It implements
// service.DecisionObserver.
type Provider struct {
	enabled   bool
	tracer    trace.Tracer
	tp        *sdktrace.TracerProvider
	mp        *sdkmetric.MeterProvider
	decisions metric.Int64Counter
	latency   metric.Float64Histogram
}

// New creates a Provider. When cfg.Enabled is false every instrument is a
// noop and Shutdown does nothing.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return newNoop(), nil
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	spanExp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = DefaultMetricInterval
	}
	reader := sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))

	return newProvider(cfg, sdktrace.WithBatcher(spanExp), reader)
}

func newProvider(cfg Config, spans sdktrace.TracerProviderOption, reader sdkmetric.Reader) (*Provider, error) {
	sampler, err := createSampler(cfg.Sampler, cfg.SampleRatio)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "intentgate"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	p := &Provider{enabled: true}
	p.tp = sdktrace.NewTracerProvider(spans, sdktrace.WithResource(res), sdktrace.WithSampler(sampler))
	p.mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = p.tp.Tracer(instrumentationName)
	if err := p.initInstruments(p.mp.Meter(instrumentationName)); err != nil {
		return nil, errors.Join(err, p.Shutdown(context.Background()))
	}
	return p, nil
}

func newNoop() *Provider {
	p := &Provider{tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName)}
	// Noop instruments never fail to build.
	_ = p.initInstruments(metricnoop.NewMeterProvider().Meter(instrumentationName))
	return p
}

func (p *Provider) initInstruments(meter metric.Meter) error {
	var err error
	p.decisions, err = meter.Int64Counter("intentgate.decisions",
		metric.WithDescription("Interception decisions by source, action and outcome"),
	)
	if err != nil {
		return fmt.Errorf("create decisions counter: %w", err)
	}
	p.latency, err = meter.Float64Histogram("intentgate.evaluation.duration",
		metric.WithDescription("Time spent matching and transforming one message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create latency histogram: %w", err)
	}
	return nil
}

// Tracer returns the tracer for decision spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans and metrics are exported.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// ObserveDecision records one decision.
func (p *Provider) ObserveDecision(source audit.Source, action rule.Action, blocked, modified bool, elapsed time.Duration) {
	if action == "" {
		action = rule.ActionNone
	}
	outcome := "unchanged"
	switch {
	case blocked:
		outcome = "blocked"
	case modified:
		outcome = "modified"
	}

	ctx := context.Background()
	p.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(source)),
		attribute.String("action", string(action)),
		attribute.String("outcome", outcome),
	))
	p.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("source", string(source)),
	))
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}

// TraceID returns the trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
