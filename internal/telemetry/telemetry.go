package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	plog "github.com/straja-ai/piiguard/internal/log"
)

const instrumentationName = "piiguard"

// Outcomes recorded on piiguard_records_total.
const (
	OutcomeProtected = "protected"
	OutcomePartial   = "partial"
	OutcomeDenied    = "denied"
)

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
	Logger   *zap.Logger
}

// Provider wires tracer/meter providers and exposes helpers.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	recordsCounter        metric.Int64Counter
	entitiesCounter       metric.Int64Counter
	fieldErrorsCounter    metric.Int64Counter
	protectDuration       metric.Float64Histogram
	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewProvider configures OTEL exporters + providers. When disabled, returns no-op providers.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		return Disabled(), nil
	}

	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if protocol != "" && protocol != "grpc" && protocol != "http" {
		return nil, fmt.Errorf("unsupported telemetry protocol %q", cfg.Protocol)
	}

	plog.OrNop(cfg.Logger).Info("telemetry enabled; upload warnings are expected when no collector is listening",
		zap.String("protocol", protocol), zap.String("endpoint", cfg.Endpoint))

	service := cfg.Service
	if service == "" {
		service = instrumentationName
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	spans, metrics, err := newExporters(ctx, protocol, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(spans),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics)))
	otel.SetMeterProvider(mp)

	p := newProvider(tp, mp)
	p.shutdownTraceProvider = tp.Shutdown
	p.shutdownMeterProvider = mp.Shutdown
	return p, nil
}

// newExporters builds plaintext OTLP span and metric exporters for the
// collector at endpoint. An empty protocol means grpc.
func newExporters(ctx context.Context, protocol, endpoint string) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	var (
		spans   sdktrace.SpanExporter
		metrics sdkmetric.Exporter
		err     error
	)
	if protocol == "http" {
		if spans, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure()); err != nil {
			return nil, nil, fmt.Errorf("otlp/http span exporter: %w", err)
		}
		if metrics, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure()); err != nil {
			return nil, nil, fmt.Errorf("otlp/http metric exporter: %w", err)
		}
		return spans, metrics, nil
	}
	if spans, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure()); err != nil {
		return nil, nil, fmt.Errorf("otlp/grpc span exporter: %w", err)
	}
	if metrics, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure()); err != nil {
		return nil, nil, fmt.Errorf("otlp/grpc metric exporter: %w", err)
	}
	return spans, metrics, nil
}

// Disabled returns a provider whose tracer and meter are no-ops.
func Disabled() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  noop.NewMeterProvider().Meter(""),
	}
	p.initInstruments()
	return p
}

// newProvider builds an enabled provider on caller-supplied providers.
func newProvider(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	p := &Provider{
		Enabled: true,
		tracer:  tp.Tracer(instrumentationName),
		meter:   mp.Meter(instrumentationName),
	}
	p.initInstruments()
	return p
}

func (p *Provider) initInstruments() {
	if p == nil {
		return
	}
	// Instrument errors are ignored; telemetry is best-effort.
	p.recordsCounter, _ = p.meter.Int64Counter("piiguard_records_total")
	p.entitiesCounter, _ = p.meter.Int64Counter("piiguard_entities_total")
	p.fieldErrorsCounter, _ = p.meter.Int64Counter("piiguard_field_errors_total")
	p.protectDuration, _ = p.meter.Float64Histogram("piiguard_protect_duration_ms")
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return noop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}

// RecordProtection emits the per-record counters and latency. Labels carry
// only the level, outcome and entity type names.
func (p *Provider) RecordProtection(ctx context.Context, level, outcome string, entityCounts map[string]int, fieldErrors int, durMs float64) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	labels := metric.WithAttributes(
		attribute.String("piiguard.level", level),
		attribute.String("piiguard.outcome", outcome),
	)
	p.recordsCounter.Add(ctx, 1, labels)
	p.protectDuration.Record(ctx, durMs, labels)
	for typ, n := range entityCounts {
		if n <= 0 {
			continue
		}
		p.entitiesCounter.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("piiguard.level", level),
			attribute.String("piiguard.entity_type", typ),
		))
	}
	if fieldErrors > 0 {
		p.fieldErrorsCounter.Add(ctx, int64(fieldErrors), metric.WithAttributes(
			attribute.String("piiguard.level", level),
		))
	}
}
