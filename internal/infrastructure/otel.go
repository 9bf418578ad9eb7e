package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ServiceName identifies this service in traces and metrics.
	ServiceName = "stockseason"
	// MeterName is the instrumentation scope for application metrics.
	MeterName = "stockseason"
)

// OTelConfig holds OpenTelemetry configuration.
type OTelConfig struct {
	TraceExporter  string // "stdout", "none"
	MetricExporter string // "prometheus", "none"
	SampleRatio    float64
}

// DefaultOTelConfig returns the default observability configuration:
// stdout trace export and Prometheus metrics.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		SampleRatio:    1.0,
	}
}

// OTelProviders holds the configured OpenTelemetry providers and the
// Prometheus scrape handler.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
}

// InitializeOTel sets up tracing and metrics per the configuration and
// installs the global providers and propagators.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
	)

	providers := &OTelProviders{}

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(MeterName)
		otel.SetTracerProvider(tp)
	case "none":
		providers.Tracer = otel.Tracer(MeterName)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName)
		providers.PrometheusHTTP = promhttp.Handler()
		otel.SetMeterProvider(mp)
	case "none":
		providers.Meter = otel.Meter(MeterName)
	default:
		return nil, fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("observability initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter))

	return providers, nil
}

// Shutdown flushes and stops the providers.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReconcileMetrics holds the reconciliation-pipeline instruments.
type ReconcileMetrics struct {
	RunsTotal         metric.Int64Counter
	RunDuration       metric.Float64Histogram
	RecordsUpserted   metric.Int64Counter
	InstrumentsFailed metric.Int64Counter
}

// NewReconcileMetrics registers the reconciliation metrics on a meter.
func NewReconcileMetrics(meter metric.Meter) (*ReconcileMetrics, error) {
	runsTotal, err := meter.Int64Counter(
		"reconciliation_runs_total",
		metric.WithDescription("Total number of reconciliation runs"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"reconciliation_run_duration_seconds",
		metric.WithDescription("Reconciliation run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	recordsUpserted, err := meter.Int64Counter(
		"records_upserted_total",
		metric.WithDescription("Total canonical records written by reconciliation"),
	)
	if err != nil {
		return nil, err
	}

	instrumentsFailed, err := meter.Int64Counter(
		"instruments_failed_total",
		metric.WithDescription("Total per-instrument fetch failures"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		RunsTotal:         runsTotal,
		RunDuration:       runDuration,
		RecordsUpserted:   recordsUpserted,
		InstrumentsFailed: instrumentsFailed,
	}, nil
}

// RecordRun records the outcome of a completed reconciliation run.
func (m *ReconcileMetrics) RecordRun(ctx context.Context, provider string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	)
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
}
