// Package observability provides the OpenTelemetry provider for the truth
// pipeline: traces around the append, scan, and bundle stages and counters
// for committed events.
//
// Telemetry is disabled unless an OTLP endpoint is configured. Nothing
// here ever touches a deterministic surface — spans and metrics are
// observational, not truth.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // e.g. "localhost:4317"; empty disables telemetry
	Insecure       bool
	BatchTimeout   time.Duration
}

// DefaultConfig returns disabled-by-default settings.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "vifei",
		ServiceVersion: "0.1.0",
		BatchTimeout:   5 * time.Second,
	}
}

// Provider owns the trace and metric providers plus the pipeline
// instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	eventsCommitted metric.Int64Counter
	appendDuration  metric.Float64Histogram
	scanFindings    metric.Int64Counter
}

// New sets up the providers. With no OTLP endpoint the provider is a
// no-op shell: Tracer and the record helpers stay safe to call.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if config.OTLPEndpoint == "" {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("vifei.component", "core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer("vifei.core",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("vifei.core",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"insecure", config.Insecure)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.eventsCommitted, err = p.meter.Int64Counter("vifei.events.committed",
		metric.WithDescription("Events committed to the EventLog"),
		metric.WithUnit("{event}"))
	if err != nil {
		return err
	}
	p.appendDuration, err = p.meter.Float64Histogram("vifei.append.duration",
		metric.WithDescription("Durable append latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25))
	if err != nil {
		return err
	}
	p.scanFindings, err = p.meter.Int64Counter("vifei.scan.findings",
		metric.WithDescription("Scanner findings that blocked export"),
		metric.WithUnit("{finding}"))
	return err
}

// Tracer returns a tracer for pipeline spans; a no-op tracer when
// telemetry is disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("vifei.core")
	}
	return p.tracer
}

// RecordCommit counts committed events and append latency.
func (p *Provider) RecordCommit(ctx context.Context, tier string, elapsed time.Duration) {
	if p.eventsCommitted == nil {
		return
	}
	p.eventsCommitted.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	p.appendDuration.Record(ctx, elapsed.Seconds())
}

// RecordScanFindings counts blocked-item findings from an export scan.
func (p *Provider) RecordScanFindings(ctx context.Context, n int) {
	if p.scanFindings == nil {
		return
	}
	p.scanFindings.Add(ctx, int64(n))
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var first error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
