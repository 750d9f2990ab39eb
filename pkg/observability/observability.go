// Package observability provides OpenTelemetry tracing and metrics for the
// keeper: sweep cycle counters, execution/denial/failure counters, reward
// totals, and cycle duration histograms, exported over OTLP gRPC.
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

	"github.com/orbitpay/keeper/pkg/contracts"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "orbitpay-keeper",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	cycleCounter    metric.Int64Counter
	executedCounter metric.Int64Counter
	deniedCounter   metric.Int64Counter
	failedCounter   metric.Int64Counter
	rewardCounter   metric.Int64Counter
	cycleDuration   metric.Float64Histogram
}

// New creates a new observability provider. When disabled, every Record
// call is a no-op so the engine can hold a provider unconditionally.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("orbitpay.keeper",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("orbitpay.keeper",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initSweepMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init sweep metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initSweepMetrics() error {
	var err error

	p.cycleCounter, err = p.meter.Int64Counter("keeper.sweep.cycles",
		metric.WithDescription("Total sweep cycles completed"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}
	p.executedCounter, err = p.meter.Int64Counter("keeper.payments.executed",
		metric.WithDescription("Payments successfully executed"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return err
	}
	p.deniedCounter, err = p.meter.Int64Counter("keeper.payments.denied",
		metric.WithDescription("Executions denied by the spending guard"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return err
	}
	p.failedCounter, err = p.meter.Int64Counter("keeper.payments.failed",
		metric.WithDescription("Dispatch attempts that did not settle"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return err
	}
	p.rewardCounter, err = p.meter.Int64Counter("keeper.rewards.earned",
		metric.WithDescription("Executor rewards collected, smallest unit"),
	)
	if err != nil {
		return err
	}
	p.cycleDuration, err = p.meter.Float64Histogram("keeper.sweep.duration",
		metric.WithDescription("Sweep cycle duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	return err
}

// RecordCycle publishes one finished sweep cycle.
func (p *Provider) RecordCycle(ctx context.Context, summary contracts.CycleSummary) {
	if p.cycleCounter == nil {
		return
	}
	p.cycleCounter.Add(ctx, 1)
	p.executedCounter.Add(ctx, int64(summary.Executed))
	p.deniedCounter.Add(ctx, int64(summary.Denied))
	p.failedCounter.Add(ctx, int64(summary.Failed))
	p.cycleDuration.Record(ctx, summary.Duration.Seconds(),
		metric.WithAttributes(attribute.Int("candidates", summary.Candidates)))

	for _, o := range summary.Outcomes {
		if o.Status == contracts.OutcomeExecuted && o.Reward > 0 {
			p.rewardCounter.Add(ctx, o.Reward)
		}
	}
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("orbitpay.keeper")
	}
	return p.tracer
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// Shutdown gracefully shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}
