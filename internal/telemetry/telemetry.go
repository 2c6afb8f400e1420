package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/config"
)

// Telemetry owns the tracer provider and its shutdown.
type Telemetry struct {
	tracerProvider *trace.TracerProvider
	degraded       atomic.Bool
}

// Option configures New.
type Option func(*options)

type options struct {
	exporter trace.SpanExporter
	logger   *zap.Logger
}

// WithExporter replaces the OTLP exporter.
func WithExporter(exp trace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithLogger sets the logger reporting degraded setups.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New installs a global tracer provider when tracing is enabled. A
// disabled config returns an inert instance.
func New(ctx context.Context, cfg config.TelemetryConfig, version string, opts ...Option) *Telemetry {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	t := &Telemetry{}
	if !cfg.Enabled {
		return t
	}

	exp := o.exporter
	if exp == nil {
		var err error
		exp, err = newExporter(ctx, cfg)
		if err != nil {
			t.degraded.Store(true)
			o.logger.Warn("tracing disabled", zap.Error(err))
			return t
		}
	}

	t.tracerProvider = trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(newResource(cfg, version)),
		trace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	o.logger.Info("tracing enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.Float64("sample_rate", cfg.SampleRate))
	return t
}

// Enabled reports whether spans are exported.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.tracerProvider != nil
}

// Degraded reports whether tracing was requested but could not start.
func (t *Telemetry) Degraded() bool {
	return t != nil && t.degraded.Load()
}

// Tracer returns a tracer for the given instrumentation scope.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if !t.Enabled() {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// ForceFlush exports pending spans.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	return t.tracerProvider.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("trace provider shutdown: %w", err)
	}
	return nil
}
