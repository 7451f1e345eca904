// Package observability sets up OpenTelemetry tracing for recordbridge.
// Spans are written by the stdout exporter; without Initialize every
// tracer is a no-op, so connectors may trace unconditionally.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

const instrumentationName = "github.com/ajitpratap0/recordbridge"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SamplingRate is the fraction of traces kept (0 disables, 1 keeps all)
	SamplingRate float64
	// Writer receives exported spans; stdout when nil
	Writer       io.Writer
	PrettyPrint  bool
	BatchTimeout time.Duration
}

// DefaultConfig returns a tracing configuration that keeps every trace
func DefaultConfig() TracingConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return TracingConfig{
		ServiceName:    "recordbridge",
		ServiceVersion: "dev",
		Environment:    env,
		SamplingRate:   1.0,
		BatchTimeout:   5 * time.Second,
	}
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Initialize installs a global tracer provider exporting to cfg.Writer.
// Calling it again replaces the previous provider after shutting it down.
func Initialize(ctx context.Context, cfg TracingConfig) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace resource")
	}

	opts := []stdouttrace.Option{}
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create stdout exporter")
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)

	mu.Lock()
	old := provider
	provider = tp
	mu.Unlock()
	if old != nil {
		_ = old.Shutdown(ctx)
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Shutdown flushes pending spans and stops the provider set by Initialize
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to shutdown tracer provider")
	}
	return nil
}

// Tracer returns the recordbridge tracer of the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// ConnectorTracer names spans after a connector
type ConnectorTracer struct {
	connectorType string
	connectorName string
}

// NewConnectorTracer creates a new connector tracer
func NewConnectorTracer(connectorType, connectorName string) *ConnectorTracer {
	return &ConnectorTracer{
		connectorType: connectorType,
		connectorName: connectorName,
	}
}

// StartSpan starts a span named <type>.<operation> carrying the connector
func (ct *ConnectorTracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("connector.type", ct.connectorType),
		attribute.String("connector.name", ct.connectorName),
		attribute.String("connector.operation", operation),
	)
	return Tracer().Start(ctx, fmt.Sprintf("%s.%s", ct.connectorType, operation), trace.WithAttributes(attrs...))
}

// TraceBatch runs fn inside a span describing a batch of size records and
// records fn's error on the span
func (ct *ConnectorTracer) TraceBatch(ctx context.Context, size int, operation string, fn func(context.Context) error) error {
	ctx, span := ct.StartSpan(ctx, operation, attribute.Int("batch.size", size))
	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("batch.duration_ms", time.Since(start).Milliseconds()))
	End(span, err)
	return err
}

// End ends span, marking it failed when err is set
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
