// Package tracing wires OpenTelemetry: an OTLP/HTTP exporter when enabled, a
// no-op provider otherwise, plus helpers for request and store spans.
package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/startdusk/filebox/internal/logger"
)

// TracerName is the instrumentation scope for every span filebox creates.
const TracerName = "github.com/startdusk/filebox"

var (
	tracerProvider *sdktrace.TracerProvider
	providerMu     sync.Mutex
)

// Config contains tracing configuration
type Config struct {
	Enabled bool
	// Endpoint is the OTLP/HTTP collector host:port, e.g. localhost:4318
	Endpoint       string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SampleRate is the fraction of root traces to sample (0.0 to 1.0)
	SampleRate float64
}

// Init installs the global tracer provider and propagator.
func Init(cfg *Config) error {
	log := logger.Get().WithComponent("tracing")

	if !cfg.Enabled {
		log.Info("distributed tracing is disabled")
		otel.SetTracerProvider(noop.NewTracerProvider())
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(clientOpts...))
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)

	providerMu.Lock()
	tracerProvider = tp
	providerMu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("distributed tracing initialized", logger.Fields{
		"endpoint":     cfg.Endpoint,
		"service_name": cfg.ServiceName,
		"environment":  cfg.Environment,
		"sample_rate":  cfg.SampleRate,
	})

	return nil
}

// Shutdown flushes and stops the SDK provider, if one was installed.
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	tp := tracerProvider
	tracerProvider = nil
	providerMu.Unlock()

	if tp == nil {
		return nil
	}

	log := logger.Get().WithComponent("tracing")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown tracer provider", logger.Fields{
			"error": err.Error(),
		})
		return err
	}

	log.Info("tracing shutdown complete")
	return nil
}

// Tracer returns a tracer instance
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a new span with the given name and options
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartClientSpan starts a client span for one round trip to a backing
// store such as Redis, DynamoDB or Postgres.
func StartClientSpan(ctx context.Context, system attribute.KeyValue, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{system, semconv.DBOperationName(operation)}, attrs...)
	return Tracer().Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(all...),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the trace ID from the context
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanID returns the span ID from the context
func SpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}

// AddEvent adds an event to the current span in the context
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
