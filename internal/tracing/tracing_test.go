package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInit_Disabled(t *testing.T) {
	require.NoError(t, Init(&Config{Enabled: false}))

	_, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInit_Enabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	err := Init(&Config{
		Enabled:        true,
		Endpoint:       "localhost:4318",
		Insecure:       true,
		ServiceName:    "filebox-test",
		ServiceVersion: "0.1",
		Environment:    "test",
		SampleRate:     1.0,
	})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "op")
	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))
	span.End()

	// The exporter never reaches a collector; shutdown must still return.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = Shutdown(ctx)
}

func TestShutdown_NotInitialized(t *testing.T) {
	providerMu.Lock()
	tracerProvider = nil
	providerMu.Unlock()

	assert.NoError(t, Shutdown(context.Background()))
}

func TestTraceIDEmptyWithoutSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
	assert.Empty(t, SpanID(context.Background()))
}

func TestStartClientSpan(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartClientSpan(context.Background(), semconv.DBSystemRedis, "GET",
		attribute.String("filebox.key", "filebox:ip:10.0.0.1"))
	EndSpan(span, errors.New("connection refused"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "GET", s.Name())
	assert.Equal(t, trace.SpanKindClient, s.SpanKind())
	assert.Equal(t, codes.Error, s.Status().Code)

	v, ok := attrValue(s.Attributes(), semconv.DBSystemKey)
	require.True(t, ok)
	assert.Equal(t, "redis", v.AsString())
	require.Len(t, s.Events(), 1)
}

func TestEndSpan_NoError(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartSpan(context.Background(), "ok")
	EndSpan(span, nil)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestAddEvent(t *testing.T) {
	sr := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "parent")
	AddEvent(ctx, "rate_limit.denied", attribute.String("field", "upload_count"))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "rate_limit.denied", spans[0].Events()[0].Name)
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	sr := recordSpans(t)

	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/v1/filebox/{code}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, TraceID(r.Context()))
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/filebox/abcde", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "GET /v1/filebox/{code}", s.Name())
	assert.Equal(t, trace.SpanKindServer, s.SpanKind())

	v, ok := attrValue(s.Attributes(), semconv.HTTPResponseStatusCodeKey)
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusNotFound), v.AsInt64())
	assert.Equal(t, codes.Unset, s.Status().Code)
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	sr := recordSpans(t)

	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/filebox", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /v1/filebox", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	sr := recordSpans(t)

	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
}
