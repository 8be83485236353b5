// Package metrics defines the Prometheus collectors exported by filebox and
// small recording helpers used by the rest of the service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filebox"

var (
	// HTTP Request Metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "route"},
	)

	httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "route", "status_code"},
	)

	httpActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests",
		},
	)

	// Rate Limiting Metrics
	rateLimitChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "checks_total",
			Help:      "Total number of rate limit checks by counter field and decision",
		},
		[]string{"field", "decision"}, // allowed, denied
	)

	rateLimitCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Duration of rate limit checks in seconds",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"field"},
	)

	rateLimitRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "records_total",
			Help:      "Total number of counter increments by field and result",
		},
		[]string{"field", "result"}, // ok, error
	)

	rateLimitErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "errors_total",
			Help:      "Total number of counter store errors by operation",
		},
		[]string{"operation"}, // read, write
	)

	// Box Lifecycle Metrics
	boxesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "box",
			Name:      "created_total",
			Help:      "Total number of boxes created by type",
		},
		[]string{"type"}, // text, file
	)

	boxesTakenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "box",
			Name:      "taken_total",
			Help:      "Total number of boxes retrieved by type",
		},
		[]string{"type"},
	)

	boxLookupFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "box",
			Name:      "lookup_failures_total",
			Help:      "Total number of failed box lookups by reason",
		},
		[]string{"reason"}, // invalid_code, not_found
	)

	boxesSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "box",
			Name:      "swept_total",
			Help:      "Total number of expired or used boxes removed by the sweeper",
		},
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "box",
			Name:      "sweep_runs_total",
			Help:      "Total number of sweeper runs by result",
		},
		[]string{"result"}, // ok, error
	)

	// Circuit Breaker Metrics
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	circuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Health Check Metrics
	healthCheckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of health checks performed",
		},
		[]string{"check_name", "status"},
	)

	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Duration of health checks in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2},
		},
		[]string{"check_name"},
	)

	once sync.Once
)

// Init registers all collectors with the default Prometheus registry. It is
// safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			httpRequestSize,
			httpResponseSize,
			httpActiveRequests,

			rateLimitChecksTotal,
			rateLimitCheckDuration,
			rateLimitRecordsTotal,
			rateLimitErrorsTotal,

			boxesCreatedTotal,
			boxesTakenTotal,
			boxLookupFailuresTotal,
			boxesSweptTotal,
			sweepRunsTotal,

			circuitBreakerState,
			circuitBreakerTransitionsTotal,

			healthCheckTotal,
			healthCheckDuration,
		)
	})
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTP Metrics functions
func RecordHTTPRequest(method, route, statusCode string, duration time.Duration, requestSize, responseSize int) {
	httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration.Seconds())
	httpRequestSize.WithLabelValues(method, route).Observe(float64(requestSize))
	httpResponseSize.WithLabelValues(method, route, statusCode).Observe(float64(responseSize))
}

func IncActiveRequests() {
	httpActiveRequests.Inc()
}

func DecActiveRequests() {
	httpActiveRequests.Dec()
}

// Rate Limiting Metrics functions
func RecordRateLimitCheck(field string, allowed bool, duration time.Duration) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	rateLimitChecksTotal.WithLabelValues(field, decision).Inc()
	rateLimitCheckDuration.WithLabelValues(field).Observe(duration.Seconds())
}

func RecordRateLimitRecord(field string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	rateLimitRecordsTotal.WithLabelValues(field, result).Inc()
}

func RecordRateLimitError(operation string) {
	rateLimitErrorsTotal.WithLabelValues(operation).Inc()
}

// Box Metrics functions
func RecordBoxCreated(boxType string) {
	boxesCreatedTotal.WithLabelValues(boxType).Inc()
}

func RecordBoxTaken(boxType string) {
	boxesTakenTotal.WithLabelValues(boxType).Inc()
}

func RecordBoxLookupFailure(reason string) {
	boxLookupFailuresTotal.WithLabelValues(reason).Inc()
}

func RecordSweep(removed int, err error) {
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	sweepRunsTotal.WithLabelValues("ok").Inc()
	boxesSweptTotal.Add(float64(removed))
}

// Circuit Breaker Metrics functions
func SetCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func RecordCircuitBreakerTransition(name, fromState, toState string) {
	circuitBreakerTransitionsTotal.WithLabelValues(name, fromState, toState).Inc()
}

// Health Check Metrics functions
func RecordHealthCheck(checkName, status string, duration time.Duration) {
	healthCheckTotal.WithLabelValues(checkName, status).Inc()
	healthCheckDuration.WithLabelValues(checkName).Observe(duration.Seconds())
}
