// Package health exposes liveness, readiness and aggregate health endpoints
// plus the visit-counting /health endpoint kept for existing clients.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/startdusk/filebox/internal/metrics"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// DefaultCheckTimeout bounds each checker run by Manager.Check.
const DefaultCheckTimeout = 2 * time.Second

// Check represents a health check result
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Response represents the health check response
type Response struct {
	Status    Status           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Checker is a function that performs a health check
type Checker func(ctx context.Context) Check

// Manager manages health checks
type Manager struct {
	checks  map[string]Checker
	timeout time.Duration
	mu      sync.RWMutex
}

// NewManager creates a new health check manager
func NewManager() *Manager {
	return &Manager{
		checks:  make(map[string]Checker),
		timeout: DefaultCheckTimeout,
	}
}

// SetTimeout changes the per-check timeout.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.timeout = d
	}
}

// Register registers a health check
func (m *Manager) Register(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = checker
}

// Unregister removes a health check
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Check runs all health checks concurrently.
func (m *Manager) Check(ctx context.Context) Response {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checks))
	for name, c := range m.checks {
		checkers[name] = c
	}
	timeout := m.timeout
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]Check, len(checkers))
	)

	for name, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			check := checker(cctx)
			metrics.RecordHealthCheck(name, string(check.Status), time.Since(start))

			resMu.Lock()
			results[name] = check
			resMu.Unlock()
		}()
	}
	wg.Wait()

	overallStatus := StatusHealthy
	for _, check := range results {
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return Response{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	}
}

// LivenessHandler returns a handler for liveness probes
// Liveness indicates if the application is running
func (m *Manager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{
			Status:    StatusHealthy,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler returns a handler for readiness probes.
// Degraded still counts as ready: a lost counter store only disables limits.
func (m *Manager) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := m.Check(r.Context())

		status := http.StatusOK
		if response.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	}
}

// HealthHandler returns a general health check handler
func (m *Manager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Check(r.Context()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Predefined health checkers

// ConfigChecker checks if configuration is valid
func ConfigChecker(isValid func() bool) Checker {
	return func(ctx context.Context) Check {
		if isValid() {
			return Check{
				Name:   "config",
				Status: StatusHealthy,
			}
		}
		return Check{
			Name:   "config",
			Status: StatusUnhealthy,
			Error:  "configuration is invalid",
		}
	}
}

// PingChecker reports failStatus when ping fails. Dependencies the service
// can run without should use StatusDegraded.
func PingChecker(name string, ping func(ctx context.Context) error, failStatus Status) Checker {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			return Check{
				Name:   name,
				Status: failStatus,
				Error:  err.Error(),
			}
		}
		return Check{
			Name:   name,
			Status: StatusHealthy,
		}
	}
}

// VisitCounter serves GET /health: a fixed message and the number of times
// the endpoint has been called since start.
type VisitCounter struct {
	message string
	count   atomic.Uint64
}

// VisitResponse is the body written by VisitCounter.
type VisitResponse struct {
	Message          string `json:"message"`
	HealthCheckCount uint64 `json:"health_check_count"`
}

// NewVisitCounter creates a counter answering with message.
func NewVisitCounter(message string) *VisitCounter {
	return &VisitCounter{message: message}
}

func (v *VisitCounter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VisitResponse{
		Message:          v.message,
		HealthCheckCount: v.count.Add(1),
	})
}
