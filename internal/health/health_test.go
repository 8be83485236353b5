package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func healthy(name string) Checker {
	return func(ctx context.Context) Check {
		return Check{Name: name, Status: StatusHealthy}
	}
}

func withStatus(name string, s Status) Checker {
	return func(ctx context.Context) Check {
		return Check{Name: name, Status: s, Error: "error"}
	}
}

func TestNewManager(t *testing.T) {
	m := NewManager()
	if m == nil {
		t.Fatal("expected non-nil manager")
	}
	if m.checks == nil {
		t.Fatal("expected non-nil checks map")
	}
	if m.timeout != DefaultCheckTimeout {
		t.Errorf("expected default timeout, got %v", m.timeout)
	}
}

func TestRegisterUnregister(t *testing.T) {
	m := NewManager()
	m.Register("test", healthy("test"))

	m.mu.RLock()
	if _, exists := m.checks["test"]; !exists {
		t.Error("expected check to be registered")
	}
	m.mu.RUnlock()

	m.Unregister("test")

	m.mu.RLock()
	if _, exists := m.checks["test"]; exists {
		t.Error("expected check to be unregistered")
	}
	m.mu.RUnlock()
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]Checker
		expectedStatus Status
	}{
		{
			name:           "No checks - healthy",
			checks:         map[string]Checker{},
			expectedStatus: StatusHealthy,
		},
		{
			name: "All checks healthy",
			checks: map[string]Checker{
				"check1": healthy("check1"),
				"check2": healthy("check2"),
			},
			expectedStatus: StatusHealthy,
		},
		{
			name: "One check degraded",
			checks: map[string]Checker{
				"check1": healthy("check1"),
				"check2": withStatus("check2", StatusDegraded),
			},
			expectedStatus: StatusDegraded,
		},
		{
			name: "One check unhealthy",
			checks: map[string]Checker{
				"check1": healthy("check1"),
				"check2": withStatus("check2", StatusUnhealthy),
			},
			expectedStatus: StatusUnhealthy,
		},
		{
			name: "Unhealthy overrides degraded",
			checks: map[string]Checker{
				"check1": withStatus("check1", StatusDegraded),
				"check2": withStatus("check2", StatusUnhealthy),
			},
			expectedStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			for name, checker := range tt.checks {
				m.Register(name, checker)
			}

			response := m.Check(context.Background())

			if response.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, response.Status)
			}
			if response.Timestamp == "" {
				t.Error("expected non-empty timestamp")
			}
			if len(response.Checks) != len(tt.checks) {
				t.Errorf("expected %d checks, got %d", len(tt.checks), len(response.Checks))
			}
		})
	}
}

func TestCheckAppliesTimeout(t *testing.T) {
	m := NewManager()
	m.SetTimeout(20 * time.Millisecond)
	m.Register("slow", PingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, StatusUnhealthy))

	start := time.Now()
	response := m.Check(context.Background())

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("check took %v, timeout not applied", elapsed)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", response.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	m := NewManager()
	m.Register("broken", withStatus("broken", StatusUnhealthy))

	req := httptest.NewRequest(http.MethodGet, "/_health/live", nil)
	rr := httptest.NewRecorder()
	m.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var response Response
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status %s, got %s", StatusHealthy, response.Status)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Error("expected Content-Type: application/json")
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]Checker
		expectedStatus int
		expectedHealth Status
	}{
		{
			name:           "No checks - healthy",
			checks:         map[string]Checker{},
			expectedStatus: http.StatusOK,
			expectedHealth: StatusHealthy,
		},
		{
			name:           "All healthy",
			checks:         map[string]Checker{"check1": healthy("check1")},
			expectedStatus: http.StatusOK,
			expectedHealth: StatusHealthy,
		},
		{
			name:           "Degraded - still ready",
			checks:         map[string]Checker{"check1": withStatus("check1", StatusDegraded)},
			expectedStatus: http.StatusOK,
			expectedHealth: StatusDegraded,
		},
		{
			name:           "Unhealthy - returns 503",
			checks:         map[string]Checker{"check1": withStatus("check1", StatusUnhealthy)},
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			for name, checker := range tt.checks {
				m.Register(name, checker)
			}

			req := httptest.NewRequest(http.MethodGet, "/_health/ready", nil)
			rr := httptest.NewRecorder()
			m.ReadinessHandler().ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}

			var response Response
			if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != tt.expectedHealth {
				t.Errorf("expected status %s, got %s", tt.expectedHealth, response.Status)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	m := NewManager()
	m.Register("test", func(ctx context.Context) Check {
		return Check{Name: "test", Status: StatusUnhealthy, Error: "test error"}
	})

	req := httptest.NewRequest(http.MethodGet, "/_health", nil)
	rr := httptest.NewRecorder()
	m.HealthHandler().ServeHTTP(rr, req)

	// Health handler always returns 200, even if checks are unhealthy
	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var response Response
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("expected status %s, got %s", StatusUnhealthy, response.Status)
	}
	if check, ok := response.Checks["test"]; !ok || check.Error != "test error" {
		t.Errorf("expected 'test' check with error, got %+v", response.Checks)
	}
}

func TestConfigChecker(t *testing.T) {
	if check := ConfigChecker(func() bool { return true })(context.Background()); check.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", check.Status)
	}

	check := ConfigChecker(func() bool { return false })(context.Background())
	if check.Status != StatusUnhealthy || check.Error == "" {
		t.Errorf("expected unhealthy with error, got %+v", check)
	}
}

func TestPingChecker(t *testing.T) {
	tests := []struct {
		name           string
		ping           func(context.Context) error
		failStatus     Status
		expectedStatus Status
		expectError    bool
	}{
		{
			name:           "Successful ping",
			ping:           func(context.Context) error { return nil },
			failStatus:     StatusUnhealthy,
			expectedStatus: StatusHealthy,
		},
		{
			name:           "Failed ping on required dependency",
			ping:           func(context.Context) error { return errors.New("connection refused") },
			failStatus:     StatusUnhealthy,
			expectedStatus: StatusUnhealthy,
			expectError:    true,
		},
		{
			name:           "Failed ping on optional dependency",
			ping:           func(context.Context) error { return errors.New("connection refused") },
			failStatus:     StatusDegraded,
			expectedStatus: StatusDegraded,
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := PingChecker("counter_store", tt.ping, tt.failStatus)(context.Background())

			if check.Name != "counter_store" {
				t.Errorf("expected name counter_store, got %s", check.Name)
			}
			if check.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, check.Status)
			}
			if tt.expectError != (check.Error != "") {
				t.Errorf("unexpected error field %q", check.Error)
			}
		})
	}
}

func TestVisitCounter(t *testing.T) {
	vc := NewVisitCounter("I'm OK.")

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vc.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		}()
	}
	wg.Wait()

	rr := httptest.NewRecorder()
	vc.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp VisitResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Message != "I'm OK." {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.HealthCheckCount != 10 {
		t.Errorf("expected count 10, got %d", resp.HealthCheckCount)
	}
}
