// Package circuitbreaker implements a closed/open/half-open breaker used to
// stop hammering a remote dependency that keeps failing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/metrics"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed means requests are allowed
	StateClosed State = iota
	// StateOpen means requests are blocked
	StateOpen
	// StateHalfOpen means limited requests are allowed to test recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the protected function while
// the breaker is open or the half-open probe budget is spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in half-open before closing
	SuccessThreshold int
	// Timeout is how long to wait in open state before trying half-open
	Timeout time.Duration
	// MaxRequests is the maximum number of requests allowed in half-open state
	MaxRequests int
	// IsFailure classifies an error returned by the protected call. Nil
	// means every non-nil error counts.
	IsFailure func(error) bool
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxRequests:      3,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name             string
	config           *Config
	now              func() time.Time
	state            State
	failures         int
	successes        int
	lastStateChange  time.Time
	halfOpenRequests int
	mu               sync.RWMutex
	logger           *logger.ComponentLogger
}

// New creates a new circuit breaker
func New(name string, config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	cb := &CircuitBreaker{
		name:            name,
		config:          config,
		now:             now,
		state:           StateClosed,
		lastStateChange: now(),
		logger:          logger.Get().WithComponent("circuitbreaker"),
	}
	metrics.SetCircuitBreakerState(name, int(StateClosed))
	return cb
}

// Name returns the breaker name used in logs and metrics.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the circuit is open and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenRequests = 1
		return nil

	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenRequests++
		return nil

	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.isFailure(err) {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}

	case StateHalfOpen:
		// Any failure in half-open goes back to open
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successes++

	switch cb.state {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.failures = 0
			cb.halfOpenRequests = 0
		}
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	metrics.SetCircuitBreakerState(cb.name, int(newState))
	metrics.RecordCircuitBreakerTransition(cb.name, oldState.String(), newState.String())

	cb.logger.Info("circuit breaker state changed", logger.Fields{
		"name":      cb.name,
		"old_state": oldState.String(),
		"new_state": newState.String(),
		"failures":  cb.failures,
		"successes": cb.successes,
	})
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

