package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/startdusk/filebox/internal/circuitbreaker"
)

// BreakerStore guards a remote Store with a circuit breaker. While the
// circuit is open every call fails fast with ErrStoreUnavailable, which the
// Limiter already treats as fail-open on reads.
type BreakerStore struct {
	inner   Store
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerStore wraps inner. cfg.IsFailure is replaced so that only
// transport failures trip the breaker: a malformed record or a caller
// cancelling its own request says nothing about the backend's health.
func NewBreakerStore(name string, inner Store, cfg *circuitbreaker.Config) *BreakerStore {
	if cfg == nil {
		cfg = circuitbreaker.DefaultConfig()
	}
	c := *cfg
	c.IsFailure = isBackendFailure
	return &BreakerStore{
		inner:   inner,
		breaker: circuitbreaker.New(name, &c),
	}
}

func isBackendFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable)
}

// Get reads through the breaker.
func (b *BreakerStore) Get(ctx context.Context, key string) (rec Record, ok bool, err error) {
	err = b.breaker.Execute(func() error {
		var ierr error
		rec, ok, ierr = b.inner.Get(ctx, key)
		return ierr
	})
	return rec, ok, b.wrap(err)
}

// Increment writes through the breaker.
func (b *BreakerStore) Increment(ctx context.Context, key string, field Field) (rec Record, err error) {
	err = b.breaker.Execute(func() error {
		var ierr error
		rec, ierr = b.inner.Increment(ctx, key, field)
		return ierr
	})
	return rec, b.wrap(err)
}

// Ping bypasses the breaker so health checks see the backend's real state.
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.inner.Ping(ctx)
}

// Close closes the wrapped store.
func (b *BreakerStore) Close() error {
	return b.inner.Close()
}

// State reports the breaker state.
func (b *BreakerStore) State() circuitbreaker.State {
	return b.breaker.GetState()
}

func (b *BreakerStore) wrap(err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
