package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startdusk/filebox/internal/circuitbreaker"
)

func breakerConfig() *circuitbreaker.Config {
	return &circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		MaxRequests:      1,
	}
}

func TestBreakerStore_OpensOnTransportFailures(t *testing.T) {
	inner := &stubStore{getErr: fmt.Errorf("%w: boom", ErrStoreUnavailable)}
	bs := NewBreakerStore("test-open", inner, breakerConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := bs.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	}
	assert.Equal(t, circuitbreaker.StateOpen, bs.State())

	_, _, err := bs.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, inner.gets, "open circuit must not reach the backend")
}

func TestBreakerStore_IgnoresMalformedAndCancelled(t *testing.T) {
	inner := &stubStore{getErr: ErrMalformedRecord}
	bs := NewBreakerStore("test-malformed", inner, breakerConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, _ = bs.Get(ctx, "k")
	}
	assert.Equal(t, circuitbreaker.StateClosed, bs.State())

	inner.getErr = fmt.Errorf("%w: %w", ErrStoreUnavailable, context.Canceled)
	for i := 0; i < 5; i++ {
		_, _, _ = bs.Get(ctx, "k")
	}
	assert.Equal(t, circuitbreaker.StateClosed, bs.State())
}

func TestBreakerStore_IncrementPassesThrough(t *testing.T) {
	inner := &stubStore{}
	bs := NewBreakerStore("test-inc", inner, nil)

	rec, err := bs.Increment(context.Background(), "k", FieldUpload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.UploadCount)
	assert.Equal(t, 1, inner.incrementCount(FieldUpload))

	inner.incErr = errors.New("plain error")
	_, err = bs.Increment(context.Background(), "k", FieldUpload)
	assert.EqualError(t, err, "plain error")
}

func TestBreakerStore_PingBypassesBreaker(t *testing.T) {
	inner := &stubStore{getErr: fmt.Errorf("%w: down", ErrStoreUnavailable)}
	bs := NewBreakerStore("test-ping", inner, breakerConfig())

	for i := 0; i < 3; i++ {
		_, _, _ = bs.Get(context.Background(), "k")
	}
	require.Equal(t, circuitbreaker.StateOpen, bs.State())

	inner.getErr = nil
	assert.NoError(t, bs.Ping(context.Background()))
	assert.NoError(t, bs.Close())
}
