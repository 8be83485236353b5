package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/startdusk/filebox/internal/clock"
)

var (
	// ErrStoreUnavailable wraps transport failures talking to a backend.
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrMalformedRecord is returned when a stored payload cannot be decoded.
	ErrMalformedRecord = errors.New("malformed counter record")
)

// Store keeps per-key daily counters.
//
// Get returns (Record{}, false, nil) for a missing or expired key. Increment
// reads the current record, treating a missing, expired or malformed one as
// zero, adds one to field, moves ExpiresAt to the next reset midnight and
// persists the result. Increment errors must be surfaced to the caller.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Increment(ctx context.Context, key string, field Field) (Record, error)
	Ping(ctx context.Context) error
	Close() error
}

const defaultSweepInterval = time.Minute

type storeOptions struct {
	now           clock.Func
	resetDays     int
	sweepInterval time.Duration
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		now:           clock.Local,
		resetDays:     1,
		sweepInterval: defaultSweepInterval,
	}
}

// Option customises a Store or Limiter.
type Option func(*storeOptions)

// WithClock replaces the wall clock.
func WithClock(now clock.Func) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithResetDays sets how many calendar days ahead counters reset. Values
// below one are ignored.
func WithResetDays(days int) Option {
	return func(o *storeOptions) {
		if days >= 1 {
			o.resetDays = days
		}
	}
}

// WithSweepInterval sets how often MemoryStore drops expired entries.
func WithSweepInterval(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

func applyOptions(opts []Option) storeOptions {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// nextReset returns the instant at which a record written at now expires.
func (o storeOptions) nextReset(now time.Time) time.Time {
	return clock.NextMidnight(now, o.resetDays)
}
