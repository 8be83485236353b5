package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/startdusk/filebox/internal/circuitbreaker"
	"github.com/startdusk/filebox/internal/config"
	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/metrics"
)

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	Limit   int64
	// Count is the counter value seen by the check. It is zero when the
	// record was absent or could not be read.
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter applies daily limits on top of a Store. It never decides when to
// record; that belongs to the Gate wrapping each route.
type Limiter struct {
	store Store
	opts  storeOptions
	log   *logger.ComponentLogger
}

// NewLimiter creates a limiter over store. Only WithClock and WithResetDays
// affect the limiter itself.
func NewLimiter(store Store, opts ...Option) *Limiter {
	return &Limiter{
		store: store,
		opts:  applyOptions(opts),
		log:   logger.Get().WithComponent("ratelimit"),
	}
}

// Allow reports whether key may proceed under limit for field.
func (l *Limiter) Allow(ctx context.Context, key string, limit int64, field Field) bool {
	return l.Check(ctx, key, limit, field).Allowed
}

// Check reads the record for key and compares field against limit. A
// missing record, or one that could not be read for any reason, is allowed.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, field Field) Decision {
	start := time.Now()
	now := l.opts.now()

	d := Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit,
		ResetAt:   l.opts.nextReset(now),
	}

	rec, ok, err := l.store.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordRateLimitError("get")
		l.log.Warn("counter read failed, allowing request", logger.Fields{
			"key":   key,
			"field": field.String(),
			"error": err,
		})
	case ok && !rec.Expired(now):
		d.Count = rec.Count(field)
		d.Allowed = d.Count < limit
		d.Remaining = max(limit-d.Count, 0)
		if !rec.ExpiresAt.IsZero() {
			d.ResetAt = rec.ExpiresAt
		}
	}

	metrics.RecordRateLimitCheck(field.String(), d.Allowed, time.Since(start))
	return d
}

// Record increments field for key. Errors are returned to the caller.
func (l *Limiter) Record(ctx context.Context, key string, field Field) (Record, error) {
	rec, err := l.store.Increment(ctx, key, field)
	metrics.RecordRateLimitRecord(field.String(), err)
	if err != nil {
		return Record{}, fmt.Errorf("record %s for %s: %w", field, key, err)
	}
	return rec, nil
}

// Store returns the underlying store.
func (l *Limiter) Store() Store {
	return l.store
}

// Ping checks if the storage backend is available.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Close closes the limiter and releases resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}

// NewStore builds the Store selected by cfg.Backend. Remote backends are
// wrapped in a BreakerStore when cfg.Breaker.Enabled is set.
func NewStore(ctx context.Context, cfg *config.RateLimitConfig, opts ...Option) (Store, error) {
	opts = append([]Option{
		WithResetDays(cfg.ResetDaysAhead),
		WithSweepInterval(cfg.SweepInterval),
	}, opts...)

	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(opts...), nil
	case "redis":
		store, err = NewRedisStore(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Atomic:   cfg.RedisAtomic,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis store: %w", err)
		}
	case "dynamodb":
		store, err = NewDynamoDBStore(ctx, cfg.DynamoDBTable, cfg.DynamoDBRegion, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create DynamoDB store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}

	if !cfg.Breaker.Enabled {
		return store, nil
	}
	return NewBreakerStore("ratelimit-"+cfg.Backend, store, &circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
		MaxRequests:      cfg.Breaker.MaxRequests,
	}), nil
}

// IsUnavailable reports whether err came from an unreachable backend.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
