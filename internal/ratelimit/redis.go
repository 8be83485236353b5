package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/startdusk/filebox/internal/clock"
	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/tracing"
)

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisConfig contains configuration for Redis storage.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Atomic runs Increment as a single Lua script instead of GET then SETEX.
	Atomic bool
}

// incrementScript reads, bumps and rewrites a record in one server-side step.
// A missing or undecodable payload counts as zero.
const incrementScript = `
local rec = {visit_error_count = 0, upload_count = 0}
local raw = redis.call('GET', KEYS[1])
if raw then
  local ok, decoded = pcall(cjson.decode, raw)
  if ok and type(decoded) == 'table' then
    local v = tonumber(decoded.visit_error_count)
    local u = tonumber(decoded.upload_count)
    if v and v >= 0 then rec.visit_error_count = v end
    if u and u >= 0 then rec.upload_count = u end
  end
end
rec[ARGV[1]] = rec[ARGV[1]] + 1
local out = cjson.encode(rec)
redis.call('SETEX', KEYS[1], ARGV[2], out)
return out
`

// RedisStore keeps counters in Redis as JSON strings. The key's TTL is set
// to the seconds remaining until the reset midnight, so Redis evicts the
// record itself.
//
// In two-phase mode Increment is a GET followed by a SETEX with no
// compare-and-swap between them. Two concurrent increments of the same key
// may both read k and both write k+1. The error only ever under-counts.
// Atomic mode closes the window with a Lua script.
type RedisStore struct {
	client RedisClient
	atomic bool
	opts   storeOptions
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisStoreWithClient(client, cfg.Atomic, opts...), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client RedisClient, atomic bool, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		atomic: atomic,
		opts:   applyOptions(opts),
	}
}

// Get returns the record stored under key. A miss is (Record{}, false, nil).
func (rs *RedisStore) Get(ctx context.Context, key string) (rec Record, ok bool, err error) {
	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemRedis, "GET", attribute.String("filebox.key", key))
	defer func() { tracing.EndSpan(span, err) }()

	data, err := rs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: redis get: %w", ErrStoreUnavailable, err)
	}

	rec, err = decodeRecord(data)
	if err != nil {
		return Record{}, false, err
	}
	rec.ExpiresAt = rs.opts.nextReset(rs.opts.now())
	return rec, true, nil
}

// Increment bumps field for key and rewrites it with a fresh TTL.
func (rs *RedisStore) Increment(ctx context.Context, key string, field Field) (Record, error) {
	now := rs.opts.now()
	ttl := rs.ttl(now)

	if rs.atomic {
		return rs.incrementAtomic(ctx, key, field, now, ttl)
	}
	return rs.incrementTwoPhase(ctx, key, field, now, ttl)
}

func (rs *RedisStore) incrementTwoPhase(ctx context.Context, key string, field Field, now time.Time, ttl time.Duration) (rec Record, err error) {
	rec, _, err = rs.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMalformedRecord) {
			return Record{}, err
		}
		logger.Get().WithComponent("ratelimit.redis").Warn("overwriting malformed counter record", logger.Fields{
			"key":   key,
			"error": err,
		})
		rec = Record{}
	}
	rec.bump(field)
	rec.ExpiresAt = rs.opts.nextReset(now)

	data, err := encodeRecord(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode counter record: %w", err)
	}

	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemRedis, "SETEX", attribute.String("filebox.key", key))
	defer func() { tracing.EndSpan(span, err) }()

	if err = rs.client.SetEx(ctx, key, data, ttl).Err(); err != nil {
		return Record{}, fmt.Errorf("%w: redis setex: %w", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (rs *RedisStore) incrementAtomic(ctx context.Context, key string, field Field, now time.Time, ttl time.Duration) (rec Record, err error) {
	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemRedis, "EVAL", attribute.String("filebox.key", key))
	defer func() { tracing.EndSpan(span, err) }()

	out, err := rs.client.Eval(ctx, incrementScript, []string{key}, field.String(), int64(ttl/time.Second)).Text()
	if err != nil {
		return Record{}, fmt.Errorf("%w: redis eval: %w", ErrStoreUnavailable, err)
	}

	rec, err = decodeRecord([]byte(out))
	if err != nil {
		return Record{}, err
	}
	rec.ExpiresAt = rs.opts.nextReset(now)
	return rec, nil
}

// ttl never drops below one second; SETEX rejects zero.
func (rs *RedisStore) ttl(now time.Time) time.Duration {
	secs := clock.SecondsUntilNextMidnight(now, rs.opts.resetDays)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Ping checks if Redis is available.
func (rs *RedisStore) Ping(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
