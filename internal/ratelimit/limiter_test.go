package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startdusk/filebox/internal/config"
)

func TestLimiter_AllowAbsentKey(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	l := NewLimiter(ms)

	for _, limit := range []int64{1, 2, 5, 100} {
		assert.True(t, l.Allow(context.Background(), "never-seen", limit, FieldVisitError))
	}
}

func TestLimiter_AllowAtBoundary(t *testing.T) {
	tests := []struct {
		name  string
		count int64
		limit int64
		want  bool
	}{
		{"below limit", 2, 3, true},
		{"at limit", 3, 3, false},
		{"above limit", 4, 3, false},
		{"zero count", 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubStore{ok: true, rec: Record{UploadCount: tt.count}}
			l := NewLimiter(store, WithClock(newTestClock(noon).Now))

			assert.Equal(t, tt.want, l.Allow(context.Background(), "k", tt.limit, FieldUpload))
		})
	}
}

func TestLimiter_FieldsDoNotInterfere(t *testing.T) {
	store := &stubStore{ok: true, rec: Record{VisitErrorCount: 10, UploadCount: 0}}
	l := NewLimiter(store)

	assert.False(t, l.Allow(context.Background(), "k", 5, FieldVisitError))
	assert.True(t, l.Allow(context.Background(), "k", 5, FieldUpload))
}

func TestLimiter_ReadErrorsFailOpen(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("%w: timeout", ErrStoreUnavailable),
		fmt.Errorf("%w: bad json", ErrMalformedRecord),
	} {
		store := &stubStore{ok: true, rec: Record{VisitErrorCount: 99}, getErr: err}
		l := NewLimiter(store)

		d := l.Check(context.Background(), "k", 3, FieldVisitError)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(0), d.Count)
		assert.Equal(t, int64(3), d.Remaining)
	}
}

func TestLimiter_CheckDecision(t *testing.T) {
	resetAt := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	store := &stubStore{ok: true, rec: Record{VisitErrorCount: 2, ExpiresAt: resetAt}}
	l := NewLimiter(store, WithClock(newTestClock(noon).Now))

	d := l.Check(context.Background(), "k", 5, FieldVisitError)
	assert.Equal(t, Decision{
		Allowed:   true,
		Limit:     5,
		Count:     2,
		Remaining: 3,
		ResetAt:   resetAt,
	}, d)
}

func TestLimiter_CheckIgnoresExpiredRecord(t *testing.T) {
	store := &stubStore{ok: true, rec: Record{VisitErrorCount: 9, ExpiresAt: noon.Add(-time.Hour)}}
	l := NewLimiter(store, WithClock(newTestClock(noon).Now))

	d := l.Check(context.Background(), "k", 3, FieldVisitError)
	assert.True(t, d.Allowed)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), d.ResetAt)
}

func TestLimiter_RecordIsMonotonic(t *testing.T) {
	ms := NewMemoryStore(WithClock(newTestClock(noon).Now))
	defer ms.Close()
	l := NewLimiter(ms)

	const n = 7
	var rec Record
	var err error
	for i := 0; i < n; i++ {
		rec, err = l.Record(context.Background(), "k", FieldUpload)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(n), rec.UploadCount)
}

func TestLimiter_RecordSurfacesErrors(t *testing.T) {
	store := &stubStore{incErr: fmt.Errorf("%w: write failed", ErrStoreUnavailable)}
	l := NewLimiter(store)

	_, err := l.Record(context.Background(), "k", FieldUpload)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestLimiter_PingAndClose(t *testing.T) {
	store := &stubStore{}
	l := NewLimiter(store)

	assert.Same(t, store, l.Store())
	assert.NoError(t, l.Ping(context.Background()))
	assert.NoError(t, l.Close())
}

func TestNewStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		store, err := NewStore(context.Background(), &config.RateLimitConfig{
			Backend:        "memory",
			ResetDaysAhead: 1,
			SweepInterval:  time.Minute,
		})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewStore(context.Background(), &config.RateLimitConfig{Backend: "etcd"})
		assert.ErrorContains(t, err, "unsupported storage backend")
	})

	t.Run("redis unreachable", func(t *testing.T) {
		_, err := NewStore(context.Background(), &config.RateLimitConfig{
			Backend:   "redis",
			RedisAddr: "127.0.0.1:1",
		})
		assert.ErrorContains(t, err, "failed to create Redis store")
	})
}
