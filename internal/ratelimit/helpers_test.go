package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/startdusk/filebox/internal/logger"
)

func init() {
	logger.Init(logger.ErrorLevel, "json", io.Discard)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// noon is a mid-day instant well away from any reset boundary.
var noon = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// stubStore is a Store whose results are set per test.
type stubStore struct {
	mu sync.Mutex

	rec    Record
	ok     bool
	getErr error
	incErr error

	gets       int
	increments map[Field]int
}

func (s *stubStore) Get(ctx context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	return s.rec, s.ok, s.getErr
}

func (s *stubStore) Increment(ctx context.Context, key string, field Field) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.increments == nil {
		s.increments = make(map[Field]int)
	}
	s.increments[field]++
	if s.incErr != nil {
		return Record{}, s.incErr
	}
	s.rec.bump(field)
	s.ok = true
	return s.rec, nil
}

func (s *stubStore) Ping(ctx context.Context) error { return s.getErr }

func (s *stubStore) Close() error { return nil }

func (s *stubStore) incrementCount(f Field) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.increments[f]
}
