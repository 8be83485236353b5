package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process. A single mutex covers the whole
// map so Get and Increment are atomic per key and no update is lost.
// Expired entries are dropped lazily on access and by a background sweep.
type MemoryStore struct {
	opts storeOptions

	mu      sync.Mutex
	records map[string]Record

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMemoryStore creates an in-process store and starts its sweeper.
func NewMemoryStore(opts ...Option) *MemoryStore {
	ms := &MemoryStore{
		opts:    applyOptions(opts),
		records: make(map[string]Record),
		stopCh:  make(chan struct{}),
	}

	ms.wg.Add(1)
	go ms.cleanupLoop()

	return ms
}

// Get returns the live record for key.
func (ms *MemoryStore) Get(ctx context.Context, key string) (Record, bool, error) {
	now := ms.opts.now()

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[key]
	if !ok {
		return Record{}, false, nil
	}
	if rec.Expired(now) {
		delete(ms.records, key)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Increment bumps field for key and returns the new record.
func (ms *MemoryStore) Increment(ctx context.Context, key string, field Field) (Record, error) {
	now := ms.opts.now()

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[key]
	if !ok || rec.Expired(now) {
		rec = Record{}
	}
	rec.bump(field)
	rec.ExpiresAt = ms.opts.nextReset(now)
	ms.records[key] = rec

	return rec, nil
}

// Ping always succeeds.
func (ms *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the sweeper. It is safe to call more than once.
func (ms *MemoryStore) Close() error {
	ms.closeOnce.Do(func() {
		close(ms.stopCh)
	})
	ms.wg.Wait()
	return nil
}

// Len returns the number of entries held, expired or not.
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.records)
}

func (ms *MemoryStore) cleanupLoop() {
	defer ms.wg.Done()

	ticker := time.NewTicker(ms.opts.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.cleanup()
		case <-ms.stopCh:
			return
		}
	}
}

func (ms *MemoryStore) cleanup() int {
	now := ms.opts.now()

	ms.mu.Lock()
	defer ms.mu.Unlock()

	removed := 0
	for key, rec := range ms.records {
		if rec.Expired(now) {
			delete(ms.records, key)
			removed++
		}
	}
	return removed
}
