package filebox

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps boxes in process. Used for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	boxes  map[string]*Box
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boxes: make(map[string]*Box)}
}

func (s *MemoryStore) Create(ctx context.Context, b *Box) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boxes[b.Code]; ok {
		return ErrDuplicateCode
	}
	s.nextID++
	b.ID = s.nextID

	stored := *b
	s.boxes[b.Code] = &stored
	return nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boxes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBox(b), nil
}

func (s *MemoryStore) Take(ctx context.Context, code string, now time.Time) (*Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boxes[code]
	if !ok || b.Taken() || b.Expired(now) {
		return nil, ErrNotFound
	}
	usedAt := now
	b.UsedAt = &usedAt
	return copyBox(b), nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) ([]Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Box
	for code, b := range s.boxes {
		if b.Reclaimable(now) {
			removed = append(removed, *copyBox(b))
			delete(s.boxes, code)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyBox(b *Box) *Box {
	c := *b
	if b.UsedAt != nil {
		u := *b.UsedAt
		c.UsedAt = &u
	}
	return &c
}
