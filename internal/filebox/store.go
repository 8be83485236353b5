package filebox

import (
	"context"
	"time"
)

// Store persists boxes.
type Store interface {
	// Create inserts b, assigning ID. It returns ErrDuplicateCode when
	// b.Code is already held by another box.
	Create(ctx context.Context, b *Box) error
	// GetByCode returns the box holding code, taken or not. Unknown codes
	// give ErrNotFound.
	GetByCode(ctx context.Context, code string) (*Box, error)
	// Take marks the box used at now and returns it. It fails with
	// ErrNotFound unless the box exists, is unexpired and was never taken,
	// so at most one caller ever succeeds per box.
	Take(ctx context.Context, code string, now time.Time) (*Box, error)
	// DeleteExpired removes every box that is taken or expired at now and
	// returns what it removed.
	DeleteExpired(ctx context.Context, now time.Time) ([]Box, error)
	Ping(ctx context.Context) error
	Close() error
}
