package filebox

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/startdusk/filebox/internal/config"
	"github.com/startdusk/filebox/internal/logger"
)

func init() {
	logger.Init(logger.ErrorLevel, "json", io.Discard)
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBoxConfig(t *testing.T) config.BoxConfig {
	t.Helper()
	cfg := config.Default().Box
	cfg.UploadPath = t.TempDir()
	return cfg
}

// sequenceCodes returns codes in order, then repeats the last one.
func sequenceCodes(codes ...string) func(int) (string, error) {
	var mu sync.Mutex
	i := 0
	return func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[min(i, len(codes)-1)]
		i++
		return c, nil
	}
}
