package filebox

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/startdusk/filebox/internal/clock"
	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/metrics"
)

// Sweeper periodically deletes taken and expired boxes and their files.
type Sweeper struct {
	store      Store
	uploadPath string
	interval   time.Duration
	now        clock.Func
	log        *logger.ComponentLogger

	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewSweeper creates a sweeper. now may be nil.
func NewSweeper(store Store, uploadPath string, interval time.Duration, now clock.Func) *Sweeper {
	if now == nil {
		now = clock.Local
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:      store,
		uploadPath: uploadPath,
		interval:   interval,
		now:        now,
		log:        logger.Get().WithComponent("filebox.sweeper"),
		stopCh:     make(chan struct{}),
	}
}

// Start runs the sweep loop in the background until Stop.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			_, _ = s.RunOnce(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce deletes reclaimable boxes and their stored files.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	removed, err := s.store.DeleteExpired(ctx, s.now())
	metrics.RecordSweep(len(removed), err)
	if err != nil {
		s.log.Error("filebox sweep failed", logger.Fields{"error": err})
		return 0, err
	}

	for _, b := range removed {
		if b.FileType != FileTypeFile || b.FilePath == "" {
			continue
		}
		// Files live in their own directory; never remove the upload root.
		target := filepath.Join(s.uploadPath, b.FilePath)
		if rel := filepath.Dir(filepath.Clean(b.FilePath)); rel != "." && rel != string(filepath.Separator) {
			target = filepath.Join(s.uploadPath, rel)
		}
		if err := os.RemoveAll(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("failed to remove stored file", logger.Fields{
				"path":  target,
				"error": err,
			})
		}
	}

	if len(removed) > 0 {
		s.log.Info("filebox sweep finished", logger.Fields{"removed": len(removed)})
	}
	return len(removed), nil
}
