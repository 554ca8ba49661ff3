package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Aborter stops the conversion of a task that is about to be swept.
type Aborter interface {
	Abort(id string)
}

// Sweeper deletes tasks and their working directories once they expire.
type Sweeper struct {
	store     Store
	workDir   string
	interval  time.Duration
	aborter   Aborter
	logger    *zap.Logger
	now       func() time.Time
	removeAll func(path string) error
}

func NewSweeper(store Store, workDir string, interval time.Duration, aborter Aborter, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		workDir:   workDir,
		interval:  interval,
		aborter:   aborter,
		logger:    logger.Named("sweeper"),
		now:       time.Now,
		removeAll: os.RemoveAll,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expired tasks removed", zap.Int("count", n))
	}
}

// Sweep removes every task that expired before now and returns how many
// records were deleted. A failure on one task is logged and the sweep moves
// on; a task whose directory could not be removed keeps its record.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, t := range expired {
		log := s.logger.With(zap.String("task_id", t.ID))
		if s.aborter != nil {
			s.aborter.Abort(t.ID)
		}

		if t.ID != "" && filepath.Base(t.ID) == t.ID {
			dir := filepath.Join(s.workDir, t.ID)
			if err := s.removeAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
				// Keep the record so the next sweep retries the directory.
				log.Warn("failed to remove task directory", zap.String("dir", dir), zap.Error(err))
				continue
			}
		} else {
			log.Warn("refusing to remove directory for malformed task id")
		}

		if err := s.store.Delete(ctx, t.ID); err != nil {
			log.Error("failed to delete expired task", zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
