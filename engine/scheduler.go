package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Scheduler drains due sequence enrollments with a fixed pool of workers.
// Every step claim goes through SequenceEngine.Advance, so overlapping runs
// and redundant deliveries collapse into no-ops or benign conflicts.
type Scheduler struct {
	Engine  *SequenceEngine
	Logger  *logrus.Logger
	Workers int
	Batch   int
}

func NewScheduler(engine *SequenceEngine, logger *logrus.Logger, workers, batch int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	if batch <= 0 {
		batch = 100
	}
	return &Scheduler{Engine: engine, Logger: logger, Workers: workers, Batch: batch}
}

// RunOnce picks up one batch of due enrollments and advances each. It
// returns the number of enrollments that actually moved. Lost claim races
// and steps that went stale mid-batch are not errors.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.Engine.DueEnrollments(s.Engine.Clock.Now(), s.Batch)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	ids := make(chan uint)
	var processed int64
	var wg sync.WaitGroup
	for i := 0; i < s.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				if err := s.Engine.Advance(id); err != nil {
					if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
						continue
					}
					sentry.CaptureException(err)
					s.Logger.WithError(err).WithField("enrollment_id", id).
						Error("failed to advance enrollment")
					continue
				}
				atomic.AddInt64(&processed, 1)
			}
		}()
	}

feed:
	for _, enrollment := range due {
		select {
		case <-ctx.Done():
			break feed
		case ids <- enrollment.ID:
		}
	}
	close(ids)
	wg.Wait()

	if n := atomic.LoadInt64(&processed); n > 0 {
		s.Logger.WithFields(logrus.Fields{
			"due":       len(due),
			"processed": n,
		}).Info("sequence scheduler pass complete")
	}
	return int(atomic.LoadInt64(&processed)), ctx.Err()
}
