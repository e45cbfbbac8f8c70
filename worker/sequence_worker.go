package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"opsvantage/engine"
)

// SequenceWorker runs the sequence scheduler on a fixed interval. Because a
// step advance is claimed with a versioned update, overlapping passes and a
// concurrent synchronous run through the ops endpoint are safe.
type SequenceWorker struct {
	Scheduler *engine.Scheduler
	Interval  time.Duration
	Logger    *logrus.Logger
}

func NewSequenceWorker(scheduler *engine.Scheduler, interval time.Duration, logger *logrus.Logger) *SequenceWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SequenceWorker{Scheduler: scheduler, Interval: interval, Logger: logger}
}

func (w *SequenceWorker) Start(ctx context.Context) {
	w.Logger.WithField("interval", w.Interval.String()).Info("sequence worker started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("sequence worker shutting down")
			return
		case <-ticker.C:
			if _, err := w.Scheduler.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.Logger.WithError(err).Error("sequence scheduler pass failed")
			}
		}
	}
}
