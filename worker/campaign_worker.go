package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"opsvantage/engine"
)

// CampaignWorker dispatches scheduled campaigns when their send time
// arrives. The dispatcher's claim makes a double dispatch harmless, so the
// worker can run alongside manual sends.
type CampaignWorker struct {
	Dispatcher *engine.Dispatcher
	Clock      engine.Clock
	Interval   time.Duration
	Logger     *logrus.Logger
}

func NewCampaignWorker(dispatcher *engine.Dispatcher, clock engine.Clock, interval time.Duration, logger *logrus.Logger) *CampaignWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CampaignWorker{Dispatcher: dispatcher, Clock: clock, Interval: interval, Logger: logger}
}

func (w *CampaignWorker) Start(ctx context.Context) {
	w.Logger.WithField("interval", w.Interval.String()).Info("campaign worker started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("campaign worker shutting down")
			return
		case <-ticker.C:
			w.dispatchDue(ctx)
		}
	}
}

func (w *CampaignWorker) dispatchDue(ctx context.Context) {
	due, err := w.Dispatcher.DueCampaigns(w.Clock.Now(), 50)
	if err != nil {
		w.Logger.WithError(err).Error("failed to fetch due campaigns")
		return
	}
	for _, campaign := range due {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.Dispatcher.Send(campaign.ID); err != nil {
			w.Logger.WithError(err).WithField("campaign_id", campaign.ID).
				Error("failed to dispatch scheduled campaign")
		} else {
			w.Logger.WithField("campaign_id", campaign.ID).Info("scheduled campaign dispatched")
		}
	}
}
