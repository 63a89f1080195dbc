// Package scheduler runs the worker's periodic sweeps.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// sweepBatchSize bounds how many rows one sweep picks up; anything left over
// is caught by the next tick.
const sweepBatchSize = 200

type DueDispatcher interface {
	DispatchDue(ctx context.Context, now time.Time, limit int) (int, error)
}

type RetrySweeper interface {
	SweepDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// Scheduler drives the scheduled-notification and retry sweeps on a
// one-minute cadence.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher DueDispatcher
	retries    RetrySweeper
	logger     *zap.Logger
}

func NewScheduler(dispatcher DueDispatcher, retries RetrySweeper, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		dispatcher: dispatcher,
		retries:    retries,
		logger:     logger,
	}
}

func (s *Scheduler) Start() {
	s.cron.AddFunc("@every 1m", s.sweepScheduled)
	s.cron.AddFunc("@every 1m", s.sweepRetries)
	s.cron.Start()
	s.logger.Info("scheduler started")
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	// Let in-flight sweeps finish.
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) sweepScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
	defer cancel()

	count, err := s.dispatcher.DispatchDue(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		s.logger.Error("scheduled-notification sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("dispatched due notifications", zap.Int("count", count))
	}
}

func (s *Scheduler) sweepRetries() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
	defer cancel()

	count, err := s.retries.SweepDue(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		s.logger.Error("retry sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("swept due retries", zap.Int("count", count))
	}
}
