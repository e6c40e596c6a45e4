package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Scheduler triggers a crawl run every interval until its context ends.
// A tick that lands while a run is still active is skipped.
type Scheduler struct {
	crawler  Crawler
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler builds a Scheduler. The crawler is normally a *Serial so
// ticks and manual runs never overlap.
func NewScheduler(c Crawler, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{crawler: c, interval: interval, logger: logger}
}

// Run blocks until ctx is done. Non-positive intervals return immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.crawler.CrawlAll(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("scheduled run skipped, previous run still active")
	case err != nil:
		s.logger.Error("scheduled run failed", zap.Error(err))
	default:
		s.logger.Info("scheduled run finished",
			zap.String("run_id", res.RunID),
			zap.Int("posts_found", res.TotalPostsFound),
			zap.Int("errors", len(res.Errors)),
		)
	}
}
