package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("crawl run already in progress")

// Crawler is anything that executes a crawl pass.
type Crawler interface {
	CrawlAll(ctx context.Context) (monitor.RunResult, error)
}

// Serial refuses overlapping runs. The scheduler and the API share one
// Serial so a manual run never races a scheduled one.
type Serial struct {
	next    Crawler
	timeout time.Duration
	mu      sync.Mutex
}

// NewSerial wraps next. timeout > 0 bounds each run; the run then reports
// the unfinished dispatches as cancelled.
func NewSerial(next Crawler, timeout time.Duration) *Serial {
	return &Serial{next: next, timeout: timeout}
}

// CrawlAll runs next unless a run is already active.
func (s *Serial) CrawlAll(ctx context.Context) (monitor.RunResult, error) {
	if !s.mu.TryLock() {
		return monitor.RunResult{}, ErrRunInProgress
	}
	defer s.mu.Unlock()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.next.CrawlAll(ctx)
}
