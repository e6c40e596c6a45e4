package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

type blockingCrawler struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCrawler) CrawlAll(ctx context.Context) (monitor.RunResult, error) {
	close(b.entered)
	select {
	case <-b.release:
	case <-ctx.Done():
		return monitor.RunResult{Cancelled: true}, nil
	}
	return monitor.RunResult{RunID: "run-1"}, nil
}

func TestSerialRejectsOverlap(t *testing.T) {
	t.Parallel()

	inner := &blockingCrawler{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSerial(inner, 0)

	done := make(chan monitor.RunResult, 1)
	go func() {
		res, _ := s.CrawlAll(context.Background())
		done <- res
	}()
	<-inner.entered

	_, err := s.CrawlAll(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)

	close(inner.release)
	require.Equal(t, "run-1", (<-done).RunID)
}

func TestSerialAppliesRunTimeout(t *testing.T) {
	t.Parallel()

	inner := &blockingCrawler{entered: make(chan struct{}), release: make(chan struct{})}
	res, err := NewSerial(inner, 10*time.Millisecond).CrawlAll(context.Background())
	require.NoError(t, err)
	require.True(t, res.Cancelled)
}
