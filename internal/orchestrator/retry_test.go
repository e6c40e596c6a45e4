package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(1)
	require.Equal(t, 2, p.MaxAttempts())
	transient := monitor.NewFetchError(monitor.PlatformTwitter, monitor.FetchTransient, errors.New("502"))

	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(transient, 1))
	require.True(t, p.ShouldRetry(fmt.Errorf("page 3: %w", errors.New("connection reset")), 1))
	require.False(t, p.ShouldRetry(transient, 2))
	require.False(t, p.ShouldRetry(monitor.NewFetchError(monitor.PlatformTwitter, monitor.FetchRateLimited, nil), 1))
	require.False(t, p.ShouldRetry(monitor.NewFetchError(monitor.PlatformReddit, monitor.FetchPermanent, nil), 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))

	require.Equal(t, 1, NewRetryPolicy(-3).MaxAttempts())
}

func TestCursors(t *testing.T) {
	t.Parallel()

	c := NewCursors()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, now.Add(-time.Hour), c.Since("r1", monitor.PlatformRSS, now, time.Hour))
	require.True(t, c.Since("r1", monitor.PlatformRSS, now, 0).IsZero())

	c.Advance("r1", monitor.PlatformRSS, now)
	c.Advance("r1", monitor.PlatformRSS, now.Add(-time.Minute))
	require.Equal(t, now, c.Since("r1", monitor.PlatformRSS, now.Add(time.Hour), time.Hour))
	require.Equal(t, now, c.Since("r1", monitor.PlatformRSS, now, 0))
	require.Equal(t, now.Add(-time.Hour), c.Since("r1", monitor.PlatformTwitter, now, time.Hour))
}
