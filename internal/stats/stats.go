// Package stats computes reporting snapshots from persisted posts and rules.
// It only reads; it never runs inline with a crawl.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// DefaultWindow is the trailing window used when none is given.
const DefaultWindow = 24 * time.Hour

// Snapshot is a point-in-time view of the monitor's stored state.
type Snapshot struct {
	GeneratedAt     time.Time                `json:"generated_at"`
	WindowHours     float64                  `json:"window_hours"`
	TotalPosts      int                      `json:"total_posts"`
	RecentPosts     int                      `json:"recent_posts"`
	PostsByPlatform map[monitor.Platform]int `json:"posts_by_platform"`
	Sentiment       monitor.SentimentCounts  `json:"sentiment"`
	ScoredPosts     int                      `json:"scored_posts"`
	TotalRules      int                      `json:"total_rules"`
	ActiveRules     int                      `json:"active_rules"`
}

// Aggregator builds snapshots.
type Aggregator struct {
	posts  monitor.PostReader
	rules  monitor.RuleStore
	clock  monitor.Clock
	band   float64
	logger *zap.Logger
}

// New returns an Aggregator using the default neutral sentiment band.
func New(posts monitor.PostReader, rules monitor.RuleStore, clock monitor.Clock, logger *zap.Logger) (*Aggregator, error) {
	if posts == nil || rules == nil || clock == nil {
		return nil, errors.New("stats: posts, rules and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{posts: posts, rules: rules, clock: clock, band: monitor.SentimentNeutralBand, logger: logger}, nil
}

// Snapshot queries the stores concurrently. window <= 0 uses DefaultWindow.
// Every known platform appears in PostsByPlatform, with zero when it has no posts.
func (a *Aggregator) Snapshot(ctx context.Context, window time.Duration) (Snapshot, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	now := a.clock.Now().UTC()
	snap := Snapshot{GeneratedAt: now, WindowHours: window.Hours()}

	var byPlatform map[monitor.Platform]int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.posts.CountPosts(gctx, time.Time{})
		if err != nil {
			return fmt.Errorf("count posts: %w", err)
		}
		snap.TotalPosts = n
		return nil
	})
	g.Go(func() error {
		n, err := a.posts.CountPosts(gctx, now.Add(-window))
		if err != nil {
			return fmt.Errorf("count recent posts: %w", err)
		}
		snap.RecentPosts = n
		return nil
	})
	g.Go(func() error {
		counts, err := a.posts.CountPostsByPlatform(gctx)
		if err != nil {
			return fmt.Errorf("count posts by platform: %w", err)
		}
		byPlatform = counts
		return nil
	})
	g.Go(func() error {
		dist, err := a.posts.SentimentDistribution(gctx, a.band)
		if err != nil {
			return fmt.Errorf("sentiment distribution: %w", err)
		}
		snap.Sentiment = dist
		return nil
	})
	g.Go(func() error {
		total, active, err := a.rules.CountRules(gctx)
		if err != nil {
			return fmt.Errorf("count rules: %w", err)
		}
		snap.TotalRules, snap.ActiveRules = total, active
		return nil
	})
	if err := g.Wait(); err != nil {
		a.logger.Warn("stats snapshot failed", zap.Error(err))
		return Snapshot{}, err
	}

	snap.PostsByPlatform = make(map[monitor.Platform]int, len(byPlatform))
	for _, p := range monitor.KnownPlatforms() {
		snap.PostsByPlatform[p] = 0
	}
	for p, n := range byPlatform {
		snap.PostsByPlatform[p] = n
	}
	snap.ScoredPosts = snap.Sentiment.Total()
	return snap, nil
}
