package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/adapter"
	"github.com/JakeFAU/social-monitor/internal/adapter/reddit"
	"github.com/JakeFAU/social-monitor/internal/adapter/rss"
	"github.com/JakeFAU/social-monitor/internal/adapter/telegram"
	"github.com/JakeFAU/social-monitor/internal/adapter/twitter"
	"github.com/JakeFAU/social-monitor/internal/config"
	"github.com/JakeFAU/social-monitor/internal/monitor"
	"github.com/JakeFAU/social-monitor/internal/policy/ratelimit"
)

// buildAdapters returns one adapter per enabled platform, all sharing a
// single limiter keyed by platform name.
func buildAdapters(cfg config.Config, httpClient *http.Client, logger *zap.Logger) []monitor.Adapter {
	limiter := buildLimiter(cfg)
	var adapters []monitor.Adapter
	for _, p := range monitor.KnownPlatforms() {
		pc, ok := cfg.Platform(p)
		if !ok || !pc.Enabled {
			logger.Info("platform disabled", zap.String("platform", string(p)))
			continue
		}
		client := adapter.NewClient(p, httpClient, limiter, pc.UserAgent)
		switch p {
		case monitor.PlatformTwitter:
			adapters = append(adapters, twitter.New(client, twitter.Config{BaseURL: pc.BaseURL, BearerToken: pc.Token}))
		case monitor.PlatformReddit:
			adapters = append(adapters, reddit.New(client, reddit.Config{BaseURL: pc.BaseURL, Subreddits: pc.Subreddits}))
		case monitor.PlatformTelegram:
			adapters = append(adapters, telegram.New(client, telegram.Config{BaseURL: pc.BaseURL, Channels: pc.Channels}))
		case monitor.PlatformRSS:
			adapters = append(adapters, rss.New(client, rss.Config{Feeds: pc.Feeds}))
		}
		logger.Info("platform enabled",
			zap.String("platform", string(p)),
			zap.Float64("rps", pc.RPS),
			zap.Int("max_concurrent", pc.MaxConcurrent),
		)
	}
	return adapters
}

func buildLimiter(cfg config.Config) *ratelimit.Limiter {
	limits := make(map[string]ratelimit.Limit, len(cfg.Platforms))
	for name, pc := range cfg.Platforms {
		limits[name] = ratelimit.Limit{RPS: pc.RPS, Burst: pc.Burst, MaxWait: pc.MaxWait()}
	}
	return ratelimit.New(ratelimit.Config{Platforms: limits})
}

func buildSlots(cfg config.Config) *ratelimit.Slots {
	overrides := make(map[string]int, len(cfg.Platforms))
	for name, pc := range cfg.Platforms {
		if pc.MaxConcurrent > 0 {
			overrides[name] = pc.MaxConcurrent
		}
	}
	return ratelimit.NewSlots(cfg.Crawl.Concurrency, overrides)
}
