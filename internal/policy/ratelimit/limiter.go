// Package ratelimit implements per-platform token buckets and concurrency caps.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/social-monitor/internal/metrics"
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// Limit configures one platform's bucket.
type Limit struct {
	// RPS is the sustained request rate; <= 0 disables throttling.
	RPS   float64
	Burst int
	// MaxWait bounds how long Wait may sleep for a token. A request that
	// would need longer fails with monitor.ErrRateLimited.
	MaxWait time.Duration
}

// Limiter manages per-platform token buckets.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	limits    map[string]Limit
	def       Limit
	observeFn func(key string, d time.Duration)
}

// Config holds rate limiter configuration.
type Config struct {
	Default   Limit
	Platforms map[string]Limit
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limits := make(map[string]Limit, len(cfg.Platforms))
	for k, v := range cfg.Platforms {
		limits[k] = v
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		limits:    limits,
		def:       cfg.Default,
		observeFn: metrics.ObserveRateLimitDelay,
	}
}

func (l *Limiter) bucket(key string) (*rate.Limiter, Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limits[key]
	if !ok {
		lim = l.def
	}
	limiter, exists := l.limiters[key]
	if !exists {
		r := rate.Limit(lim.RPS)
		if lim.RPS <= 0 {
			r = rate.Inf
		}
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(r, burst)
		l.limiters[key] = limiter
	}
	return limiter, lim
}

// Wait takes a token for key, sleeping at most the configured MaxWait.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	limiter, lim := l.bucket(key)
	res := limiter.Reserve()
	if !res.OK() {
		return fmt.Errorf("%w: %s bucket cannot grant a token", monitor.ErrRateLimited, key)
	}
	delay := res.Delay()
	if delay == 0 {
		return nil
	}
	if delay > lim.MaxWait {
		res.Cancel()
		return fmt.Errorf("%w: %s needs %s, max wait %s", monitor.ErrRateLimited, key, delay.Round(time.Millisecond), lim.MaxWait)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		res.Cancel()
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
	}
	if l.observeFn != nil {
		l.observeFn(key, delay)
	}
	return nil
}

// Slots caps the number of concurrent dispatches per platform.
type Slots struct {
	mu     sync.Mutex
	sems   map[string]*semaphore.Weighted
	limits map[string]int
	def    int
}

// NewSlots builds a concurrency cap; def applies to platforms without an
// override and values <= 0 mean one slot.
func NewSlots(def int, overrides map[string]int) *Slots {
	limits := make(map[string]int, len(overrides))
	for k, v := range overrides {
		limits[k] = v
	}
	return &Slots{sems: make(map[string]*semaphore.Weighted), limits: limits, def: def}
}

// Acquire blocks until a slot for key is free or ctx is done.
func (s *Slots) Acquire(ctx context.Context, key string) (func(), error) {
	sem := s.semaphore(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s slot: %w", key, err)
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

func (s *Slots) semaphore(key string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[key]
	if !ok {
		n, ok := s.limits[key]
		if !ok || n <= 0 {
			n = s.def
		}
		if n <= 0 {
			n = 1
		}
		sem = semaphore.NewWeighted(int64(n))
		s.sems[key] = sem
	}
	return sem
}
