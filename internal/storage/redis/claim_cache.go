// Package redis fronts a post store with a Redis cache of claimed
// (platform, external id) keys so repeat sightings skip the database.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

const (
	keyPrefix   = "socialmon:post:"
	idKeyPrefix = "socialmon:post-id:"
)

// DefaultTTL bounds how long a claimed key stays cached.
const DefaultTTL = 7 * 24 * time.Hour

// ClaimCache implements monitor.PostStore. Claim consults Redis first and
// falls back to the wrapped store. RecordEvidence evicts the entry of a post
// the wrapped store no longer has, so the next claim reaches the store again.
// Every other call passes straight through. Redis failures are logged and
// never fail a claim.
type ClaimCache struct {
	monitor.PostStore
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewClaimCache wraps next. A non-positive ttl selects DefaultTTL.
func NewClaimCache(next monitor.PostStore, client *goredis.Client, ttl time.Duration, logger *zap.Logger) *ClaimCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimCache{PostStore: next, client: client, ttl: ttl, logger: logger}
}

// Key returns the Redis key of a post identity.
func Key(platform monitor.Platform, externalID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, platform, externalID)
}

// Claim returns the cached post when the identity was claimed before,
// otherwise claims through the wrapped store and caches the stored row.
func (c *ClaimCache) Claim(ctx context.Context, post monitor.Post) (monitor.Post, bool, error) {
	key := Key(post.Platform, post.ExternalID)
	if cached, ok := c.lookup(ctx, key); ok {
		return cached, false, nil
	}
	stored, created, err := c.PostStore.Claim(ctx, post)
	if err != nil {
		return monitor.Post{}, false, err
	}
	c.remember(ctx, key, stored)
	return stored, created, nil
}

// RecordEvidence writes through to the wrapped store. When the post row is
// missing there, its cache entry is dropped before the error is returned.
func (c *ClaimCache) RecordEvidence(ctx context.Context, postID, ruleID string, evidence []monitor.Evidence) (int, error) {
	n, err := c.PostStore.RecordEvidence(ctx, postID, ruleID, evidence)
	if errors.Is(err, monitor.ErrNotFound) {
		c.forget(ctx, postID)
	}
	return n, err
}

func (c *ClaimCache) lookup(ctx context.Context, key string) (monitor.Post, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("claim cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		return monitor.Post{}, false
	}
	var post monitor.Post
	if err := json.Unmarshal(raw, &post); err != nil {
		c.logger.Warn("claim cache entry corrupt", zap.String("key", key), zap.Error(err))
		return monitor.Post{}, false
	}
	return post, true
}

func (c *ClaimCache) remember(ctx context.Context, key string, post monitor.Post) {
	raw, err := json.Marshal(post)
	if err != nil {
		return
	}
	_, err = c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.SetNX(ctx, key, raw, c.ttl)
		p.Set(ctx, idKeyPrefix+post.ID, key, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("claim cache store failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *ClaimCache) forget(ctx context.Context, postID string) {
	idKey := idKeyPrefix + postID
	key, err := c.client.Get(ctx, idKey).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("claim cache eviction lookup failed", zap.String("post_id", postID), zap.Error(err))
		}
		return
	}
	if err := c.client.Del(ctx, key, idKey).Err(); err != nil {
		c.logger.Warn("claim cache eviction failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Info("evicted claim of missing post", zap.String("key", key), zap.String("post_id", postID))
}
