package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-monitor/internal/clock/fake"
	"github.com/JakeFAU/social-monitor/internal/monitor"
	"github.com/JakeFAU/social-monitor/internal/storage/memory"
)

type countingStore struct {
	monitor.PostStore
	claims int
	purged map[string]bool
}

func (s *countingStore) RecordEvidence(ctx context.Context, postID, ruleID string, evidence []monitor.Evidence) (int, error) {
	if s.purged[postID] {
		return 0, fmt.Errorf("%w: post %s: %w", monitor.ErrStorage, postID, monitor.ErrNotFound)
	}
	return s.PostStore.RecordEvidence(ctx, postID, ruleID, evidence)
}

func (s *countingStore) Claim(ctx context.Context, post monitor.Post) (monitor.Post, bool, error) {
	s.claims++
	return s.PostStore.Claim(ctx, post)
}

func setup(t *testing.T) (*ClaimCache, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inner := &countingStore{
		PostStore: memory.NewStore(fake.New(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))),
		purged:    map[string]bool{},
	}
	return NewClaimCache(inner, client, time.Hour, nil), inner, mr
}

func post(id, externalID string) monitor.Post {
	return monitor.Post{
		ID:             id,
		Platform:       monitor.PlatformReddit,
		ExternalID:     externalID,
		Author:         "alice",
		Content:        "bitcoin",
		FirstMatchedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestClaimCachesStoredPost(t *testing.T) {
	t.Parallel()

	cache, inner, mr := setup(t)
	ctx := context.Background()

	stored, created, err := cache.Claim(ctx, post("p1", "abc"))
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, mr.Exists(Key(monitor.PlatformReddit, "abc")))
	require.Equal(t, time.Hour, mr.TTL(Key(monitor.PlatformReddit, "abc")))

	again, created, err := cache.Claim(ctx, post("p2", "abc"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, stored, again)
	require.Equal(t, 1, inner.claims)

	n, err := cache.CountPosts(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestClaimFallsBackWhenRedisDown(t *testing.T) {
	t.Parallel()

	cache, inner, mr := setup(t)
	ctx := context.Background()
	mr.Close()

	_, created, err := cache.Claim(ctx, post("p1", "abc"))
	require.NoError(t, err)
	require.True(t, created)

	stored, created, err := cache.Claim(ctx, post("p2", "abc"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "p1", stored.ID)
	require.Equal(t, 2, inner.claims)
}

func TestClaimIgnoresCorruptEntry(t *testing.T) {
	t.Parallel()

	cache, inner, mr := setup(t)
	require.NoError(t, mr.Set(Key(monitor.PlatformReddit, "abc"), "not json"))

	_, created, err := cache.Claim(context.Background(), post("p1", "abc"))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 1, inner.claims)
}

func TestClaimPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	cache, _, mr := setup(t)
	_, _, err := cache.Claim(context.Background(), post("p1", ""))
	require.ErrorIs(t, err, monitor.ErrStorage)
	require.False(t, mr.Exists(Key(monitor.PlatformReddit, "")))
}

func TestClaimKeepsFirstCachedPost(t *testing.T) {
	t.Parallel()

	cache, _, mr := setup(t)
	ctx := context.Background()
	key := Key(monitor.PlatformReddit, "abc")

	cache.remember(ctx, key, post("p1", "abc"))
	cache.remember(ctx, key, post("p2", "abc"))

	cached, ok := cache.lookup(ctx, key)
	require.True(t, ok)
	require.Equal(t, "p1", cached.ID)
	require.Equal(t, time.Hour, mr.TTL(key))
	require.True(t, mr.Exists(idKeyPrefix+"p1"))
}

func TestRecordEvidenceEvictsMissingPost(t *testing.T) {
	t.Parallel()

	cache, inner, mr := setup(t)
	ctx := context.Background()
	key := Key(monitor.PlatformReddit, "abc")

	stored, _, err := cache.Claim(ctx, post("p1", "abc"))
	require.NoError(t, err)
	evidence := []monitor.Evidence{{Term: "bitcoin", Kind: monitor.MatchKeyword}}
	n, err := cache.RecordEvidence(ctx, stored.ID, "rule-1", evidence)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, mr.Exists(key))

	inner.purged[stored.ID] = true
	_, err = cache.RecordEvidence(ctx, stored.ID, "rule-1", evidence)
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.False(t, mr.Exists(key))
	require.False(t, mr.Exists(idKeyPrefix+stored.ID))

	_, _, err = cache.Claim(ctx, post("p2", "abc"))
	require.NoError(t, err)
	require.Equal(t, 2, inner.claims)
}
