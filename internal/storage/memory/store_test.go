package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-monitor/internal/clock/fake"
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newRule(id string, priority int, active bool, created time.Time) monitor.Rule {
	return monitor.Rule{
		ID:        id,
		Name:      "rule " + id,
		Platforms: []monitor.Platform{monitor.PlatformTwitter},
		Keywords:  []string{"btc"},
		Priority:  priority,
		Active:    active,
		CreatedAt: created,
	}
}

func TestRuleOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(fake.New(t0))
	require.NoError(t, s.CreateRule(ctx, newRule("late-p1", 1, true, t0.Add(time.Hour))))
	require.NoError(t, s.CreateRule(ctx, newRule("p3", 3, true, t0)))
	require.NoError(t, s.CreateRule(ctx, newRule("early-p1", 1, true, t0)))
	require.NoError(t, s.CreateRule(ctx, newRule("same-time-p1", 1, true, t0)))
	require.NoError(t, s.CreateRule(ctx, newRule("inactive", 1, false, t0)))

	active, err := s.ListActiveRules(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"early-p1", "same-time-p1", "late-p1", "p3"}, ids)

	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)

	total, activeCount, err := s.CountRules(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Equal(t, 4, activeCount)
}

func TestRuleCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(nil)
	rule := newRule("r1", 2, true, t0)
	rule.Filters = map[string]any{"subreddits": []any{"bitcoin"}}
	require.NoError(t, s.CreateRule(ctx, rule))
	require.Error(t, s.CreateRule(ctx, rule))

	got, err := s.GetRule(ctx, "r1")
	require.NoError(t, err)
	got.Keywords[0] = "mutated"
	again, err := s.GetRule(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "btc", again.Keywords[0])

	again.Active = false
	require.NoError(t, s.UpdateRule(ctx, again))
	active, err := s.ListActiveRules(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	require.NoError(t, s.DeleteRule(ctx, "r1"))
	_, err = s.GetRule(ctx, "r1")
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.ErrorIs(t, s.DeleteRule(ctx, "r1"), monitor.ErrNotFound)
	require.ErrorIs(t, s.UpdateRule(ctx, again), monitor.ErrNotFound)
}

func TestClaimDeduplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(nil)
	first := monitor.Post{ID: "p1", Platform: monitor.PlatformReddit, ExternalID: "abc", Content: "first", FirstMatchedAt: t0}
	stored, created, err := s.Claim(ctx, first)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, first, stored)

	second := monitor.Post{ID: "p2", Platform: monitor.PlatformReddit, ExternalID: "abc", Content: "second"}
	stored, created, err = s.Claim(ctx, second)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "p1", stored.ID)
	require.Equal(t, "first", stored.Content)

	// Same external id on another platform is a different post.
	_, created, err = s.Claim(ctx, monitor.Post{ID: "p3", Platform: monitor.PlatformTwitter, ExternalID: "abc"})
	require.NoError(t, err)
	require.True(t, created)

	_, _, err = s.Claim(ctx, monitor.Post{ID: "p4", Platform: monitor.PlatformTwitter})
	require.ErrorIs(t, err, monitor.ErrStorage)
}

func TestClaimConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(nil)
	const workers = 32
	var wg sync.WaitGroup
	createdCh := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			post := monitor.Post{ID: fmt.Sprintf("p%d", i), Platform: monitor.PlatformTelegram, ExternalID: "chan/1"}
			stored, created, err := s.Claim(ctx, post)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if created {
				createdCh <- stored.ID
			}
		}(i)
	}
	wg.Wait()
	close(createdCh)
	require.Len(t, createdCh, 1)

	n, err := s.CountPosts(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRecordEvidenceIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(fake.New(t0))
	_, _, err := s.Claim(ctx, monitor.Post{ID: "p1", Platform: monitor.PlatformTwitter, ExternalID: "1"})
	require.NoError(t, err)

	evidence := []monitor.Evidence{{Term: "btc", Kind: monitor.MatchKeyword}, {Term: "#defi", Kind: monitor.MatchHashtag}}
	n, err := s.RecordEvidence(ctx, "p1", "r1", evidence)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.RecordEvidence(ctx, "p1", "r1", evidence)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.RecordEvidence(ctx, "p1", "r2", evidence[:1])
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows, err := s.Evidence(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, monitor.KeywordMatch{PostID: "p1", RuleID: "r1", Term: "btc", Kind: monitor.MatchKeyword, CreatedAt: t0}, rows[0])

	_, err = s.RecordEvidence(ctx, "missing", "r1", evidence)
	require.ErrorIs(t, err, monitor.ErrStorage)
}

func TestQueriesAndAggregates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(fake.New(t0))
	posts := []monitor.Post{
		{ID: "a", Platform: monitor.PlatformTwitter, ExternalID: "1", Sentiment: ptr(0.2), FirstMatchedAt: t0.Add(-48 * time.Hour)},
		{ID: "b", Platform: monitor.PlatformTwitter, ExternalID: "2", Sentiment: ptr(-0.2), FirstMatchedAt: t0.Add(-2 * time.Hour)},
		{ID: "c", Platform: monitor.PlatformReddit, ExternalID: "3", Sentiment: ptr(0.0), FirstMatchedAt: t0.Add(-time.Hour)},
		{ID: "d", Platform: monitor.PlatformReddit, ExternalID: "4", FirstMatchedAt: t0},
	}
	for _, p := range posts {
		_, created, err := s.Claim(ctx, p)
		require.NoError(t, err)
		require.True(t, created)
	}
	_, err := s.RecordEvidence(ctx, "c", "r1", []monitor.Evidence{{Term: "Ethereum", Kind: monitor.MatchKeyword}})
	require.NoError(t, err)

	dist, err := s.SentimentDistribution(ctx, monitor.SentimentNeutralBand)
	require.NoError(t, err)
	require.Equal(t, monitor.SentimentCounts{Positive: 1, Negative: 1, Neutral: 1}, dist)

	recent, err := s.CountPosts(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, recent)

	byPlatform, err := s.CountPostsByPlatform(ctx)
	require.NoError(t, err)
	require.Equal(t, map[monitor.Platform]int{monitor.PlatformTwitter: 2, monitor.PlatformReddit: 2}, byPlatform)

	got, err := s.QueryPosts(ctx, monitor.PostQuery{Platform: monitor.PlatformTwitter})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, postIDs(got))

	got, err = s.QueryPosts(ctx, monitor.PostQuery{Keyword: "ethereum"})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, postIDs(got))

	got, err = s.QueryPosts(ctx, monitor.PostQuery{Sentiment: monitor.SentimentNegative})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, postIDs(got))

	got, err = s.QueryPosts(ctx, monitor.PostQuery{Since: t0.Add(-3 * time.Hour), Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"d", "c"}, postIDs(got))
}

func postIDs(posts []monitor.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}
