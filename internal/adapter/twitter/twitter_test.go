package twitter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-monitor/internal/adapter"
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

const pageOne = `{
  "data": [
    {"id": "101", "text": "Bitcoin to the moon", "author_id": "u1", "created_at": "2024-03-01T10:00:00.000Z",
     "public_metrics": {"retweet_count": 2, "reply_count": 3, "like_count": 10, "quote_count": 1}},
    {"id": "102", "text": "#defi summer", "author_id": "u2", "created_at": "2024-03-01T10:05:00.000Z",
     "public_metrics": {"retweet_count": 0, "reply_count": 0, "like_count": 1, "quote_count": 0}}
  ],
  "includes": {"users": [{"id": "u1", "username": "satoshi"}, {"id": "u2", "username": "vitalik"}]},
  "meta": {"result_count": 2, "next_token": "page2"}
}`

const pageTwo = `{
  "data": [{"id": "103", "text": "more bitcoin", "author_id": "u9", "created_at": "2024-03-01T11:00:00Z",
            "public_metrics": {"like_count": 4}}],
  "meta": {"result_count": 1}
}`

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/tweets/search/recent" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("next_token") == "page2" {
			_, _ = w.Write([]byte(pageTwo))
			return
		}
		_, _ = w.Write([]byte(pageOne))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPagesAndMapsPosts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, &hits)
	a := New(adapter.NewClient(monitor.PlatformTwitter, srv.Client(), nil, ""), Config{BaseURL: srv.URL, BearerToken: "secret"})

	var posts []monitor.RawPost
	for post, err := range a.Fetch(context.Background(), monitor.Criteria{Keywords: []string{"bitcoin"}}) {
		require.NoError(t, err)
		posts = append(posts, post)
	}
	require.Len(t, posts, 3)
	require.Equal(t, int32(2), hits.Load())

	first := posts[0]
	require.Equal(t, monitor.PlatformTwitter, first.Platform)
	require.Equal(t, "101", first.ExternalID)
	require.Equal(t, "satoshi", first.Author)
	require.Equal(t, "https://x.com/satoshi/status/101", first.URL)
	require.Equal(t, monitor.Engagement{Likes: 10, Shares: 3, Comments: 3}, first.Engagement)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), first.CreatedAt)
	require.Equal(t, "u9", posts[2].Author)
}

func TestFetchStopsEarly(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, &hits)
	a := New(adapter.NewClient(monitor.PlatformTwitter, srv.Client(), nil, ""), Config{BaseURL: srv.URL, BearerToken: "secret"})

	count := 0
	for _, err := range a.Fetch(context.Background(), monitor.Criteria{Keywords: []string{"bitcoin"}}) {
		require.NoError(t, err)
		count++
		break
	}
	require.Equal(t, 1, count)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchHonoursMaxResults(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, &hits)
	a := New(adapter.NewClient(monitor.PlatformTwitter, srv.Client(), nil, ""), Config{BaseURL: srv.URL, BearerToken: "secret"})

	count := 0
	for _, err := range a.Fetch(context.Background(), monitor.Criteria{Keywords: []string{"bitcoin"}, MaxResults: 2}) {
		require.NoError(t, err)
		count++
	}
	require.Equal(t, 2, count)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchAuthFailureIsPermanent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, &hits)
	a := New(adapter.NewClient(monitor.PlatformTwitter, srv.Client(), nil, ""), Config{BaseURL: srv.URL, BearerToken: "wrong"})

	var errs []error
	for _, err := range a.Fetch(context.Background(), monitor.Criteria{Keywords: []string{"bitcoin"}}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], monitor.ErrPermanentFetch)

	noToken := New(adapter.NewClient(monitor.PlatformTwitter, srv.Client(), nil, ""), Config{BaseURL: srv.URL})
	for _, err := range noToken.Fetch(context.Background(), monitor.Criteria{Keywords: []string{"bitcoin"}}) {
		require.ErrorIs(t, err, monitor.ErrPermanentFetch)
	}
}

func TestBuildQueries(t *testing.T) {
	t.Parallel()

	queries, err := BuildQueries(monitor.Criteria{
		Keywords: []string{"bitcoin", `say "hi"`},
		Hashtags: []string{"#DeFi"},
		Accounts: []string{"@elonmusk"},
		Filters:  map[string]any{"lang": "en"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{`("bitcoin" OR "say hi" OR #DeFi OR from:elonmusk) -is:retweet lang:en`}, queries)

	_, err = BuildQueries(monitor.Criteria{Keywords: []string{" "}})
	require.ErrorIs(t, err, monitor.ErrPermanentFetch)
}

func TestBuildQueriesSplitsLongRules(t *testing.T) {
	t.Parallel()

	keywords := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		keywords = append(keywords, fmt.Sprintf("keyword-number-%02d", i))
	}
	queries, err := BuildQueries(monitor.Criteria{Keywords: keywords})
	require.NoError(t, err)
	require.Greater(t, len(queries), 1)
	seen := 0
	for _, q := range queries {
		require.LessOrEqual(t, len(q), maxQueryLen)
		seen += strings.Count(q, "keyword-number-")
	}
	require.Equal(t, 60, seen)
}

func TestStartTimeClamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	a := New(nil, Config{})
	a.now = func() time.Time { return now }

	require.True(t, a.startTime(time.Time{}).IsZero())
	recent := now.Add(-time.Hour)
	require.Equal(t, recent, a.startTime(recent))
	require.Equal(t, now.Add(-recentWindow+time.Minute), a.startTime(now.Add(-30*24*time.Hour)))
}
