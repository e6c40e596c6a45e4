package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-monitor/internal/adapter"
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Chain Daily</title>
  <link>https://chain.example</link>
  <item>
    <title>Ethereum upgrade ships</title>
    <link>https://chain.example/eth-upgrade</link>
    <guid>chain-1</guid>
    <description>&lt;p&gt;The &lt;b&gt;Dencun&lt;/b&gt; upgrade is live&lt;/p&gt;</description>
    <pubDate>Fri, 01 Mar 2024 10:00:00 +0000</pubDate>
  </item>
  <item>
    <title>Old news</title>
    <link>https://chain.example/old</link>
    <pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate>
  </item>
  <item>
    <title>No identity</title>
  </item>
</channel>
</rss>`

func TestFetchParsesFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(feedXML))
		case "/broken.xml":
			_, _ = w.Write([]byte("this is not a feed"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)

	a := New(adapter.NewClient(monitor.PlatformRSS, srv.Client(), nil, ""), Config{Feeds: []string{srv.URL + "/feed.xml"}})
	criteria := monitor.Criteria{Keywords: []string{"ethereum"}, Since: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}

	var posts []monitor.RawPost
	for post, err := range a.Fetch(context.Background(), criteria) {
		require.NoError(t, err)
		posts = append(posts, post)
	}
	require.Len(t, posts, 1)
	require.Equal(t, monitor.RawPost{
		Platform:   monitor.PlatformRSS,
		ExternalID: "chain-1",
		Author:     "Chain Daily",
		Content:    "Ethereum upgrade ships\n\nThe Dencun upgrade is live",
		URL:        "https://chain.example/eth-upgrade",
		CreatedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}, posts[0])

	// Without a window the guid-less item falls back to its link.
	var ids []string
	for post, err := range a.Fetch(context.Background(), monitor.Criteria{Keywords: []string{"x"}}) {
		require.NoError(t, err)
		ids = append(ids, post.ExternalID)
	}
	require.Equal(t, []string{"chain-1", "https://chain.example/old"}, ids)

	broken := monitor.Criteria{Keywords: []string{"x"}, Filters: map[string]any{"feeds": srv.URL + "/broken.xml"}}
	for _, err := range a.Fetch(context.Background(), broken) {
		require.ErrorIs(t, err, monitor.ErrPermanentFetch)
	}

	down := monitor.Criteria{Keywords: []string{"x"}, Filters: map[string]any{"feeds": srv.URL + "/down.xml"}}
	for _, err := range a.Fetch(context.Background(), down) {
		require.ErrorIs(t, err, monitor.ErrTransientFetch)
	}
}

func TestFetchWithoutFeeds(t *testing.T) {
	t.Parallel()

	a := New(adapter.NewClient(monitor.PlatformRSS, nil, nil, ""), Config{})
	for _, err := range a.Fetch(context.Background(), monitor.Criteria{Keywords: []string{"x"}}) {
		require.ErrorIs(t, err, monitor.ErrPermanentFetch)
	}
}
