// Package twitter searches recent posts through the X API v2.
package twitter

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/social-monitor/internal/adapter"
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.twitter.com/2"

const (
	maxQueryLen    = 512
	minPageSize    = 10
	maxPageSize    = 100
	recentWindow   = 7 * 24 * time.Hour
	defaultResults = 100
)

// Config configures the adapter.
type Config struct {
	BaseURL     string
	BearerToken string
}

// Adapter implements monitor.Adapter for the recent search endpoint.
type Adapter struct {
	client *adapter.Client
	cfg    Config
	now    func() time.Time
}

// New returns an Adapter.
func New(client *adapter.Client, cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{client: client, cfg: cfg, now: time.Now}
}

// Platform implements monitor.Adapter.
func (a *Adapter) Platform() monitor.Platform {
	return monitor.PlatformTwitter
}

// Fetch implements monitor.Adapter. Each query chunk is paged until the
// provider runs out of results or MaxResults posts were yielded.
func (a *Adapter) Fetch(ctx context.Context, criteria monitor.Criteria) iter.Seq2[monitor.RawPost, error] {
	return func(yield func(monitor.RawPost, error) bool) {
		if a.cfg.BearerToken == "" {
			yield(monitor.RawPost{}, adapter.Permanent(monitor.PlatformTwitter, "bearer token not configured"))
			return
		}
		queries, err := BuildQueries(criteria)
		if err != nil {
			yield(monitor.RawPost{}, err)
			return
		}
		remaining := criteria.MaxResults
		if remaining <= 0 {
			remaining = defaultResults
		}
		for _, q := range queries {
			next := ""
			for {
				page, err := a.search(ctx, q, next, criteria.Since, remaining)
				if err != nil {
					yield(monitor.RawPost{}, err)
					return
				}
				for _, post := range page.posts() {
					if !yield(post, nil) {
						return
					}
					remaining--
					if remaining == 0 {
						return
					}
				}
				next = page.Meta.NextToken
				if next == "" || len(page.Data) == 0 {
					break
				}
			}
		}
	}
}

func (a *Adapter) search(ctx context.Context, query, nextToken string, since time.Time, remaining int) (searchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(clamp(remaining, minPageSize, maxPageSize)))
	params.Set("tweet.fields", "created_at,public_metrics,author_id,lang")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username")
	if start := a.startTime(since); !start.IsZero() {
		params.Set("start_time", start.UTC().Format(time.RFC3339))
	}
	if nextToken != "" {
		params.Set("next_token", nextToken)
	}
	var resp searchResponse
	err := a.client.GetJSON(ctx, a.cfg.BaseURL+"/tweets/search/recent?"+params.Encode(), map[string]string{
		"Authorization": "Bearer " + a.cfg.BearerToken,
	}, &resp)
	return resp, err
}

// startTime clamps since into the window the recent search endpoint accepts.
func (a *Adapter) startTime(since time.Time) time.Time {
	if since.IsZero() {
		return time.Time{}
	}
	earliest := a.now().Add(-recentWindow + time.Minute)
	if since.Before(earliest) {
		return earliest
	}
	return since
}

// BuildQueries turns criteria into one or more search queries, each within
// the provider's query length limit. Terms are OR-ed; retweets are dropped.
func BuildQueries(criteria monitor.Criteria) ([]string, error) {
	var terms []string
	for _, kw := range criteria.Keywords {
		kw = strings.TrimSpace(strings.ReplaceAll(kw, `"`, ""))
		if kw != "" {
			terms = append(terms, strconv.Quote(kw))
		}
	}
	for _, tag := range criteria.Hashtags {
		if tag = monitor.NormalizeHashtag(tag); tag != "" {
			terms = append(terms, "#"+tag)
		}
	}
	for _, acct := range criteria.Accounts {
		if acct = monitor.NormalizeAccount(acct); acct != "" {
			terms = append(terms, "from:"+acct)
		}
	}
	if len(terms) == 0 {
		return nil, adapter.Permanent(monitor.PlatformTwitter, "criteria for rule %s have no search terms", criteria.RuleID)
	}

	suffix := " -is:retweet"
	if langs := criteria.FilterList("lang"); len(langs) > 0 {
		suffix += " lang:" + langs[0]
	}
	budget := maxQueryLen - len(suffix) - 2

	var queries []string
	var group []string
	size := 0
	flush := func() {
		if len(group) > 0 {
			queries = append(queries, "("+strings.Join(group, " OR ")+")"+suffix)
			group, size = nil, 0
		}
	}
	for _, term := range terms {
		if len(term) > budget {
			return nil, adapter.Permanent(monitor.PlatformTwitter, "term %q exceeds the query length limit", term)
		}
		add := len(term)
		if len(group) > 0 {
			add += len(" OR ")
		}
		if size+add > budget {
			flush()
			add = len(term)
		}
		group = append(group, term)
		size += add
	}
	flush()
	return queries, nil
}

type searchResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Users []user `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type tweet struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
	PublicMetrics struct {
		RetweetCount    int `json:"retweet_count"`
		ReplyCount      int `json:"reply_count"`
		LikeCount       int `json:"like_count"`
		QuoteCount      int `json:"quote_count"`
		ImpressionCount int `json:"impression_count"`
	} `json:"public_metrics"`
}

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (r searchResponse) posts() []monitor.RawPost {
	usernames := make(map[string]string, len(r.Includes.Users))
	for _, u := range r.Includes.Users {
		usernames[u.ID] = u.Username
	}
	out := make([]monitor.RawPost, 0, len(r.Data))
	for _, t := range r.Data {
		author := usernames[t.AuthorID]
		if author == "" {
			author = t.AuthorID
		}
		link := ""
		if author != "" {
			link = "https://x.com/" + author + "/status/" + t.ID
		}
		out = append(out, monitor.RawPost{
			Platform:   monitor.PlatformTwitter,
			ExternalID: t.ID,
			Author:     author,
			Content:    t.Text,
			URL:        link,
			CreatedAt:  t.CreatedAt.UTC(),
			Engagement: monitor.Engagement{
				Likes:    t.PublicMetrics.LikeCount,
				Shares:   t.PublicMetrics.RetweetCount + t.PublicMetrics.QuoteCount,
				Comments: t.PublicMetrics.ReplyCount,
			},
		})
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
