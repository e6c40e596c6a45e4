// Package reddit searches subreddits through reddit's public JSON API.
package reddit

import (
	"context"
	"iter"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/social-monitor/internal/adapter"
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://www.reddit.com"

// DefaultSubreddits are searched when neither the rule nor config names any.
var DefaultSubreddits = []string{"cryptocurrency", "bitcoin", "ethereum", "defi"}

const (
	pageSize       = 25
	defaultResults = 100
)

// Config configures the adapter.
type Config struct {
	BaseURL    string
	Subreddits []string
}

// Adapter implements monitor.Adapter for subreddit search.
type Adapter struct {
	client *adapter.Client
	cfg    Config
}

// New returns an Adapter.
func New(client *adapter.Client, cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Subreddits) == 0 {
		cfg.Subreddits = DefaultSubreddits
	}
	return &Adapter{client: client, cfg: cfg}
}

// Platform implements monitor.Adapter.
func (a *Adapter) Platform() monitor.Platform {
	return monitor.PlatformReddit
}

// Fetch implements monitor.Adapter. Subreddits are searched newest first;
// a subreddit is abandoned once results fall before criteria.Since.
func (a *Adapter) Fetch(ctx context.Context, criteria monitor.Criteria) iter.Seq2[monitor.RawPost, error] {
	return func(yield func(monitor.RawPost, error) bool) {
		query := BuildQuery(criteria)
		if query == "" {
			yield(monitor.RawPost{}, adapter.Permanent(monitor.PlatformReddit, "criteria for rule %s have no search terms", criteria.RuleID))
			return
		}
		subreddits := criteria.FilterList("subreddits")
		if len(subreddits) == 0 {
			subreddits = a.cfg.Subreddits
		}
		remaining := criteria.MaxResults
		if remaining <= 0 {
			remaining = defaultResults
		}
		for _, sub := range subreddits {
			sub = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(sub), "/"), "r/")
			if sub == "" {
				continue
			}
			after := ""
			for {
				listing, err := a.search(ctx, sub, query, after, criteria.Since)
				if err != nil {
					yield(monitor.RawPost{}, err)
					return
				}
				stale := false
				for _, child := range listing.Data.Children {
					post := child.Data.raw()
					if !criteria.Since.IsZero() && post.CreatedAt.Before(criteria.Since) {
						stale = true
						break
					}
					if !yield(post, nil) {
						return
					}
					remaining--
					if remaining == 0 {
						return
					}
				}
				after = listing.Data.After
				if stale || after == "" || len(listing.Data.Children) == 0 {
					break
				}
			}
		}
	}
}

func (a *Adapter) search(ctx context.Context, sub, query, after string, since time.Time) (listing, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("restrict_sr", "1")
	params.Set("sort", "new")
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("t", timeFilter(since))
	params.Set("raw_json", "1")
	if after != "" {
		params.Set("after", after)
	}
	var out listing
	err := a.client.GetJSON(ctx, a.cfg.BaseURL+"/r/"+url.PathEscape(sub)+"/search.json?"+params.Encode(), nil, &out)
	return out, err
}

// BuildQuery ORs keywords and bare hashtags and adds author: clauses.
func BuildQuery(criteria monitor.Criteria) string {
	var terms []string
	for _, kw := range criteria.Keywords {
		kw = strings.TrimSpace(strings.ReplaceAll(kw, `"`, ""))
		if kw == "" {
			continue
		}
		if strings.ContainsAny(kw, " \t") {
			kw = strconv.Quote(kw)
		}
		terms = append(terms, kw)
	}
	for _, tag := range criteria.Hashtags {
		if tag = monitor.NormalizeHashtag(tag); tag != "" {
			terms = append(terms, tag)
		}
	}
	for _, acct := range criteria.Accounts {
		if acct = strings.TrimPrefix(monitor.NormalizeAccount(acct), "u/"); acct != "" {
			terms = append(terms, "author:"+acct)
		}
	}
	return strings.Join(terms, " OR ")
}

// timeFilter picks the narrowest reddit time bucket covering since.
func timeFilter(since time.Time) string {
	if since.IsZero() {
		return "week"
	}
	age := time.Since(since)
	switch {
	case age <= time.Hour:
		return "hour"
	case age <= 24*time.Hour:
		return "day"
	case age <= 7*24*time.Hour:
		return "week"
	case age <= 31*24*time.Hour:
		return "month"
	default:
		return "year"
	}
}

type listing struct {
	Data struct {
		After    string  `json:"after"`
		Children []child `json:"children"`
	} `json:"data"`
}

type child struct {
	Data submission `json:"data"`
}

type submission struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
}

func (s submission) raw() monitor.RawPost {
	content := s.Title
	if body := strings.TrimSpace(s.Selftext); body != "" {
		content += "\n\n" + body
	}
	sec, frac := math.Modf(s.CreatedUTC)
	link := ""
	if s.Permalink != "" {
		link = "https://www.reddit.com" + s.Permalink
	}
	return monitor.RawPost{
		Platform:   monitor.PlatformReddit,
		ExternalID: s.ID,
		Author:     s.Author,
		Content:    content,
		URL:        link,
		CreatedAt:  time.Unix(int64(sec), int64(frac*1e9)).UTC(),
		Engagement: monitor.Engagement{
			Likes:    max(s.Score, 0),
			Comments: s.NumComments,
		},
	}
}
