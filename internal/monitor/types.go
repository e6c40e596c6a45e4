// Package monitor defines the rule, post and run vocabulary shared by the
// matcher, the orchestrator, the stores and the platform adapters.
package monitor

import (
	"strings"
	"time"
)

// Platform identifies a social media source.
type Platform string

const (
	// PlatformTwitter is the X/Twitter recent search API.
	PlatformTwitter Platform = "twitter"
	// PlatformReddit is the reddit search API.
	PlatformReddit Platform = "reddit"
	// PlatformTelegram is the public Telegram channel preview.
	PlatformTelegram Platform = "telegram"
	// PlatformRSS is any RSS or Atom feed.
	PlatformRSS Platform = "rss"
)

// KnownPlatforms lists every platform identifier a rule may target.
func KnownPlatforms() []Platform {
	return []Platform{PlatformTwitter, PlatformReddit, PlatformTelegram, PlatformRSS}
}

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	for _, known := range KnownPlatforms() {
		if p == known {
			return true
		}
	}
	return false
}

// MatchKind describes which rule term produced a match.
type MatchKind string

const (
	MatchKeyword MatchKind = "keyword"
	MatchHashtag MatchKind = "hashtag"
	MatchAccount MatchKind = "account"
)

// Rule is a crawler rule: what to look for, where, and which gates a post must pass.
type Rule struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Platforms           []Platform     `json:"platforms"`
	Keywords            []string       `json:"keywords"`
	ExcludeKeywords     []string       `json:"exclude_keywords,omitempty"`
	Hashtags            []string       `json:"hashtags,omitempty"`
	Accounts            []string       `json:"accounts,omitempty"`
	SentimentThreshold  *int           `json:"sentiment_threshold,omitempty"`
	EngagementThreshold int            `json:"engagement_threshold"`
	Priority            int            `json:"priority"`
	Active              bool           `json:"active"`
	Filters             map[string]any `json:"filters,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// HasTerms reports whether the rule names at least one keyword, hashtag or account.
func (r Rule) HasTerms() bool {
	return hasNonBlank(r.Keywords) || hasNonBlank(r.Hashtags) || hasNonBlank(r.Accounts)
}

// Dispatchable checks the invariants the orchestrator relies on before it
// fans a rule out to adapters.
func (r Rule) Dispatchable() error {
	if strings.TrimSpace(r.ID) == "" {
		return invalidRule(r, "missing id")
	}
	if len(r.Platforms) == 0 {
		return invalidRule(r, "no platforms")
	}
	for _, p := range r.Platforms {
		if !p.Valid() {
			return invalidRule(r, "unknown platform "+string(p))
		}
	}
	if !r.HasTerms() {
		return invalidRule(r, "no keywords, hashtags or accounts")
	}
	return nil
}

// FilterList reads a list-valued filter. Values may be stored as a JSON
// array or a comma separated string.
func (r Rule) FilterList(key string) []string {
	return FilterList(r.Filters, key)
}

// Criteria builds the immutable fetch criteria handed to an adapter.
func (r Rule) Criteria(since time.Time, maxResults int) Criteria {
	filters := make(map[string]any, len(r.Filters))
	for k, v := range r.Filters {
		filters[k] = v
	}
	return Criteria{
		RuleID:     r.ID,
		Keywords:   cloneStrings(r.Keywords),
		Hashtags:   cloneStrings(r.Hashtags),
		Accounts:   cloneStrings(r.Accounts),
		Filters:    filters,
		Since:      since,
		MaxResults: maxResults,
	}
}

// Criteria is the read-only view of a rule an adapter searches with.
type Criteria struct {
	RuleID     string
	Keywords   []string
	Hashtags   []string
	Accounts   []string
	Filters    map[string]any
	Since      time.Time
	MaxResults int
}

// FilterList reads a list-valued filter from the criteria.
func (c Criteria) FilterList(key string) []string {
	return FilterList(c.Filters, key)
}

// Terms returns every non-blank keyword, bare hashtag and bare account in
// the criteria, in that order.
func (c Criteria) Terms() []string {
	var out []string
	for _, k := range c.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	for _, h := range c.Hashtags {
		if h = NormalizeHashtag(h); h != "" {
			out = append(out, h)
		}
	}
	for _, a := range c.Accounts {
		if a = NormalizeAccount(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Engagement is a snapshot of the interaction counters a platform reports.
type Engagement struct {
	Likes    int `json:"likes"`
	Shares   int `json:"shares"`
	Comments int `json:"comments"`
	Views    int `json:"views"`
}

// Total sums every counter.
func (e Engagement) Total() int {
	return e.Likes + e.Shares + e.Comments + e.Views
}

// RawPost is a post as returned by an adapter, before matching.
type RawPost struct {
	Platform   Platform
	ExternalID string
	Author     string
	Content    string
	URL        string
	CreatedAt  time.Time
	Engagement Engagement
	Sentiment  *float64
}

// Post is a persisted post. It is created once per (platform, external id)
// and never mutated afterwards.
type Post struct {
	ID             string     `json:"id"`
	Platform       Platform   `json:"platform"`
	ExternalID     string     `json:"external_id"`
	Author         string     `json:"author"`
	Content        string     `json:"content"`
	URL            string     `json:"url,omitempty"`
	CreatedAt      time.Time  `json:"platform_created_at"`
	Sentiment      *float64   `json:"sentiment_score,omitempty"`
	Engagement     Engagement `json:"engagement"`
	FirstMatchedAt time.Time  `json:"first_matched_at"`
}

// NewPost builds the record persisted for a raw post that matched a rule.
func NewPost(id string, raw RawPost, matchedAt time.Time) Post {
	var sentiment *float64
	if raw.Sentiment != nil {
		s := *raw.Sentiment
		sentiment = &s
	}
	return Post{
		ID:             id,
		Platform:       raw.Platform,
		ExternalID:     raw.ExternalID,
		Author:         raw.Author,
		Content:        raw.Content,
		URL:            raw.URL,
		CreatedAt:      raw.CreatedAt,
		Sentiment:      sentiment,
		Engagement:     raw.Engagement,
		FirstMatchedAt: matchedAt,
	}
}

// Evidence names one rule term found in a post.
type Evidence struct {
	Term string    `json:"term"`
	Kind MatchKind `json:"kind"`
}

// KeywordMatch is a stored evidence row. (PostID, RuleID, Term) is unique.
type KeywordMatch struct {
	PostID    string    `json:"post_id"`
	RuleID    string    `json:"rule_id"`
	Term      string    `json:"term"`
	Kind      MatchKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// SentimentBucket is the coarse sentiment class used by stats and queries.
type SentimentBucket string

const (
	SentimentPositive SentimentBucket = "positive"
	SentimentNegative SentimentBucket = "negative"
	SentimentNeutral  SentimentBucket = "neutral"
)

// SentimentNeutralBand is the half-width of the neutral band: scores above
// it are positive, scores below its negation are negative.
const SentimentNeutralBand = 0.1

// ClassifySentiment buckets a score. Scores on the band edges are neutral.
func ClassifySentiment(score, band float64) SentimentBucket {
	switch {
	case score > band:
		return SentimentPositive
	case score < -band:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// SentimentCounts holds the number of scored posts in each bucket.
type SentimentCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Total is the number of posts with a score.
func (c SentimentCounts) Total() int {
	return c.Positive + c.Negative + c.Neutral
}

// PostQuery selects stored posts. Zero values mean "no constraint".
type PostQuery struct {
	Platform  Platform
	Keyword   string
	Sentiment SentimentBucket
	Since     time.Time
	Limit     int
}

// NormalizeHashtag strips surrounding space and a leading '#'.
func NormalizeHashtag(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "#")
}

// NormalizeAccount strips surrounding space and a leading '@'.
func NormalizeAccount(account string) string {
	return strings.TrimPrefix(strings.TrimSpace(account), "@")
}

// FilterList reads a list-valued entry from a free-form filter map.
func FilterList(filters map[string]any, key string) []string {
	raw, ok := filters[key]
	if !ok || raw == nil {
		return nil
	}
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			add(s)
		}
	}
	return out
}

func hasNonBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(strings.Trim(v, "#@")) != "" {
			return true
		}
	}
	return false
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
