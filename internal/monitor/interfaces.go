package monitor

import (
	"context"
	"io"
	"iter"
	"time"
)

// Adapter fetches raw posts for one platform. The returned sequence is lazy
// and finite; it yields a non-nil error at most once and stops after it.
// Breaking out of the sequence early releases any open connection.
type Adapter interface {
	Platform() Platform
	Fetch(ctx context.Context, criteria Criteria) iter.Seq2[RawPost, error]
}

// RuleStore persists crawler rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule Rule) error
	UpdateRule(ctx context.Context, rule Rule) error
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	// ListActiveRules returns active rules by priority ascending, then creation order.
	ListActiveRules(ctx context.Context) ([]Rule, error)
	CountRules(ctx context.Context) (total, active int, err error)
}

// DedupStore claims posts by (platform, external id) and records evidence.
type DedupStore interface {
	// Claim atomically creates post unless a post with the same platform and
	// external id exists. It returns the stored post and whether it was created.
	Claim(ctx context.Context, post Post) (Post, bool, error)
	// RecordEvidence appends evidence rows, skipping ones already present,
	// and reports how many were new.
	RecordEvidence(ctx context.Context, postID, ruleID string, evidence []Evidence) (int, error)
}

// PostReader serves read-only post queries and aggregates.
type PostReader interface {
	QueryPosts(ctx context.Context, q PostQuery) ([]Post, error)
	Evidence(ctx context.Context, postID string) ([]KeywordMatch, error)
	// CountPosts counts posts first matched at or after since; a zero since counts all.
	CountPosts(ctx context.Context, since time.Time) (int, error)
	CountPostsByPlatform(ctx context.Context) (map[Platform]int, error)
	SentimentDistribution(ctx context.Context, band float64) (SentimentCounts, error)
}

// PostStore is the full post persistence surface.
type PostStore interface {
	DedupStore
	PostReader
}

// Publisher delivers notification payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes opaque objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
