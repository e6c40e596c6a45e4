package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

var postColumnNames = []string{
	"id", "platform", "external_id", "author", "content", "url", "platform_created_at",
	"sentiment_score", "likes", "shares", "comments", "views", "first_matched_at",
}

var postColumns = strings.Join(postColumnNames, ", ")

const foreignKeyViolation = "23503"

// Claim inserts post unless (platform, external_id) is already stored, in
// which case the stored row is returned with created=false.
func (s *Store) Claim(ctx context.Context, post monitor.Post) (monitor.Post, bool, error) {
	if post.ExternalID == "" {
		return monitor.Post{}, false, fmt.Errorf("%w: empty external id", monitor.ErrStorage)
	}
	query := `
		INSERT INTO social_media_posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (platform, external_id) DO NOTHING
		RETURNING id;
	`
	var id string
	err := s.pool.QueryRow(ctx, query,
		post.ID,
		string(post.Platform),
		post.ExternalID,
		post.Author,
		post.Content,
		post.URL,
		nullTime(post.CreatedAt),
		post.Sentiment,
		post.Engagement.Likes,
		post.Engagement.Shares,
		post.Engagement.Comments,
		post.Engagement.Views,
		post.FirstMatchedAt,
	).Scan(&id)
	switch {
	case err == nil:
		return post, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return monitor.Post{}, false, fmt.Errorf("%w: claim post %s/%s: %w", monitor.ErrStorage, post.Platform, post.ExternalID, err)
	}

	existing, err := scanPost(s.pool.QueryRow(ctx,
		`SELECT `+postColumns+` FROM social_media_posts WHERE platform = $1 AND external_id = $2;`,
		string(post.Platform), post.ExternalID,
	))
	if err != nil {
		return monitor.Post{}, false, fmt.Errorf("%w: load claimed post %s/%s: %w", monitor.ErrStorage, post.Platform, post.ExternalID, err)
	}
	return existing, false, nil
}

// RecordEvidence inserts evidence rows, skipping (post, rule, term) triples
// that already exist.
func (s *Store) RecordEvidence(ctx context.Context, postID, ruleID string, evidence []monitor.Evidence) (int, error) {
	if len(evidence) == 0 {
		return 0, nil
	}
	seen := make(map[string]struct{}, len(evidence))
	terms := make([]string, 0, len(evidence))
	kinds := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		if _, dup := seen[ev.Term]; dup {
			continue
		}
		seen[ev.Term] = struct{}{}
		terms = append(terms, ev.Term)
		kinds = append(kinds, string(ev.Kind))
	}
	query := `
		INSERT INTO keyword_matches (post_id, rule_id, term, kind)
		SELECT $1, $2, t.term, t.kind FROM unnest($3::text[], $4::text[]) AS t(term, kind)
		ON CONFLICT (post_id, rule_id, term) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query, postID, ruleID, terms, kinds)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return 0, fmt.Errorf("%w: record evidence for post %s: %w", monitor.ErrStorage, postID, monitor.ErrNotFound)
		}
		return 0, fmt.Errorf("%w: record evidence for post %s: %w", monitor.ErrStorage, postID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Evidence lists the evidence rows of a post.
func (s *Store) Evidence(ctx context.Context, postID string) ([]monitor.KeywordMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT post_id, rule_id, term, kind, created_at
		FROM keyword_matches
		WHERE post_id = $1
		ORDER BY created_at, rule_id, term;
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []monitor.KeywordMatch
	for rows.Next() {
		var (
			m    monitor.KeywordMatch
			kind string
		)
		if err := rows.Scan(&m.PostID, &m.RuleID, &m.Term, &kind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evidence row: %w", err)
		}
		m.Kind = monitor.MatchKind(kind)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	return out, nil
}

// QueryPosts returns posts newest first, filtered by q.
func (s *Store) QueryPosts(ctx context.Context, q monitor.PostQuery) ([]monitor.Post, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Platform != "" {
		where = append(where, "p.platform = "+arg(string(q.Platform)))
	}
	if !q.Since.IsZero() {
		where = append(where, "p.first_matched_at >= "+arg(q.Since))
	}
	switch q.Sentiment {
	case monitor.SentimentPositive:
		where = append(where, "p.sentiment_score > "+arg(monitor.SentimentNeutralBand))
	case monitor.SentimentNegative:
		where = append(where, "p.sentiment_score < -"+arg(monitor.SentimentNeutralBand))
	case monitor.SentimentNeutral:
		band := arg(monitor.SentimentNeutralBand)
		where = append(where, fmt.Sprintf("p.sentiment_score BETWEEN -%s AND %s", band, band))
	}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		where = append(where, "EXISTS (SELECT 1 FROM keyword_matches m WHERE m.post_id = p.id AND lower(m.term) = lower("+arg(kw)+"))")
	}

	var b strings.Builder
	b.WriteString("SELECT p.")
	b.WriteString(strings.Join(postColumnNames, ", p."))
	b.WriteString(" FROM social_media_posts p")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY p.first_matched_at DESC, p.id DESC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + arg(q.Limit))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var out []monitor.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	return out, nil
}

// CountPosts counts posts first matched at or after since; a zero since counts all.
func (s *Store) CountPosts(ctx context.Context, since time.Time) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM social_media_posts WHERE $1::timestamptz IS NULL OR first_matched_at >= $1;`,
		nullTime(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return int(n), nil
}

// CountPostsByPlatform groups stored posts by platform.
func (s *Store) CountPostsByPlatform(ctx context.Context) (map[monitor.Platform]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT platform, count(*) FROM social_media_posts GROUP BY platform;`)
	if err != nil {
		return nil, fmt.Errorf("count posts by platform: %w", err)
	}
	defer rows.Close()

	out := make(map[monitor.Platform]int)
	for rows.Next() {
		var (
			platform string
			n        int64
		)
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, fmt.Errorf("scan platform count: %w", err)
		}
		out[monitor.Platform(platform)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count posts by platform: %w", err)
	}
	return out, nil
}

// SentimentDistribution buckets scored posts around band; unscored posts are skipped.
func (s *Store) SentimentDistribution(ctx context.Context, band float64) (monitor.SentimentCounts, error) {
	var pos, neg, neu int64
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE sentiment_score > $1),
			count(*) FILTER (WHERE sentiment_score < -$1),
			count(*) FILTER (WHERE sentiment_score BETWEEN -$1 AND $1)
		FROM social_media_posts;
	`, band).Scan(&pos, &neg, &neu)
	if err != nil {
		return monitor.SentimentCounts{}, fmt.Errorf("sentiment distribution: %w", err)
	}
	return monitor.SentimentCounts{Positive: int(pos), Negative: int(neg), Neutral: int(neu)}, nil
}

func scanPost(row scanner) (monitor.Post, error) {
	var (
		p        monitor.Post
		platform string
		created  *time.Time
	)
	err := row.Scan(
		&p.ID,
		&platform,
		&p.ExternalID,
		&p.Author,
		&p.Content,
		&p.URL,
		&created,
		&p.Sentiment,
		&p.Engagement.Likes,
		&p.Engagement.Shares,
		&p.Engagement.Comments,
		&p.Engagement.Views,
		&p.FirstMatchedAt,
	)
	if err != nil {
		return monitor.Post{}, err
	}
	p.Platform = monitor.Platform(platform)
	if created != nil {
		p.CreatedAt = *created
	}
	return p, nil
}
