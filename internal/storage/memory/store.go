// Package memory keeps rules, posts and evidence in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

type postKey struct {
	platform   monitor.Platform
	externalID string
}

type matchKey struct {
	postID string
	ruleID string
	term   string
}

type storedRule struct {
	rule monitor.Rule
	seq  int
}

// Store implements monitor.RuleStore and monitor.PostStore.
type Store struct {
	mu      sync.RWMutex
	clock   monitor.Clock
	rules   map[string]storedRule
	ruleSeq int
	posts   map[string]monitor.Post
	byKey   map[postKey]string
	order   []string
	matches map[matchKey]monitor.KeywordMatch
	byPost  map[string][]matchKey
}

// NewStore constructs an empty Store. clock stamps evidence rows.
func NewStore(clock monitor.Clock) *Store {
	return &Store{
		clock:   clock,
		rules:   make(map[string]storedRule),
		posts:   make(map[string]monitor.Post),
		byKey:   make(map[postKey]string),
		matches: make(map[matchKey]monitor.KeywordMatch),
		byPost:  make(map[string][]matchKey),
	}
}

// CreateRule stores a new rule.
func (s *Store) CreateRule(_ context.Context, rule monitor.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule %s already exists", rule.ID)
	}
	s.ruleSeq++
	s.rules[rule.ID] = storedRule{rule: cloneRule(rule), seq: s.ruleSeq}
	return nil
}

// UpdateRule replaces a rule, keeping its creation order.
func (s *Store) UpdateRule(_ context.Context, rule monitor.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[rule.ID]
	if !ok {
		return fmt.Errorf("rule %s: %w", rule.ID, monitor.ErrNotFound)
	}
	existing.rule = cloneRule(rule)
	s.rules[rule.ID] = existing
	return nil
}

// DeleteRule removes a rule. Evidence that references it is kept.
func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, monitor.ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

// GetRule returns a copy of the rule.
func (s *Store) GetRule(_ context.Context, id string) (monitor.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.rules[id]
	if !ok {
		return monitor.Rule{}, fmt.Errorf("rule %s: %w", id, monitor.ErrNotFound)
	}
	return cloneRule(stored.rule), nil
}

// ListRules returns every rule by priority then creation order.
func (s *Store) ListRules(_ context.Context) ([]monitor.Rule, error) {
	return s.listRules(false), nil
}

// ListActiveRules returns active rules by priority then creation order.
func (s *Store) ListActiveRules(_ context.Context) ([]monitor.Rule, error) {
	return s.listRules(true), nil
}

func (s *Store) listRules(activeOnly bool) []monitor.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := make([]storedRule, 0, len(s.rules))
	for _, sr := range s.rules {
		if activeOnly && !sr.rule.Active {
			continue
		}
		stored = append(stored, sr)
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if a.rule.Priority != b.rule.Priority {
			return a.rule.Priority < b.rule.Priority
		}
		if !a.rule.CreatedAt.Equal(b.rule.CreatedAt) {
			return a.rule.CreatedAt.Before(b.rule.CreatedAt)
		}
		return a.seq < b.seq
	})
	out := make([]monitor.Rule, 0, len(stored))
	for _, sr := range stored {
		out = append(out, cloneRule(sr.rule))
	}
	return out
}

// CountRules reports total and active rule counts.
func (s *Store) CountRules(_ context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := 0
	for _, sr := range s.rules {
		if sr.rule.Active {
			active++
		}
	}
	return len(s.rules), active, nil
}

// Claim creates post unless (platform, external id) is already stored.
func (s *Store) Claim(_ context.Context, post monitor.Post) (monitor.Post, bool, error) {
	if post.ExternalID == "" {
		return monitor.Post{}, false, fmt.Errorf("%w: empty external id", monitor.ErrStorage)
	}
	key := postKey{platform: post.Platform, externalID: post.ExternalID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return s.posts[id], false, nil
	}
	if _, clash := s.posts[post.ID]; clash {
		return monitor.Post{}, false, fmt.Errorf("%w: post id %s reused", monitor.ErrStorage, post.ID)
	}
	s.posts[post.ID] = post
	s.byKey[key] = post.ID
	s.order = append(s.order, post.ID)
	return post, true, nil
}

// RecordEvidence appends evidence rows not already present.
func (s *Store) RecordEvidence(_ context.Context, postID, ruleID string, evidence []monitor.Evidence) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return 0, fmt.Errorf("%w: post %s: %w", monitor.ErrStorage, postID, monitor.ErrNotFound)
	}
	now := s.now()
	inserted := 0
	for _, ev := range evidence {
		key := matchKey{postID: postID, ruleID: ruleID, term: ev.Term}
		if _, exists := s.matches[key]; exists {
			continue
		}
		s.matches[key] = monitor.KeywordMatch{
			PostID:    postID,
			RuleID:    ruleID,
			Term:      ev.Term,
			Kind:      ev.Kind,
			CreatedAt: now,
		}
		s.byPost[postID] = append(s.byPost[postID], key)
		inserted++
	}
	return inserted, nil
}

// Evidence lists the evidence rows of a post in insertion order.
func (s *Store) Evidence(_ context.Context, postID string) ([]monitor.KeywordMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byPost[postID]
	out := make([]monitor.KeywordMatch, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.matches[k])
	}
	return out, nil
}

// QueryPosts returns posts newest first.
func (s *Store) QueryPosts(_ context.Context, q monitor.PostQuery) ([]monitor.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))
	var out []monitor.Post
	for i := len(s.order) - 1; i >= 0; i-- {
		p := s.posts[s.order[i]]
		if q.Platform != "" && p.Platform != q.Platform {
			continue
		}
		if !q.Since.IsZero() && p.FirstMatchedAt.Before(q.Since) {
			continue
		}
		if q.Sentiment != "" {
			if p.Sentiment == nil || monitor.ClassifySentiment(*p.Sentiment, monitor.SentimentNeutralBand) != q.Sentiment {
				continue
			}
		}
		if keyword != "" && !s.hasTerm(p.ID, keyword) {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) hasTerm(postID, term string) bool {
	for _, k := range s.byPost[postID] {
		if strings.ToLower(k.term) == term {
			return true
		}
	}
	return false
}

// CountPosts counts posts first matched at or after since.
func (s *Store) CountPosts(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if since.IsZero() {
		return len(s.posts), nil
	}
	n := 0
	for _, p := range s.posts {
		if !p.FirstMatchedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountPostsByPlatform groups stored posts by platform.
func (s *Store) CountPostsByPlatform(_ context.Context) (map[monitor.Platform]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[monitor.Platform]int)
	for _, p := range s.posts {
		out[p.Platform]++
	}
	return out, nil
}

// SentimentDistribution buckets scored posts; unscored posts are skipped.
func (s *Store) SentimentDistribution(_ context.Context, band float64) (monitor.SentimentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts monitor.SentimentCounts
	for _, p := range s.posts {
		if p.Sentiment == nil {
			continue
		}
		switch monitor.ClassifySentiment(*p.Sentiment, band) {
		case monitor.SentimentPositive:
			counts.Positive++
		case monitor.SentimentNegative:
			counts.Negative++
		default:
			counts.Neutral++
		}
	}
	return counts, nil
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func cloneRule(r monitor.Rule) monitor.Rule {
	cp := r
	cp.Platforms = append([]monitor.Platform(nil), r.Platforms...)
	cp.Keywords = append([]string(nil), r.Keywords...)
	cp.ExcludeKeywords = append([]string(nil), r.ExcludeKeywords...)
	cp.Hashtags = append([]string(nil), r.Hashtags...)
	cp.Accounts = append([]string(nil), r.Accounts...)
	if r.SentimentThreshold != nil {
		v := *r.SentimentThreshold
		cp.SentimentThreshold = &v
	}
	if r.Filters != nil {
		cp.Filters = make(map[string]any, len(r.Filters))
		for k, v := range r.Filters {
			cp.Filters[k] = v
		}
	}
	return cp
}
