// Package matcher decides whether a raw post satisfies a crawler rule.
//
// Term matching is a union: any keyword (substring), hashtag (bare tag
// substring) or account (exact author) hit counts. Exclude keywords veto a
// match. The sentiment and engagement gates are conjunctive with the terms.
package matcher

import (
	"math"
	"strings"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// Reason explains why a post did not match.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonNoTerms    Reason = "no_terms"
	ReasonExcluded   Reason = "excluded"
	ReasonSentiment  Reason = "sentiment"
	ReasonEngagement Reason = "engagement"
)

// Result is the outcome of evaluating one post against one rule. Evidence
// is populated even when a gate rejects the post.
type Result struct {
	Matched  bool
	Evidence []monitor.Evidence
	Reason   Reason
}

// Matcher evaluates posts against rules. It holds no state.
type Matcher struct{}

// New returns a Matcher.
func New() *Matcher {
	return &Matcher{}
}

// Evaluate reports whether post matches rule and which terms were found.
func (m *Matcher) Evaluate(post monitor.RawPost, rule monitor.Rule) Result {
	content := strings.ToLower(post.Content)
	evidence := collectEvidence(content, post.Author, rule)
	if len(evidence) == 0 {
		return Result{Reason: ReasonNoTerms}
	}
	if excluded(content, rule.ExcludeKeywords) {
		return Result{Evidence: evidence, Reason: ReasonExcluded}
	}
	if !passesSentiment(post.Sentiment, rule.SentimentThreshold) {
		return Result{Evidence: evidence, Reason: ReasonSentiment}
	}
	if post.Engagement.Total() < rule.EngagementThreshold {
		return Result{Evidence: evidence, Reason: ReasonEngagement}
	}
	return Result{Matched: true, Evidence: evidence}
}

func collectEvidence(content, author string, rule monitor.Rule) []monitor.Evidence {
	var out []monitor.Evidence
	seen := make(map[string]struct{})
	add := func(term string, kind monitor.MatchKind) {
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		out = append(out, monitor.Evidence{Term: term, Kind: kind})
	}

	for _, kw := range rule.Keywords {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle != "" && strings.Contains(content, needle) {
			add(kw, monitor.MatchKeyword)
		}
	}
	for _, tag := range rule.Hashtags {
		needle := strings.ToLower(monitor.NormalizeHashtag(tag))
		if needle != "" && strings.Contains(content, needle) {
			add(tag, monitor.MatchHashtag)
		}
	}
	handle := monitor.NormalizeAccount(author)
	if handle != "" {
		for _, acct := range rule.Accounts {
			want := monitor.NormalizeAccount(acct)
			if want != "" && strings.EqualFold(want, handle) {
				add(acct, monitor.MatchAccount)
			}
		}
	}
	return out
}

func excluded(content string, excludes []string) bool {
	for _, ex := range excludes {
		needle := strings.ToLower(strings.TrimSpace(ex))
		if needle != "" && strings.Contains(content, needle) {
			return true
		}
	}
	return false
}

// passesSentiment requires |score| >= |threshold|/100. The threshold is a
// minimum magnitude, so a score exactly on it passes: threshold 10 admits
// 0.1 and rejects 0.05. A missing score fails whenever a threshold is set.
func passesSentiment(score *float64, threshold *int) bool {
	if threshold == nil {
		return true
	}
	if score == nil {
		return false
	}
	return math.Abs(*score) >= math.Abs(float64(*threshold))/100
}
