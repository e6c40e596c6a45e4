package rules

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// Field limits for rule administration.
const (
	MaxNameLength    = 255
	MaxKeywordLength = 100
	MaxTagLength     = 50
	MinPriority      = 1
	MaxPriority      = 3
	DefaultPriority  = 2
	MaxSentiment     = 100
)

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a rule.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid rule: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match monitor.ErrInvalidRule.
func (e *ValidationError) Unwrap() error {
	return monitor.ErrInvalidRule
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Normalize trims names and terms, drops blank terms and duplicate
// platforms, and applies the default priority.
func Normalize(r monitor.Rule) monitor.Rule {
	r.Name = strings.TrimSpace(r.Name)
	r.Keywords = cleanTerms(r.Keywords)
	r.ExcludeKeywords = cleanTerms(r.ExcludeKeywords)
	r.Hashtags = cleanTerms(r.Hashtags)
	r.Accounts = cleanTerms(r.Accounts)
	seen := make(map[monitor.Platform]struct{}, len(r.Platforms))
	platforms := make([]monitor.Platform, 0, len(r.Platforms))
	for _, p := range r.Platforms {
		p = monitor.Platform(strings.ToLower(strings.TrimSpace(string(p))))
		if _, dup := seen[p]; dup || p == "" {
			continue
		}
		seen[p] = struct{}{}
		platforms = append(platforms, p)
	}
	r.Platforms = platforms
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	return r
}

// Validate checks a normalized rule and returns a *ValidationError.
func Validate(r monitor.Rule) error {
	verr := &ValidationError{}
	switch n := utf8.RuneCountInString(r.Name); {
	case n == 0:
		verr.add("name", "is required")
	case n > MaxNameLength:
		verr.add("name", "must be at most %d characters", MaxNameLength)
	}
	if len(r.Platforms) == 0 {
		verr.add("platforms", "at least one platform is required")
	}
	for _, p := range r.Platforms {
		if !p.Valid() {
			verr.add("platforms", "unknown platform %q", p)
		}
	}
	if !r.HasTerms() {
		verr.add("keywords", "at least one keyword, hashtag or account is required")
	}
	checkLengths(verr, "keywords", r.Keywords, MaxKeywordLength)
	checkLengths(verr, "exclude_keywords", r.ExcludeKeywords, MaxKeywordLength)
	checkLengths(verr, "hashtags", r.Hashtags, MaxTagLength)
	checkLengths(verr, "accounts", r.Accounts, MaxTagLength)
	if r.SentimentThreshold != nil && (*r.SentimentThreshold < -MaxSentiment || *r.SentimentThreshold > MaxSentiment) {
		verr.add("sentiment_threshold", "must be between %d and %d", -MaxSentiment, MaxSentiment)
	}
	if r.EngagementThreshold < 0 {
		verr.add("engagement_threshold", "must be >= 0")
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		verr.add("priority", "must be between %d and %d", MinPriority, MaxPriority)
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func checkLengths(verr *ValidationError, field string, terms []string, limit int) {
	for _, t := range terms {
		if utf8.RuneCountInString(t) > limit {
			verr.add(field, "%q exceeds %d characters", t, limit)
		}
	}
}

func cleanTerms(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
