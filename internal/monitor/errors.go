package monitor

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means the provider (or the local limiter) refused the request for now.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransientFetch covers network failures and provider 5xx responses.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrPermanentFetch covers auth failures, 4xx responses and invalid criteria.
	ErrPermanentFetch = errors.New("permanent fetch error")
	// ErrDedupConflict signals a lost create race; stores absorb it.
	ErrDedupConflict = errors.New("dedup conflict")
	// ErrStorage wraps persistence failures for a single post.
	ErrStorage = errors.New("storage error")
	// ErrInvalidRule rejects a malformed rule.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrNotFound is returned by stores for unknown ids.
	ErrNotFound = errors.New("not found")
	// ErrNoAdapter means no adapter is registered for a rule's platform.
	ErrNoAdapter = errors.New("no adapter for platform")
)

// FetchErrorKind classifies adapter failures for retry decisions.
type FetchErrorKind string

const (
	FetchRateLimited FetchErrorKind = "rate_limited"
	FetchTransient   FetchErrorKind = "transient"
	FetchPermanent   FetchErrorKind = "permanent"
	FetchCancelled   FetchErrorKind = "cancelled"
)

// FetchError is the error adapters yield. It unwraps to both the kind's
// sentinel and the underlying cause.
type FetchError struct {
	Platform   Platform
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

// NewFetchError wraps err with a platform and kind.
func NewFetchError(platform Platform, kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Platform: platform, Kind: kind, Err: err}
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Platform, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the sentinel for Kind and the cause.
func (e *FetchError) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case FetchRateLimited:
		sentinel = ErrRateLimited
	case FetchPermanent:
		sentinel = ErrPermanentFetch
	case FetchCancelled:
		sentinel = context.Canceled
	default:
		sentinel = ErrTransientFetch
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// ClassifyFetchError maps any adapter error to a kind. Unknown errors are
// treated as transient.
func ClassifyFetchError(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind != "" {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FetchCancelled
	case errors.Is(err, ErrRateLimited):
		return FetchRateLimited
	case errors.Is(err, ErrPermanentFetch), errors.Is(err, ErrInvalidRule):
		return FetchPermanent
	default:
		return FetchTransient
	}
}

func invalidRule(r Rule, reason string) error {
	return fmt.Errorf("%w: rule %q: %s", ErrInvalidRule, r.ID, reason)
}
