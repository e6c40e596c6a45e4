package orchestrator

import (
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// RetryPolicy decides whether a failed fetch attempt is repeated. Only
// transient failures are retried, and immediately; rate limits and
// permanent failures are recorded as they are.
type RetryPolicy struct {
	maxAttempts int
}

// NewRetryPolicy allows retries extra attempts after the first one.
// Negative values mean no retries.
func NewRetryPolicy(retries int) RetryPolicy {
	return RetryPolicy{maxAttempts: 1 + max(retries, 0)}
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	return monitor.ClassifyFetchError(err) == monitor.FetchTransient
}

// MaxAttempts returns the attempt budget per dispatch.
func (p RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}
