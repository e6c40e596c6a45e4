package orchestrator

import (
	"sync"
	"time"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

type cursorKey struct {
	ruleID   string
	platform monitor.Platform
}

// Cursors remember, per (rule, platform), when the last successful
// dispatch started. They live for the lifetime of the process.
type Cursors struct {
	mu   sync.Mutex
	last map[cursorKey]time.Time
}

// NewCursors returns an empty cursor table.
func NewCursors() *Cursors {
	return &Cursors{last: make(map[cursorKey]time.Time)}
}

// Since returns the fetch window start: the recorded cursor, or
// now - lookback when there is none. A zero lookback means no window.
func (c *Cursors) Since(ruleID string, platform monitor.Platform, now time.Time, lookback time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.last[cursorKey{ruleID: ruleID, platform: platform}]; ok {
		return t
	}
	if lookback <= 0 {
		return time.Time{}
	}
	return now.Add(-lookback)
}

// Advance records a successful dispatch that started at t. Cursors never
// move backwards.
func (c *Cursors) Advance(ruleID string, platform monitor.Platform, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cursorKey{ruleID: ruleID, platform: platform}
	if prev, ok := c.last[key]; ok && !t.After(prev) {
		return
	}
	c.last[key] = t
}
