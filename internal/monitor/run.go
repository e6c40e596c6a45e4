package monitor

import (
	"sort"
	"time"
)

// DispatchOutcome is the terminal state of one (rule, platform) dispatch.
type DispatchOutcome string

const (
	DispatchSucceeded DispatchOutcome = "succeeded"
	DispatchFailed    DispatchOutcome = "failed"
	DispatchCancelled DispatchOutcome = "cancelled"
)

// PlatformStatus summarises every dispatch to one platform in a run.
type PlatformStatus string

const (
	PlatformOK        PlatformStatus = "ok"
	PlatformPartial   PlatformStatus = "partial"
	PlatformFailed    PlatformStatus = "failed"
	PlatformCancelled PlatformStatus = "cancelled"
)

// Counters are the per-dispatch and per-platform post counts.
type Counters struct {
	PostsExamined     int `json:"posts_examined"`
	PostsMatched      int `json:"posts_matched"`
	PostsPersisted    int `json:"posts_persisted"`
	PostsDeduplicated int `json:"posts_deduplicated"`
	StorageErrors     int `json:"storage_errors"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.PostsExamined += o.PostsExamined
	c.PostsMatched += o.PostsMatched
	c.PostsPersisted += o.PostsPersisted
	c.PostsDeduplicated += o.PostsDeduplicated
	c.StorageErrors += o.StorageErrors
}

// DispatchResult reports one (rule, platform) dispatch.
type DispatchResult struct {
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	Platform  Platform        `json:"platform"`
	Outcome   DispatchOutcome `json:"outcome"`
	Attempts  int             `json:"attempts"`
	ErrorKind FetchErrorKind  `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Counters
}

// PlatformResult aggregates the dispatches of one platform.
type PlatformResult struct {
	Platform   Platform       `json:"platform"`
	Status     PlatformStatus `json:"status"`
	Dispatches int            `json:"dispatches"`
	Error      string         `json:"error,omitempty"`
	Counters
}

// DispatchError is a platform-level failure listed on the run result.
type DispatchError struct {
	Platform Platform       `json:"platform"`
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Kind     FetchErrorKind `json:"kind"`
	Message  string         `json:"message"`
}

// RunResult is the outcome of one CrawlAll invocation.
type RunResult struct {
	RunID           string           `json:"run_id"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Cancelled       bool             `json:"cancelled"`
	Platforms       []PlatformResult `json:"platforms"`
	Rules           []DispatchResult `json:"rules"`
	Totals          Counters         `json:"totals"`
	TotalPostsFound int              `json:"total_posts_found"`
	Errors          []DispatchError  `json:"errors"`
}

// Platform looks up the result for p.
func (r RunResult) Platform(p Platform) (PlatformResult, bool) {
	for _, pr := range r.Platforms {
		if pr.Platform == p {
			return pr, true
		}
	}
	return PlatformResult{}, false
}

// Summarize folds dispatch results, in dispatch order, into the platform
// and run totals.
func Summarize(dispatches []DispatchResult) RunResult {
	byPlatform := make(map[Platform]*platformTally)
	var order []Platform
	res := RunResult{Rules: dispatches, Errors: []DispatchError{}}
	for _, d := range dispatches {
		tally, ok := byPlatform[d.Platform]
		if !ok {
			tally = &platformTally{result: PlatformResult{Platform: d.Platform}}
			byPlatform[d.Platform] = tally
			order = append(order, d.Platform)
		}
		tally.add(d)
		res.Totals.Add(d.Counters)
		switch d.Outcome {
		case DispatchFailed:
			res.Errors = append(res.Errors, DispatchError{
				Platform: d.Platform,
				RuleID:   d.RuleID,
				RuleName: d.RuleName,
				Kind:     d.ErrorKind,
				Message:  d.Error,
			})
		case DispatchCancelled:
			res.Cancelled = true
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	res.Platforms = make([]PlatformResult, 0, len(order))
	for _, p := range order {
		res.Platforms = append(res.Platforms, byPlatform[p].finish())
	}
	res.TotalPostsFound = res.Totals.PostsPersisted + res.Totals.PostsDeduplicated
	return res
}

type platformTally struct {
	result    PlatformResult
	succeeded int
	failed    int
	cancelled int
}

func (t *platformTally) add(d DispatchResult) {
	t.result.Dispatches++
	t.result.Counters.Add(d.Counters)
	switch d.Outcome {
	case DispatchSucceeded:
		t.succeeded++
	case DispatchFailed:
		t.failed++
		if t.result.Error == "" {
			t.result.Error = d.Error
		}
	case DispatchCancelled:
		t.cancelled++
	}
}

func (t *platformTally) finish() PlatformResult {
	switch {
	case t.failed == 0 && t.cancelled == 0:
		t.result.Status = PlatformOK
	case t.succeeded == 0 && t.cancelled == 0:
		t.result.Status = PlatformFailed
	case t.succeeded == 0 && t.failed == 0:
		t.result.Status = PlatformCancelled
	default:
		t.result.Status = PlatformPartial
	}
	return t.result
}
