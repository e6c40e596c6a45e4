package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// ErrNotFound signals that the requested run does not exist. It matches
// monitor.ErrNotFound under errors.Is.
var ErrNotFound = fmt.Errorf("run record: %w", monitor.ErrNotFound)

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunOK        RunStatus = "ok"
	RunPartial   RunStatus = "partial"
	RunCancelled RunStatus = "cancelled"
	RunError     RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunOK, RunPartial, RunCancelled, RunError:
		return true
	}
	return false
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s.Valid() && s != RunRunning
}

// RunRecord models one row of crawl_runs. FinishedAt is nil until the run
// reaches a terminal status.
type RunRecord struct {
	ID           uuid.UUID  `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// PlatformDelta is an increment applied to a run's per-platform counters.
type PlatformDelta struct {
	Dispatches    int64 `json:"dispatches"`
	Failures      int64 `json:"failures"`
	Examined      int64 `json:"examined"`
	Matched       int64 `json:"matched"`
	Persisted     int64 `json:"persisted"`
	Deduplicated  int64 `json:"deduplicated"`
	StorageErrors int64 `json:"storage_errors"`
}

// Add accumulates o into d.
func (d *PlatformDelta) Add(o PlatformDelta) {
	d.Dispatches += o.Dispatches
	d.Failures += o.Failures
	d.Examined += o.Examined
	d.Matched += o.Matched
	d.Persisted += o.Persisted
	d.Deduplicated += o.Deduplicated
	d.StorageErrors += o.StorageErrors
}

// Zero reports whether the delta carries no change.
func (d PlatformDelta) Zero() bool {
	return d == PlatformDelta{}
}

// PlatformStats is the aggregated per-platform row of a run.
type PlatformStats struct {
	RunID      uuid.UUID `json:"run_id"`
	Platform   string    `json:"platform"`
	LastUpdate time.Time `json:"last_update"`
	PlatformDelta
}

// RunRepository persists crawl run history.
type RunRepository interface {
	// StartRun inserts the run as running. Repeated calls are idempotent.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the given status.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddPlatformStats adds delta to the (run, platform) row, creating it if needed.
	AddPlatformStats(ctx context.Context, runID uuid.UUID, platform string, delta PlatformDelta, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]RunRecord, error)
	// ListRunPlatforms returns the per-platform rows of one run ordered by platform.
	ListRunPlatforms(ctx context.Context, runID uuid.UUID) ([]PlatformStats, error)
}
