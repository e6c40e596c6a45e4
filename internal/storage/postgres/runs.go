package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/social-monitor/internal/store"
)

// StartRun inserts the run as running; a repeated start is a no-op.
func (s *Store) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *Store) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddPlatformStats adds delta to the (run, platform) counters in one statement.
func (s *Store) AddPlatformStats(
	ctx context.Context,
	runID uuid.UUID,
	platform string,
	delta store.PlatformDelta,
	at time.Time,
) error {
	query := `
		INSERT INTO crawl_run_platforms (run_id, platform, last_update, dispatches, failures,
			examined, matched, persisted, deduplicated, storage_errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, platform) DO UPDATE SET
			last_update = GREATEST(crawl_run_platforms.last_update, EXCLUDED.last_update),
			dispatches = crawl_run_platforms.dispatches + EXCLUDED.dispatches,
			failures = crawl_run_platforms.failures + EXCLUDED.failures,
			examined = crawl_run_platforms.examined + EXCLUDED.examined,
			matched = crawl_run_platforms.matched + EXCLUDED.matched,
			persisted = crawl_run_platforms.persisted + EXCLUDED.persisted,
			deduplicated = crawl_run_platforms.deduplicated + EXCLUDED.deduplicated,
			storage_errors = crawl_run_platforms.storage_errors + EXCLUDED.storage_errors;
	`
	_, err := s.pool.Exec(ctx, query,
		runID,
		platform,
		at,
		delta.Dispatches,
		delta.Failures,
		delta.Examined,
		delta.Matched,
		delta.Persisted,
		delta.Deduplicated,
		delta.StorageErrors,
	)
	if err != nil {
		return fmt.Errorf("failed to add platform stats: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (store.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE id = $1;
	`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *Store) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListRunPlatforms retrieves the per-platform counters of a run.
func (s *Store) ListRunPlatforms(ctx context.Context, runID uuid.UUID) ([]store.PlatformStats, error) {
	query := `
		SELECT run_id, platform, last_update, dispatches, failures, examined, matched,
			persisted, deduplicated, storage_errors
		FROM crawl_run_platforms
		WHERE run_id = $1
		ORDER BY platform;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run platforms: %w", err)
	}
	defer rows.Close()

	var stats []store.PlatformStats
	for rows.Next() {
		var stat store.PlatformStats
		err := rows.Scan(
			&stat.RunID,
			&stat.Platform,
			&stat.LastUpdate,
			&stat.Dispatches,
			&stat.Failures,
			&stat.Examined,
			&stat.Matched,
			&stat.Persisted,
			&stat.Deduplicated,
			&stat.StorageErrors,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run platform row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list run platforms: %w", err)
	}
	return stats, nil
}

func scanRun(row scanner) (store.RunRecord, error) {
	var (
		run    store.RunRecord
		status string
	)
	if err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.ErrorMessage); err != nil {
		return store.RunRecord{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
