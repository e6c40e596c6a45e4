package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/social-monitor/internal/store"
)

// RunStore keeps crawl run history in memory.
type RunStore struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]store.RunRecord
	platforms map[uuid.UUID]map[string]store.PlatformStats
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:      make(map[uuid.UUID]store.RunRecord),
		platforms: make(map[uuid.UUID]map[string]store.PlatformStats),
	}
}

// StartRun records the run as running; a repeated start is a no-op.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return nil
	}
	s.runs[runID] = store.RunRecord{ID: runID, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// AddPlatformStats accumulates delta into the (run, platform) row.
func (s *RunStore) AddPlatformStats(
	_ context.Context,
	runID uuid.UUID,
	platform string,
	delta store.PlatformDelta,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPlatform := s.platforms[runID]
	if byPlatform == nil {
		byPlatform = make(map[string]store.PlatformStats)
		s.platforms[runID] = byPlatform
	}
	stat, ok := byPlatform[platform]
	if !ok {
		stat = store.PlatformStats{RunID: runID, Platform: platform}
	}
	stat.Add(delta)
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	byPlatform[platform] = stat
	return nil
}

// GetRun returns a single run.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.RunRecord, error) {
	s.mu.RLock()
	runs := make([]store.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID.String() > runs[j].ID.String()
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[max(offset, 0):]
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ListRunPlatforms returns the per-platform rows of a run ordered by platform.
func (s *RunStore) ListRunPlatforms(_ context.Context, runID uuid.UUID) ([]store.PlatformStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.PlatformStats, 0, len(s.platforms[runID]))
	for _, stat := range s.platforms[runID] {
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}
