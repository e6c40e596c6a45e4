package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/progress"
	"github.com/JakeFAU/social-monitor/internal/store"
)

// TestStoreSinkPersistsEvents ensures dispatch counters are collapsed per platform before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{
			RunID:    runID,
			Stage:    progress.StageDispatchDone,
			Platform: "twitter",
			RuleID:   "r1",
			Outcome:  "succeeded",
			Counts:   progress.Counts{Examined: 10, Matched: 4, Persisted: 3, Deduplicated: 1},
			TS:       now.Add(1 * time.Second),
		},
		{
			RunID:    runID,
			Stage:    progress.StageDispatchError,
			Platform: "twitter",
			RuleID:   "r2",
			Outcome:  "failed",
			Counts:   progress.Counts{Examined: 2, Matched: 1, Persisted: 1},
			TS:       now.Add(2 * time.Second),
		},
		{
			RunID:    runID,
			Stage:    progress.StageDispatchDone,
			Platform: "reddit",
			RuleID:   "r1",
			Outcome:  "succeeded",
			TS:       now.Add(3 * time.Second),
		},
		{RunID: runID, Stage: progress.StageRunDone, Outcome: "partial", TS: now.Add(4 * time.Second), Dur: 4 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Equal(t, []store.RunStatus{store.RunPartial}, repo.statuses)
	require.Len(t, repo.stats, 2)
	require.Equal(t, "twitter", repo.stats[0].platform)
	require.Equal(t, store.PlatformDelta{
		Dispatches:   2,
		Failures:     1,
		Examined:     12,
		Matched:      5,
		Persisted:    4,
		Deduplicated: 1,
	}, repo.stats[0].delta)
	require.Equal(t, now.Add(2*time.Second), repo.stats[0].at)
	require.Equal(t, "reddit", repo.stats[1].platform)
	require.Equal(t, int64(1), repo.stats[1].delta.Dispatches)
}

func TestStoreSinkRunError(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, zap.NewNop())
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunError, Note: "boom", TS: time.Now()},
		{RuleID: "r1", Stage: progress.StageRuleDeleted, TS: time.Now()},
	}))
	require.Equal(t, []store.RunStatus{store.RunError}, repo.statuses)
	require.Equal(t, []string{"boom"}, repo.notes)
	require.Empty(t, repo.stats)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)
}

type fakeRunRepo struct {
	mu       sync.Mutex
	fail     bool
	starts   []uuid.UUID
	statuses []store.RunStatus
	notes    []string
	stats    []statsCall
}

type statsCall struct {
	runID    uuid.UUID
	platform string
	delta    store.PlatformDelta
	at       time.Time
}

var errRepo = errors.New("repo failure")

func (f *fakeRunRepo) StartRun(_ context.Context, runID uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errRepo
	}
	f.starts = append(f.starts, runID)
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, _ uuid.UUID, _ time.Time, status store.RunStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errRepo
	}
	f.statuses = append(f.statuses, status)
	if errMsg != nil {
		f.notes = append(f.notes, *errMsg)
	}
	return nil
}

func (f *fakeRunRepo) AddPlatformStats(
	_ context.Context,
	runID uuid.UUID,
	platform string,
	delta store.PlatformDelta,
	at time.Time,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errRepo
	}
	f.stats = append(f.stats, statsCall{runID: runID, platform: platform, delta: delta, at: at})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.RunRecord, error) {
	return store.RunRecord{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.RunRecord, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListRunPlatforms(context.Context, uuid.UUID) ([]store.PlatformStats, error) {
	return nil, nil
}
