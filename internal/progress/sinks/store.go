package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/progress"
	"github.com/JakeFAU/social-monitor/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Dispatch events
// are collapsed per (run, platform) before being written.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run transitions and collapsed platform deltas to the
// repository. It returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)
	var keys []statsKey

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageDispatchDone, progress.StageDispatchError:
			key := statsKey{runID: runID, platform: evt.Platform}
			if _, ok := stats[key]; !ok {
				stats[key] = &statsDelta{}
				keys = append(keys, key)
			}
			stats[key].record(evt)
		}
	}

	for _, key := range keys {
		delta := stats[key]
		if err := s.repo.AddPlatformStats(ctx, key.runID, key.platform, delta.delta, delta.at); err != nil {
			return fmt.Errorf("add platform stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		status := store.RunStatus(evt.Outcome)
		if !status.Terminal() {
			s.logger.Warn("unknown run outcome, recording ok", zap.String("outcome", evt.Outcome))
			status = store.RunOK
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID    uuid.UUID
	platform string
}

type statsDelta struct {
	delta store.PlatformDelta
	at    time.Time
}

func (d *statsDelta) record(evt progress.Event) {
	d.delta.Add(store.PlatformDelta{
		Dispatches:    1,
		Examined:      evt.Counts.Examined,
		Matched:       evt.Counts.Matched,
		Persisted:     evt.Counts.Persisted,
		Deduplicated:  evt.Counts.Deduplicated,
		StorageErrors: evt.Counts.StorageErrors,
	})
	if evt.Stage == progress.StageDispatchError {
		d.delta.Failures++
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}
