package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.RunID != [16]byte{} {
			fields = append(fields, zap.Stringer("run_id", evt.RunUUID()))
		}
		if evt.Platform != "" {
			fields = append(fields, zap.String("platform", evt.Platform))
		}
		if evt.RuleID != "" {
			fields = append(fields, zap.String("rule_id", evt.RuleID))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome))
		}
		if evt.Counts != (progress.Counts{}) {
			fields = append(fields,
				zap.Int64("examined", evt.Counts.Examined),
				zap.Int64("matched", evt.Counts.Matched),
				zap.Int64("persisted", evt.Counts.Persisted),
				zap.Int64("deduplicated", evt.Counts.Deduplicated),
				zap.Int64("storage_errors", evt.Counts.StorageErrors),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
