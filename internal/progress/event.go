package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageDispatchDone  Stage = "DISPATCH_DONE"
	StageDispatchError Stage = "DISPATCH_ERROR"
	StageRuleCreated   Stage = "RULE_CREATED"
	StageRuleUpdated   Stage = "RULE_UPDATED"
	StageRuleDeleted   Stage = "RULE_DELETED"
)

// Counts carries the post counters attached to dispatch and run events.
type Counts struct {
	Examined      int64
	Matched       int64
	Persisted     int64
	Deduplicated  int64
	StorageErrors int64
}

// Event captures a single milestone of a crawl run or a rule change.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form. Rule
	// events leave it zero.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Platform scopes dispatch events.
	Platform string
	RuleID   string
	// Outcome is the dispatch outcome or the run's final status.
	Outcome string
	Counts  Counts
	// Dur captures dispatch or run latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
		if e.RunID == [16]byte{} {
			return errors.New("run id is required")
		}
	case StageDispatchDone, StageDispatchError:
		if e.RunID == [16]byte{} {
			return errors.New("run id is required")
		}
		if e.Platform == "" || e.RuleID == "" {
			return errors.New("dispatch events require platform and rule id")
		}
	case StageRuleCreated, StageRuleUpdated, StageRuleDeleted:
		if e.RuleID == "" {
			return errors.New("rule events require rule id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual run id into the Event form.
func ParseRunID(id string) ([16]byte, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(u), nil
}

// NopEmitter discards events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
