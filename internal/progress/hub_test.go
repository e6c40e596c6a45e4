package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

func TestHubFlushesFinishedRunImmediately(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Hour,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	run := UUIDToBytes(uuid.New())
	hub.Emit(Event{RunID: run, TS: time.Now(), Stage: StageRunStart})
	hub.Emit(Event{RunID: run, TS: time.Now(), Stage: StageDispatchDone, Platform: "reddit", RuleID: "rule-1"})
	hub.Emit(Event{RunID: run, TS: time.Now(), Stage: StageRunDone, Outcome: "ok"})

	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
	batch := sink.Batches()[0]
	require.Len(t, batch, 3)
	require.Equal(t, StageRunDone, batch[2].Stage)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:    UUIDToBytes(uuid.New()),
		TS:       time.Now(),
		Stage:    stage,
		Platform: "reddit",
		RuleID:   "rule-1",
	}
}

// TestHubDropsInvalidEvents ensures malformed events never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Minute}, sink)

	hub.Emit(Event{TS: time.Now(), Stage: StageDispatchDone})
	hub.Emit(Event{TS: time.Now(), Stage: "BOGUS", RuleID: "r"})
	hub.Emit(Event{TS: time.Now(), Stage: StageRuleCreated, RuleID: "r"})

	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, StageRuleCreated, batches[0][0].Stage)
}

// TestHubCountsDrops checks backpressure drops are visible.
func TestHubCountsDrops(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:         Config{},
		events:      make(chan Event),
		logger:      zap.NewNop(),
		dropLimiter: rateLimiter{interval: time.Hour},
	}
	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageRunStart))
	require.Equal(t, int64(2), hub.Dropped())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	run := UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, Event{RunID: run, TS: now, Stage: StageRunDone}.Validate())
	require.Error(t, Event{TS: now, Stage: StageRunStart}.Validate())
	require.Error(t, Event{RunID: run, Stage: StageRunStart}.Validate())
	require.Error(t, Event{RunID: run, TS: now, Stage: StageDispatchError, Platform: "twitter"}.Validate())
	require.NoError(t, Event{RunID: run, TS: now, Stage: StageDispatchError, Platform: "twitter", RuleID: "r"}.Validate())
	require.Error(t, Event{RunID: run, TS: now, Stage: StageRunDone, Dur: -time.Second}.Validate())

	id, err := ParseRunID("00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	require.Equal(t, "00000000-0000-0000-0000-000000000001", Event{RunID: id}.RunUUID().String())
	_, err = ParseRunID("nope")
	require.Error(t, err)
}
