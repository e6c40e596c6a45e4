package progress

import "context"

// Sink receives batches of run, dispatch and rule events from a Hub. The hub
// calls Consume from a single goroutine, with a context bounded by
// Config.SinkTimeout; Close is called once after the last batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is what the orchestrator and the rule service report to.
type Emitter interface {
	Emit(evt Event)
}
