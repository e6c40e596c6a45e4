// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the orchestrator and rule service use to report crawl runs,
// per-dispatch outcomes and rule changes. Events are batched on a background
// goroutine and fanned out to pluggable sinks such as logs, Prometheus or the
// run history store.
package progress
