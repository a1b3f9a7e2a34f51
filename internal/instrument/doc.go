// Package instrument provides hierarchical span and event dispatch for
// tracing operations across the application.
//
// Dispatchers form a tree keyed by dotted names: "engine.retrieve" reports to
// "engine", which reports to the root. A notification starts at the
// originating dispatcher and walks up the parent chain, invoking every
// registered handler at each node, until a dispatcher with propagation
// disabled has been processed or the root has been reached.
//
// Spans mark the lifetime of one operation. A span is entered before the
// operation runs and ends in exactly one of two terminal states: exited
// (operation returned) or dropped (operation failed or panicked). A drop
// additionally publishes a SpanDropEvent through the event path before span
// handlers hear about the drop, so event consumers see failures too.
//
// The active span id travels in the context.Context. Each StartSpan derives
// the parent from the caller's context and returns a child context carrying
// the new id, so nesting is tracked per goroutine chain without any global
// state, and the caller's active id is intact on every return path.
//
// Handlers are isolated: a panic inside one handler is swallowed at its call
// site and never reaches other handlers or the instrumented operation.
// Handlers run synchronously on the calling goroutine and must be safe for
// concurrent use when spans are started from multiple goroutines.
//
// Typical wiring:
//
//	reg := instrument.New()
//	reg.Root().AddSpanHandler(traceHandler)
//
//	retrieve := instrument.Wrap(reg.Dispatcher("engine.retrieve"), "retrieve", rawRetrieve)
//
// or, for irregular signatures:
//
//	ctx, span := d.StartSpan(ctx, "ingest.run")
//	defer func() { span.End(&err) }()
package instrument
