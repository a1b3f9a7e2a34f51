package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ragline/ragline/internal/instrument"
	"github.com/ragline/ragline/internal/log"
)

// newRecordingHandler returns a TraceHandler backed by an in-memory
// exporter, plus the exporter for inspecting finished spans.
func newRecordingHandler(t *testing.T) (*TraceHandler, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return NewTraceHandler(provider.Tracer("test")), exporter
}

func TestTraceHandlerMirrorsSpanTree(t *testing.T) {
	handler, exporter := newRecordingHandler(t)

	reg := instrument.New()
	reg.Root().AddSpanHandler(handler)
	engine := reg.Dispatcher("engine")

	ctx, outer := engine.StartSpan(context.Background(), "engine.chat")
	_, inner := engine.StartSpan(ctx, "engine.retrieve")
	inner.End(nil)
	outer.End(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	// Synchronous export order: inner ends first
	child, parent := spans[0], spans[1]
	assert.Equal(t, "engine.retrieve", child.Name)
	assert.Equal(t, "engine.chat", parent.Name)
	assert.Equal(t, parent.SpanContext.SpanID(), child.Parent.SpanID(),
		"child span should link to its parent")
	assert.Equal(t, parent.SpanContext.TraceID(), child.SpanContext.TraceID(),
		"both spans should share one trace")
	assert.Equal(t, codes.Ok, parent.Status.Code)

	assert.Equal(t, 0, handler.OpenSpans())
}

func TestTraceHandlerRecordsDrops(t *testing.T) {
	handler, exporter := newRecordingHandler(t)

	reg := instrument.New()
	reg.Root().AddSpanHandler(handler)
	d := reg.Dispatcher("ingest")

	boom := errors.New("walk failed")
	_, span := d.StartSpan(context.Background(), "ingest.run")
	err := boom
	span.End(&err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "walk failed", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1, "drop should be recorded as an exception event")
	assert.Equal(t, "exception", spans[0].Events[0].Name)

	assert.Equal(t, 0, handler.OpenSpans())
}

func TestTraceHandlerAttachesEvents(t *testing.T) {
	handler, exporter := newRecordingHandler(t)

	reg := instrument.New()
	reg.Root().AddSpanHandler(handler)
	reg.Root().AddEventHandler(handler)
	d := reg.Dispatcher("engine")

	ctx, span := d.StartSpan(context.Background(), "engine.chat")
	d.Event(testEvent{EventBase: instrument.NewEventBase(ctx), name: "retrieval.done"})
	span.End(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "retrieval.done", spans[0].Events[0].Name)
}

func TestTraceHandlerIgnoresUnknownSpans(t *testing.T) {
	handler, exporter := newRecordingHandler(t)

	// Exit without a matching enter must not panic or export
	handler.SpanExit(instrument.Span{ID: "ghost-1", Name: "ghost"}, nil)
	handler.SpanDrop(instrument.Span{ID: "ghost-2", Name: "ghost"}, errors.New("x"))
	handler.Handle(testEvent{name: "orphan"})

	assert.Empty(t, exporter.GetSpans())
	assert.Equal(t, 0, handler.OpenSpans())
}

func TestLogHandlerDoesNotPanic(t *testing.T) {
	h := NewLogHandler(log.NewNop())

	reg := instrument.New()
	reg.Root().AddSpanHandler(h)
	reg.Root().AddEventHandler(h)
	d := reg.Dispatcher("engine")

	ctx, span := d.StartSpan(context.Background(), "engine.chat")
	d.Event(testEvent{EventBase: instrument.NewEventBase(ctx), name: "retrieval.done"})
	err := errors.New("boom")
	span.End(&err)

	// Also with a nil logger
	NewLogHandler(nil).SpanEnter(instrument.Span{Name: "x"})
}

// testEvent is a minimal Event for handler tests.
type testEvent struct {
	instrument.EventBase
	name string
}

func (e testEvent) EventName() string { return e.name }
