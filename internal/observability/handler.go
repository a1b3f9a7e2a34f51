package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ragline/ragline/internal/instrument"
	"github.com/ragline/ragline/internal/log"
)

// TraceHandler mirrors dispatcher spans and events onto OpenTelemetry
// spans. Register it on the root dispatcher so propagated notifications
// from the whole tree arrive at one place.
//
// Parent linkage follows instrument.Span.ParentID: a child entering while
// its parent is still open becomes an OpenTelemetry child span. Spans whose
// parent already ended (or never passed through this handler) start a new
// trace.
//
// Safe for concurrent use.
type TraceHandler struct {
	tracer trace.Tracer

	mu   sync.Mutex
	open map[string]openSpan
}

type openSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewTraceHandler creates a handler producing spans through tracer.
func NewTraceHandler(tracer trace.Tracer) *TraceHandler {
	return &TraceHandler{
		tracer: tracer,
		open:   make(map[string]openSpan),
	}
}

// SpanEnter implements instrument.SpanHandler.
func (h *TraceHandler) SpanEnter(span instrument.Span) {
	h.mu.Lock()
	defer h.mu.Unlock()

	parentCtx := context.Background()
	if parent, ok := h.open[span.ParentID]; ok {
		parentCtx = parent.ctx
	}

	ctx, otelSpan := h.tracer.Start(parentCtx, span.Name,
		trace.WithTimestamp(span.Start),
		trace.WithAttributes(attribute.String("dispatch.span_id", span.ID)),
	)
	h.open[span.ID] = openSpan{ctx: ctx, span: otelSpan}
}

// SpanExit implements instrument.SpanHandler.
func (h *TraceHandler) SpanExit(span instrument.Span, _ any) {
	h.finish(span, nil)
}

// SpanDrop implements instrument.SpanHandler.
func (h *TraceHandler) SpanDrop(span instrument.Span, err error) {
	h.finish(span, err)
}

func (h *TraceHandler) finish(span instrument.Span, err error) {
	h.mu.Lock()
	entry, ok := h.open[span.ID]
	delete(h.open, span.ID)
	h.mu.Unlock()

	if !ok {
		// Exit for a span this handler never saw enter; nothing to close.
		return
	}

	if err != nil {
		entry.span.RecordError(err)
		entry.span.SetStatus(codes.Error, err.Error())
	} else {
		entry.span.SetStatus(codes.Ok, "")
	}
	entry.span.End(trace.WithTimestamp(span.End))
}

// Handle implements instrument.EventHandler by attaching events to their
// span. Events outside any open span are dropped; SpanDropEvent is skipped
// because SpanDrop already records the failure on the span itself.
func (h *TraceHandler) Handle(ev instrument.Event) {
	if _, isDrop := ev.(instrument.SpanDropEvent); isDrop {
		return
	}

	base := ev.Base()
	h.mu.Lock()
	entry, ok := h.open[base.SpanID]
	h.mu.Unlock()
	if !ok {
		return
	}

	entry.span.AddEvent(ev.EventName(), trace.WithTimestamp(base.Timestamp))
}

// OpenSpans reports how many spans entered without reaching a terminal
// state yet.
func (h *TraceHandler) OpenSpans() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.open)
}

// LogHandler mirrors span lifecycle and events into the structured log at
// debug level (drops at warn). Useful in development where no collector
// runs.
type LogHandler struct {
	logger log.Logger
}

// NewLogHandler creates a handler writing to logger.
func NewLogHandler(logger log.Logger) *LogHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &LogHandler{logger: logger}
}

// SpanEnter implements instrument.SpanHandler.
func (h *LogHandler) SpanEnter(span instrument.Span) {
	h.logger.Debug("span enter",
		"span", span.Name,
		"id", span.ID,
		"parent", span.ParentID,
	)
}

// SpanExit implements instrument.SpanHandler.
func (h *LogHandler) SpanExit(span instrument.Span, _ any) {
	h.logger.Debug("span exit",
		"span", span.Name,
		"id", span.ID,
		"duration", span.Duration,
	)
}

// SpanDrop implements instrument.SpanHandler.
func (h *LogHandler) SpanDrop(span instrument.Span, err error) {
	h.logger.Warn("span drop",
		"span", span.Name,
		"id", span.ID,
		"duration", span.Duration,
		"error", err,
	)
}

// Handle implements instrument.EventHandler.
func (h *LogHandler) Handle(ev instrument.Event) {
	base := ev.Base()
	h.logger.Debug("event",
		"name", ev.EventName(),
		"span_id", base.SpanID,
	)
}
