package instrument

import (
	"context"
	"sync"
	"time"
)

// Span records the identity and timing of one instrumented operation. It is
// a value: handlers receive copies and may retain them freely.
type Span struct {
	// ID is unique per execution: the span name plus a random suffix.
	ID string

	// ParentID links to the span active in the calling context when this
	// span was entered. Empty for top-level spans.
	ParentID string

	// Name is the operation name the span was started with.
	Name string

	Start time.Time

	// End and Duration are zero until the span reaches a terminal state.
	End      time.Time
	Duration time.Duration
}

// ActiveSpan is a live span between entry and its terminal transition.
type ActiveSpan struct {
	d *Dispatcher

	mu    sync.Mutex
	span  Span
	ended bool
}

// Span returns a snapshot of the span record.
func (s *ActiveSpan) Span() Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.span
}

// End moves the span to its terminal state: exited when *errPtr is nil,
// dropped otherwise. Intended for use with a named error return:
//
//	func (p *Pipeline) Run(ctx context.Context) (err error) {
//	    ctx, span := p.dispatcher.StartSpan(ctx, "ingest.run")
//	    defer func() { span.End(&err) }()
//	    ...
//	}
//
// Calling End more than once is a no-op. A nil errPtr ends the span as
// exited.
func (s *ActiveSpan) End(errPtr *error) {
	if errPtr == nil || *errPtr == nil {
		s.end(nil, nil)
		return
	}
	s.end(nil, *errPtr)
}

// end performs the terminal transition exactly once. The result value is
// delivered to SpanExit handlers; a non-nil err wins over the result and
// produces a drop.
func (s *ActiveSpan) end(result any, err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.span.End = s.d.reg.now()
	s.span.Duration = s.span.End.Sub(s.span.Start)
	span := s.span
	s.mu.Unlock()

	if err != nil {
		s.d.dropSpan(span, err)
		return
	}
	s.d.exitSpan(span, result)
}

// activeSpanKey carries the innermost open span id in a context.
type activeSpanKey struct{}

// ActiveSpanID returns the id of the innermost open span in ctx, or "" when
// no span is active.
func ActiveSpanID(ctx context.Context) string {
	id, _ := ctx.Value(activeSpanKey{}).(string)
	return id
}

func withActiveSpan(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, activeSpanKey{}, id)
}
