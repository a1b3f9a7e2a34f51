package instrument

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// EventHandler receives events published on a dispatcher or any of its
// descendants with propagation enabled.
type EventHandler interface {
	Handle(ev Event)
}

// SpanHandler receives span lifecycle notifications. SpanEnter fires before
// the instrumented operation runs; exactly one of SpanExit or SpanDrop fires
// after. The result passed to SpanExit is the operation's return value when
// the span was produced by Wrap or WithSpan, nil otherwise.
type SpanHandler interface {
	SpanEnter(span Span)
	SpanExit(span Span, result any)
	SpanDrop(span Span, err error)
}

// Dispatcher is a named node in the instrumentation tree. Obtain instances
// from a Registry; the zero value is not usable.
type Dispatcher struct {
	name       string
	parentName string
	reg        *Registry

	mu            sync.RWMutex
	propagate     bool
	eventHandlers []EventHandler
	spanHandlers  []SpanHandler
}

// Name returns the dispatcher's registered name.
func (d *Dispatcher) Name() string { return d.name }

// AddEventHandler appends h to the event handler list. Registration order is
// notification order; registering a handler twice means it fires twice.
func (d *Dispatcher) AddEventHandler(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventHandlers = append(d.eventHandlers, h)
}

// AddSpanHandler appends h to the span handler list.
func (d *Dispatcher) AddSpanHandler(h SpanHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spanHandlers = append(d.spanHandlers, h)
}

// SetPropagate controls whether notifications continue past this node to its
// parent. Enabled for every new dispatcher. Disabling makes this node
// terminal: its own handlers still fire, its ancestors' never do.
func (d *Dispatcher) SetPropagate(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.propagate = enabled
}

// Event publishes ev to this dispatcher's event handlers and, subject to
// propagation flags, to its ancestors'.
func (d *Dispatcher) Event(ev Event) {
	d.walk(func(node *Dispatcher) {
		for _, h := range node.snapshotEventHandlers() {
			invokeEvent(h, ev)
		}
	})
}

// StartSpan enters a new span named name. The parent id comes from ctx's
// active span; the returned context carries the new span's id for callees.
// SpanEnter handlers run synchronously before StartSpan returns. The caller
// must end the returned span exactly once.
func (d *Dispatcher) StartSpan(ctx context.Context, name string) (context.Context, *ActiveSpan) {
	span := Span{
		ID:       name + "-" + uuid.NewString(),
		ParentID: ActiveSpanID(ctx),
		Name:     name,
		Start:    d.reg.now(),
	}
	d.walk(func(node *Dispatcher) {
		for _, h := range node.snapshotSpanHandlers() {
			invokeSpanEnter(h, span)
		}
	})
	return withActiveSpan(ctx, span.ID), &ActiveSpan{d: d, span: span}
}

func (d *Dispatcher) exitSpan(span Span, result any) {
	d.walk(func(node *Dispatcher) {
		for _, h := range node.snapshotSpanHandlers() {
			invokeSpanExit(h, span, result)
		}
	})
}

// dropSpan publishes the SpanDropEvent first so event consumers observe the
// failure before span handlers process the drop.
func (d *Dispatcher) dropSpan(span Span, err error) {
	d.Event(SpanDropEvent{
		EventBase: EventBase{
			ID:        uuid.NewString(),
			Timestamp: span.End,
			SpanID:    span.ID,
		},
		Err: err.Error(),
	})
	d.walk(func(node *Dispatcher) {
		for _, h := range node.snapshotSpanHandlers() {
			invokeSpanDrop(h, span, err)
		}
	})
}

// walk visits this dispatcher and then each ancestor in order, stopping
// after a node with propagation disabled or after the root.
func (d *Dispatcher) walk(visit func(*Dispatcher)) {
	for node := d; node != nil; {
		visit(node)
		if !node.propagateEnabled() {
			return
		}
		node = node.parent()
	}
}

func (d *Dispatcher) propagateEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.propagate
}

func (d *Dispatcher) parent() *Dispatcher {
	if d.parentName == "" {
		return nil
	}
	return d.reg.Dispatcher(d.parentName)
}

func (d *Dispatcher) snapshotEventHandlers() []EventHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handlers := make([]EventHandler, len(d.eventHandlers))
	copy(handlers, d.eventHandlers)
	return handlers
}

func (d *Dispatcher) snapshotSpanHandlers() []SpanHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handlers := make([]SpanHandler, len(d.spanHandlers))
	copy(handlers, d.spanHandlers)
	return handlers
}

// The invoke helpers isolate handler panics: one faulty handler must not
// block siblings or ancestors, and must never abort the instrumented
// operation.

func invokeEvent(h EventHandler, ev Event) {
	defer func() { _ = recover() }()
	h.Handle(ev)
}

func invokeSpanEnter(h SpanHandler, span Span) {
	defer func() { _ = recover() }()
	h.SpanEnter(span)
}

func invokeSpanExit(h SpanHandler, span Span, result any) {
	defer func() { _ = recover() }()
	h.SpanExit(span, result)
}

func invokeSpanDrop(h SpanHandler, span Span, err error) {
	defer func() { _ = recover() }()
	h.SpanDrop(span, err)
}
