package instrument

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a structured notification published through a dispatcher.
// Concrete events embed EventBase and add their own fields.
type Event interface {
	// EventName identifies the event kind, dotted lowercase by convention
	// ("retrieval.start", "span.drop").
	EventName() string

	// Base exposes the common identity fields. Provided automatically by
	// embedding EventBase.
	Base() EventBase
}

// EventBase carries the fields shared by every event.
type EventBase struct {
	// ID is a random unique id for this event instance.
	ID string

	Timestamp time.Time

	// SpanID is the span the event belongs to: the context's active span at
	// creation time, or the explicit span for lifecycle events. Empty when
	// the event occurred outside any span.
	SpanID string
}

// Base implements Event for any embedding type.
func (e EventBase) Base() EventBase { return e }

// NewEventBase stamps identity fields for an event created in ctx. The span
// id is taken from the context's active span.
func NewEventBase(ctx context.Context) EventBase {
	return EventBase{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		SpanID:    ActiveSpanID(ctx),
	}
}

// SpanDropEvent is published through the event path when a span drops,
// before span handlers are notified. Its SpanID is the dropped span's id.
type SpanDropEvent struct {
	EventBase

	// Err is the failure description that dropped the span.
	Err string
}

// EventName implements Event.
func (SpanDropEvent) EventName() string { return "span.drop" }
