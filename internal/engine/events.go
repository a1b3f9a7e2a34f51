package engine

import "github.com/ragline/ragline/internal/instrument"

// RetrievalStartEvent fires before passages are fetched for a query.
type RetrievalStartEvent struct {
	instrument.EventBase

	Query string
}

// EventName implements instrument.Event.
func (RetrievalStartEvent) EventName() string { return "retrieval.start" }

// RetrievalEndEvent fires once retrieval finished successfully.
type RetrievalEndEvent struct {
	instrument.EventBase

	Query    string
	Passages int
}

// EventName implements instrument.Event.
func (RetrievalEndEvent) EventName() string { return "retrieval.end" }

// CompletionStartEvent fires before the model is asked for a reply.
type CompletionStartEvent struct {
	instrument.EventBase

	// Messages is the size of the conversation sent to the model,
	// context prompt included.
	Messages int
}

// EventName implements instrument.Event.
func (CompletionStartEvent) EventName() string { return "completion.start" }

// CompletionEndEvent fires once the model replied.
type CompletionEndEvent struct {
	instrument.EventBase

	Model  string
	Tokens int
}

// EventName implements instrument.Event.
func (CompletionEndEvent) EventName() string { return "completion.end" }
