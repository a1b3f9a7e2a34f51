// Package llm defines the chat and embedding provider surface and its
// implementations: an OpenAI-compatible HTTP client for real providers and a
// deterministic simulator for development and tests.
package llm

import (
	"context"
	"errors"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation, in the wire shape
// OpenAI-compatible providers expect.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Valid reports whether the message has a known role and non-empty content.
func (m Message) Valid() bool {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
		return m.Content != ""
	default:
		return false
	}
}

// Usage is the provider's token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is a provider's reply to a chat request.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// Completer produces an assistant reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

// Embedder turns texts into vectors. Implementations return one vector per
// input text, in input order, all with the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	ErrMissingAPIKey   = errors.New("llm: api key is required")
	ErrMissingBaseURL  = errors.New("llm: base url is required")
	ErrNoMessages      = errors.New("llm: no messages to complete")
	ErrEmptyCompletion = errors.New("llm: provider returned no choices")
	ErrEmptyEmbedding  = errors.New("llm: provider returned no embeddings")
)
