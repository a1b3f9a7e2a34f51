// Package engine answers chat conversations with retrieval-grounded
// completions: the latest user message selects context passages from the
// vector store, the passages ride into the system prompt as numbered
// citations, and the model's reply comes back with its sources attached.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ragline/ragline/internal/instrument"
	"github.com/ragline/ragline/internal/llm"
	"github.com/ragline/ragline/internal/log"
)

const defaultTopK = 5

// fallbackMessage stands in when the model returns an empty reply.
const fallbackMessage = "I could not produce an answer for that. Try rephrasing the question."

// defaultSystemPrompt is used when the config does not override it.
const defaultSystemPrompt = `You are a helpful assistant that answers questions using the provided context passages.

Ground your answers in the passages and cite them by number, like [1]. When the passages do not contain the answer, say so plainly instead of guessing.`

// ErrNoUserMessage is returned when a conversation contains nothing to
// answer.
var ErrNoUserMessage = errors.New("engine: conversation has no user message")

// Config carries the engine's dependencies and tuning knobs.
type Config struct {
	Completer llm.Completer

	// Retriever supplies context passages. When nil the engine answers
	// from conversation history alone.
	Retriever Retriever

	// Registry is the instrumentation tree the engine reports into. A
	// fresh private registry is used when nil.
	Registry *instrument.Registry
	Logger   log.Logger

	// SystemPrompt overrides the default grounding instructions.
	SystemPrompt string

	// TopK bounds how many passages back each reply. Defaults to 5.
	TopK int

	// MaxHistoryTokens bounds the conversation sent to the model.
	// Defaults to 8000.
	MaxHistoryTokens int
}

func (c *Config) validate() error {
	if c.Completer == nil {
		return fmt.Errorf("completer is required")
	}
	return nil
}

// Engine turns conversations into grounded replies. All fields are set at
// construction and never change, so one Engine is safe for concurrent use.
type Engine struct {
	completer  llm.Completer
	retriever  Retriever
	dispatcher *instrument.Dispatcher
	logger     log.Logger

	systemPrompt     string
	topK             int
	maxHistoryTokens int
}

// New builds an Engine from cfg, applying defaults for unset knobs.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.Registry == nil {
		cfg.Registry = instrument.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MaxHistoryTokens <= 0 {
		cfg.MaxHistoryTokens = defaultHistoryTokens
	}

	return &Engine{
		completer:        cfg.Completer,
		retriever:        cfg.Retriever,
		dispatcher:       cfg.Registry.Dispatcher("engine"),
		logger:           cfg.Logger,
		systemPrompt:     cfg.SystemPrompt,
		topK:             cfg.TopK,
		maxHistoryTokens: cfg.MaxHistoryTokens,
	}, nil
}

// Reply is a grounded answer: the assistant message plus the passages
// that informed it.
type Reply struct {
	Message llm.Message
	Sources []Passage
	Usage   llm.Usage
}

// Chat answers the newest user message in the conversation. messages is
// the full history so far, oldest first; older turns beyond the token
// budget are dropped before the model sees them.
func (e *Engine) Chat(ctx context.Context, messages []llm.Message) (*Reply, error) {
	query := lastUserMessage(messages)
	if query == "" {
		return nil, ErrNoUserMessage
	}

	return instrument.WithSpan(ctx, e.dispatcher, "engine.chat", func(ctx context.Context) (*Reply, error) {
		started := time.Now()

		var passages []Passage
		if e.retriever != nil {
			var err error
			passages, err = e.retrieve(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("retrieving context: %w", err)
			}
		}

		convo := make([]llm.Message, 0, len(messages)+1)
		convo = append(convo, llm.Message{
			Role:    llm.RoleSystem,
			Content: buildContextPrompt(e.systemPrompt, passages),
		})
		convo = append(convo, trimHistory(messages, e.maxHistoryTokens)...)

		completion, err := e.complete(ctx, convo)
		if err != nil {
			return nil, err
		}

		content := strings.TrimSpace(completion.Content)
		if content == "" {
			content = fallbackMessage
		}

		e.logger.Debug("chat answered",
			"passages", len(passages),
			"tokens", completion.Usage.TotalTokens,
			"elapsed", time.Since(started))

		return &Reply{
			Message: llm.Message{Role: llm.RoleAssistant, Content: content},
			Sources: passages,
			Usage:   completion.Usage,
		}, nil
	})
}

func (e *Engine) retrieve(ctx context.Context, query string) ([]Passage, error) {
	return instrument.WithSpan(ctx, e.dispatcher, "engine.retrieve", func(ctx context.Context) ([]Passage, error) {
		e.dispatcher.Event(RetrievalStartEvent{
			EventBase: instrument.NewEventBase(ctx),
			Query:     query,
		})

		passages, err := e.retriever.Retrieve(ctx, query, e.topK)
		if err != nil {
			return nil, err
		}

		e.dispatcher.Event(RetrievalEndEvent{
			EventBase: instrument.NewEventBase(ctx),
			Query:     query,
			Passages:  len(passages),
		})
		return passages, nil
	})
}

func (e *Engine) complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	return instrument.WithSpan(ctx, e.dispatcher, "engine.complete", func(ctx context.Context) (*llm.Completion, error) {
		e.dispatcher.Event(CompletionStartEvent{
			EventBase: instrument.NewEventBase(ctx),
			Messages:  len(messages),
		})

		completion, err := e.completer.Complete(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("completing chat: %w", err)
		}

		e.dispatcher.Event(CompletionEndEvent{
			EventBase: instrument.NewEventBase(ctx),
			Model:     completion.Model,
			Tokens:    completion.Usage.TotalTokens,
		})
		return completion, nil
	})
}

// buildContextPrompt appends numbered passages to the system prompt so the
// model can cite them as [1], [2], and so on.
func buildContextPrompt(system string, passages []Passage) string {
	if len(passages) == 0 {
		return system
	}

	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nContext passages:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, strings.TrimSpace(p.Content))
		if p.Source != "" {
			fmt.Fprintf(&b, "source: %s\n", p.Source)
		}
	}
	return b.String()
}

// lastUserMessage returns the content of the newest user message, or ""
// when the conversation has none.
func lastUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
