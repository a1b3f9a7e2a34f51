package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// DefaultSimulatorDim matches the vector dimension of the document schema.
const DefaultSimulatorDim = 768

// Simulator is a deterministic Completer and Embedder used when no provider
// is configured, and by tests. Replies echo the question; embeddings are
// unit-length vectors seeded from the text, so equal texts always land on
// the same point and similarity ranking is stable.
type Simulator struct {
	dim int
}

// NewSimulator creates a simulator emitting vectors of the given dimension.
// A dimension < 1 falls back to DefaultSimulatorDim.
func NewSimulator(dim int) *Simulator {
	if dim < 1 {
		dim = DefaultSimulatorDim
	}
	return &Simulator{dim: dim}
}

// Complete implements Completer with a canned reply built from the last user
// message.
func (s *Simulator) Complete(_ context.Context, messages []Message) (*Completion, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	query := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			query = messages[i].Content
			break
		}
	}

	content := fmt.Sprintf("I received your message: %q. This is a simulated response; configure a model provider for real answers.", query)
	return &Completion{
		Content: content,
		Model:   "simulated",
		Usage: Usage{
			PromptTokens:     estimateTokens(messages),
			CompletionTokens: len(content) / 4,
			TotalTokens:      estimateTokens(messages) + len(content)/4,
		},
	}, nil
}

// Embed implements Embedder with text-seeded pseudo-random unit vectors.
func (s *Simulator) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = s.embedOne(text)
	}
	return vectors, nil
}

func (s *Simulator) embedOne(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	vec := make([]float32, s.dim)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func estimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return chars / 4
}
