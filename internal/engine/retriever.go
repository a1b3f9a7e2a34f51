package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/ragline/ragline/internal/jobs"
	"github.com/ragline/ragline/internal/vectorstore"
)

// Passage is one retrieved unit of context with its provenance and score.
type Passage struct {
	ID      string
	Content string
	Source  string
	Score   float64
}

// Retriever fetches the passages most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// searcher is the slice of vectorstore.Store that StoreRetriever needs.
type searcher interface {
	Search(ctx context.Context, query string, opts ...vectorstore.SearchOption) ([]vectorstore.Result, error)
}

// StoreRetriever adapts a vectorstore search to the Retriever interface.
// Fixed options (a source restriction, metadata filters) apply to every
// retrieval.
type StoreRetriever struct {
	store searcher
	opts  []vectorstore.SearchOption
}

// NewStoreRetriever wraps store. opts are applied on every Retrieve call.
func NewStoreRetriever(store searcher, opts ...vectorstore.SearchOption) *StoreRetriever {
	return &StoreRetriever{store: store, opts: opts}
}

// Retrieve implements Retriever.
func (r *StoreRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	opts := make([]vectorstore.SearchOption, 0, len(r.opts)+1)
	opts = append(opts, r.opts...)
	opts = append(opts, vectorstore.WithTopK(topK))

	results, err := r.store.Search(ctx, query, opts...)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, len(results))
	for i, res := range results {
		passages[i] = Passage{
			ID:      res.Document.ID,
			Content: res.Document.Content,
			Source:  res.Document.Source,
			Score:   res.Similarity,
		}
	}
	return passages, nil
}

// MultiRetriever fans a query out to several retrievers concurrently and
// merges their passages: sorted by score descending, de-duplicated by ID
// keeping the best-scoring copy, cut to topK.
type MultiRetriever struct {
	retrievers []Retriever
}

// NewMultiRetriever combines retrievers. At least one is required.
func NewMultiRetriever(retrievers ...Retriever) (*MultiRetriever, error) {
	if len(retrievers) == 0 {
		return nil, fmt.Errorf("at least one retriever is required")
	}
	return &MultiRetriever{retrievers: retrievers}, nil
}

// Retrieve implements Retriever. Sub-retrievers run concurrently; any
// failure fails the whole retrieval.
func (m *MultiRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	fetch := make([]jobs.Job[[]Passage], len(m.retrievers))
	for i, r := range m.retrievers {
		fetch[i] = func(ctx context.Context) ([]Passage, error) {
			return r.Retrieve(ctx, query, topK)
		}
	}

	perRetriever, err := jobs.Run(ctx, fetch)
	if err != nil {
		return nil, err
	}

	var merged []Passage
	for _, passages := range perRetriever {
		merged = append(merged, passages...)
	}
	slices.SortStableFunc(merged, func(a, b Passage) int {
		return cmp.Compare(b.Score, a.Score)
	})

	seen := make(map[string]struct{}, len(merged))
	unique := merged[:0]
	for _, p := range merged {
		if p.ID != "" {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
		}
		unique = append(unique, p)
	}

	if topK > 0 && len(unique) > topK {
		unique = unique[:topK]
	}
	return unique, nil
}
