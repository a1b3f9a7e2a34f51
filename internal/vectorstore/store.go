// Package vectorstore persists document chunks with their embeddings in
// PostgreSQL and serves cosine similarity search through pgvector.
//
// Store embeds on write and on query through the configured llm.Embedder.
// Embedding requests for large document batches run concurrently with a
// bounded worker count, so indexing a big corpus does not serialize on the
// provider's latency.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/ragline/ragline/internal/jobs"
	"github.com/ragline/ragline/internal/llm"
	"github.com/ragline/ragline/internal/log"
)

const (
	// defaultEmbedBatch is the number of texts sent to the provider per
	// embedding request.
	defaultEmbedBatch = 64

	// defaultEmbedWorkers caps concurrent embedding requests during Upsert.
	defaultEmbedWorkers = 4

	// maxListLimit bounds ListBySource to prevent unbounded result sets.
	maxListLimit = 1000
)

// Store manages document chunks with vector search capabilities.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries      Querier
	embedder     llm.Embedder
	logger       log.Logger
	embedBatch   int
	embedWorkers int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEmbedBatch sets the number of texts per embedding request.
func WithEmbedBatch(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.embedBatch = n
		}
	}
}

// WithEmbedWorkers sets the number of concurrent embedding requests
// during Upsert.
func WithEmbedWorkers(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.embedWorkers = n
		}
	}
}

// New creates a Store.
//
// Example:
//
//	store, err := vectorstore.New(vectorstore.NewQueries(pool), embedder, logger)
func New(querier Querier, embedder llm.Embedder, logger log.Logger, opts ...StoreOption) (*Store, error) {
	if querier == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Store{
		queries:      querier,
		embedder:     embedder,
		logger:       logger,
		embedBatch:   defaultEmbedBatch,
		embedWorkers: defaultEmbedWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upsert embeds and writes the given documents. Embedding runs in
// provider-sized batches with a bounded number of requests in flight; row
// writes then happen sequentially in input order. Existing IDs are updated
// in place.
func (s *Store) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document %d: ID is required", i)
		}
		if doc.Content == "" {
			return fmt.Errorf("document %q: content is required", doc.ID)
		}
		texts[i] = doc.Content
	}

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d documents: %w", len(docs), err)
	}

	for i, doc := range docs {
		metadataJSON, err := marshalMetadata(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
		}
		err = s.queries.UpsertDocument(ctx, UpsertDocumentParams{
			ID:        doc.ID,
			Content:   doc.Content,
			Source:    doc.Source,
			Embedding: pgvector.NewVector(vectors[i]),
			Metadata:  metadataJSON,
			CreatedAt: pgtype.Timestamptz{Time: doc.CreatedAt, Valid: !doc.CreatedAt.IsZero()},
		})
		if err != nil {
			return err
		}
	}

	s.logger.Debug("upserted documents", "count", len(docs))
	return nil
}

// embedAll embeds texts in provider-sized batches, a bounded number of
// requests at a time, and returns one vector per text in input order.
func (s *Store) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	batches := make([]jobs.Job[[][]float32], 0, (len(texts)+s.embedBatch-1)/s.embedBatch)
	for start := 0; start < len(texts); start += s.embedBatch {
		chunk := texts[start:min(start+s.embedBatch, len(texts))]
		batches = append(batches, func(ctx context.Context) ([][]float32, error) {
			return s.embedder.Embed(ctx, chunk)
		})
	}

	perBatch, err := jobs.Run(ctx, batches, jobs.WithWorkers(s.embedWorkers))
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range perBatch {
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

// Search embeds the query and returns the most similar documents ordered by
// similarity descending.
//
// Example:
//
//	results, err := store.Search(ctx, "vector indexes",
//	    vectorstore.WithTopK(10),
//	    vectorstore.WithSource("docs/postgres.md"))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vecs, err := s.embedder.Embed(queryCtx, []string{query})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding query timed out: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned for query")
	}

	var filterJSON []byte
	if len(cfg.filter) > 0 {
		filterJSON, err = json.Marshal(cfg.filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
	}

	rows, err := s.queries.SearchDocuments(queryCtx, SearchDocumentsParams{
		Embedding:      pgvector.NewVector(vecs[0]),
		Source:         cfg.source,
		FilterMetadata: filterJSON,
		Limit:          int32(cfg.topK),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timed out: %w", err)
		}
		return nil, err
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Document: Document{
				ID:        row.ID,
				Content:   row.Content,
				Source:    row.Source,
				Metadata:  s.decodeMetadata(row.ID, row.Metadata),
				CreatedAt: row.CreatedAt,
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// Count returns the number of stored documents. An empty source counts all.
func (s *Store) Count(ctx context.Context, source string) (int64, error) {
	return s.queries.CountDocuments(ctx, source)
}

// Delete removes a document by ID. Returns ErrNotFound if no row matched.
func (s *Store) Delete(ctx context.Context, id string) error {
	affected, err := s.queries.DeleteDocument(ctx, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.logger.Debug("deleted document", "id", id)
	return nil
}

// DeleteBySource removes every document from one source and reports how many
// rows were dropped. Deleting an unknown source is not an error.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	if source == "" {
		return 0, fmt.Errorf("source is required")
	}
	affected, err := s.queries.DeleteDocumentsBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("deleted documents by source", "source", source, "count", affected)
	return affected, nil
}

// ListBySource lists documents for one source without similarity scoring,
// newest first. limit must be between 1 and 1000.
func (s *Store) ListBySource(ctx context.Context, source string, limit int32) ([]Document, error) {
	if limit <= 0 || limit > maxListLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", maxListLimit, limit)
	}
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}

	rows, err := s.queries.ListDocumentsBySource(ctx, source, limit)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Document{
			ID:        row.ID,
			Content:   row.Content,
			Source:    row.Source,
			Metadata:  s.decodeMetadata(row.ID, row.Metadata),
			CreatedAt: row.CreatedAt,
		})
	}
	return docs, nil
}

// decodeMetadata parses a metadata column, logging and substituting an empty
// map when the stored JSON is unreadable.
func (s *Store) decodeMetadata(docID string, raw []byte) map[string]string {
	metadata := make(map[string]string)
	if len(raw) == 0 {
		return metadata
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		s.logger.Warn("unreadable document metadata", "document_id", docID, "error", err)
		return make(map[string]string)
	}
	return metadata
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}
