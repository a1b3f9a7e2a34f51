package vectorstore

import (
	"errors"
	"time"
)

// Document is a chunk of indexed text with its provenance.
type Document struct {
	ID        string            // unique identifier, stable across re-indexing
	Content   string            // chunk text
	Source    string            // origin of the chunk (file path, URL)
	Metadata  map[string]string // optional metadata (title, section, mime type)
	CreatedAt time.Time         // zero value means "set on insert"
}

// Result is a single search hit with its cosine similarity score (0-1).
type Result struct {
	Document   Document
	Similarity float64
}

// ErrNotFound is returned when an operation targets a document that does
// not exist.
var ErrNotFound = errors.New("vectorstore: document not found")

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	source  string
	filter  map[string]string
	timeout time.Duration
}

const (
	defaultTopK = 5

	// searchTimeout bounds the embedding call plus the vector query so a
	// slow provider cannot stall request handling indefinitely.
	searchTimeout = 10 * time.Second
)

// WithTopK sets the maximum number of results to return. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithSource restricts results to documents from a single source.
func WithSource(source string) SearchOption {
	return func(c *searchConfig) {
		c.source = source
	}
}

// WithFilter adds a metadata filter. Multiple calls combine with AND logic.
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithSearchTimeout overrides the default 10s search deadline.
func WithSearchTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    defaultTopK,
		timeout: searchTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
