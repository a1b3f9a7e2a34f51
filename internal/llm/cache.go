package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/ragline/ragline/internal/log"
)

const defaultCacheBytes = 64 << 20

// CachedEmbedder wraps an Embedder with an in-memory vector cache keyed by
// the text's digest. Repeat embeddings of unchanged chunks (re-ingests,
// repeated queries) skip the provider round trip. Writes are admitted
// asynchronously; a concurrent duplicate miss just embeds twice.
type CachedEmbedder struct {
	inner  Embedder
	cache  *ristretto.Cache[string, []float32]
	logger log.Logger
}

// NewCachedEmbedder builds a cache bounded to roughly maxBytes of vector
// data. A maxBytes < 1 uses the 64 MiB default.
func NewCachedEmbedder(inner Embedder, maxBytes int64, logger log.Logger) (*CachedEmbedder, error) {
	if maxBytes < 1 {
		maxBytes = defaultCacheBytes
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		// Counters sized for ~10x the entry count a full cache of
		// 768-dim float32 vectors would hold.
		NumCounters: max(maxBytes/300, 10_000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}, nil
}

// Embed implements Embedder. Cached texts are served locally; only misses
// reach the wrapped embedder, in one batched call.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		missing    []string
		missingIdx []int
	)
	for i, text := range texts {
		if vec, ok := e.cache.Get(cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := e.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyEmbedding, len(vectors), len(missing))
	}

	for j, vec := range vectors {
		out[missingIdx[j]] = vec
		e.cache.Set(cacheKey(missing[j]), vec, int64(len(vec))*4)
	}

	e.logger.Debug("embedding cache",
		"requested", len(texts),
		"hits", len(texts)-len(missing),
		"misses", len(missing),
	)
	return out, nil
}

// Wait blocks until buffered cache writes are applied, making prior Set
// calls visible to Get.
func (e *CachedEmbedder) Wait() { e.cache.Wait() }

// Close releases the cache's internal resources.
func (e *CachedEmbedder) Close() { e.cache.Close() }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
