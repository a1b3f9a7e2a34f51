package ingest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/ragline/ragline/internal/instrument"
	"github.com/ragline/ragline/internal/log"
	"github.com/ragline/ragline/internal/vectorstore"
)

// ErrBusy is returned when another ingest run holds the lock.
var ErrBusy = errors.New("ingest: another ingest run holds the lock")

// Source yields documents for indexing.
type Source interface {
	// Name labels the source in stats and logs.
	Name() string

	Read(ctx context.Context) ([]vectorstore.Document, error)
}

// Store is the slice of the vector store the pipeline writes through.
type Store interface {
	Upsert(ctx context.Context, docs []vectorstore.Document) error
	DeleteBySource(ctx context.Context, source string) (int64, error)
}

// Config carries the pipeline's dependencies.
type Config struct {
	Store Store

	// Splitter defaults to the DefaultChunkSize/DefaultOverlap geometry.
	Splitter *Splitter

	// Registry is the instrumentation tree the pipeline reports into. A
	// fresh private registry is used when nil.
	Registry *instrument.Registry
	Logger   log.Logger

	// LockPath guards against concurrent ingest runs across processes.
	// Defaults to a file under the system temp directory.
	LockPath string
}

// Pipeline reads sources, splits their documents into chunks, and writes
// the chunks to the store. Runs are serialized with a file lock so
// overlapping re-index jobs cannot interleave their deletes and writes.
type Pipeline struct {
	store      Store
	splitter   *Splitter
	dispatcher *instrument.Dispatcher
	logger     log.Logger
	lockPath   string
}

// NewPipeline builds a Pipeline from cfg, applying defaults for unset
// knobs.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Splitter == nil {
		splitter, err := NewSplitter(DefaultChunkSize, DefaultOverlap)
		if err != nil {
			return nil, err
		}
		cfg.Splitter = splitter
	}
	if cfg.Registry == nil {
		cfg.Registry = instrument.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(os.TempDir(), "ragline-ingest.lock")
	}

	return &Pipeline{
		store:      cfg.Store,
		splitter:   cfg.Splitter,
		dispatcher: cfg.Registry.Dispatcher("ingest"),
		logger:     cfg.Logger,
		lockPath:   cfg.LockPath,
	}, nil
}

// Stats summarizes one pipeline run.
type Stats struct {
	Documents int
	Chunks    int

	// Removed counts stale chunks cleared before re-indexing.
	Removed  int64
	Duration time.Duration

	// ChunksBySource counts written chunks per source name.
	ChunksBySource map[string]int
}

// Run ingests every source in order: read, clear the chunks previously
// stored for each document's Source, split, upsert. Returns ErrBusy when
// another run holds the lock.
func (p *Pipeline) Run(ctx context.Context, sources ...Source) (stats *Stats, err error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}

	lock := flock.New(p.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring ingest lock: %w", err)
	}
	if !locked {
		return nil, ErrBusy
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("releasing ingest lock: %w", unlockErr)
		}
	}()

	return instrument.WithSpan(ctx, p.dispatcher, "ingest.run", func(ctx context.Context) (*Stats, error) {
		started := time.Now()
		stats := &Stats{ChunksBySource: make(map[string]int, len(sources))}

		for _, src := range sources {
			docs, err := src.Read(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading source %s: %w", src.Name(), err)
			}
			if len(docs) == 0 {
				p.logger.Info("source produced no documents", "source", src.Name())
				continue
			}

			for _, doc := range docs {
				removed, err := p.store.DeleteBySource(ctx, doc.Source)
				if err != nil {
					return nil, fmt.Errorf("clearing stale chunks for %s: %w", doc.Source, err)
				}
				stats.Removed += removed
			}

			chunks := p.chunk(docs)
			if err := p.store.Upsert(ctx, chunks); err != nil {
				return nil, fmt.Errorf("writing chunks from %s: %w", src.Name(), err)
			}

			stats.Documents += len(docs)
			stats.Chunks += len(chunks)
			stats.ChunksBySource[src.Name()] = len(chunks)
			p.logger.Info("source ingested",
				"source", src.Name(),
				"documents", len(docs),
				"chunks", len(chunks))
		}

		stats.Duration = time.Since(started)
		return stats, nil
	})
}

// chunk splits documents and keys each piece "<doc id>#<index>" so a
// re-ingested document overwrites its previous chunks in place.
func (p *Pipeline) chunk(docs []vectorstore.Document) []vectorstore.Document {
	var chunks []vectorstore.Document
	for _, doc := range docs {
		pieces := p.splitter.Split(doc.Content)
		for i, piece := range pieces {
			chunk := doc
			chunk.ID = fmt.Sprintf("%s#%04d", doc.ID, i)
			chunk.Content = piece
			chunk.Metadata = chunkMetadata(doc.Metadata, i, len(pieces))
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func chunkMetadata(meta map[string]string, index, total int) map[string]string {
	out := make(map[string]string, len(meta)+2)
	maps.Copy(out, meta)
	out["chunk"] = strconv.Itoa(index)
	out["chunk_total"] = strconv.Itoa(total)
	return out
}
