package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"github.com/ragline/ragline/internal/instrument"
	"github.com/ragline/ragline/internal/vectorstore"
)

type fakeStore struct {
	mu        sync.Mutex
	upserted  [][]vectorstore.Document
	deleted   []string
	removed   int64
	upsertErr error
	deleteErr error
}

func (s *fakeStore) Upsert(ctx context.Context, docs []vectorstore.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserted = append(s.upserted, docs)
	return nil
}

func (s *fakeStore) DeleteBySource(ctx context.Context, source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deleted = append(s.deleted, source)
	return s.removed, nil
}

type memorySource struct {
	name string
	docs []vectorstore.Document
	err  error
}

func (s *memorySource) Name() string { return s.name }

func (s *memorySource) Read(ctx context.Context) ([]vectorstore.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

// pipelineSpanLog records span transitions as "kind:name" strings.
type pipelineSpanLog struct {
	mu    sync.Mutex
	trace []string
}

func (l *pipelineSpanLog) add(kind string, span instrument.Span) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trace = append(l.trace, kind+":"+span.Name)
}

func (l *pipelineSpanLog) SpanEnter(span instrument.Span)         { l.add("enter", span) }
func (l *pipelineSpanLog) SpanExit(span instrument.Span, _ any)   { l.add("exit", span) }
func (l *pipelineSpanLog) SpanDrop(span instrument.Span, _ error) { l.add("drop", span) }

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(t.TempDir(), "ingest.lock")
	}
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p
}

func TestNewPipelineRequiresStore(t *testing.T) {
	if _, err := NewPipeline(Config{}); err == nil {
		t.Error("NewPipeline() error = nil, want error")
	}
}

func TestPipelineRunSplitsAndWrites(t *testing.T) {
	store := &fakeStore{removed: 3}
	splitter := mustSplitter(t, 30, 0)
	p := newTestPipeline(t, Config{Store: store, Splitter: splitter})

	content := "First sentence of the doc here. Second sentence of the doc here. Third sentence closes the doc."
	src := &memorySource{name: "docs", docs: []vectorstore.Document{{
		ID:       "guide.md",
		Content:  content,
		Source:   "guide.md",
		Metadata: map[string]string{"source_type": "file"},
	}}}

	stats, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(store.deleted) != 1 || store.deleted[0] != "guide.md" {
		t.Errorf("deleted sources = %v, want [guide.md]", store.deleted)
	}
	if len(store.upserted) != 1 {
		t.Fatalf("upsert batches = %d, want 1", len(store.upserted))
	}

	chunks := store.upserted[0]
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want the doc split into several", len(chunks))
	}
	for i, chunk := range chunks {
		if want := fmt.Sprintf("guide.md#%04d", i); chunk.ID != want {
			t.Errorf("chunk[%d].ID = %q, want %q", i, chunk.ID, want)
		}
		if chunk.Source != "guide.md" {
			t.Errorf("chunk[%d].Source = %q, want guide.md", i, chunk.Source)
		}
		if chunk.Metadata["source_type"] != "file" {
			t.Errorf("chunk[%d] lost parent metadata: %v", i, chunk.Metadata)
		}
		if chunk.Metadata["chunk"] != fmt.Sprint(i) || chunk.Metadata["chunk_total"] != fmt.Sprint(len(chunks)) {
			t.Errorf("chunk[%d] position metadata = %v", i, chunk.Metadata)
		}
	}

	if stats.Documents != 1 || stats.Chunks != len(chunks) || stats.Removed != 3 {
		t.Errorf("stats = %+v, want 1 document, %d chunks, 3 removed", stats, len(chunks))
	}
	if stats.ChunksBySource["docs"] != len(chunks) {
		t.Errorf("stats by source = %v, want docs -> %d", stats.ChunksBySource, len(chunks))
	}
}

func TestPipelineRunRequiresSources(t *testing.T) {
	p := newTestPipeline(t, Config{Store: &fakeStore{}})

	if _, err := p.Run(context.Background()); err == nil {
		t.Error("Run() error = nil, want error")
	}
}

func TestPipelineSourceErrorStopsRun(t *testing.T) {
	readErr := errors.New("walk failed")
	store := &fakeStore{}
	p := newTestPipeline(t, Config{Store: store})

	_, err := p.Run(context.Background(), &memorySource{name: "broken", err: readErr})
	if !errors.Is(err, readErr) {
		t.Fatalf("Run() error = %v, want %v", err, readErr)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("Run() error = %v, want the source name", err)
	}
	if len(store.upserted) != 0 {
		t.Errorf("store received %d batches after a read failure", len(store.upserted))
	}
}

func TestPipelineLockSerializesRuns(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "ingest.lock")
	store := &fakeStore{}
	p := newTestPipeline(t, Config{Store: store, LockPath: lockPath})

	src := &memorySource{name: "docs", docs: []vectorstore.Document{{
		ID: "a.md", Content: "short body", Source: "a.md",
	}}}

	holder := flock.New(lockPath)
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("taking the lock: locked=%v err=%v", locked, err)
	}

	if _, err := p.Run(context.Background(), src); !errors.Is(err, ErrBusy) {
		t.Errorf("Run() error = %v, want ErrBusy", err)
	}

	if err := holder.Unlock(); err != nil {
		t.Fatalf("releasing the lock: %v", err)
	}

	if _, err := p.Run(context.Background(), src); err != nil {
		t.Errorf("Run() after unlock error = %v", err)
	}
}

func TestPipelineSpans(t *testing.T) {
	reg := instrument.New()
	spans := &pipelineSpanLog{}
	reg.Root().AddSpanHandler(spans)

	store := &fakeStore{}
	p := newTestPipeline(t, Config{Store: store, Registry: reg})

	src := &memorySource{name: "docs", docs: []vectorstore.Document{{
		ID: "a.md", Content: "short body", Source: "a.md",
	}}}
	if _, err := p.Run(context.Background(), src); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"enter:ingest.run", "exit:ingest.run"}
	if len(spans.trace) != len(want) || spans.trace[0] != want[0] || spans.trace[1] != want[1] {
		t.Errorf("span trace = %v, want %v", spans.trace, want)
	}

	_, err := p.Run(context.Background(), &memorySource{name: "broken", err: errors.New("boom")})
	if err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if last := spans.trace[len(spans.trace)-1]; last != "drop:ingest.run" {
		t.Errorf("last span transition = %q, want drop:ingest.run", last)
	}
}

func TestPipelineSkipsEmptySources(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, Config{Store: store})

	stats, err := p.Run(context.Background(), &memorySource{name: "empty"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Documents != 0 || stats.Chunks != 0 {
		t.Errorf("stats = %+v, want zero counts", stats)
	}
	if len(store.upserted) != 0 || len(store.deleted) != 0 {
		t.Error("store touched for an empty source")
	}
}
