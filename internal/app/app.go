// Package app builds and owns the application's component graph.
//
// Setup wires the pieces in dependency order: telemetry, the
// instrumentation registry, the database pool, the model provider, the
// vector store, and the chat engine. The resulting App owns every
// resource it created and releases them in reverse order through Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/ragline/ragline/db"
	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/internal/engine"
	"github.com/ragline/ragline/internal/ingest"
	"github.com/ragline/ragline/internal/instrument"
	"github.com/ragline/ragline/internal/llm"
	"github.com/ragline/ragline/internal/log"
	"github.com/ragline/ragline/internal/observability"
	"github.com/ragline/ragline/internal/vectorstore"
)

const (
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// App is the application container. Fields are exported for the entry
// points (HTTP server, index command) that compose them further.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Registry *instrument.Registry
	Pool     *pgxpool.Pool
	Store    *vectorstore.Store
	Engine   *engine.Engine

	// Embedder caches vectors across requests. Held so Close can flush it.
	Embedder *llm.CachedEmbedder

	ctx          context.Context
	cancel       context.CancelFunc
	background   *errgroup.Group
	otelShutdown func(context.Context) error
}

// Setup initializes the application. The returned App must be released
// with Close; on error everything already initialized has been cleaned
// up.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Telemetry first so the trace handler binds to a live provider.
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	a.otelShutdown = shutdown

	a.Registry = instrument.New()
	root := a.Registry.Root()
	traces := observability.NewTraceHandler(otel.Tracer("github.com/ragline/ragline"))
	root.AddSpanHandler(traces)
	root.AddEventHandler(traces)
	logs := observability.NewLogHandler(logger)
	root.AddSpanHandler(logs)
	root.AddEventHandler(logs)

	pool, err := newPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	completer, embedder, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	cached, err := llm.NewCachedEmbedder(embedder, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	a.Embedder = cached

	store, err := vectorstore.New(vectorstore.NewQueries(pool), cached, logger,
		vectorstore.WithEmbedBatch(cfg.EmbedBatch),
		vectorstore.WithEmbedWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	a.Store = store

	eng, err := engine.New(engine.Config{
		Completer:        completer,
		Retriever:        engine.NewStoreRetriever(store),
		Registry:         a.Registry,
		Logger:           logger,
		TopK:             cfg.TopK,
		MaxHistoryTokens: cfg.HistoryTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat engine: %w", err)
	}
	a.Engine = eng

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.background = &errgroup.Group{}

	return a, nil
}

// newProvider picks the model backend: a live client when an API key is
// configured, the deterministic simulator otherwise.
func newProvider(cfg *config.Config, logger log.Logger) (llm.Completer, llm.Embedder, error) {
	if cfg.Simulated() {
		logger.Warn("no provider API key configured, using simulated model")
		sim := llm.NewSimulator(cfg.VectorDim)
		return sim, sim, nil
	}

	client, err := llm.NewClient(llm.ClientConfig{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		Model:             cfg.Provider.Model,
		EmbedModel:        cfg.Provider.EmbedModel,
		Timeout:           time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating model client: %w", err)
	}
	return client, client, nil
}

// newPool migrates the schema, then opens a pgx pool sized for a small
// service footprint. pgvector types are registered on each new
// connection so vectors travel in binary format.
func newPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// IndexInBackground re-indexes the configured data directory without
// blocking startup, so a fresh database serves grounded answers before
// anyone runs the index command. A missing directory is a no-op;
// failures are logged and swallowed. Close waits for the run to finish.
func (a *App) IndexInBackground() {
	dir := a.Config.DataDir
	a.background.Go(func() error {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil
		}

		pipeline, source, err := a.newDirPipeline(dir)
		if err != nil {
			a.Logger.Warn("startup indexing skipped", "dir", dir, "error", err)
			return nil
		}

		stats, err := pipeline.Run(a.ctx, source)
		if err != nil {
			a.Logger.Warn("startup indexing failed", "dir", dir, "error", err)
			return nil
		}
		a.Logger.Info("startup indexing complete",
			"dir", dir,
			"documents", stats.Documents,
			"chunks", stats.Chunks,
			"duration", stats.Duration,
		)
		return nil
	})
}

// NewPipeline builds an ingest pipeline wired to the app's store,
// registry, and chunking configuration.
func (a *App) NewPipeline() (*ingest.Pipeline, error) {
	splitter, err := ingest.NewSplitter(a.Config.ChunkSize, a.Config.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}
	return ingest.NewPipeline(ingest.Config{
		Store:    a.Store,
		Splitter: splitter,
		Registry: a.Registry,
		Logger:   a.Logger,
	})
}

func (a *App) newDirPipeline(dir string) (*ingest.Pipeline, ingest.Source, error) {
	pipeline, err := a.NewPipeline()
	if err != nil {
		return nil, nil, err
	}
	source, err := ingest.NewDirectoryReader(dir, nil, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return pipeline, source, nil
}

// Close releases resources in reverse construction order. Safe to call
// on a partially built App.
func (a *App) Close() error {
	logger := a.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	if a.cancel != nil {
		a.cancel()
	}
	if a.background != nil {
		if err := a.background.Wait(); err != nil {
			logger.Warn("background job failed during shutdown", "error", err)
		}
	}
	if a.Embedder != nil {
		a.Embedder.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
		logger.Info("database pool closed")
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
	return nil
}
