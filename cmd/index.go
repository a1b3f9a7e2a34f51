package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/app"
	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/internal/ingest"
)

func newIndexCommand() *cobra.Command {
	var urls []string

	cmd := &cobra.Command{
		Use:   "index [dir ...]",
		Short: "Index documents into the vector store",
		Long: `Index reads documents from directories and web pages, splits them into
chunks, embeds the chunks, and upserts them into the vector store.
Previously stored chunks of each re-read document are cleared first, so
re-running index refreshes the knowledge base in place.

With no arguments it indexes the configured data directory.`,
		Example: `  ragline index
  ragline index ./docs ./notes
  ragline index --url https://go.dev/blog/pgo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), args, urls)
		},
	}

	cmd.Flags().StringSliceVar(&urls, "url", nil, "web page to index (repeatable)")

	return cmd
}

func runIndex(ctx context.Context, dirs, urls []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if len(dirs) == 0 && len(urls) == 0 {
		dirs = []string{cfg.DataDir}
	}

	sources := make([]ingest.Source, 0, len(dirs)+1)
	for _, dir := range dirs {
		reader, err := ingest.NewDirectoryReader(dir, nil, logger)
		if err != nil {
			return fmt.Errorf("reading %s: %w", dir, err)
		}
		sources = append(sources, reader)
	}
	if len(urls) > 0 {
		reader, err := ingest.NewWebReader(urls, logger)
		if err != nil {
			return fmt.Errorf("reading urls: %w", err)
		}
		sources = append(sources, reader)
	}

	pipeline, err := a.NewPipeline()
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	stats, err := pipeline.Run(ctx, sources...)
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	logger.Info("indexing complete",
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"removed", stats.Removed,
		"duration", stats.Duration,
	)
	for source, chunks := range stats.ChunksBySource {
		logger.Debug("indexed source", "source", source, "chunks", chunks)
	}

	return nil
}
