// Package cmd implements the ragline command line interface.
//
// Commands:
//   - serve: HTTP chat API server with graceful shutdown
//   - index: one-shot ingest of directories and web pages
//   - version: build information
//
// Signal handling and graceful shutdown are implemented for all
// long-running commands via context cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/internal/log"
)

const description = `Ragline is a retrieval augmented chat service.

It indexes local documents and web pages into PostgreSQL/pgvector and
answers questions over an HTTP API, citing the passages each answer
was grounded on.

Start the server with "ragline serve"; load documents with
"ragline index".`

// NewRootCommand creates the parent of all subcommands.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ragline",
		Short:        "Retrieval augmented chat service",
		Long:         description,
		Version:      AppVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Print help when no subcommand is given.
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newServeCommand(),
		newIndexCommand(),
		newVersionCommand(),
	)

	return cmd
}

// Execute runs the root command. It is the only entry point main needs.
func Execute() error {
	return NewRootCommand().Execute()
}

// newLogger builds the process logger from the loaded configuration.
// DEBUG widens the level; non-dev environments log JSON for ingestion.
func newLogger(cfg *config.Config) log.Logger {
	lc := log.Config{Level: slog.LevelInfo, JSON: !cfg.Dev()}
	if os.Getenv("DEBUG") != "" {
		lc.Level = slog.LevelDebug
	}

	logger := log.New(lc)
	slog.SetDefault(logger)
	return logger
}
