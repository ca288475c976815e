package main

import (
	"context"

	"github.com/spf13/cobra"

	"example.com/userexports/internal/config"
	"example.com/userexports/internal/jobs"
	"example.com/userexports/internal/storage/postgres"
)

func newRootCmd() *cobra.Command {
	cfg := config.Parse()

	root := &cobra.Command{
		Use:          "exports-api",
		Short:        "Watermark-driven CSV exports of the users table",
		SilenceUsage: true,
	}

	// Flags fall back to the environment values parsed above.
	root.PersistentFlags().StringVar(&cfg.PostgresDSN, "dsn", cfg.PostgresDSN, "Postgres connection string")
	root.PersistentFlags().StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory export files are written to")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	root.AddCommand(newServeCmd(&cfg), newExportCmd(&cfg), newMigrateCmd(&cfg))
	return root
}

func beginFunc(db *postgres.DB) jobs.BeginFunc {
	return func(ctx context.Context) (jobs.Session, error) {
		s, err := db.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
