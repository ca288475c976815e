package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/userexports/internal/config"
	"example.com/userexports/internal/storage/postgres"
	"example.com/userexports/migrations"
)

// newMigrateCmd applies the development schema. Production databases are
// owned elsewhere; serve never touches the schema.
func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users and watermarks tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := postgres.Connect(ctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()

			if err := db.RunMigration(ctx, migrations.FS, migrations.Init); err != nil {
				return fmt.Errorf("migration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration applied:", migrations.Init)
			return nil
		},
	}
}
