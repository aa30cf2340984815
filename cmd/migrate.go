// File: cmd/migrate.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chisel-cli/internal/observability"
	"github.com/xkilldash9x/chisel-cli/internal/store"
)

// newMigrateCmd creates the `migrate` command, which applies the database
// schema. Only useful when a database is configured; runs are otherwise
// fully in-memory.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if cfg.Database().URL == "" {
				return fmt.Errorf("database URL is not configured (CHISEL_DATABASE_URL)")
			}
			dbPool, err := pgxpool.New(ctx, cfg.Database().URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer dbPool.Close()

			dbStore, err := store.New(ctx, dbPool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize database store: %w", err)
			}
			return dbStore.Migrate(ctx)
		},
	}
}
