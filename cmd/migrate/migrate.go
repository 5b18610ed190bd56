// Package migrate implements the schema migration command.
package migrate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/ticketwatch/cmd/common"
	"github.com/jonesrussell/ticketwatch/internal/logger"
	"github.com/jonesrussell/ticketwatch/internal/storage"
)

// Command returns the migrate command.
func Command(deps *common.Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), deps)
		},
	}
}

func run(ctx context.Context, deps *common.Deps) error {
	db, err := storage.NewPostgresConnection(&deps.Config.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			deps.Logger.Error("close database", logger.Error(closeErr))
		}
	}()

	if err := storage.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	deps.Logger.Info("schema is up to date")
	return nil
}
