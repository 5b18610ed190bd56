// Package sync implements the sheet-to-database event sync command.
package sync

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/ticketwatch/cmd/common"
	"github.com/jonesrussell/ticketwatch/internal/logger"
	"github.com/jonesrussell/ticketwatch/internal/sheets"
	"github.com/jonesrussell/ticketwatch/internal/storage"
)

// Command returns the sync command.
func Command(deps *common.Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync the tracked event roster from the spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), deps)
		},
	}
}

func run(ctx context.Context, deps *common.Deps) error {
	cfg := deps.Config
	log := deps.Logger

	if cfg.Sheets.CSVURL == "" {
		return fmt.Errorf("sheets.csv_url must be configured")
	}

	db, err := storage.NewPostgresConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("close database", logger.Error(closeErr))
		}
	}()
	if err := storage.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	client := sheets.New(cfg.Sheets.CSVURL, log)
	events, err := client.FetchEvents(ctx)
	if err != nil {
		return fmt.Errorf("fetch sheet events: %w", err)
	}

	result, err := storage.NewEventRepository(db).SyncFromSheet(ctx, events)
	if err != nil {
		return fmt.Errorf("sync events: %w", err)
	}

	log.Info("event sync complete",
		logger.Int("inserted", result.Inserted),
		logger.Int("updated", result.Updated),
		logger.Int("untracked", result.Untracked))
	return nil
}
