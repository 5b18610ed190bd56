// Package fetch implements the one-shot listings fetch command.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/ticketwatch/cmd/common"
	"github.com/jonesrussell/ticketwatch/internal/browser"
	"github.com/jonesrussell/ticketwatch/internal/fetch"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

// Command returns the fetch command.
func Command(deps *common.Deps) *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "fetch <event-id>",
		Short: "Fetch current listings for one event and print them as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), deps, args[0], pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}

func run(ctx context.Context, deps *common.Deps, eventID string, pretty bool) error {
	cfg := deps.Config
	log := deps.Logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := browser.NewPool(ctx, &cfg.Browser, &cfg.Site, log)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start browser pool: %w", err)
	}
	defer pool.CloseAll()

	pipeline := fetch.NewPipeline(pool, &cfg.Browser, &cfg.Site, log)
	result, err := pipeline.FetchListings(ctx, eventID)
	if err != nil {
		return fmt.Errorf("fetch listings: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	log.Info("fetch complete",
		logger.String("event_id", eventID),
		logger.String("source", result.Source),
		logger.Int("listings", result.Stats.Total))
	return nil
}
