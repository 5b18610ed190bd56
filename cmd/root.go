// Package cmd implements the command-line interface for ticketwatch.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/ticketwatch/cmd/common"
	cmdfetch "github.com/jonesrussell/ticketwatch/cmd/fetch"
	cmdmigrate "github.com/jonesrussell/ticketwatch/cmd/migrate"
	cmdserve "github.com/jonesrussell/ticketwatch/cmd/serve"
	cmdsync "github.com/jonesrussell/ticketwatch/cmd/sync"
)

// version is set at build time via -ldflags.
var version = "dev"

// Execute runs the root command.
func Execute() error {
	var (
		cfgFile string
		debug   bool
	)

	deps := &common.Deps{}

	rootCmd := &cobra.Command{
		Use:   "ticketwatch",
		Short: "Secondary-market ticket listing tracker",
		Long:  "Tracks secondary-market ticket listings with a browser session pool, randomized scheduling and time-series price history.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			loaded, err := common.NewDeps(cfgFile, debug)
			if err != nil {
				return err
			}
			*deps = loaded
			return deps.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("ticketwatch %s\n", version)
		},
	})
	rootCmd.AddCommand(cmdserve.Command(deps))
	rootCmd.AddCommand(cmdfetch.Command(deps))
	rootCmd.AddCommand(cmdsync.Command(deps))
	rootCmd.AddCommand(cmdmigrate.Command(deps))

	return rootCmd.ExecuteContext(context.Background())
}
