// Package cmd defines the CLI commands for the shelfminer executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/shelfminer/shelfminer/internal/app"
	"github.com/shelfminer/shelfminer/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

// buildApp is the application factory, a variable so tests can swap it.
var buildApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, &cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shelfminer",
		Short: "Catalog crawler and grading service for 3D model listings",
		Long: `shelfminer discovers printable model listings from a paginated catalog,
scrapes each model page, and grades the results with a vision model.
Run "serve" for the long-lived API server, or "crawl"/"label" for
one-shot jobs.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (env SHELFMINER_* overrides)")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newLabelCmd())
	return cmd
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
