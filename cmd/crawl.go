package cmd

import (
	"fmt"
	"time"

	"github.com/shelfminer/shelfminer/internal/jobs"
	"github.com/spf13/cobra"
)

func newCrawlCmd() *cobra.Command {
	var (
		maxItems    int
		maxScrolls  int
		concurrency int
		itemDelayMS int
	)
	cmd := &cobra.Command{
		Use:   "crawl <listing-url>",
		Short: "Run a single crawl job to completion",
		Long: `Discovers model pages from the given listing, scrapes each one,
and waits for the job to finish. Pause and resume are only available
through the API server; this command runs the job straight through.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			cfg := jobs.CrawlConfig{
				ListingURL:  args[0],
				MaxItems:    maxItems,
				MaxScrolls:  maxScrolls,
				Concurrency: concurrency,
				ItemDelay:   time.Duration(itemDelayMS) * time.Millisecond,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			rec, err := a.SubmitAndWait(cmd.Context(), jobs.KindCrawl, cfg)
			if err != nil {
				return fmt.Errorf("crawl job: %w", err)
			}
			return reportOutcome(cmd, rec)
		},
	}
	cmd.Flags().IntVar(&maxItems, "max-items", 200, "stop after discovering this many items")
	cmd.Flags().IntVar(&maxScrolls, "max-scrolls", 30, "maximum listing scroll rounds")
	cmd.Flags().IntVar(&concurrency, "concurrency", 3, "scrape workers (1-5)")
	cmd.Flags().IntVar(&itemDelayMS, "item-delay-ms", 500, "delay between item fetches per worker")
	return cmd
}

func reportOutcome(cmd *cobra.Command, rec jobs.Record) error {
	fmt.Fprintf(cmd.OutOrStdout(), "job %s %s: %d/%d processed, %d failed\n",
		rec.ID, rec.Status, rec.Processed, rec.Total, rec.Failed)
	if rec.Status == jobs.StatusFailed {
		return fmt.Errorf("job failed: %s", rec.LastError)
	}
	return nil
}
