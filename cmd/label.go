package cmd

import (
	"fmt"

	"github.com/shelfminer/shelfminer/internal/jobs"
	"github.com/spf13/cobra"
)

func newLabelCmd() *cobra.Command {
	var (
		limit     int
		maxImages int
	)
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Run a single label job to completion",
		Long: `Grades unlabeled catalog items with the configured vision model
and waits for the job to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			cfg := jobs.LabelConfig{Limit: limit, MaxImages: maxImages}
			if err := cfg.Validate(); err != nil {
				return err
			}
			rec, err := a.SubmitAndWait(cmd.Context(), jobs.KindLabel, cfg)
			if err != nil {
				return fmt.Errorf("label job: %w", err)
			}
			return reportOutcome(cmd, rec)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "label at most this many items (0 = all unlabeled)")
	cmd.Flags().IntVar(&maxImages, "max-images", 10, "images sent to the model per item (1-10)")
	return cmd
}
