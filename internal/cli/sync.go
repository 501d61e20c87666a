package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/queue"
	"github.com/devtaskhq/devtask/internal/resilience"
)

func newSyncCmd(h *appHandle) *cobra.Command {
	var feature string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued offline operations",
		Long: `Drain the offline queue by replaying each record through its feature's
resilience path. Exit codes: 0 when the queue drains, 2 when any record moved
to the dead-letter list during this run, 1 when records remain pending.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}

			var report queue.Report
			if feature == "" {
				report, err = a.Resilience.Replay(cmd.Context())
			} else {
				report, err = a.Resilience.ReplayFeature(cmd.Context(), resilience.Feature(feature))
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "replayed %d, failed %d, dead-lettered %d, skipped %d, %d pending\n",
				report.Replayed, report.Failed, report.DeadLettered, report.Skipped, report.Remaining)

			// Dead letters take precedence over plain pending records.
			if report.DeadLettered > 0 {
				return &exitError{
					code: 2,
					err:  fmt.Errorf("%d operations moved to the dead-letter list", report.DeadLettered),
				}
			}
			if !report.Drained() {
				return &exitError{
					code: 1,
					err:  fmt.Errorf("%d operations still pending", report.Remaining),
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "replay only this feature's records")
	return cmd
}
