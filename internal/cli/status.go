package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/resilience"
)

func newStatusCmd(h *appHandle) *cobra.Command {
	var (
		asJSON      bool
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show feature health and queued offline work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}
			status, err := a.Resilience.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, status); err != nil {
					return err
				}
			} else {
				printStatus(out, status)
			}

			if showMetrics {
				text, err := a.Metrics.Render()
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprint(out, text)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "append a Prometheus text dump")
	return cmd
}

func printStatus(w io.Writer, status resilience.Status) {
	fmt.Fprintf(w, "severity: %s\n", status.Severity)

	if len(status.Degraded) > 0 {
		fmt.Fprintln(w)
		tw := newTable(w)
		fmt.Fprintln(tw, "FEATURE\tREASON\tSINCE\tRETRY")
		now := time.Now()
		for _, d := range status.Degraded {
			retry := "-"
			if d.RetryAfter != nil {
				if wait := d.RetryAfter.Sub(now); wait > 0 {
					retry = "in " + wait.Round(time.Second).String()
				} else {
					retry = "now"
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%s ago\t%s\n",
				d.Feature, d.Reason, now.Sub(d.Since).Round(time.Second), retry)
		}
		tw.Flush()
	}

	if len(status.Pending) > 0 {
		fmt.Fprintln(w)
		tw := newTable(w)
		fmt.Fprintln(tw, "FEATURE\tPENDING")
		for _, feature := range resilience.Known() {
			if count := status.Pending[feature]; count > 0 {
				fmt.Fprintf(tw, "%s\t%d\n", feature, count)
			}
		}
		tw.Flush()
	}

	if status.DeadLetters > 0 {
		fmt.Fprintf(w, "\ndead letters: %d (inspect with \"devtask queue list\")\n", status.DeadLetters)
	}
	if len(status.Degraded) == 0 && len(status.Pending) == 0 && status.DeadLetters == 0 {
		fmt.Fprintln(w, "all features healthy, queue empty")
	}
}
