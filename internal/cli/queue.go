package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/queue"
)

func newQueueCmd(h *appHandle) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline queue",
	}
	cmd.AddCommand(newQueueListCmd(h), newQueueArchiveCmd(h))
	return cmd
}

// queueListing is the queue list --json output shape.
type queueListing struct {
	Pending     []queue.Operation  `json:"pending"`
	DeadLetters []queue.DeadLetter `json:"dead_letters"`
}

func newQueueListCmd(h *appHandle) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending operations and dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}

			pending, dead, err := a.Queue.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, queueListing{Pending: pending, DeadLetters: dead})
			}

			if len(pending) == 0 && len(dead) == 0 {
				fmt.Fprintln(out, "queue is empty")
				return nil
			}

			if len(pending) > 0 {
				tw := newTable(out)
				fmt.Fprintln(tw, "ID\tFEATURE\tENQUEUED\tATTEMPTS\tLAST ERROR")
				for _, op := range pending {
					lastErr := "-"
					if op.LastError != nil {
						lastErr = *op.LastError
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						op.ID, op.Feature, op.EnqueuedAt.Format(time.RFC3339), op.Attempts, lastErr)
				}
				tw.Flush()
			}

			if len(dead) > 0 {
				if len(pending) > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintln(out, "dead letters:")
				tw := newTable(out)
				fmt.Fprintln(tw, "ID\tFEATURE\tDEAD-LETTERED\tREASON")
				for _, dl := range dead {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						dl.ID, dl.Feature, dl.DeadLetteredAt.Format(time.RFC3339), dl.Reason)
				}
				tw.Flush()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newQueueArchiveCmd(h *appHandle) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move the dead-letter list into a gzip archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if list {
				return renderArchives(out, a.Queue)
			}

			path, count, err := a.Queue.ArchiveDeadLetters()
			if err != nil {
				return err
			}

			if count == 0 {
				fmt.Fprintln(out, "no dead letters to archive")
				return nil
			}
			fmt.Fprintf(out, "archived %d dead letters to %s\n", count, path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list previously archived dead letters")
	return cmd
}

func renderArchives(out io.Writer, q *queue.Manager) error {
	paths, err := q.Archives()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(out, "no archives")
		return nil
	}

	for i, path := range paths {
		records, err := queue.ReadArchive(path)
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (%d records)\n", filepath.Base(path), len(records))
		tw := newTable(out)
		fmt.Fprintln(tw, "ID\tFEATURE\tDEAD-LETTERED\tREASON")
		for _, dl := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				dl.ID, dl.Feature, dl.DeadLetteredAt.Format(time.RFC3339), dl.Reason)
		}
		tw.Flush()
	}
	return nil
}
