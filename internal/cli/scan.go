package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/scan"
)

// scanReport is the --json --check-updates output shape.
type scanReport struct {
	Tasks   []scan.Task `json:"tasks"`
	Updates []updateRow `json:"updates"`
}

func newScanCmd(h *appHandle) *cobra.Command {
	var (
		roots        []string
		asJSON       bool
		checkUpdates bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover runnable tasks from project manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}
			engine := a.Engine(roots)

			tasks, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}

			var updates []scan.Update
			if checkUpdates {
				deps, err := engine.Dependencies(cmd.Context())
				if err != nil {
					return err
				}
				updates = scan.CheckUpdates(cmd.Context(), deps, a.Lookup())
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if checkUpdates {
					return writeJSON(out, scanReport{Tasks: tasks, Updates: updateRows(updates)})
				}
				return writeJSON(out, tasks)
			}

			printTasks(out, a.WorkDir, tasks)
			if checkUpdates {
				fmt.Fprintln(out)
				printUpdates(out, updates)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&roots, "root", nil, "directory to scan (repeatable; default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().BoolVar(&checkUpdates, "check-updates", false, "check declared dependencies against their registries")
	return cmd
}
