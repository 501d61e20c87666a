package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/runner"
	"github.com/devtaskhq/devtask/internal/scan"
)

func newRunCmd(h *appHandle) *cobra.Command {
	var (
		timeout time.Duration
		noPTY   bool
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Execute a discovered task",
		Long: `Run a task by name in its manifest's directory. A plain name must match
exactly one task; qualify with the ecosystem ("npm:test") when names collide.
The task's exit code becomes the process exit code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}

			tasks, err := a.Engine(nil).Run(cmd.Context())
			if err != nil {
				return err
			}
			task, err := scan.Find(tasks, args[0])
			if err != nil {
				return err
			}

			result, err := a.Runner.Run(cmd.Context(), task, runner.Options{
				Timeout:    timeout,
				DisablePTY: noPTY,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
				Stdin:      cmd.InOrStdin(),
			})
			if err != nil {
				return err
			}
			if result.ExitCode != 0 {
				return &exitError{
					code: result.ExitCode,
					err:  fmt.Errorf("task %s exited with code %d", result.Task, result.ExitCode),
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "kill the task after this duration (default 30m)")
	cmd.Flags().BoolVar(&noPTY, "no-pty", false, "use plain pipes even when attached to a terminal")
	return cmd
}
