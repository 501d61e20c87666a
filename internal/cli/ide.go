package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/ide"
)

func newIDECmd(h *appHandle) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ide",
		Short: "Editor integration files",
	}
	cmd.AddCommand(newIDEGenerateCmd(h))
	return cmd
}

func newIDEGenerateCmd(h *appHandle) *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write editor task definitions for the discovered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}

			wanted := targets
			if len(wanted) == 0 {
				wanted = a.Config.IDE.Targets
			}
			if len(wanted) == 0 {
				return fmt.Errorf("no ide targets configured (known: %s)",
					strings.Join(a.Generators.Targets(), ", "))
			}

			tasks, err := a.Engine(nil).Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, target := range wanted {
				gen, ok := a.Generators.Get(target)
				if !ok {
					return fmt.Errorf("%w: %q (known: %s)",
						ide.ErrUnknownTarget, target, strings.Join(a.Generators.Targets(), ", "))
				}
				files, err := gen.Generate(a.WorkDir, tasks)
				if err != nil {
					return fmt.Errorf("generate %s: %w", target, err)
				}
				if err := ide.WriteFiles(a.WorkDir, files); err != nil {
					return err
				}
				for _, file := range files {
					fmt.Fprintln(out, file.Path)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&targets, "target", nil, "generator target (repeatable; default from config)")
	return cmd
}
