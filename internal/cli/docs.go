package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/app"
	"github.com/devtaskhq/devtask/internal/docs"
	"github.com/devtaskhq/devtask/internal/remote"
	"github.com/devtaskhq/devtask/internal/resilience"
)

func newDocsCmd(h *appHandle) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Workflow documents under .devtask/",
	}
	cmd.AddCommand(newDocsInitCmd(h), newDocsSyncCmd(h))
	return cmd
}

func newDocsInitCmd(h *appHandle) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold the workflow document set from templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}

			written, err := a.Docs.Init("", force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(written) == 0 {
				fmt.Fprintln(out, "all documents already exist (use --force to overwrite)")
				return nil
			}
			for _, name := range written {
				path, err := a.Docs.Path(name)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, displayDir(a.WorkDir, path))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing documents")
	return cmd
}

func newDocsSyncCmd(h *appHandle) *cobra.Command {
	var pull bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push workflow documents to the configured sync service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}
			if pull {
				return pullDocs(cmd, a)
			}
			return pushDocs(cmd, a)
		},
	}

	cmd.Flags().BoolVar(&pull, "pull", false, "fetch remote copies into the local store instead of pushing")
	return cmd
}

func pushDocs(cmd *cobra.Command, a *app.App) error {
	reports, err := a.Sync.PushAll(cmd.Context(), a.Docs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(reports) == 0 {
		fmt.Fprintln(out, `no documents to push (run "devtask docs init" first)`)
		return nil
	}

	tw := newTable(out)
	fmt.Fprintln(tw, "DOCUMENT\tOUTCOME")
	failed := 0
	for _, report := range reports {
		if report.Result.Kind() == resilience.KindFailed {
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\n", report.Name, describeResult(report.Result))
	}
	tw.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed to push", failed, len(reports))
	}
	return nil
}

func pullDocs(cmd *cobra.Command, a *app.App) error {
	out := cmd.OutOrStdout()
	tw := newTable(out)
	fmt.Fprintln(tw, "DOCUMENT\tOUTCOME")

	failed := 0
	for _, name := range docs.Known() {
		result := a.Sync.Pull(cmd.Context(), name)
		if !result.IsSuccess() {
			if errors.Is(result.Err(), remote.ErrDocNotFound) {
				fmt.Fprintf(tw, "%s\tnot on remote\n", name)
				continue
			}
			if result.Kind() == resilience.KindFailed {
				failed++
			}
			fmt.Fprintf(tw, "%s\t%s\n", name, describeResult(result))
			continue
		}

		content, ok := result.Value().([]byte)
		if !ok {
			failed++
			fmt.Fprintf(tw, "%s\tfailed: unexpected content shape\n", name)
			continue
		}
		if err := a.Docs.Write(name, content); err != nil {
			failed++
			fmt.Fprintf(tw, "%s\tfailed: %v\n", name, err)
			continue
		}
		fmt.Fprintf(tw, "%s\tpulled\n", name)
	}
	tw.Flush()

	if failed > 0 {
		return fmt.Errorf("%d documents failed to pull", failed)
	}
	return nil
}
