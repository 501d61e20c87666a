package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/assist"
	"github.com/devtaskhq/devtask/internal/docs"
	"github.com/devtaskhq/devtask/internal/resilience"
)

func newAssistCmd(h *appHandle) *cobra.Command {
	var applyTo string

	cmd := &cobra.Command{
		Use:   "assist <prompt>...",
		Short: "Ask the configured AI provider about your project",
		Long: `Ask a one-shot question, or draft a workflow document with --apply-to.
Questions need the provider now and fail when it is unreachable; drafts are
queued for "devtask sync" instead, and the answer lands in the document
(sanitized) once the provider is reachable again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := h.get(cmd.Context())
			if err != nil {
				return err
			}
			prompt := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			if applyTo == "" {
				result := a.Assist.Complete(cmd.Context(), prompt)
				if !result.IsSuccess() {
					return assistFailure(result)
				}
				answer, ok := result.Value().(string)
				if !ok {
					return fmt.Errorf("assistant returned an unexpected result shape")
				}
				fmt.Fprintln(out, answer)
				return nil
			}

			name := docs.Name(applyTo)
			result := a.Assist.Draft(cmd.Context(), prompt, name)
			switch result.Kind() {
			case resilience.KindSuccess:
				answer, ok := result.Value().(string)
				if !ok {
					return fmt.Errorf("assistant returned an unexpected result shape")
				}
				if err := assist.Apply(a.Docs, name, answer); err != nil {
					return err
				}
				path, err := a.Docs.Path(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "draft written to %s\n", displayDir(a.WorkDir, path))
				return nil
			case resilience.KindQueued:
				fmt.Fprintf(out, "provider unreachable; draft queued as %s (run \"devtask sync\" later)\n",
					result.OperationID())
				return nil
			default:
				return assistFailure(result)
			}
		},
	}

	cmd.Flags().StringVar(&applyTo, "apply-to", "",
		fmt.Sprintf("write the answer into a workflow document (%s)", docNames()))
	return cmd
}

func assistFailure(result resilience.Result) error {
	if err := result.Err(); err != nil {
		return err
	}
	return fmt.Errorf("assistant unavailable: %s", result.Reason())
}

func docNames() string {
	names := make([]string, len(docs.Known()))
	for i, name := range docs.Known() {
		names[i] = name.String()
	}
	return strings.Join(names, ", ")
}
