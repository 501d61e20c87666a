package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devtaskhq/devtask/internal/app"
)

// exitError carries a specific process exit code through cobra's error
// return. Used by run (task exit codes) and sync (queue state codes).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// appHandle constructs the App on first use and hands the same instance to
// every command in the invocation.
type appHandle struct {
	opts app.Options
	app  *app.App
}

func (h *appHandle) get(ctx context.Context) (*app.App, error) {
	if h.app != nil {
		return h.app, nil
	}
	a, err := app.New(ctx, h.opts)
	if err != nil {
		return nil, err
	}
	h.app = a
	return a, nil
}

func (h *appHandle) close() {
	if h.app != nil {
		_ = h.app.Close()
		h.app = nil
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, version string) int {
	root, h := newRootCmd(version)
	root.SetArgs(os.Args[1:])

	err := root.ExecuteContext(ctx)
	// Close whatever was built even when the command failed, so breaker
	// snapshots and buffered logs still land on disk.
	h.close()
	if err == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "devtask: %v\n", err)
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return 1
}

// newRootCmd builds the whole command tree around one shared app handle. The
// caller owns the handle and must close it after execution.
func newRootCmd(version string) (*cobra.Command, *appHandle) {
	h := &appHandle{opts: app.Options{Version: version}}

	root := &cobra.Command{
		Use:   "devtask",
		Short: "Discover and run project tasks, with offline-resilient integrations",
		Long: `devtask discovers runnable commands from project manifests (package.json,
Cargo.toml, pom.xml, ...), executes them, and generates editor integrations.
Network-backed features degrade gracefully: failing dependencies trip a
circuit breaker, and deferrable operations queue for replay via "devtask sync".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&h.opts.WorkDir, "chdir", "C", "", "run as if started in this directory")
	flags.StringVar(&h.opts.ConfigPath, "config", "", "path to devtask.yaml (default: nearest found upward)")
	flags.StringVar(&h.opts.StateDir, "state-dir", "", "state directory (default: $DEVTASK_STATE_DIR or ~/.local/state/devtask)")
	flags.BoolVarP(&h.opts.Verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&h.opts.NoColor, "no-color", false, "disable colored log output")
	flags.BoolVar(&h.opts.TrustPlugins, "trust-plugins", false, "accept and re-pin plugins whose content changed")

	root.AddCommand(
		newScanCmd(h),
		newRunCmd(h),
		newIDECmd(h),
		newDocsCmd(h),
		newAssistCmd(h),
		newStatusCmd(h),
		newSyncCmd(h),
		newQueueCmd(h),
		newVersionCmd(version),
	)
	return root, h
}
