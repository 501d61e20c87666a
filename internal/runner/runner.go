package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/scan"
	"github.com/devtaskhq/devtask/internal/shared/id"
)

// ErrTimedOut reports that a task hit its execution deadline and was killed.
var ErrTimedOut = errors.New("task timed out")

// DefaultTimeout bounds a task run when the caller sets none.
const DefaultTimeout = 30 * time.Minute

// Options adjust one task run.
type Options struct {
	// Timeout kills the task when exceeded. Zero means DefaultTimeout.
	Timeout time.Duration
	// Stdout and Stderr receive the task's output. Nil means os.Stdout and
	// os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
	// Stdin feeds the task when running under a pty. Nil means os.Stdin.
	Stdin io.Reader
	// DisablePTY forces plain pipes even when attached to a terminal.
	DisablePTY bool
	// Env adds environment variables on top of the inherited environment.
	Env map[string]string
}

// Result describes one finished task run.
type Result struct {
	RunID    id.RunID      `json:"run_id"`
	Task     string        `json:"task"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner executes discovered tasks in their manifest directories.
type Runner struct {
	log *logging.Logger
	ids *id.Generator
}

// New creates a task runner.
func New(log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NewNop()
	}
	return &Runner{log: log, ids: id.NewGenerator()}
}

// Run executes the task command through the shell in the task's directory.
// A nonzero exit is not an error: it rides in Result.ExitCode so callers can
// propagate it. Errors mean the task could not run at all or timed out.
func (r *Runner) Run(ctx context.Context, task scan.Task, opts Options) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := Result{
		RunID: r.ids.NewRunID(),
		Task:  task.Ecosystem + ":" + task.Name,
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", task.Command)
	cmd.Dir = task.Dir
	cmd.Env = os.Environ()
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	r.log.Debug("running task",
		zap.String("run_id", result.RunID.String()),
		zap.String("task", result.Task),
		zap.String("command", task.Command),
		zap.String("dir", task.Dir),
	)

	start := time.Now()
	var runErr error
	if !opts.DisablePTY && isTerminal(stdout) {
		runErr = r.runPTY(cmd, stdout, stdin)
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		runErr = cmd.Run()
	}
	result.Duration = time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		return result, fmt.Errorf("%w after %s: %s", ErrTimedOut, timeout, result.Task)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.log.Debug("task exited nonzero",
				zap.String("run_id", result.RunID.String()),
				zap.Int("exit_code", result.ExitCode),
			)
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("run %s: %w", result.Task, runErr)
	}

	return result, nil
}

// runPTY executes the command under a pseudo-terminal, streaming raw output
// so color and progress rendering survive.
func (r *Runner) runPTY(cmd *exec.Cmd, stdout io.Writer, stdin io.Reader) error {
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	defer ptmx.Close()

	if f, ok := stdout.(*os.File); ok {
		if ws, err := pty.GetsizeFull(f); err == nil {
			_ = pty.Setsize(ptmx, ws)
		}
	}

	// Forward input until the pty closes; the copy errors out then and the
	// goroutine exits with it.
	go func() {
		_, _ = io.Copy(ptmx, stdin)
	}()

	// EIO on read means the child closed its side, the normal end of a pty.
	_, _ = io.Copy(stdout, ptmx)

	return cmd.Wait()
}

// isTerminal reports whether w is a character device, i.e. an attached
// terminal rather than a pipe or file.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
