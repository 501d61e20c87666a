package runner

import (
	"bytes"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtaskhq/devtask/internal/scan"
)

func shellTask(t *testing.T, command string) scan.Task {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests need a POSIX shell")
	}
	return scan.Task{
		Name:      "demo",
		Ecosystem: "npm",
		Command:   command,
		Dir:       t.TempDir(),
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	r := New(nil)

	var stdout bytes.Buffer
	result, err := r.Run(context.Background(), shellTask(t, "echo hello"), Options{
		Stdout: &stdout,
		Stderr: &stdout,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, stdout.String(), "hello")
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "npm:demo", result.Task)
}

func TestRunPropagatesNonzeroExit(t *testing.T) {
	r := New(nil)

	var stdout bytes.Buffer
	result, err := r.Run(context.Background(), shellTask(t, "exit 3"), Options{
		Stdout: &stdout,
		Stderr: &stdout,
	})
	require.NoError(t, err, "a nonzero exit is a result, not an error")
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunHonorsWorkingDirectory(t *testing.T) {
	r := New(nil)
	task := shellTask(t, "pwd")

	var stdout bytes.Buffer
	_, err := r.Run(context.Background(), task, Options{
		Stdout: &stdout,
		Stderr: &stdout,
	})
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), task.Dir)
}

func TestRunTimesOut(t *testing.T) {
	r := New(nil)

	var stdout bytes.Buffer
	start := time.Now()
	_, err := r.Run(context.Background(), shellTask(t, "sleep 10"), Options{
		Timeout: 100 * time.Millisecond,
		Stdout:  &stdout,
		Stderr:  &stdout,
	})
	require.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunAppliesExtraEnv(t *testing.T) {
	r := New(nil)

	var stdout bytes.Buffer
	_, err := r.Run(context.Background(), shellTask(t, "echo $DEVTASK_PROBE"), Options{
		Stdout: &stdout,
		Stderr: &stdout,
		Env:    map[string]string{"DEVTASK_PROBE": "probe-value"},
	})
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "probe-value")
}
