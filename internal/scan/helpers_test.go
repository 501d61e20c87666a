package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func taskNames(tasks []Task) []string {
	names := make([]string, len(tasks))
	for i, task := range tasks {
		names[i] = task.Name
	}
	return names
}

func taskCommand(t *testing.T, tasks []Task, name string) string {
	t.Helper()
	for _, task := range tasks {
		if task.Name == name {
			return task.Command
		}
	}
	t.Fatalf("task %q not found in %v", name, taskNames(tasks))
	return ""
}
