package ide

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/devtaskhq/devtask/internal/scan"
)

// zedTasksPath is where Zed looks for workspace tasks.
const zedTasksPath = ".zed/tasks.json"

// zedTask is one entry in Zed's tasks.json, which is a bare array.
type zedTask struct {
	Label   string `json:"label"`
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

// Zed generates .zed/tasks.json.
type Zed struct{}

// NewZed creates the Zed generator.
func NewZed() *Zed { return &Zed{} }

func (g *Zed) Target() string { return "zed" }

func (g *Zed) Generate(root string, tasks []scan.Task) ([]File, error) {
	entries := make([]zedTask, 0, len(tasks))
	for _, task := range sortedTasks(tasks) {
		entry := zedTask{
			Label:   taskLabel(task),
			Command: task.Command,
		}
		if rel := relDir(root, task); rel != "" {
			entry.Cwd = "$ZED_WORKTREE_ROOT/" + rel
		}
		entries = append(entries, entry)
	}

	data, err := sonic.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode zed tasks: %w", err)
	}
	return []File{{Path: zedTasksPath, Content: append(data, '\n')}}, nil
}
