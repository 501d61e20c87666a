package ide

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/devtaskhq/devtask/internal/scan"
)

// vscodeTasksPath is where VS Code looks for workspace tasks.
const vscodeTasksPath = ".vscode/tasks.json"

// vscodeTask is one entry in tasks.json.
type vscodeTask struct {
	Label   string         `json:"label"`
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Options *vscodeOptions `json:"options,omitempty"`
	Group   string         `json:"group,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

type vscodeOptions struct {
	Cwd string `json:"cwd"`
}

type vscodeTasksFile struct {
	Version string       `json:"version"`
	Tasks   []vscodeTask `json:"tasks"`
}

// VSCode generates .vscode/tasks.json.
type VSCode struct{}

// NewVSCode creates the VS Code generator.
func NewVSCode() *VSCode { return &VSCode{} }

func (g *VSCode) Target() string { return "vscode" }

func (g *VSCode) Generate(root string, tasks []scan.Task) ([]File, error) {
	file := vscodeTasksFile{Version: "2.0.0"}
	for _, task := range sortedTasks(tasks) {
		entry := vscodeTask{
			Label:   taskLabel(task),
			Type:    "shell",
			Command: task.Command,
			Group:   groupOf(task),
			Detail:  task.Description,
		}
		if rel := relDir(root, task); rel != "" {
			entry.Options = &vscodeOptions{Cwd: "${workspaceFolder}/" + rel}
		}
		file.Tasks = append(file.Tasks, entry)
	}

	data, err := sonic.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode vscode tasks: %w", err)
	}
	return []File{{Path: vscodeTasksPath, Content: append(data, '\n')}}, nil
}
