package ide

import (
	"fmt"
	"strings"

	"github.com/devtaskhq/devtask/internal/scan"
)

// cursorDir is where Cursor looks for project slash commands.
const cursorDir = ".cursor/commands"

// Cursor generates one markdown slash-command file per task under
// .cursor/commands, so each discovered task is invokable from the editor's
// AI prompt.
type Cursor struct{}

// NewCursor creates the Cursor generator.
func NewCursor() *Cursor { return &Cursor{} }

func (g *Cursor) Target() string { return "cursor" }

func (g *Cursor) Generate(root string, tasks []scan.Task) ([]File, error) {
	var files []File
	for _, task := range sortedTasks(tasks) {
		rel := relDir(root, task)

		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", taskLabel(task))
		if task.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", task.Description)
		}
		fmt.Fprintf(&b, "Run the `%s` task discovered from `%s`.\n\n", task.Name, manifestName(task))
		b.WriteString("```sh\n")
		if rel != "" {
			fmt.Fprintf(&b, "cd %s && %s\n", rel, task.Command)
		} else {
			fmt.Fprintf(&b, "%s\n", task.Command)
		}
		b.WriteString("```\n")

		files = append(files, File{
			Path:    cursorDir + "/" + configFileName(task.Ecosystem, task.Name, rel) + ".md",
			Content: []byte(b.String()),
		})
	}
	return files, nil
}

// manifestName returns the base name of the task's source manifest.
func manifestName(task scan.Task) string {
	if i := strings.LastIndexAny(task.Source, `/\`); i >= 0 {
		return task.Source[i+1:]
	}
	return task.Source
}
