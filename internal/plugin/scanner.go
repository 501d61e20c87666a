package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/scan"
	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// scriptScanner adapts a plugin-registered scanner to the scan.Scanner
// interface. All VM access goes through the runtime, which serializes it.
type scriptScanner struct {
	rt        *Runtime
	name      string
	manifests []string
	parse     goja.Callable
}

func newScriptScanner(rt *Runtime, spec scannerSpec) *scriptScanner {
	return &scriptScanner{
		rt:        rt,
		name:      spec.name,
		manifests: spec.manifests,
		parse:     spec.parse,
	}
}

func (s *scriptScanner) Name() string { return s.name }

func (s *scriptScanner) Manifests() []string { return s.manifests }

// Parse calls the plugin's parse function with the manifest path and content
// and maps the returned entries onto tasks. Malformed entries are skipped;
// only a failed or interrupted call skips the whole file.
func (s *scriptScanner) Parse(ctx context.Context, path string, data []byte) ([]scan.Task, error) {
	raw, err := s.rt.invoke(ctx, s.parse, path, string(data))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("plugin scanner %s: parse must return an array of tasks", s.name)
	}

	dir := filepath.Dir(path)
	tasks := make([]scan.Task, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			s.rt.log.Debug("plugin task entry is not an object, skipped",
				zap.String("scanner", s.name),
				zap.String("manifest", path),
			)
			continue
		}
		task := scan.Task{
			Name:        stringField(entry, "name"),
			Command:     stringField(entry, "command"),
			Description: stringField(entry, "description"),
			Ecosystem:   s.name,
			Dir:         dir,
			Source:      path,
		}
		if err := utils.ValidateTaskName(task.Name); err != nil {
			s.rt.log.Debug("plugin task skipped",
				zap.String("scanner", s.name),
				zap.String("manifest", path),
				zap.Error(err),
			)
			continue
		}
		if task.Command == "" {
			s.rt.log.Debug("plugin task has no command, skipped",
				zap.String("scanner", s.name),
				zap.String("task", task.Name),
			)
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

func stringField(entry map[string]interface{}, key string) string {
	v, ok := entry[key].(string)
	if !ok {
		return ""
	}
	return v
}
