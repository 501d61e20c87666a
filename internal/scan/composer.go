package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// composerJSON is the subset of composer.json the scanner reads. Script
// values are a command string or an array of them; only the names matter
// here since execution goes through composer itself.
type composerJSON struct {
	Name         string                 `json:"name"`
	Scripts      map[string]interface{} `json:"scripts"`
	Descriptions map[string]string      `json:"scripts-descriptions"`
	Require      map[string]string      `json:"require"`
	RequireDev   map[string]string      `json:"require-dev"`
}

// Composer discovers composer.json scripts.
type Composer struct{}

// NewComposer creates the composer scanner.
func NewComposer() *Composer { return &Composer{} }

func (s *Composer) Name() string { return "composer" }

func (s *Composer) Manifests() []string { return []string{"composer.json"} }

func (s *Composer) Parse(ctx context.Context, path string, data []byte) ([]Task, error) {
	var manifest composerJSON
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tasks := make([]Task, 0, len(manifest.Scripts))
	for name := range manifest.Scripts {
		// Event hooks like post-install-cmd run on composer's own
		// lifecycle, not on demand.
		if strings.HasPrefix(name, "pre-") || strings.HasPrefix(name, "post-") {
			continue
		}
		if err := utils.ValidateTaskName(name); err != nil {
			continue
		}
		tasks = append(tasks, Task{
			Name:        name,
			Ecosystem:   s.Name(),
			Command:     "composer run-script " + name,
			Dir:         dir,
			Source:      path,
			Description: manifest.Descriptions[name],
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

func (s *Composer) Dependencies(ctx context.Context, path string, data []byte) ([]Dependency, error) {
	var manifest composerJSON
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	deps := make([]Dependency, 0, len(manifest.Require)+len(manifest.RequireDev))
	for _, section := range []map[string]string{manifest.Require, manifest.RequireDev} {
		for name, version := range section {
			if isComposerPlatformPackage(name) {
				continue
			}
			deps = append(deps, Dependency{Name: name, Ecosystem: s.Name(), Declared: version})
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps, nil
}

// isComposerPlatformPackage reports whether the requirement names the PHP
// runtime or one of its extensions rather than an installable package.
func isComposerPlatformPackage(name string) bool {
	return name == "php" || name == "composer-plugin-api" ||
		strings.HasPrefix(name, "ext-") || strings.HasPrefix(name, "lib-")
}
