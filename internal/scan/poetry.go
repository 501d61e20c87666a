package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// pyprojectManifest is the subset of pyproject.toml the scanner reads. It
// covers both the PEP 621 project table and the poetry/poe tool tables.
type pyprojectManifest struct {
	Project struct {
		Name         string            `toml:"name"`
		Scripts      map[string]string `toml:"scripts"`
		Dependencies []string          `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name         string                 `toml:"name"`
			Scripts      map[string]string      `toml:"scripts"`
			Dependencies map[string]interface{} `toml:"dependencies"`
			Group        map[string]struct {
				Dependencies map[string]interface{} `toml:"dependencies"`
			} `toml:"group"`
		} `toml:"poetry"`
		Poe struct {
			Tasks map[string]interface{} `toml:"tasks"`
		} `toml:"poe"`
	} `toml:"tool"`
}

// Poetry discovers script entry points and poe tasks from pyproject.toml.
type Poetry struct{}

// NewPoetry creates the poetry scanner.
func NewPoetry() *Poetry { return &Poetry{} }

func (s *Poetry) Name() string { return "poetry" }

func (s *Poetry) Manifests() []string { return []string{"pyproject.toml"} }

func (s *Poetry) Parse(ctx context.Context, path string, data []byte) ([]Task, error) {
	var manifest pyprojectManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	runner := pythonRunner(dir, &manifest)

	// Poetry's own scripts table wins over the PEP 621 one when both
	// declare the same entry point.
	scripts := make(map[string]bool, len(manifest.Project.Scripts)+len(manifest.Tool.Poetry.Scripts))
	for name := range manifest.Project.Scripts {
		scripts[name] = true
	}
	for name := range manifest.Tool.Poetry.Scripts {
		scripts[name] = true
	}

	tasks := make([]Task, 0, len(scripts)+len(manifest.Tool.Poe.Tasks))
	for name := range scripts {
		if err := utils.ValidateTaskName(name); err != nil {
			continue
		}
		tasks = append(tasks, Task{
			Name:      name,
			Ecosystem: s.Name(),
			Command:   runner + " " + name,
			Dir:       dir,
			Source:    path,
		})
	}
	for name := range manifest.Tool.Poe.Tasks {
		if err := utils.ValidateTaskName(name); err != nil {
			continue
		}
		tasks = append(tasks, Task{
			Name:      name,
			Ecosystem: s.Name(),
			Command:   "poe " + name,
			Dir:       dir,
			Source:    path,
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

func (s *Poetry) Dependencies(ctx context.Context, path string, data []byte) ([]Dependency, error) {
	var manifest pyprojectManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var deps []Dependency
	for _, requirement := range manifest.Project.Dependencies {
		name, constraint := pep508Name(requirement)
		if name == "" {
			continue
		}
		deps = append(deps, Dependency{Name: name, Ecosystem: s.Name(), Declared: constraint})
	}

	sections := []map[string]interface{}{manifest.Tool.Poetry.Dependencies}
	for _, group := range manifest.Tool.Poetry.Group {
		sections = append(sections, group.Dependencies)
	}
	for _, section := range sections {
		for name, value := range section {
			// The python entry pins the interpreter, not a package.
			if name == "python" {
				continue
			}
			deps = append(deps, Dependency{
				Name:      name,
				Ecosystem: s.Name(),
				Declared:  poetryDeclaredVersion(value),
			})
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps, nil
}

// pythonRunner picks the tool scripts execute under. Poetry projects are
// recognized by their tool table or lockfile; uv projects by uv.lock.
func pythonRunner(dir string, manifest *pyprojectManifest) string {
	hasPoetry := manifest.Tool.Poetry.Name != "" ||
		len(manifest.Tool.Poetry.Scripts) > 0 ||
		len(manifest.Tool.Poetry.Dependencies) > 0 ||
		fileExists(filepath.Join(dir, "poetry.lock"))
	if !hasPoetry && fileExists(filepath.Join(dir, "uv.lock")) {
		return "uv run"
	}
	return "poetry run"
}

// pep508Name splits a PEP 508 requirement into the package name and the
// rest (extras, version constraint, markers), which is kept raw.
func pep508Name(requirement string) (string, string) {
	trimmed := strings.TrimSpace(requirement)
	idx := strings.IndexAny(trimmed, " <>=!~;@[(")
	if idx == -1 {
		return trimmed, ""
	}
	return trimmed[:idx], strings.TrimSpace(trimmed[idx:])
}

// poetryDeclaredVersion extracts the constraint from either form of a
// poetry dependency value. Git and path dependencies have no version.
func poetryDeclaredVersion(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}:
		if version, ok := v["version"].(string); ok {
			return version
		}
	}
	return ""
}
