package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"

	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// packageJSON is the subset of package.json the scanner reads. Unknown
// fields are ignored.
type packageJSON struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	PackageManager  string            `json:"packageManager"`
}

// pnpmWorkspace is the subset of pnpm-workspace.yaml needed for membership
// checks.
type pnpmWorkspace struct {
	Packages []string `yaml:"packages"`
}

// NPM discovers package.json scripts and picks the package manager the
// project actually uses so generated commands run under it.
type NPM struct{}

// NewNPM creates the npm scanner.
func NewNPM() *NPM { return &NPM{} }

func (s *NPM) Name() string { return "npm" }

func (s *NPM) Manifests() []string { return []string{"package.json"} }

func (s *NPM) Parse(ctx context.Context, path string, data []byte) ([]Task, error) {
	var manifest packageJSON
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	pm := detectPackageManager(dir, manifest.PackageManager)

	tasks := make([]Task, 0, len(manifest.Scripts))
	for name := range manifest.Scripts {
		if err := utils.ValidateTaskName(name); err != nil {
			continue
		}
		tasks = append(tasks, Task{
			Name:      name,
			Ecosystem: s.Name(),
			Command:   pm + " run " + name,
			Dir:       dir,
			Source:    path,
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

func (s *NPM) Dependencies(ctx context.Context, path string, data []byte) ([]Dependency, error) {
	var manifest packageJSON
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	deps := make([]Dependency, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name, version := range manifest.Dependencies {
		deps = append(deps, Dependency{Name: name, Ecosystem: s.Name(), Declared: version})
	}
	for name, version := range manifest.DevDependencies {
		deps = append(deps, Dependency{Name: name, Ecosystem: s.Name(), Declared: version})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps, nil
}

// detectPackageManager picks the runner for script commands. Lockfiles in
// the package directory win, then the packageManager field, then membership
// in an enclosing pnpm workspace (whose lockfile lives at the workspace
// root, not in the member).
func detectPackageManager(dir, packageManagerField string) string {
	switch {
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return "pnpm"
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return "yarn"
	case fileExists(filepath.Join(dir, "bun.lockb")) || fileExists(filepath.Join(dir, "bun.lock")):
		return "bun"
	case fileExists(filepath.Join(dir, "package-lock.json")):
		return "npm"
	}

	if packageManagerField != "" {
		name := packageManagerField
		if at := strings.IndexByte(name, '@'); at > 0 {
			name = name[:at]
		}
		switch name {
		case "pnpm", "yarn", "bun", "npm":
			return name
		}
	}

	if inPnpmWorkspace(dir) {
		return "pnpm"
	}
	return "npm"
}

// inPnpmWorkspace reports whether dir is a member of a pnpm workspace found
// in an ancestor directory. The search stops at the repository root.
func inPnpmWorkspace(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	current := filepath.Dir(abs)
	for {
		wsFile := filepath.Join(current, "pnpm-workspace.yaml")
		if fileExists(wsFile) {
			return workspaceContains(wsFile, current, abs)
		}
		if fileExists(filepath.Join(current, ".git")) {
			return false
		}
		parent := filepath.Dir(current)
		if parent == current {
			return false
		}
		current = parent
	}
}

// workspaceContains matches the member directory against the workspace
// package globs. Patterns prefixed with "!" exclude.
func workspaceContains(wsFile, wsDir, memberDir string) bool {
	data, err := os.ReadFile(wsFile)
	if err != nil {
		return false
	}
	var ws pnpmWorkspace
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return false
	}

	rel, err := filepath.Rel(wsDir, memberDir)
	if err != nil {
		return false
	}
	slashed := filepath.ToSlash(rel)

	matched := false
	for _, pattern := range ws.Packages {
		if negated := strings.HasPrefix(pattern, "!"); negated {
			if ok, err := doublestar.Match(pattern[1:], slashed); err == nil && ok {
				return false
			}
			continue
		}
		if ok, err := doublestar.Match(pattern, slashed); err == nil && ok {
			matched = true
		}
	}
	return matched
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
