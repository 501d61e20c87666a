package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// cargoManifest is the subset of Cargo.toml the scanner reads. Dependency
// values are either a version string or an inline table.
type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
	} `toml:"bin"`
	Dependencies    map[string]interface{} `toml:"dependencies"`
	DevDependencies map[string]interface{} `toml:"dev-dependencies"`
}

// Cargo discovers build, test, bench and run targets from Cargo.toml.
type Cargo struct{}

// NewCargo creates the cargo scanner.
func NewCargo() *Cargo { return &Cargo{} }

func (s *Cargo) Name() string { return "cargo" }

func (s *Cargo) Manifests() []string { return []string{"Cargo.toml"} }

func (s *Cargo) Parse(ctx context.Context, path string, data []byte) ([]Task, error) {
	var manifest cargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Workspace-only manifests carry no package section and define no
	// targets of their own.
	if manifest.Package.Name == "" {
		return nil, nil
	}

	dir := filepath.Dir(path)
	tasks := []Task{
		{Name: "build", Ecosystem: s.Name(), Command: "cargo build", Dir: dir, Source: path},
		{Name: "test", Ecosystem: s.Name(), Command: "cargo test", Dir: dir, Source: path},
		{Name: "bench", Ecosystem: s.Name(), Command: "cargo bench", Dir: dir, Source: path},
	}
	if fileExists(filepath.Join(dir, "src", "main.rs")) {
		tasks = append(tasks, Task{
			Name: "run", Ecosystem: s.Name(), Command: "cargo run", Dir: dir, Source: path,
		})
	}
	for _, bin := range manifest.Bin {
		if bin.Name == "" || utils.ValidateTaskName("run:"+bin.Name) != nil {
			continue
		}
		tasks = append(tasks, Task{
			Name:      "run:" + bin.Name,
			Ecosystem: s.Name(),
			Command:   "cargo run --bin " + bin.Name,
			Dir:       dir,
			Source:    path,
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

func (s *Cargo) Dependencies(ctx context.Context, path string, data []byte) ([]Dependency, error) {
	var manifest cargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	deps := make([]Dependency, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for _, section := range []map[string]interface{}{manifest.Dependencies, manifest.DevDependencies} {
		for name, value := range section {
			deps = append(deps, Dependency{
				Name:      name,
				Ecosystem: s.Name(),
				Declared:  cargoDeclaredVersion(value),
			})
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps, nil
}

// cargoDeclaredVersion extracts the requirement from either form of a
// dependency value. Git and path dependencies have no version to report.
func cargoDeclaredVersion(value interface{}) string {
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
