package ide

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/devtaskhq/devtask/internal/scan"
	"github.com/devtaskhq/devtask/internal/shared/fsio"
)

// ErrUnknownTarget is returned when a caller names a generator outside the
// registered set.
var ErrUnknownTarget = fmt.Errorf("unknown ide target")

// File is one generated integration file. Path is relative to the project
// root.
type File struct {
	Path    string
	Content []byte
}

// Generator renders tasks into one editor's integration format.
type Generator interface {
	// Target is the identifier used in configuration and on the command line.
	Target() string
	// Generate renders the task list. Implementations must be deterministic
	// and must not touch the filesystem; writing is the caller's job.
	Generate(root string, tasks []scan.Task) ([]File, error)
}

// Registry holds the generator set, closed after startup.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Generator
}

// NewRegistry creates an empty generator registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Generator)}
}

// Defaults returns a registry with all built-in generators registered.
func Defaults() *Registry {
	r := NewRegistry()
	for _, g := range []Generator{
		NewVSCode(),
		NewJetBrains(),
		NewZed(),
		NewCursor(),
	} {
		// Built-in targets are unique by construction.
		_ = r.Register(g)
	}
	return r
}

// Register adds a generator. Targets are unique; a duplicate is a
// configuration error, not a silent override.
func (r *Registry) Register(g Generator) error {
	target := g.Target()
	if target == "" {
		return fmt.Errorf("generator target cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[target]; exists {
		return fmt.Errorf("generator %s already registered", target)
	}
	r.byName[target] = g
	return nil
}

// Get retrieves a generator by target name.
func (r *Registry) Get(target string) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byName[target]
	return g, ok
}

// Targets returns the registered target names, sorted.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for target := range r.byName {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// WriteFiles writes generated files under the project root, creating parent
// directories as needed.
func WriteFiles(root string, files []File) error {
	for _, file := range files {
		path := filepath.Join(root, file.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", file.Path, err)
		}
		if err := fsio.WriteAtomic(path, file.Content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", file.Path, err)
		}
	}
	return nil
}

// sortedTasks returns the tasks in the stable order every generator emits:
// ecosystem, then directory, then name.
func sortedTasks(tasks []scan.Task) []scan.Task {
	out := make([]scan.Task, len(tasks))
	copy(out, tasks)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Ecosystem != b.Ecosystem {
			return a.Ecosystem < b.Ecosystem
		}
		if a.Dir != b.Dir {
			return a.Dir < b.Dir
		}
		return a.Name < b.Name
	})
	return out
}

// relDir returns the task directory relative to the project root, "" when
// the task runs at the root itself.
func relDir(root string, task scan.Task) string {
	rel, err := filepath.Rel(root, task.Dir)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// taskLabel builds the display label editors show for a task.
func taskLabel(task scan.Task) string {
	return task.Ecosystem + ": " + task.Name
}

// groupOf infers the editor task group from the task name.
func groupOf(task scan.Task) string {
	name := strings.ToLower(task.Name)
	switch {
	case strings.HasPrefix(name, "test") || strings.HasSuffix(name, "test") || name == "check":
		return "test"
	case strings.HasPrefix(name, "build") || name == "compile" || name == "package":
		return "build"
	default:
		return ""
	}
}
