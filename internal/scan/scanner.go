package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Scanner parses one manifest format into tasks. Implementations must be
// stateless: Parse may run concurrently for different files.
type Scanner interface {
	// Name is the ecosystem identifier, stable across releases.
	Name() string
	// Manifests lists the base filenames this scanner claims.
	Manifests() []string
	// Parse extracts tasks from one manifest. Returning an error skips the
	// file; it never aborts the scan.
	Parse(ctx context.Context, path string, data []byte) ([]Task, error)
}

// DependencyScanner is implemented by scanners that can also report the
// manifest's direct dependencies for update checks.
type DependencyScanner interface {
	Scanner
	Dependencies(ctx context.Context, path string, data []byte) ([]Dependency, error)
}

// Registry holds the scanner set. Built-ins register at construction; plugin
// scanners join during startup, after which the set is read-only.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]Scanner
	byManifest map[string][]Scanner
}

// NewRegistry creates an empty scanner registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]Scanner),
		byManifest: make(map[string][]Scanner),
	}
}

// Defaults returns a registry with all built-in scanners registered.
func Defaults() *Registry {
	r := NewRegistry()
	for _, s := range []Scanner{
		NewNPM(),
		NewCargo(),
		NewMaven(),
		NewGradle(),
		NewComposer(),
		NewPoetry(),
	} {
		// Built-in names are unique by construction.
		_ = r.Register(s)
	}
	return r
}

// Register adds a scanner. Names are unique; a duplicate is a configuration
// error, not a silent override.
func (r *Registry) Register(s Scanner) error {
	name := s.Name()
	if name == "" {
		return fmt.Errorf("scanner name cannot be empty")
	}
	if len(s.Manifests()) == 0 {
		return fmt.Errorf("scanner %s claims no manifests", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("scanner %s already registered", name)
	}
	r.byName[name] = s
	for _, manifest := range s.Manifests() {
		r.byManifest[manifest] = append(r.byManifest[manifest], s)
	}
	return nil
}

// Get retrieves a scanner by ecosystem name.
func (r *Registry) Get(name string) (Scanner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// List returns all scanners sorted by name.
func (r *Registry) List() []Scanner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Scanner, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ForManifest returns the scanners claiming a manifest base name.
func (r *Registry) ForManifest(base string) []Scanner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byManifest[base]
}

// ManifestNames returns every claimed manifest base name, sorted and unique.
func (r *Registry) ManifestNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byManifest))
	for name := range r.byManifest {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
