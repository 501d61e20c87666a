package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/metrics"
)

var (
	// ErrTaskNotFound reports that no discovered task matches a name.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskAmbiguous reports that a name matches tasks in several
	// ecosystems and needs an ecosystem qualifier.
	ErrTaskAmbiguous = errors.New("task name is ambiguous")
)

// Engine drives discovery: it walks the configured roots, hands every
// recognized manifest to its scanner and merges the results.
type Engine struct {
	registry *Registry
	walker   *Walker
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates a discovery engine over the given registry and walker.
func NewEngine(registry *Registry, walker *Walker, log *logging.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{registry: registry, walker: walker, log: log, metrics: m}
}

// Run discovers tasks under the configured roots. Manifests parse in
// parallel; unreadable or malformed ones are logged and skipped so one bad
// file cannot hide the rest of the project. Results are deduplicated and
// sorted by ecosystem, directory and name.
func (e *Engine) Run(ctx context.Context) ([]Task, error) {
	start := time.Now()

	paths, err := e.walker.FindManifests(ctx, e.registry.ManifestNames())
	if err != nil {
		return nil, fmt.Errorf("discover manifests: %w", err)
	}

	var (
		mu  sync.Mutex
		all []Task
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, path := range paths {
		g.Go(func() error {
			scanners := e.registry.ForManifest(filepath.Base(path))
			if len(scanners) == 0 {
				return nil
			}
			data, err := ReadManifest(path)
			if err != nil {
				e.log.Warn("skipping unreadable manifest",
					zap.String("path", path), zap.Error(err))
				return nil
			}
			if e.metrics != nil {
				e.metrics.RecordManifest()
			}
			for _, scanner := range scanners {
				tasks, err := scanner.Parse(ctx, path, data)
				if err != nil {
					e.log.Warn("skipping malformed manifest",
						zap.String("path", path),
						zap.String("scanner", scanner.Name()),
						zap.Error(err))
					continue
				}
				mu.Lock()
				all = append(all, tasks...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all = dedupeTasks(all)
	if e.metrics != nil {
		e.metrics.RecordScan(time.Since(start))
		for ecosystem, count := range countByEcosystem(all) {
			e.metrics.RecordTasks(ecosystem, count)
		}
	}
	e.log.Debug("scan finished",
		zap.Int("manifests", len(paths)),
		zap.Int("tasks", len(all)),
		zap.Duration("took", time.Since(start)))
	return all, nil
}

// Dependencies collects declared direct dependencies from every manifest
// whose scanner can report them.
func (e *Engine) Dependencies(ctx context.Context) ([]Dependency, error) {
	paths, err := e.walker.FindManifests(ctx, e.registry.ManifestNames())
	if err != nil {
		return nil, fmt.Errorf("discover manifests: %w", err)
	}

	var (
		mu  sync.Mutex
		all []Dependency
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, path := range paths {
		g.Go(func() error {
			var depScanners []DependencyScanner
			for _, scanner := range e.registry.ForManifest(filepath.Base(path)) {
				if ds, ok := scanner.(DependencyScanner); ok {
					depScanners = append(depScanners, ds)
				}
			}
			if len(depScanners) == 0 {
				return nil
			}
			data, err := ReadManifest(path)
			if err != nil {
				return nil
			}
			for _, depScanner := range depScanners {
				deps, err := depScanner.Dependencies(ctx, path, data)
				if err != nil {
					e.log.Warn("skipping dependencies of malformed manifest",
						zap.String("path", path), zap.Error(err))
					continue
				}
				mu.Lock()
				all = append(all, deps...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dedupeDependencies(all), nil
}

// Find resolves a name against discovered tasks. Plain names must match
// exactly one task across ecosystems; "ecosystem:name" disambiguates.
func Find(tasks []Task, name string) (Task, error) {
	var matches []Task
	for _, task := range tasks {
		if task.Name == name {
			matches = append(matches, task)
		}
	}
	if len(matches) == 0 {
		if ecosystem, rest, ok := strings.Cut(name, ":"); ok {
			for _, task := range tasks {
				if task.Ecosystem == ecosystem && task.Name == rest {
					matches = append(matches, task)
				}
			}
		}
	}

	switch len(matches) {
	case 0:
		return Task{}, fmt.Errorf("%w: %q", ErrTaskNotFound, name)
	case 1:
		return matches[0], nil
	default:
		qualified := make([]string, len(matches))
		for i, task := range matches {
			qualified[i] = task.Ecosystem + ":" + task.Name
		}
		return Task{}, fmt.Errorf("%w: %q matches %s",
			ErrTaskAmbiguous, name, strings.Join(qualified, ", "))
	}
}

// dedupeTasks drops duplicate (directory, ecosystem, name) entries and
// returns the rest in stable order.
func dedupeTasks(tasks []Task) []Task {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Ecosystem != b.Ecosystem {
			return a.Ecosystem < b.Ecosystem
		}
		if a.Dir != b.Dir {
			return a.Dir < b.Dir
		}
		return a.Name < b.Name
	})
	out := tasks[:0]
	for i, task := range tasks {
		if i > 0 {
			prev := out[len(out)-1]
			if prev.Ecosystem == task.Ecosystem && prev.Dir == task.Dir && prev.Name == task.Name {
				continue
			}
		}
		out = append(out, task)
	}
	return out
}

// dedupeDependencies drops duplicate (ecosystem, name) entries, keeping the
// first declared constraint.
func dedupeDependencies(deps []Dependency) []Dependency {
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Ecosystem != deps[j].Ecosystem {
			return deps[i].Ecosystem < deps[j].Ecosystem
		}
		return deps[i].Name < deps[j].Name
	})
	out := deps[:0]
	for i, dep := range deps {
		if i > 0 {
			prev := out[len(out)-1]
			if prev.Ecosystem == dep.Ecosystem && prev.Name == dep.Name {
				continue
			}
		}
		out = append(out, dep)
	}
	return out
}

func countByEcosystem(tasks []Task) map[string]int {
	counts := make(map[string]int)
	for _, task := range tasks {
		counts[task.Ecosystem]++
	}
	return counts
}
