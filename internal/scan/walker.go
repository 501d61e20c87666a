package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
)

const (
	defaultMaxDepth = 12
	defaultMaxFiles = 50000
)

// skipDirs are directory names never worth descending into: dependency
// installs, build output, VCS metadata.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// WalkerConfig bounds a discovery walk.
type WalkerConfig struct {
	// Roots are the directories to walk.
	Roots []string
	// Ignore holds doublestar globs matched against the root-relative path.
	Ignore []string
	// MaxDepth bounds directory nesting below each root.
	MaxDepth int
	// MaxFiles caps total entries visited across all roots.
	MaxFiles int
}

// Walker finds manifest files under the configured roots. The underlying
// walk is parallel, so collection is mutex-guarded.
type Walker struct {
	cfg WalkerConfig
	log *logging.Logger
}

// NewWalker creates a walker. Zero bounds fall back to defaults.
func NewWalker(cfg WalkerConfig, log *logging.Logger) *Walker {
	if log == nil {
		log = logging.NewNop()
	}
	if len(cfg.Roots) == 0 {
		cfg.Roots = []string{"."}
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}
	return &Walker{cfg: cfg, log: log}
}

// FindManifests walks the roots and returns paths whose base name is in
// wanted, sorted for deterministic downstream output.
func (w *Walker) FindManifests(ctx context.Context, wanted []string) ([]string, error) {
	want := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		want[name] = true
	}

	var (
		mu      sync.Mutex
		found   []string
		visited atomic.Int64
	)
	conf := fastwalk.Config{Follow: false}

	for _, root := range w.cfg.Roots {
		root := filepath.Clean(root)
		err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err != nil {
				return nil
			}

			if visited.Add(1) > int64(w.cfg.MaxFiles) {
				w.log.Warn("scan file cap reached, results may be incomplete",
					zap.Int("max_files", w.cfg.MaxFiles),
				)
				return fs.SkipAll
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}

			if d.IsDir() {
				if path == root {
					return nil
				}
				if skipDirs[d.Name()] || w.ignored(rel) {
					return fs.SkipDir
				}
				if depthOf(rel) >= w.cfg.MaxDepth {
					return fs.SkipDir
				}
				return nil
			}

			if !want[d.Name()] || w.ignored(rel) {
				return nil
			}

			mu.Lock()
			found = append(found, path)
			mu.Unlock()
			return nil
		})
		if err != nil && err != fs.SkipAll {
			return nil, err
		}
	}

	sort.Strings(found)
	return found, nil
}

// ignored matches the root-relative path against the configured globs.
func (w *Walker) ignored(rel string) bool {
	slashed := filepath.ToSlash(rel)
	for _, pattern := range w.cfg.Ignore {
		if ok, err := doublestar.Match(pattern, slashed); err == nil && ok {
			return true
		}
	}
	return false
}

func depthOf(rel string) int {
	if rel == "." {
		return 0
	}
	return strings.Count(rel, string(os.PathSeparator)) + 1
}
