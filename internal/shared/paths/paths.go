package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvStateDir overrides the state root when set.
const EnvStateDir = "DEVTASK_STATE_DIR"

// File and directory names under the state root.
const (
	QueueFileName   = "queue.json"
	BreakerFileName = "breakers.json"
	PluginLockName  = "plugins.lock"
	ArchiveDirName  = "archive"
	CacheDirName    = "cache"
)

// StateDir is a resolved state root. The zero value is not usable; construct
// via Resolve.
type StateDir struct {
	root string
}

// Resolve determines the state root. An explicit override (e.g. from the
// --state-dir flag) wins over the environment, which wins over the XDG
// default.
func Resolve(override string) (StateDir, error) {
	root := override
	if root == "" {
		root = os.Getenv(EnvStateDir)
	}
	if root == "" {
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			root = filepath.Join(xdg, "devtask")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return StateDir{}, fmt.Errorf("resolve state dir: %w", err)
			}
			root = filepath.Join(home, ".local", "state", "devtask")
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return StateDir{}, fmt.Errorf("resolve state dir: %w", err)
	}
	return StateDir{root: abs}, nil
}

// Ensure creates the state root and its subdirectories.
func (s StateDir) Ensure() error {
	for _, dir := range []string{s.root, s.ArchiveDir(), s.CacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir %s: %w", dir, err)
		}
	}
	return nil
}

// Root returns the state root path.
func (s StateDir) Root() string { return s.root }

// QueueFile returns the offline queue file path.
func (s StateDir) QueueFile() string { return filepath.Join(s.root, QueueFileName) }

// BreakerFile returns the circuit breaker snapshot file path.
func (s StateDir) BreakerFile() string { return filepath.Join(s.root, BreakerFileName) }

// PluginLock returns the plugin hash pin file path.
func (s StateDir) PluginLock() string { return filepath.Join(s.root, PluginLockName) }

// ArchiveDir returns the dead-letter archive directory.
func (s StateDir) ArchiveDir() string { return filepath.Join(s.root, ArchiveDirName) }

// CacheDir returns the response cache directory.
func (s StateDir) CacheDir() string { return filepath.Join(s.root, CacheDirName) }

// CacheFile returns the path for a named cache entry. The key must be a plain
// name; anything that could escape the cache directory is rejected.
func (s StateDir) CacheFile(key string) (string, error) {
	if err := ValidateCacheKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.CacheDir(), key+".json"), nil
}

// ValidateCacheKey checks that a cache key is safe for path construction.
func ValidateCacheKey(key string) error {
	if key == "" {
		return fmt.Errorf("cache key cannot be empty")
	}
	if filepath.IsAbs(key) {
		return fmt.Errorf("cache key cannot be an absolute path")
	}
	if strings.ContainsAny(key, `/\`) || filepath.Clean(key) != key {
		return fmt.Errorf("cache key contains invalid path components")
	}
	return nil
}
