package remote

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/shared/fsio"
	"github.com/devtaskhq/devtask/internal/shared/paths"
	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// versionCache stores the last known good registry answer per package, one
// file per entry under the state cache directory. It is the fallback source
// when a registry is unreachable; entries never expire, stale is better than
// nothing when offline.
type versionCache struct {
	state  paths.StateDir
	hasher *utils.Hasher
	log    *logging.Logger
}

// cacheEntry is the on-disk format. Ecosystem and name are kept verbatim to
// guard against key collisions.
type cacheEntry struct {
	Ecosystem string    `json:"ecosystem"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	FetchedAt time.Time `json:"fetched_at"`
}

func newVersionCache(state paths.StateDir, log *logging.Logger) *versionCache {
	if log == nil {
		log = logging.NewNop()
	}
	return &versionCache{state: state, hasher: utils.DefaultHasher(), log: log}
}

// key hashes ecosystem and name into a filesystem-safe cache key; package
// names may contain slashes and scopes.
func (c *versionCache) key(ecosystem, name string) string {
	return "registry-" + c.hasher.HashString(ecosystem+":"+name)
}

// Get returns the cached version, if any.
func (c *versionCache) Get(ecosystem, name string) (string, bool) {
	path, err := c.state.CacheFile(c.key(ecosystem, name))
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	var entry cacheEntry
	if err := sonic.Unmarshal(data, &entry); err != nil {
		c.log.Debug("unreadable cache entry ignored", zap.String("path", path), zap.Error(err))
		return "", false
	}
	if entry.Ecosystem != ecosystem || entry.Name != name || entry.Version == "" {
		return "", false
	}
	return entry.Version, true
}

// Put records a fresh answer. Failures are logged, not returned: the lookup
// already succeeded and a cold cache only costs a future fallback.
func (c *versionCache) Put(ecosystem, name, version string) {
	if err := c.ensureDir(); err != nil {
		c.log.Debug("cache dir unavailable", zap.Error(err))
		return
	}
	path, err := c.state.CacheFile(c.key(ecosystem, name))
	if err != nil {
		c.log.Debug("cache key rejected", zap.Error(err))
		return
	}

	data, err := sonic.MarshalIndent(cacheEntry{
		Ecosystem: ecosystem,
		Name:      name,
		Version:   version,
		FetchedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		c.log.Debug("cache entry encode failed", zap.Error(err))
		return
	}
	if err := fsio.WriteAtomic(path, data, 0o644); err != nil {
		c.log.Debug("cache write failed", zap.String("path", path), zap.Error(err))
	}
}

// ensureDir creates the cache directory if the state layout has not been
// initialized yet.
func (c *versionCache) ensureDir() error {
	if err := os.MkdirAll(c.state.CacheDir(), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return nil
}
