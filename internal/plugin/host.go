package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/scan"
	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// Options configures the plugin host.
type Options struct {
	// Dir is the plugin directory. A missing directory means no plugins.
	Dir string
	// LockPath is the plugins.lock file inside the state directory.
	LockPath string
	// Trust accepts and re-pins plugins whose content changed since pinning.
	Trust bool
	// Deadline bounds each plugin execution. Zero means DefaultDeadline.
	Deadline time.Duration
	// Fetch backs devtask.fetch. Nil disables plugin network access.
	Fetch Fetcher
	Log   *logging.Logger
}

// Info describes one loaded plugin.
type Info struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	SHA256   string   `json:"sha256"`
	Scanners []string `json:"scanners,omitempty"`
}

// Host discovers, verifies, and runs plugin files, then registers the
// scanners they contribute.
type Host struct {
	opts   Options
	log    *logging.Logger
	hasher *utils.Hasher

	runtimes []*Runtime
	loaded   []Info
}

// NewHost creates a plugin host.
func NewHost(opts Options) *Host {
	if opts.Log == nil {
		opts.Log = logging.NewNop()
	}
	return &Host{
		opts:   opts,
		log:    opts.Log,
		hasher: utils.DefaultHasher(),
	}
}

// Load runs every .js file in the plugin directory and registers the
// scanners each one contributes. A bad plugin is logged and skipped so one
// broken file cannot take down the scan; only lock file problems abort,
// because the pins are a trust boundary.
func (h *Host) Load(ctx context.Context, registry *scan.Registry) ([]Info, error) {
	entries, err := os.ReadDir(h.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin dir %s: %w", h.opts.Dir, err)
	}

	pins, err := loadPins(h.opts.LockPath)
	if err != nil {
		return nil, err
	}

	dirty := false
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".js")
		path := filepath.Join(h.opts.Dir, entry.Name())
		log := h.log.With(zap.String("plugin", name))

		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("plugin unreadable, skipped", zap.Error(err))
			continue
		}
		if len(data) > utils.MaxPluginSize {
			log.Warn("plugin exceeds size limit, skipped",
				zap.Int("size", len(data)),
				zap.Int("limit", utils.MaxPluginSize),
			)
			continue
		}
		if !isTextual(data) {
			log.Warn("plugin is not a text file, skipped")
			continue
		}

		hash := h.hasher.Hash(data)
		pin, pinned := pins[name]
		switch {
		case !pinned:
			// First sight: pin the content as found.
			pins[name] = Pin{Name: name, Path: path, SHA256: hash, PinnedAt: time.Now().UTC()}
			dirty = true
			log.Info("plugin pinned", zap.String("sha256", utils.Short(hash)))
		case pin.SHA256 != hash && !h.opts.Trust:
			log.Warn("plugin content changed since pinning, skipped (re-run with --trust-plugins to accept)",
				zap.String("pinned", utils.Short(pin.SHA256)),
				zap.String("current", utils.Short(hash)),
			)
			continue
		case pin.SHA256 != hash:
			pins[name] = Pin{Name: name, Path: path, SHA256: hash, PinnedAt: time.Now().UTC()}
			dirty = true
			log.Info("plugin re-pinned", zap.String("sha256", utils.Short(hash)))
		}

		rt := newRuntime(name, h.opts.Deadline, h.opts.Fetch, h.log)
		if err := rt.run(ctx, path, string(data)); err != nil {
			log.Warn("plugin failed to load, skipped", zap.Error(err))
			continue
		}
		if len(rt.pending) == 0 {
			log.Warn("plugin registered no scanners")
		}

		info := Info{Name: name, Path: path, SHA256: hash}
		for _, spec := range rt.pending {
			if err := registry.Register(newScriptScanner(rt, spec)); err != nil {
				log.Warn("plugin scanner rejected",
					zap.String("scanner", spec.name),
					zap.Error(err),
				)
				continue
			}
			info.Scanners = append(info.Scanners, spec.name)
		}
		h.runtimes = append(h.runtimes, rt)
		h.loaded = append(h.loaded, info)
	}

	if dirty {
		if err := savePins(h.opts.LockPath, pins); err != nil {
			return nil, err
		}
	}
	return h.loaded, nil
}

// Loaded returns the plugins loaded so far.
func (h *Host) Loaded() []Info { return h.loaded }

// isTextual walks the detected MIME type's parents looking for text/plain;
// every textual type descends from it.
func isTextual(data []byte) bool {
	for mtype := mimetype.Detect(data); mtype != nil; mtype = mtype.Parent() {
		if mtype.Is("text/plain") {
			return true
		}
	}
	return false
}
