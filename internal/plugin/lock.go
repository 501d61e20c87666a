package plugin

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bytedance/sonic"

	"github.com/devtaskhq/devtask/internal/shared/fsio"
)

const lockVersion = 1

// Pin records one plugin's content hash at the time it was trusted.
type Pin struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	SHA256   string    `json:"sha256"`
	PinnedAt time.Time `json:"pinned_at"`
}

// lockFile is the on-disk plugins.lock format.
type lockFile struct {
	Version int   `json:"version"`
	Plugins []Pin `json:"plugins"`
}

// loadPins reads the lock file into a name-keyed map. A missing file means
// nothing is pinned yet. A corrupt file is an error rather than a fresh
// start: the pins are a trust boundary and damage must not silently erase
// them.
func loadPins(path string) (map[string]Pin, error) {
	data, err := fsio.ReadRetry(path, fsio.DefaultReadAttempts)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Pin{}, nil
		}
		return nil, fmt.Errorf("read plugin lock: %w", err)
	}

	var file lockFile
	if err := sonic.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plugin lock %s: %w", path, err)
	}

	pins := make(map[string]Pin, len(file.Plugins))
	for _, pin := range file.Plugins {
		pins[pin.Name] = pin
	}
	return pins, nil
}

// savePins atomically replaces the lock file, entries sorted by name.
func savePins(path string, pins map[string]Pin) error {
	file := lockFile{
		Version: lockVersion,
		Plugins: make([]Pin, 0, len(pins)),
	}
	for _, pin := range pins {
		file.Plugins = append(file.Plugins, pin)
	}
	sort.Slice(file.Plugins, func(i, j int) bool { return file.Plugins[i].Name < file.Plugins[j].Name })

	data, err := sonic.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plugin lock: %w", err)
	}
	if err := fsio.WriteAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("persist plugin lock: %w", err)
	}
	return nil
}
