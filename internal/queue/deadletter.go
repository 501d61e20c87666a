package queue

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// archivePrefix names dead-letter archive files in the archive directory.
const archivePrefix = "deadletter-"

// ArchiveDeadLetters moves the current dead-letter list into a gzip archive
// file and clears it from the queue file. Returns the archive path and the
// number of records moved; an empty list is a no-op.
func (m *Manager) ArchiveDeadLetters() (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return "", 0, err
	}
	if len(m.file.DeadLetters) == 0 {
		return "", 0, nil
	}

	count := len(m.file.DeadLetters)
	path, err := m.writeArchiveLocked()
	if err != nil {
		return "", 0, err
	}
	m.file.DeadLetters = nil
	if err := m.store.Save(m.file); err != nil {
		return path, count, err
	}
	return path, count, nil
}

// archiveLocked is the auto-archive path used when the dead-letter list
// exceeds its cap during replay. Callers hold m.mu and save afterwards.
func (m *Manager) archiveLocked() error {
	if len(m.file.DeadLetters) == 0 {
		return nil
	}
	path, err := m.writeArchiveLocked()
	if err != nil {
		return err
	}
	m.log.Info("dead-letter list archived",
		zap.String("path", path),
		zap.Int("records", len(m.file.DeadLetters)),
	)
	m.file.DeadLetters = nil
	return nil
}

// writeArchiveLocked writes the current dead letters to a new archive file.
func (m *Manager) writeArchiveLocked() (string, error) {
	if m.archiveDir == "" {
		return "", fmt.Errorf("no archive directory configured")
	}
	if err := os.MkdirAll(m.archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	data, err := sonic.MarshalIndent(m.file.DeadLetters, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode dead letters: %w", err)
	}

	name := fmt.Sprintf("%s%s.json.gz", archivePrefix, time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(m.archiveDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		// Same-second archives collide on name; suffix with nanoseconds.
		name = fmt.Sprintf("%s%s.json.gz", archivePrefix, time.Now().UTC().Format("20060102-150405.000000000"))
		path = filepath.Join(m.archiveDir, name)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return "", fmt.Errorf("create archive %s: %w", path, err)
		}
	}

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write archive %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("flush archive %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close archive %s: %w", path, err)
	}
	return path, nil
}

// Archives lists archive file paths, newest last.
func (m *Manager) Archives() ([]string, error) {
	entries, err := os.ReadDir(m.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, ".json.gz") {
			paths = append(paths, filepath.Join(m.archiveDir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadArchive loads one archive file's dead letters.
func ReadArchive(path string) ([]DeadLetter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompress archive %s: %w", path, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}

	var records []DeadLetter
	if err := sonic.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse archive %s: %w", path, err)
	}
	return records, nil
}
