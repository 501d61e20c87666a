package fsio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultReadAttempts bounds ReadRetry when the caller passes zero.
const DefaultReadAttempts = 3

// WriteAtomic writes data to path through a temp file in the same directory,
// syncing to disk before the rename. Readers never observe a partial file.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadRetry reads path, retrying transient failures with a short backoff.
// A missing file is returned immediately without retries.
func ReadRetry(path string, attempts int) ([]byte, error) {
	if attempts <= 0 {
		attempts = DefaultReadAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if os.IsNotExist(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 25 * time.Millisecond)
	}
	return nil, lastErr
}
