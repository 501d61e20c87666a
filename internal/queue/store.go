package queue

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/shared/fsio"
)

// queueVersion guards the on-disk format. Readers ignore unknown fields, so
// adding optional fields does not bump it.
const queueVersion = 1

// queueFile is the on-disk envelope: pending operations in append order plus
// the dead-letter list.
type queueFile struct {
	Version     int          `json:"version"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Operations  []Operation  `json:"operations"`
	DeadLetters []DeadLetter `json:"dead_letters,omitempty"`
}

// Store persists the queue file with atomic replacement. Two invocations
// writing concurrently cannot corrupt the file; the later rename wins whole.
type Store struct {
	path string
	log  *logging.Logger
}

// NewStore creates a store writing to the given path.
func NewStore(path string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	return &Store{path: path, log: log}
}

// Path returns the queue file location.
func (s *Store) Path() string { return s.path }

// Load reads the queue file, retrying transient read failures. A missing file
// means an empty queue. A file that fails to parse after retries is an error:
// silently discarding it would drop queued operations.
func (s *Store) Load() (*queueFile, error) {
	data, err := fsio.ReadRetry(s.path, fsio.DefaultReadAttempts)
	if err != nil {
		if os.IsNotExist(err) {
			return &queueFile{Version: queueVersion}, nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	var file queueFile
	if err := sonic.Unmarshal(data, &file); err != nil {
		// A concurrent atomic write cannot produce a torn file, so a parse
		// failure here means real damage. Retry once after a beat in case a
		// rename landed between read and parse on an unusual filesystem.
		data, rerr := fsio.ReadRetry(s.path, fsio.DefaultReadAttempts)
		if rerr != nil || sonic.Unmarshal(data, &file) != nil {
			return nil, fmt.Errorf("parse queue file %s: %w", s.path, err)
		}
	}

	if file.Version > queueVersion {
		s.log.Warn("queue file written by a newer version",
			zap.String("path", s.path),
			zap.Int("version", file.Version),
		)
	}
	return &file, nil
}

// Save atomically replaces the queue file. This is the durability point for
// Enqueue: once Save returns, a crash cannot lose the operation.
func (s *Store) Save(file *queueFile) error {
	file.Version = queueVersion
	file.UpdatedAt = time.Now().UTC()

	data, err := sonic.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue file: %w", err)
	}
	if err := fsio.WriteAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("persist queue file: %w", err)
	}
	return nil
}
