package resilience

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/shared/fsio"
)

// snapshotVersion guards the on-disk format. New optional fields do not bump
// it; readers ignore fields they do not recognize.
const snapshotVersion = 1

// BreakerSnapshot is the persisted view of one circuit breaker. State and
// reason are stored as strings so a reader that does not recognize a value
// can skip the record instead of rejecting the file.
type BreakerSnapshot struct {
	Feature string    `json:"feature"`
	State   string    `json:"state"`
	Reason  string    `json:"reason,omitempty"`
	Since   time.Time `json:"since"`
	Expiry  time.Time `json:"expiry"`
}

// Snapshot exports the breaker for persistence. It reads the raw state
// without advancing time-based transitions. Must not be called from an
// OnStateChange callback.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		Feature: b.feature.String(),
		State:   b.state.String(),
		Since:   b.since,
	}
	if b.lastReason != "" {
		snap.Reason = b.lastReason.String()
	}
	if b.state == StateOpen {
		snap.Expiry = b.expiry
	}
	return snap
}

// Restore rebuilds the breaker from persisted state. Counts always start
// fresh. An already-expired open expiry is kept as-is: the breaker stays
// open until the next call observes the expiry and moves it to half-open.
func (b *Breaker) Restore(state State, reason Reason, since, expiry time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	b.counts = Counts{}
	b.lastReason = reason
	b.state = state
	if !since.IsZero() {
		b.since = since
	}

	switch state {
	case StateOpen:
		if expiry.IsZero() {
			expiry = now.Add(b.settings.Cooldown)
		}
		b.expiry = expiry
	case StateHalfOpen:
		b.expiry = time.Time{}
	default:
		b.expiry = now.Add(b.settings.Window)
	}
}

// snapshotFile is the on-disk envelope for breaker snapshots.
type snapshotFile struct {
	Version  int               `json:"version"`
	SavedAt  time.Time         `json:"saved_at"`
	Breakers []BreakerSnapshot `json:"breakers"`
}

// SnapshotStore persists breaker snapshots to a single JSON file in the
// state directory.
type SnapshotStore struct {
	path string
	log  *logging.Logger
}

// NewSnapshotStore creates a store writing to the given path.
func NewSnapshotStore(path string, log *logging.Logger) *SnapshotStore {
	if log == nil {
		log = logging.NewNop()
	}
	return &SnapshotStore{path: path, log: log}
}

// Save replaces the snapshot file. The previous file stays intact until the
// new content is durably on disk.
func (s *SnapshotStore) Save(snapshots []BreakerSnapshot) error {
	data, err := sonic.MarshalIndent(snapshotFile{
		Version:  snapshotVersion,
		SavedAt:  time.Now().UTC(),
		Breakers: snapshots,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode breaker snapshots: %w", err)
	}
	if err := fsio.WriteAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("persist breaker snapshots: %w", err)
	}
	return nil
}

// Load reads the snapshot file, retrying transient read failures. A missing
// file means a fresh start. An unreadable file is discarded with a warning
// and breakers start closed.
func (s *SnapshotStore) Load() ([]BreakerSnapshot, error) {
	data, err := fsio.ReadRetry(s.path, fsio.DefaultReadAttempts)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read breaker snapshots: %w", err)
	}

	var file snapshotFile
	if err := sonic.Unmarshal(data, &file); err != nil {
		s.log.Warn("discarding unreadable breaker snapshot file",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil, nil
	}
	return file.Breakers, nil
}
