package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/metrics"
	"github.com/devtaskhq/devtask/internal/shared/id"
	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// ErrNoExecutor is returned by a replay executor that does not recognize an
// operation's feature. The operation is skipped and left pending, never
// dropped: it may have been written by a newer version of the tool.
var ErrNoExecutor = errors.New("no executor registered for feature")

// Operation is one durable queue record. The payload is an opaque serialized
// operation descriptor; the queue never interprets it.
type Operation struct {
	ID         string          `json:"id"`
	Feature    string          `json:"feature"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
	LastError  *string         `json:"last_error,omitempty"`
}

// DeadLetter is an operation that exhausted its replay budget. It is kept for
// inspection and excluded from automatic replay.
type DeadLetter struct {
	Operation
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
	Reason         string    `json:"reason"`
}

// Executor replays one queued operation. Returning nil removes the record;
// any other error increments its attempt count. ErrNoExecutor leaves the
// record untouched.
type Executor func(ctx context.Context, op Operation) error

// Report summarizes one replay run.
type Report struct {
	Replayed     int `json:"replayed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
	Skipped      int `json:"skipped"`
	Remaining    int `json:"remaining"`
}

// Drained reports whether the queue is empty after the run.
func (r Report) Drained() bool { return r.Remaining == 0 }

// Config bounds queue behavior.
type Config struct {
	// MaxAttempts is the replay budget per operation; reaching it moves the
	// record to the dead-letter list.
	MaxAttempts int
	// ReplayWorkers bounds concurrent feature groups during replay.
	ReplayWorkers int
	// ReplayRate paces replay attempts per second across all workers.
	ReplayRate float64
	// DeadLetterCap triggers automatic archiving when exceeded.
	DeadLetterCap int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.ReplayWorkers < 1 {
		c.ReplayWorkers = 4
	}
	if c.ReplayRate <= 0 {
		c.ReplayRate = 2.0
	}
	if c.DeadLetterCap < 1 {
		c.DeadLetterCap = 100
	}
	return c
}

// Manager owns the durable offline queue. All state lives in the queue file;
// the manager reloads it per call so concurrent invocations observe each
// other's atomically-renamed writes.
type Manager struct {
	store      *Store
	archiveDir string
	cfg        Config
	ids        *id.Generator
	validator  *utils.PayloadValidator
	log        *logging.Logger
	metrics    *metrics.Metrics

	mu   sync.Mutex
	file *queueFile
}

// NewManager creates the offline queue manager.
func NewManager(store *Store, archiveDir string, cfg Config, log *logging.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{
		store:      store,
		archiveDir: archiveDir,
		cfg:        cfg.withDefaults(),
		ids:        id.NewGenerator(),
		validator:  utils.DefaultPayloadValidator(),
		log:        log,
		metrics:    m,
	}
}

// Enqueue appends a new operation and persists it before returning. The
// append is the durability point: a crash after return cannot lose the
// operation.
func (m *Manager) Enqueue(feature string, payload json.RawMessage) (string, error) {
	if feature == "" {
		return "", fmt.Errorf("enqueue: feature is required")
	}
	if err := m.validator.Validate(payload); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", feature, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return "", err
	}

	op := Operation{
		ID:         m.ids.NewOperationID().String(),
		Feature:    feature,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	m.file.Operations = append(m.file.Operations, op)

	if err := m.store.Save(m.file); err != nil {
		return "", err
	}

	if m.metrics != nil {
		m.metrics.RecordEnqueued(feature)
	}
	m.log.Info("operation queued for offline replay",
		zap.String("operation_id", op.ID),
		zap.String("feature", feature),
	)
	return op.ID, nil
}

// Pending returns the number of queued operations, optionally filtered by
// feature (empty matches all).
func (m *Manager) Pending(feature string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return 0, err
	}

	if feature == "" {
		return len(m.file.Operations), nil
	}
	count := 0
	for _, op := range m.file.Operations {
		if op.Feature == feature {
			count++
		}
	}
	return count, nil
}

// PendingByFeature returns pending counts keyed by feature.
func (m *Manager) PendingByFeature() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, op := range m.file.Operations {
		counts[op.Feature]++
	}
	return counts, nil
}

// List returns copies of the pending operations in replay order and the
// current dead-letter list.
func (m *Manager) List() ([]Operation, []DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return nil, nil, err
	}

	ops := make([]Operation, len(m.file.Operations))
	copy(ops, m.file.Operations)
	dead := make([]DeadLetter, len(m.file.DeadLetters))
	copy(dead, m.file.DeadLetters)
	return ops, dead, nil
}

// DeadLettered returns the current dead-letter list.
func (m *Manager) DeadLettered() ([]DeadLetter, error) {
	_, dead, err := m.List()
	return dead, err
}

// Replay processes queued operations oldest first through the executor.
// Operations are grouped by feature: groups run concurrently under the worker
// limit while records within one feature replay strictly sequentially, so a
// half-recovered dependency sees at most one in-flight replay. A shared rate
// limiter paces attempts across all workers.
func (m *Manager) Replay(ctx context.Context, exec Executor) (Report, error) {
	return m.replay(ctx, exec, "")
}

// ReplayFeature replays only the named feature's queued operations. The
// report's Remaining still counts the whole queue.
func (m *Manager) ReplayFeature(ctx context.Context, exec Executor, feature string) (Report, error) {
	return m.replay(ctx, exec, feature)
}

func (m *Manager) replay(ctx context.Context, exec Executor, only string) (Report, error) {
	m.mu.Lock()
	if err := m.loadLocked(); err != nil {
		m.mu.Unlock()
		return Report{}, err
	}

	var order []string
	groups := make(map[string][]string)
	for _, op := range m.file.Operations {
		if only != "" && op.Feature != only {
			continue
		}
		if _, ok := groups[op.Feature]; !ok {
			order = append(order, op.Feature)
		}
		groups[op.Feature] = append(groups[op.Feature], op.ID)
	}
	m.mu.Unlock()

	var (
		report   Report
		reportMu sync.Mutex
	)
	limiter := rate.NewLimiter(rate.Limit(m.cfg.ReplayRate), 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ReplayWorkers)

	for _, feature := range order {
		ids := groups[feature]
		g.Go(func() error {
			for _, opID := range ids {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				outcome, err := m.replayOne(gctx, exec, opID)
				if err != nil {
					return err
				}
				reportMu.Lock()
				switch outcome {
				case outcomeReplayed:
					report.Replayed++
				case outcomeFailed:
					report.Failed++
				case outcomeDeadLettered:
					report.DeadLettered++
				case outcomeSkipped:
					report.Skipped++
				}
				reportMu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()

	m.mu.Lock()
	report.Remaining = len(m.file.Operations)
	m.mu.Unlock()

	if err != nil {
		return report, fmt.Errorf("replay interrupted: %w", err)
	}
	return report, nil
}

type replayOutcome int

const (
	outcomeReplayed replayOutcome = iota
	outcomeFailed
	outcomeDeadLettered
	outcomeSkipped
	outcomeGone
)

// replayOne attempts a single operation and persists the resulting state.
// Returned errors are persistence failures, not executor failures: an
// executor error is recorded on the operation instead.
func (m *Manager) replayOne(ctx context.Context, exec Executor, opID string) (replayOutcome, error) {
	m.mu.Lock()
	idx := m.indexLocked(opID)
	if idx < 0 {
		m.mu.Unlock()
		return outcomeGone, nil
	}
	op := m.file.Operations[idx]
	m.mu.Unlock()

	execErr := exec(ctx, op)

	if errors.Is(execErr, ErrNoExecutor) {
		m.log.Warn("skipping operation with no registered executor",
			zap.String("operation_id", op.ID),
			zap.String("feature", op.Feature),
		)
		return outcomeSkipped, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx = m.indexLocked(opID)
	if idx < 0 {
		return outcomeGone, nil
	}

	if execErr == nil {
		m.file.Operations = append(m.file.Operations[:idx], m.file.Operations[idx+1:]...)
		if err := m.store.Save(m.file); err != nil {
			return outcomeReplayed, err
		}
		if m.metrics != nil {
			m.metrics.RecordReplay(op.Feature, "replayed")
		}
		m.log.Info("queued operation replayed",
			zap.String("operation_id", op.ID),
			zap.String("feature", op.Feature),
		)
		return outcomeReplayed, nil
	}

	op = m.file.Operations[idx]
	op.Attempts++
	msg := execErr.Error()
	op.LastError = &msg

	if op.Attempts >= m.cfg.MaxAttempts {
		m.file.Operations = append(m.file.Operations[:idx], m.file.Operations[idx+1:]...)
		m.file.DeadLetters = append(m.file.DeadLetters, DeadLetter{
			Operation:      op,
			DeadLetteredAt: time.Now().UTC(),
			Reason:         msg,
		})
		if m.metrics != nil {
			m.metrics.RecordReplay(op.Feature, "dead_lettered")
			m.metrics.RecordDeadLetter()
		}
		m.log.Warn("operation moved to dead-letter list",
			zap.String("operation_id", op.ID),
			zap.String("feature", op.Feature),
			zap.Int("attempts", op.Attempts),
			zap.String("last_error", msg),
		)
		if len(m.file.DeadLetters) > m.cfg.DeadLetterCap {
			if err := m.archiveLocked(); err != nil {
				m.log.Warn("dead-letter auto-archive failed", zap.Error(err))
			}
		}
		return outcomeDeadLettered, m.store.Save(m.file)
	}

	m.file.Operations[idx] = op
	if m.metrics != nil {
		m.metrics.RecordReplay(op.Feature, "failed")
	}
	m.log.Debug("replay attempt failed",
		zap.String("operation_id", op.ID),
		zap.String("feature", op.Feature),
		zap.Int("attempts", op.Attempts),
		zap.Error(execErr),
	)
	return outcomeFailed, m.store.Save(m.file)
}

// loadLocked refreshes in-memory state from disk. Callers hold m.mu.
func (m *Manager) loadLocked() error {
	file, err := m.store.Load()
	if err != nil {
		return err
	}
	m.file = file
	return nil
}

// indexLocked finds an operation by ID. Callers hold m.mu.
func (m *Manager) indexLocked(opID string) int {
	for i, op := range m.file.Operations {
		if op.ID == opID {
			return i
		}
	}
	return -1
}
