package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/metrics"
	"github.com/devtaskhq/devtask/internal/queue"
)

// FeatureConfig tunes one feature's breaker and retry policy. Zero fields
// fall back to breaker and policy defaults.
type FeatureConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Cooldown         time.Duration
	Window           time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Timeout          time.Duration
}

// ManagerConfig configures the resilience manager.
type ManagerConfig struct {
	// Features holds per-feature tuning; missing features use defaults.
	Features map[Feature]FeatureConfig
	// SnapshotPath is the circuit-breaker snapshot file. Empty disables
	// persistence (used by tests that only exercise in-memory behavior).
	SnapshotPath string
}

// PayloadExecutor reconstructs and runs a queued operation from its payload.
// Each feature registers one at startup; records for features without an
// executor are left pending.
type PayloadExecutor func(ctx context.Context, payload json.RawMessage) error

// Status is the single read path the CLI uses to render health.
type Status struct {
	Severity    Severity          `json:"severity"`
	Degraded    []DegradedFeature `json:"degraded"`
	Pending     map[Feature]int   `json:"pending"`
	DeadLetters int               `json:"dead_letters"`
}

// Manager is the façade callers route unreliable operations through. It is
// constructed once per invocation and passed by reference; there is no
// process-wide instance.
type Manager struct {
	log     *logging.Logger
	metrics *metrics.Metrics
	degr    *DegradationManager
	queue   *queue.Manager
	store   *SnapshotStore

	executors map[Feature]*Executor

	payloadMu    sync.RWMutex
	payloadExecs map[Feature]PayloadExecutor

	// snapMu guards the snapshot cache and file writes. The cache is built
	// from transition callbacks so persisting never re-enters a breaker.
	snapMu    sync.Mutex
	snapCache map[Feature]BreakerSnapshot
}

// NewManager builds breakers and executors for the closed feature set,
// restores persisted breaker state, and wires transitions into the
// degradation ledger, metrics, and the snapshot file.
func NewManager(cfg ManagerConfig, q *queue.Manager, log *logging.Logger, m *metrics.Metrics) (*Manager, error) {
	if log == nil {
		log = logging.NewNop()
	}

	cooldowns := make(map[Feature]time.Duration, len(Known()))
	for _, feature := range Known() {
		cooldowns[feature] = cfg.Features[feature].Cooldown
	}

	mgr := &Manager{
		log:          log,
		metrics:      m,
		degr:         NewDegradationManager(cooldowns),
		queue:        q,
		executors:    make(map[Feature]*Executor, len(Known())),
		payloadExecs: make(map[Feature]PayloadExecutor),
		snapCache:    make(map[Feature]BreakerSnapshot, len(Known())),
	}
	if cfg.SnapshotPath != "" {
		mgr.store = NewSnapshotStore(cfg.SnapshotPath, log)
	}

	for _, feature := range Known() {
		fc := cfg.Features[feature]
		breaker := NewBreaker(feature, Settings{
			FailureThreshold: fc.FailureThreshold,
			SuccessThreshold: fc.SuccessThreshold,
			Window:           fc.Window,
			Cooldown:         fc.Cooldown,
			OnStateChange:    mgr.onStateChange,
		})
		policy := RetryPolicy{
			MaxAttempts: fc.MaxAttempts,
			BaseDelay:   fc.BaseDelay,
			MaxDelay:    fc.MaxDelay,
		}
		mgr.executors[feature] = NewExecutor(feature, breaker, policy, fc.Timeout, log, m)
	}

	if err := mgr.restore(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// restore rebuilds breaker state and degradation entries from the persisted
// snapshot. Unknown features and states are skipped, not errors: the file may
// be written by a newer version.
func (m *Manager) restore() error {
	if m.store == nil {
		return nil
	}
	snapshots, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("restore breaker snapshots: %w", err)
	}

	for _, snap := range snapshots {
		feature := Feature(snap.Feature)
		exec, ok := m.executors[feature]
		if !ok {
			m.log.Warn("snapshot for unknown feature ignored", zap.String("feature", snap.Feature))
			continue
		}
		state, ok := ParseState(snap.State)
		if !ok {
			m.log.Warn("snapshot with unknown state ignored",
				zap.String("feature", snap.Feature),
				zap.String("state", snap.State),
			)
			continue
		}
		if state == StateClosed {
			continue
		}

		reason := ParseReason(snap.Reason)
		exec.Breaker().Restore(state, reason, snap.Since, snap.Expiry)

		var retryAfter *time.Time
		if state == StateOpen && !snap.Expiry.IsZero() {
			expiry := snap.Expiry
			retryAfter = &expiry
		}
		m.degr.Restore(feature, reason, snap.Since, retryAfter)

		m.snapMu.Lock()
		m.snapCache[feature] = snap
		m.snapMu.Unlock()

		m.log.Info("restored degraded circuit from snapshot",
			zap.String("feature", feature.String()),
			zap.String("state", state.String()),
			zap.String("reason", reason.String()),
		)
	}
	return nil
}

// onStateChange runs synchronously inside every breaker transition: the
// degradation ledger, metrics, and snapshot file are never stale relative to
// a completed call. It must not call back into the breaker.
func (m *Manager) onStateChange(feature Feature, from, to State, reason Reason) {
	m.degr.RecordTransition(feature, from, to, reason)

	if m.metrics != nil {
		m.metrics.RecordTransition(feature.String(), to.String(), reason.String())
	}

	entry := m.log.Info
	if to == StateOpen {
		entry = m.log.Warn
	}
	entry("circuit state changed",
		zap.String("feature", feature.String()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason.String()),
	)

	now := time.Now()
	snap := BreakerSnapshot{
		Feature: feature.String(),
		State:   to.String(),
		Reason:  reason.String(),
		Since:   now,
	}
	if to == StateOpen {
		snap.Expiry = now.Add(m.cooldown(feature))
	}

	m.snapMu.Lock()
	m.snapCache[feature] = snap
	m.persistLocked()
	m.snapMu.Unlock()
}

func (m *Manager) cooldown(feature Feature) time.Duration {
	return m.degr.cooldown(feature)
}

// persistLocked writes the snapshot cache to disk. Callers hold snapMu.
func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	snapshots := make([]BreakerSnapshot, 0, len(m.snapCache))
	for _, snap := range m.snapCache {
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Feature < snapshots[j].Feature })
	if err := m.store.Save(snapshots); err != nil {
		m.log.Error("failed to persist breaker snapshots", zap.Error(err))
	}
}

// performOptions collects per-call options.
type performOptions struct {
	fallback   Fallback
	deferrable bool
	payload    json.RawMessage
	timeout    time.Duration
}

// Option adjusts one Perform call.
type Option func(*performOptions)

// WithFallback supplies a substitute value producer used when the primary
// operation cannot complete.
func WithFallback(fb Fallback) Option {
	return func(o *performOptions) { o.fallback = fb }
}

// Deferrable opts this call into offline queueing: if it cannot complete, the
// payload is enqueued and the caller gets Queued instead of a bare failure.
// Deferrability is a per-call-site decision, never inferred.
func Deferrable(payload json.RawMessage) Option {
	return func(o *performOptions) {
		o.deferrable = true
		o.payload = payload
	}
}

// WithTimeout caps the whole call, local retries included.
func WithTimeout(d time.Duration) Option {
	return func(o *performOptions) { o.timeout = d }
}

// Perform routes an operation through the feature's executor, escalating to
// the offline queue when the call site opted in and the failure class allows
// it. Non-retryable failures are never queued.
func (m *Manager) Perform(ctx context.Context, feature Feature, op Operation, opts ...Option) Result {
	var o performOptions
	for _, apply := range opts {
		apply(&o)
	}

	exec, ok := m.executors[feature]
	if !ok {
		return Failed(fmt.Errorf("%w: %s", ErrUnknownFeature, feature), ReasonRepeatedFailure)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	result := exec.Execute(ctx, op, o.fallback)

	if o.deferrable && result.kind != KindSuccess && result.retryable {
		if opID, err := m.deferToQueue(feature, o.payload); err != nil {
			m.log.Error("could not defer operation, returning original outcome",
				zap.String("feature", feature.String()),
				zap.Error(err),
			)
		} else {
			result = Queued(opID)
		}
	}

	if m.metrics != nil {
		m.metrics.RecordCall(feature.String(), result.Kind().String(), time.Since(start))
	}
	return result
}

// deferToQueue enqueues the payload for offline replay.
func (m *Manager) deferToQueue(feature Feature, payload json.RawMessage) (string, error) {
	if m.queue == nil {
		return "", fmt.Errorf("no offline queue configured")
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("deferrable call supplied no payload")
	}
	opID, err := m.queue.Enqueue(feature.String(), payload)
	if err != nil {
		return "", err
	}
	m.log.Info("operation deferred to offline queue",
		zap.String("feature", feature.String()),
		zap.String("operation_id", opID),
	)
	return opID, nil
}

// RegisterPayloadExecutor binds a feature's replay executor. Called during
// startup, before any replay runs; the set is closed afterwards.
func (m *Manager) RegisterPayloadExecutor(feature Feature, exec PayloadExecutor) error {
	if !feature.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()
	m.payloadExecs[feature] = exec
	return nil
}

// Replay drains the offline queue through each record's feature executor.
// Replayed operations pass through the full resilience path again (breaker,
// retries) but are never re-deferred: a record that keeps failing stays in
// the queue until its attempt budget dead-letters it.
func (m *Manager) Replay(ctx context.Context) (queue.Report, error) {
	if m.queue == nil {
		return queue.Report{}, fmt.Errorf("no offline queue configured")
	}
	return m.queue.Replay(ctx, m.replayExecutor())
}

// ReplayFeature drains only one feature's queued operations.
func (m *Manager) ReplayFeature(ctx context.Context, feature Feature) (queue.Report, error) {
	if m.queue == nil {
		return queue.Report{}, fmt.Errorf("no offline queue configured")
	}
	if !feature.Valid() {
		return queue.Report{}, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	return m.queue.ReplayFeature(ctx, m.replayExecutor(), feature.String())
}

// replayExecutor routes one queued record back through Perform under its
// feature, using the registered payload executor to reconstruct the call.
func (m *Manager) replayExecutor() queue.Executor {
	return func(ctx context.Context, op queue.Operation) error {
		feature := Feature(op.Feature)

		m.payloadMu.RLock()
		payloadExec, ok := m.payloadExecs[feature]
		m.payloadMu.RUnlock()
		if !ok {
			return queue.ErrNoExecutor
		}

		result := m.Perform(ctx, feature, func(ctx context.Context) (interface{}, error) {
			return nil, payloadExec(ctx, op.Payload)
		})
		if result.IsSuccess() {
			return nil
		}
		if err := result.Err(); err != nil {
			return err
		}
		return fmt.Errorf("replay %s: %s", feature, result.Reason())
	}
}

// Status folds the degradation ledger and queue counters into one view.
func (m *Manager) Status() (Status, error) {
	status := Status{
		Severity: m.degr.OverallSeverity(),
		Degraded: m.degr.Snapshot(),
		Pending:  make(map[Feature]int),
	}

	if m.queue != nil {
		counts, err := m.queue.PendingByFeature()
		if err != nil {
			return status, fmt.Errorf("read queue: %w", err)
		}
		for feature, count := range counts {
			status.Pending[Feature(feature)] = count
			if m.metrics != nil {
				m.metrics.SetQueueDepth(feature, count)
			}
		}
		dead, err := m.queue.DeadLettered()
		if err != nil {
			return status, fmt.Errorf("read dead letters: %w", err)
		}
		status.DeadLetters = len(dead)
	}
	return status, nil
}

// Pending returns the queued operation count for one feature.
func (m *Manager) Pending(feature Feature) (int, error) {
	if m.queue == nil {
		return 0, nil
	}
	return m.queue.Pending(feature.String())
}

// Healthy reports whether a feature has no recorded degradation.
func (m *Manager) Healthy(feature Feature) bool {
	return m.degr.IsHealthy(feature)
}

// ForceOpen trips a feature's breaker by operator decision.
func (m *Manager) ForceOpen(feature Feature, reason Reason) error {
	exec, ok := m.executors[feature]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	exec.Breaker().ForceOpen(reason)
	return nil
}

// Close flushes the final breaker snapshot.
func (m *Manager) Close() error {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()

	if m.store == nil {
		return nil
	}
	for feature, exec := range m.executors {
		m.snapCache[feature] = exec.Breaker().Snapshot()
	}
	m.persistLocked()
	return nil
}
