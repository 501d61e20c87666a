package resilience

import (
	"sort"
	"sync"
	"time"
)

// Severity summarizes how much of the tool is currently degraded.
type Severity string

const (
	// SeverityNominal means every feature is healthy.
	SeverityNominal Severity = "nominal"
	// SeverityPartial means some features are degraded.
	SeverityPartial Severity = "partial"
	// SeverityOffline means every network-dependent feature is degraded.
	SeverityOffline Severity = "offline"
)

// DegradedFeature describes one feature that is currently not fully healthy.
type DegradedFeature struct {
	Feature Feature `json:"feature"`
	Reason  Reason  `json:"reason"`
	// Since marks the start of the degradation episode. It survives
	// Open -> HalfOpen -> Open bouncing within the same episode.
	Since time.Time `json:"since"`
	// RetryAfter hints when the circuit will permit a trial call.
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

// DegradationManager tracks which features are degraded and why. It is fed
// synchronously by breaker state transitions, so a caller that observes a
// Degraded result can immediately read a consistent snapshot.
type DegradationManager struct {
	mu        sync.RWMutex
	degraded  map[Feature]DegradedFeature
	cooldowns map[Feature]time.Duration
	clock     func() time.Time
}

// NewDegradationManager creates an empty ledger. Cooldowns are used to
// compute the retry hint when a feature enters Open.
func NewDegradationManager(cooldowns map[Feature]time.Duration) *DegradationManager {
	return &DegradationManager{
		degraded:  make(map[Feature]DegradedFeature),
		cooldowns: cooldowns,
		clock:     time.Now,
	}
}

// RecordTransition updates the ledger from a breaker state change.
func (m *DegradationManager) RecordTransition(feature Feature, from, to State, reason Reason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()

	if to == StateClosed {
		delete(m.degraded, feature)
		return
	}

	entry, ok := m.degraded[feature]
	if !ok {
		entry = DegradedFeature{Feature: feature, Since: now}
	}
	entry.Reason = reason

	switch to {
	case StateOpen:
		retryAt := now.Add(m.cooldown(feature))
		entry.RetryAfter = &retryAt
	case StateHalfOpen:
		// Trial calls are permitted immediately.
		retryAt := now
		entry.RetryAfter = &retryAt
	}

	m.degraded[feature] = entry
}

// Restore seeds an entry from a persisted breaker snapshot, keeping the
// original degradation start time across process restarts.
func (m *DegradationManager) Restore(feature Feature, reason Reason, since time.Time, retryAfter *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if since.IsZero() {
		since = m.clock()
	}
	m.degraded[feature] = DegradedFeature{
		Feature:    feature,
		Reason:     reason,
		Since:      since,
		RetryAfter: retryAfter,
	}
}

// IsHealthy reports whether the feature has no recorded degradation.
func (m *DegradationManager) IsHealthy(feature Feature) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, degraded := m.degraded[feature]
	return !degraded
}

// Snapshot returns the degraded features sorted by name.
func (m *DegradationManager) Snapshot() []DegradedFeature {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DegradedFeature, 0, len(m.degraded))
	for _, entry := range m.degraded {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

// OverallSeverity folds the ledger into a single level: nominal when nothing
// is degraded, offline when every network-dependent feature is, partial
// otherwise.
func (m *DegradationManager) OverallSeverity() Severity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.degraded) == 0 {
		return SeverityNominal
	}
	for _, feature := range Known() {
		if !feature.NetworkDependent() {
			continue
		}
		if _, degraded := m.degraded[feature]; !degraded {
			return SeverityPartial
		}
	}
	return SeverityOffline
}

func (m *DegradationManager) cooldown(feature Feature) time.Duration {
	if d, ok := m.cooldowns[feature]; ok && d > 0 {
		return d
	}
	return defaultCooldown
}
