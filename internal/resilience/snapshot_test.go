package resilience

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circuit_breakers.json")
	store := NewSnapshotStore(path, nil)

	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snapshots := []BreakerSnapshot{
		{Feature: "sync", State: "open", Reason: "network_unavailable", Since: since, Expiry: since.Add(time.Minute)},
		{Feature: "registry", State: "closed", Since: since},
	}
	require.NoError(t, store.Save(snapshots))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "sync", loaded[0].Feature)
	assert.Equal(t, "open", loaded[0].State)
	assert.Equal(t, "network_unavailable", loaded[0].Reason)
	assert.True(t, loaded[0].Since.Equal(since))
	assert.True(t, loaded[0].Expiry.Equal(since.Add(time.Minute)))
	assert.Equal(t, "closed", loaded[1].State)
}

func TestSnapshotStoreMissingFile(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "absent.json"), nil)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing snapshot means a fresh start")
}

func TestSnapshotStoreCorruptFileDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circuit_breakers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewSnapshotStore(path, nil)
	loaded, err := store.Load()
	require.NoError(t, err, "corruption is not fatal")
	assert.Nil(t, loaded)
}

func TestSnapshotStoreIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circuit_breakers.json")
	content := `{
  "version": 2,
  "saved_at": "2025-06-01T12:00:00Z",
  "introduced_later": {"nested": true},
  "breakers": [
    {"feature": "sync", "state": "open", "reason": "timeout",
     "since": "2025-06-01T11:58:00Z", "expiry": "2025-06-01T12:01:00Z",
     "new_field": 7}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loaded, err := NewSnapshotStore(path, nil).Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "sync", loaded[0].Feature)
	assert.Equal(t, "timeout", loaded[0].Reason)
}

func TestBreakerSnapshotExportsOpenState(t *testing.T) {
	breaker := NewBreaker(FeatureSync, Settings{FailureThreshold: 1, Cooldown: time.Minute})
	breaker.ForceOpen(ReasonRateLimited)

	snap := breaker.Snapshot()
	assert.Equal(t, "sync", snap.Feature)
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, "rate_limited", snap.Reason)
	assert.False(t, snap.Since.IsZero())
	assert.False(t, snap.Expiry.IsZero(), "open snapshots carry the cooldown expiry")
}

func TestBreakerSnapshotClosedHasNoExpiry(t *testing.T) {
	breaker := NewBreaker(FeatureSync, Settings{FailureThreshold: 3})

	snap := breaker.Snapshot()
	assert.Equal(t, "closed", snap.State)
	assert.Empty(t, snap.Reason)
	assert.True(t, snap.Expiry.IsZero())
}

func TestBreakerRestoreOpen(t *testing.T) {
	breaker := NewBreaker(FeatureSync, Settings{FailureThreshold: 3, Cooldown: time.Minute})

	since := time.Now().Add(-time.Hour)
	expiry := time.Now().Add(time.Minute)
	breaker.Restore(StateOpen, ReasonNetworkUnavailable, since, expiry)

	assert.Equal(t, StateOpen, breaker.State())
	assert.Equal(t, ReasonNetworkUnavailable, breaker.LastReason())

	_, err := breaker.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen, "restored open breaker keeps rejecting")
}

func TestBreakerRestoreExpiredOpenMovesToHalfOpenOnNextCall(t *testing.T) {
	breaker := NewBreaker(FeatureSync, Settings{FailureThreshold: 3, SuccessThreshold: 1, Cooldown: time.Minute})

	// The process was down past the cooldown. The breaker must stay open
	// until a call comes in, then permit a trial.
	breaker.Restore(StateOpen, ReasonTimeout, time.Now().Add(-time.Hour), time.Now().Add(-30*time.Minute))
	assert.Equal(t, "open", breaker.Snapshot().State, "restore never advances the state on its own")

	generation, err := breaker.Allow()
	require.NoError(t, err, "expired cooldown admits a trial call")
	assert.Equal(t, StateHalfOpen, breaker.State())

	breaker.RecordSuccess(generation)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerRestoreCountsStartFresh(t *testing.T) {
	breaker := NewBreaker(FeatureSync, Settings{FailureThreshold: 3})

	breaker.Restore(StateClosed, "", time.Now(), time.Time{})

	counts := breaker.Counts()
	assert.Zero(t, counts.Requests)
	assert.Zero(t, counts.TotalFailures)
}

func TestParseStateRoundTrip(t *testing.T) {
	for _, s := range []State{StateClosed, StateHalfOpen, StateOpen} {
		parsed, ok := ParseState(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, parsed)
	}

	_, ok := ParseState("melted")
	assert.False(t, ok, "unknown persisted states are skipped")
}
