package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

const (
	defaultFailureThreshold = 5
	defaultWindow           = 60 * time.Second
	defaultCooldown         = 60 * time.Second
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ParseState converts a persisted state string back to a State.
func ParseState(s string) (State, bool) {
	switch s {
	case "closed":
		return StateClosed, true
	case "half-open":
		return StateHalfOpen, true
	case "open":
		return StateOpen, true
	default:
		return StateClosed, false
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// FailureThreshold is the number of failures within the window that trips
	// the breaker from closed to open
	FailureThreshold uint32
	// SuccessThreshold is the number of consecutive successful trial calls
	// required to close the breaker from half-open
	SuccessThreshold uint32
	// MaxRequests is the maximum number of requests allowed in half-open state
	MaxRequests uint32
	// Window is the cyclic period of the closed state to clear internal counts,
	// so thresholds apply to recent outcomes rather than all-time totals
	Window time.Duration
	// Cooldown is the period of the open state until transitioning to half-open
	Cooldown time.Duration
	// ReadyToTrip overrides the threshold check; called with counts when a
	// request fails in closed state
	ReadyToTrip func(counts Counts) bool
	// OnStateChange is called synchronously whenever the state changes
	OnStateChange func(feature Feature, from State, to State, reason Reason)
}

// Counts holds the statistics for the circuit breaker
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker implements the circuit breaker pattern for one feature
type Breaker struct {
	feature  Feature
	settings Settings

	mu         sync.Mutex
	state      State
	counts     Counts
	expiry     time.Time
	since      time.Time
	lastReason Reason
}

// NewBreaker creates a new circuit breaker with the given settings
func NewBreaker(feature Feature, settings Settings) *Breaker {
	// Set default values
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = defaultFailureThreshold
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = 1
	}
	if settings.MaxRequests == 0 {
		settings.MaxRequests = settings.SuccessThreshold
	}
	if settings.Window == 0 {
		settings.Window = defaultWindow
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = defaultCooldown
	}
	if settings.ReadyToTrip == nil {
		threshold := settings.FailureThreshold
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.TotalFailures >= threshold
		}
	}

	now := time.Now()
	return &Breaker{
		feature:  feature,
		settings: settings,
		state:    StateClosed,
		expiry:   now.Add(settings.Window),
		since:    now,
	}
}

// Feature returns the feature this breaker guards
func (b *Breaker) Feature() Feature {
	return b.feature
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, _ := b.currentState(now)
	return state
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// LastReason returns the reason recorded with the most recent failure or
// forced transition
func (b *Breaker) LastReason() Reason {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastReason == "" {
		return ReasonRepeatedFailure
	}
	return b.lastReason
}

// Execute runs the given request if the circuit breaker accepts it, deriving
// the failure reason from the returned error
func (b *Breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	generation, err := b.Allow()
	if err != nil {
		return nil, err
	}

	defer func() {
		e := recover()
		if e != nil {
			b.RecordFailure(generation, ReasonRepeatedFailure)
			panic(e)
		}
	}()

	result, err := req()
	if err != nil {
		b.RecordFailure(generation, Classify(err))
		return result, err
	}
	b.RecordSuccess(generation)
	return result, nil
}

// Allow checks whether a call may proceed. It returns the current generation,
// which must be passed to RecordSuccess or RecordFailure for the outcome to
// count. Outcomes recorded against a stale generation are discarded.
func (b *Breaker) Allow() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrCircuitOpen
	}

	if state == StateHalfOpen && b.counts.Requests >= b.settings.MaxRequests {
		return generation, ErrTooManyRequests
	}

	b.counts.Requests++
	return generation, nil
}

// RecordSuccess records a successful call outcome
func (b *Breaker) RecordSuccess(before uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if generation != before {
		return
	}

	b.onSuccess(state, now)
}

// RecordFailure records a failed call outcome with its classified reason
func (b *Breaker) RecordFailure(before uint64, reason Reason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if generation != before {
		return
	}

	b.lastReason = reason
	b.onFailure(state, now)
}

// ForceOpen trips the breaker immediately, bypassing the failure threshold.
// Used for non-retryable failures and manual overrides.
func (b *Breaker) ForceOpen(reason Reason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.currentState(now)
	b.lastReason = reason
	b.setState(StateOpen, now)
}

// onSuccess handles successful requests
func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.counts.ConsecutiveSuccesses >= b.settings.SuccessThreshold {
			b.setState(StateClosed, now)
		}
	}
}

// onFailure handles failed requests
func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.settings.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState returns the current state and generation
func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.resetCounts()
			b.expiry = now.Add(b.settings.Window)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}

	return b.state, uint64(b.expiry.UnixNano())
}

// setState changes the state of the circuit breaker
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.since = now

	b.resetCounts()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.settings.Window)
	case StateOpen:
		b.expiry = now.Add(b.settings.Cooldown)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.settings.OnStateChange != nil {
		reason := b.lastReason
		if reason == "" {
			reason = ReasonRepeatedFailure
		}
		b.settings.OnStateChange(b.feature, prev, state, reason)
	}
}

// resetCounts resets the internal counts
func (b *Breaker) resetCounts() {
	b.counts = Counts{}
}
