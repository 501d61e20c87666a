package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/metrics"
)

// Operation is a caller-supplied unit of work. The resilience layer wraps it
// with failure accounting but never interprets its semantics.
type Operation func(ctx context.Context) (interface{}, error)

// Fallback produces a substitute value when the primary operation cannot
// complete, typically from a local cache.
type Fallback func(ctx context.Context) (interface{}, error)

// RetryPolicy bounds local retries with exponential backoff and full jitter.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, first call included.
	MaxAttempts int
	// BaseDelay is the backoff before the second attempt; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// Delay returns the jittered backoff after the given attempt (1-based).
// Jitter is uniform in [d/2, d] so concurrent retries spread out.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

// Executor binds one circuit breaker to one feature and adds retry policy
// and fallback invocation on top.
type Executor struct {
	feature Feature
	breaker *Breaker
	policy  RetryPolicy
	timeout time.Duration
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewExecutor creates the executor for one feature. The metrics collector is
// optional.
func NewExecutor(feature Feature, breaker *Breaker, policy RetryPolicy, timeout time.Duration, log *logging.Logger, m *metrics.Metrics) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Executor{
		feature: feature,
		breaker: breaker,
		policy:  policy,
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

// Feature returns the bound feature.
func (e *Executor) Feature() Feature { return e.feature }

// Breaker returns the underlying circuit breaker.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Execute runs the operation under the breaker and retry policy.
//
// An open breaker rejects without invoking the operation. Failures are
// classified, recorded, and retried while the classification allows it;
// non-retryable failures trip the breaker immediately. When the attempt
// budget is spent, the fallback (if any) turns the outcome into Degraded,
// otherwise it is Failed.
func (e *Executor) Execute(ctx context.Context, op Operation, fallback Fallback) Result {
	var lastErr error
	lastClass := classification{reason: ReasonRepeatedFailure, retryable: true}

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		generation, err := e.breaker.Allow()
		if err != nil {
			reason := e.breaker.LastReason()
			if e.metrics != nil {
				e.metrics.RecordRejected(e.feature.String())
			}
			e.log.Debug("call rejected by circuit breaker",
				zap.String("feature", e.feature.String()),
				zap.String("reason", reason.String()),
			)
			return e.conclude(ctx, fallback, classification{reason: reason, retryable: reason.QueueEligible()},
				fmt.Errorf("%s: %w", e.feature, err))
		}

		value, err := e.invoke(ctx, op)
		if err == nil {
			e.breaker.RecordSuccess(generation)
			return Success(value)
		}

		lastErr = err
		lastClass = classifyError(err)

		if !lastClass.retryable {
			// The dependency is unusable, not momentarily slow: trip now
			// instead of waiting for the threshold.
			e.breaker.ForceOpen(lastClass.reason)
			e.log.Warn("non-retryable failure",
				zap.String("feature", e.feature.String()),
				zap.String("reason", lastClass.reason.String()),
				zap.Error(err),
			)
			return e.conclude(ctx, fallback, lastClass, err)
		}

		e.breaker.RecordFailure(generation, lastClass.reason)
		e.log.Debug("attempt failed",
			zap.String("feature", e.feature.String()),
			zap.String("reason", lastClass.reason.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == e.policy.MaxAttempts {
			break
		}
		if e.metrics != nil {
			e.metrics.RecordRetry(e.feature.String())
		}
		if err := e.sleep(ctx, e.policy.Delay(attempt)); err != nil {
			break
		}
	}

	e.log.Warn("retry budget exhausted",
		zap.String("feature", e.feature.String()),
		zap.String("reason", lastClass.reason.String()),
		zap.Int("attempts", e.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return e.conclude(ctx, fallback, lastClass, lastErr)
}

// conclude turns a terminal failure into Degraded (fallback available) or
// Failed, preserving the classification for queue-eligibility decisions.
func (e *Executor) conclude(ctx context.Context, fallback Fallback, class classification, err error) Result {
	if fallback != nil {
		value, ferr := fallback(ctx)
		if ferr == nil {
			r := Degraded(value, class.reason)
			r.retryable = class.retryable
			return r
		}
		e.log.Warn("fallback failed",
			zap.String("feature", e.feature.String()),
			zap.Error(ferr),
		)
	}
	r := Failed(err, class.reason)
	r.retryable = class.retryable
	return r
}

// invoke runs the operation under the per-call timeout.
func (e *Executor) invoke(ctx context.Context, op Operation) (interface{}, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return op(ctx)
}

// sleep waits for the backoff or the context, whichever ends first.
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
