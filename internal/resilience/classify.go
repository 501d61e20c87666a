package resilience

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// Reason is the recorded cause of a degradation event. It is attached when
// the failure is classified, never inferred after the fact.
type Reason string

const (
	ReasonNetworkUnavailable    Reason = "network_unavailable"
	ReasonRepeatedFailure       Reason = "repeated_failure"
	ReasonRateLimited           Reason = "rate_limited"
	ReasonAuthenticationFailure Reason = "authentication_failure"
	ReasonTimeout               Reason = "timeout"
	ReasonManualOverride        Reason = "manual_override"
)

func (r Reason) String() string { return string(r) }

// ParseReason converts a persisted reason string back to a Reason. Unknown
// strings map to repeated_failure so old snapshots stay loadable.
func ParseReason(s string) Reason {
	switch Reason(s) {
	case ReasonNetworkUnavailable, ReasonRepeatedFailure, ReasonRateLimited,
		ReasonAuthenticationFailure, ReasonTimeout, ReasonManualOverride:
		return Reason(s)
	default:
		return ReasonRepeatedFailure
	}
}

// StatusError carries an HTTP status from a transport client so
// classification can rely on codes instead of message text.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unexpected status"
}

func (e *StatusError) Unwrap() error { return e.Err }

// Classify maps an error to its degradation reason. Typed checks come first;
// message matching is the last resort for errors wrapped by providers that
// drop the original type.
func Classify(err error) Reason {
	if err == nil {
		return ReasonRepeatedFailure
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return ReasonTimeout
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == 401 || statusErr.Code == 403:
			return ReasonAuthenticationFailure
		case statusErr.Code == 429:
			return ReasonRateLimited
		case statusErr.Code == 408 || statusErr.Code == 504:
			return ReasonTimeout
		case statusErr.Code >= 500:
			return ReasonNetworkUnavailable
		case statusErr.Code >= 400:
			return ReasonRepeatedFailure
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetworkUnavailable
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ReasonNetworkUnavailable
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return ReasonNetworkUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ReasonRateLimited
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return ReasonAuthenticationFailure
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "connection reset"):
		return ReasonNetworkUnavailable
	default:
		return ReasonRepeatedFailure
	}
}

// Retryable reports whether failures with this reason are worth retrying
// locally. Authentication failures and malformed requests are not: the
// dependency itself is unusable, not momentarily slow.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonAuthenticationFailure, ReasonManualOverride:
		return false
	default:
		return true
	}
}

// QueueEligible reports whether failures with this reason may be deferred to
// the offline queue. Replaying an authentication error wastes a replay slot
// for no possible gain.
func (r Reason) QueueEligible() bool {
	return r.Retryable()
}

// nonRetryable marks classified errors that must bypass the failure
// threshold and trip the breaker immediately.
type nonRetryableError struct {
	err    error
	reason Reason
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps an error so the executor treats it as non-retryable
// regardless of classification. Used by callers that can already tell a
// request is malformed.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err, reason: Classify(err)}
}

// isNonRetryable extracts an explicit non-retryable marker.
func isNonRetryable(err error) (Reason, bool) {
	var nre *nonRetryableError
	if errors.As(err, &nre) {
		return nre.reason, true
	}
	return "", false
}

// classification is the executor's view of one failure. Retryability is not
// always derivable from the reason alone: a malformed request keeps the
// repeated_failure reason but must not be retried or queued.
type classification struct {
	reason    Reason
	retryable bool
}

func classifyError(err error) classification {
	if reason, ok := isNonRetryable(err); ok {
		return classification{reason: reason, retryable: false}
	}

	reason := Classify(err)
	c := classification{reason: reason, retryable: reason.Retryable()}

	var statusErr *StatusError
	if errors.As(err, &statusErr) &&
		statusErr.Code >= 400 && statusErr.Code < 500 &&
		statusErr.Code != 408 && statusErr.Code != 429 {
		c.retryable = false
	}
	return c
}
