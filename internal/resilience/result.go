package resilience

// Kind tags the outcome of an execution attempt.
type Kind int

const (
	// KindSuccess means the operation completed normally.
	KindSuccess Kind = iota
	// KindDegraded means the operation produced a value only via the
	// caller-supplied fallback.
	KindDegraded
	// KindQueued means the operation was deferred to the offline queue.
	KindQueued
	// KindFailed means the operation failed with no fallback and was not
	// eligible for queueing.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindDegraded:
		return "degraded"
	case KindQueued:
		return "queued"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of Perform. Exactly one variant applies;
// every non-success variant carries the reason, operation ID, or error that
// explains it, so callers never have to guess why an operation did not fully
// succeed.
type Result struct {
	kind      Kind
	value     interface{}
	reason    Reason
	opID      string
	err       error
	retryable bool
}

// Success builds a success result carrying the operation's value.
func Success(value interface{}) Result {
	return Result{kind: KindSuccess, value: value}
}

// Degraded builds a result for an operation that succeeded only through its
// fallback.
func Degraded(fallback interface{}, reason Reason) Result {
	return Result{kind: KindDegraded, value: fallback, reason: reason, retryable: reason.QueueEligible()}
}

// Queued builds a result for a deferred operation.
func Queued(operationID string) Result {
	return Result{kind: KindQueued, opID: operationID}
}

// Failed builds a result for an unrecoverable operation.
func Failed(err error, reason Reason) Result {
	return Result{kind: KindFailed, err: err, reason: reason, retryable: reason.QueueEligible()}
}

// Kind returns the variant tag.
func (r Result) Kind() Kind { return r.kind }

// IsSuccess reports whether the operation completed normally.
func (r Result) IsSuccess() bool { return r.kind == KindSuccess }

// Value returns the operation's value for success results, or the fallback
// value for degraded results. Nil otherwise.
func (r Result) Value() interface{} { return r.value }

// Reason returns the degradation reason for degraded and failed results.
func (r Result) Reason() Reason { return r.reason }

// OperationID returns the queued operation's ID for queued results.
func (r Result) OperationID() string { return r.opID }

// Err returns the terminal error for failed results.
func (r Result) Err() error { return r.err }
