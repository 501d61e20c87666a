/*
Package resilience is the layer every call to an unreliable external
dependency passes through.

# Overview

Each dependency ("feature") gets a circuit breaker and a retry policy. The
Manager façade routes operations through them, records why features degrade,
and defers failed operations to the offline queue when the call site opts in.
Callers receive a tagged Result: Success, Degraded (fallback used), Queued
(deferred), or Failed; every non-success outcome carries its reason.

# States

	Closed --[failures reach threshold]--> Open --[cooldown]--> Half-Open
	   ^                                    ^                      |
	   |                                    +-----[trial failure]--+
	   +------[trial successes reach threshold]--------------------+

Open rejects calls without invoking the operation. The Open -> Half-Open
transition is lazy: it happens on the next call attempt after the cooldown,
not on a timer. Non-retryable failures (authentication, malformed requests)
force the breaker open immediately instead of waiting for the threshold.

# Flow

Execution flows Manager -> Executor -> Breaker. Status flows the reverse way:
every breaker transition synchronously updates the DegradationManager ledger,
metrics, and the snapshot file, so a caller observing a Degraded result can
immediately read a consistent system-wide view.

# Persistence

Breaker state survives process restarts through a snapshot file in the state
directory, written atomically on every transition. Counts are not persisted;
a restarted process restores the state machine position (and open-state
expiry) with fresh counts.

# Usage

	mgr, err := resilience.NewManager(cfg, queueManager, log, metrics)
	result := mgr.Perform(ctx, resilience.FeatureSync,
		func(ctx context.Context) (interface{}, error) {
			return client.Push(ctx, doc)
		},
		resilience.Deferrable(payload),
	)
	switch result.Kind() {
	case resilience.KindSuccess:
		// use result.Value()
	case resilience.KindQueued:
		// deferred; result.OperationID() names the queue record
	}
*/
package resilience
