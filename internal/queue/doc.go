/*
Package queue implements the durable offline operation queue.

# Overview

Operations that could not complete due to degradation are persisted here and
replayed later. The queue file is the only mutable state shared across process
invocations: every mutation is written through a temp file and an atomic
rename, so two concurrent invocations may race but can never corrupt it.

# Lifecycle

	Enqueue -> pending -> Replay success -> removed
	                   -> Replay failure -> attempts++ (re-persisted)
	                   -> attempts reaches MaxAttempts -> dead-letter list

Dead letters are kept for inspection, excluded from automatic replay, and
archived to gzip files when the list grows past its cap. Nothing is ever
silently dropped.

# Replay pacing

Replay groups records by feature: groups run concurrently under a bounded
worker pool while records within one feature go strictly oldest-first, and a
shared rate limiter paces attempts so a half-recovered dependency is not
re-overwhelmed. Replay only runs when explicitly triggered; the tool has no
background daemon.
*/
package queue
