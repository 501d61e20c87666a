// Package remote holds the network clients built on the shared HTTP client:
// public package registry lookups for update checks, and the workflow
// document sync service. Registry lookups fall back to the last known good
// cached answer and are never queued; sync operations are the canonical
// deferrable payloads replayed by the offline queue.
package remote
