// Package metrics provides Prometheus instrumentation behind a per-invocation
// registry. The tool has no scrape endpoint; `devtask status --metrics` dumps
// the registry as text exposition for ad-hoc inspection.
package metrics
