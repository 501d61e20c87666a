// Package scan discovers runnable tasks from project manifests. A parallel
// walker finds manifest files under the configured roots, a registry of
// per-ecosystem scanners parses them, and the engine merges the results.
// Scanners are pure parsers: anything network-shaped (registry version
// lookups, plugin fetches) stays outside the package.
package scan
