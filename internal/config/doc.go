// Package config provides layered configuration for the tool.
//
// Configuration merges three layers, later layers winning:
//   - built-in defaults
//   - a devtask.yaml project file, found from the working directory upward
//   - DEVTASK_* environment variables
//
// CLI flags are applied on top by the command layer. Secrets (assistant API
// key, sync token) are environment-only and never read from the project file.
//
// Per-feature resilience settings resolve through Config.Feature, which
// merges any file override over the built-in base so partial overrides stay
// safe.
//
// Example Usage:
//
//	cfg, err := config.Load(cwd, flagConfigPath)
//	if err != nil { ... }
//	settings := cfg.Feature("assistant")
package config
