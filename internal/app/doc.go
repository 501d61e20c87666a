// Package app wires the tool together. App is the per-invocation context
// object: the CLI constructs exactly one in its root command and passes it by
// reference to every subcommand, so there is no package-level mutable state
// anywhere in the tool.
//
// Construction order matters: configuration and logging first, then the state
// directory, then the offline queue and resilience manager, then the clients
// that route through them. Replay executors are registered before any command
// runs, so the queue can always be drained.
package app
