// Package runner executes discovered tasks. When attached to a terminal the
// task runs under a pty so tools keep their color output and progress
// rendering; otherwise output is piped straight through. Exit codes propagate
// to the caller unchanged.
package runner
