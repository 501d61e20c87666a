// Package paths resolves the tool's private state directory layout.
//
// Everything the tool persists between invocations lives under one state
// root, so concurrent invocations share a single durable view:
//
//	<state root>/
//	  ├── queue.json       (offline operation queue + dead letters)
//	  ├── breakers.json    (circuit breaker snapshot)
//	  ├── plugins.lock     (plugin hash pins)
//	  ├── archive/         (gzipped dead-letter batches)
//	  └── cache/           (last-known-good registry responses)
//
// The root is DEVTASK_STATE_DIR when set, otherwise $XDG_STATE_HOME/devtask,
// otherwise ~/.local/state/devtask.
//
// # Usage
//
//	dir, err := paths.Resolve("")
//	if err != nil { ... }
//	if err := dir.Ensure(); err != nil { ... }
//	queueFile := dir.QueueFile()
package paths
