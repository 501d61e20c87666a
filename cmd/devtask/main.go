// Command devtask discovers runnable project tasks from manifests, executes
// them, and generates editor integrations.
//
// Network-backed features (AI assistance, registry lookups, document sync,
// plugin fetches) route through a per-feature circuit breaker. When a
// dependency is down, deferrable operations land in a durable offline queue;
// "devtask sync" replays them and "devtask status" shows what is degraded.
//
// Usage:
//
//	devtask scan --check-updates
//	devtask run build
//	devtask ide generate --target vscode --target zed
//	devtask status
//
// Signals: SIGINT and SIGTERM cancel the invocation's context; in-flight
// operations stop at the next cancellation point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/devtaskhq/devtask/internal/cli"
)

// version is stamped at build time via -ldflags "-X main.version=v1.2.3".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := cli.Execute(ctx, version)
	stop()
	os.Exit(code)
}
