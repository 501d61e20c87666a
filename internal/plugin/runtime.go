package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
)

// DefaultDeadline bounds a single plugin execution: the initial script run
// and each later parse call.
const DefaultDeadline = 5 * time.Second

// ErrInterrupted reports a plugin execution stopped by the deadline or by
// context cancellation.
var ErrInterrupted = errors.New("plugin execution interrupted")

// FetchResult is the response a plugin sees from devtask.fetch.
type FetchResult struct {
	Status int
	Body   string
}

// Fetcher performs an HTTP GET on behalf of a plugin. The host wires this
// through the resilience layer so plugin traffic shares the extension
// feature's circuit breaker.
type Fetcher func(ctx context.Context, url string) (FetchResult, error)

// scannerSpec is what a plugin hands to devtask.registerScanner.
type scannerSpec struct {
	name      string
	manifests []string
	parse     goja.Callable
}

// Runtime is one plugin's sandboxed VM. goja runtimes are not safe for
// concurrent use, so every entry into the VM serializes on mu; the scan
// engine may parse manifests in parallel but calls into one plugin are
// strictly ordered.
type Runtime struct {
	name     string
	vm       *goja.Runtime
	deadline time.Duration
	fetch    Fetcher
	log      *logging.Logger

	mu sync.Mutex
	// ctx is the context of the call currently holding mu, so host
	// functions invoked from JS can honor the caller's cancellation.
	ctx context.Context

	// pending collects scanner registrations made during the initial run.
	pending []scannerSpec
}

func newRuntime(name string, deadline time.Duration, fetch Fetcher, log *logging.Logger) *Runtime {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if log == nil {
		log = logging.NewNop()
	}
	r := &Runtime{
		name:     name,
		vm:       goja.New(),
		deadline: deadline,
		fetch:    fetch,
		log:      log.With(zap.String("plugin", name)),
	}
	r.vm.SetMaxCallStackSize(1024)
	r.setupGlobals()
	return r
}

// setupGlobals strips Node-style escape hatches and installs the host API.
func (r *Runtime) setupGlobals() {
	r.vm.Set("require", goja.Undefined())
	r.vm.Set("process", goja.Undefined())
	r.vm.Set("module", goja.Undefined())
	r.vm.Set("exports", goja.Undefined())

	console := r.vm.NewObject()
	console.Set("log", r.makeConsoleFunc(r.log.Debug))
	console.Set("info", r.makeConsoleFunc(r.log.Info))
	console.Set("warn", r.makeConsoleFunc(r.log.Warn))
	console.Set("error", r.makeConsoleFunc(r.log.Error))
	r.vm.Set("console", console)

	// Timers are no-ops: plugins are synchronous by construction.
	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	r.vm.Set("setTimeout", noop)
	r.vm.Set("setInterval", noop)

	host := r.vm.NewObject()
	host.Set("registerScanner", r.registerScanner)
	host.Set("fetch", r.fetchFunc)
	r.vm.Set("devtask", host)
}

func (r *Runtime) makeConsoleFunc(emit func(msg string, fields ...zap.Field)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}
		emit(msg)
		return goja.Undefined()
	}
}

// registerScanner records a scanner spec for the host to adapt after the
// initial run. Invalid specs throw, failing the plugin load.
func (r *Runtime) registerScanner(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 1 || goja.IsUndefined(call.Argument(0)) || goja.IsNull(call.Argument(0)) {
		panic(r.vm.ToValue("registerScanner: spec object required"))
	}
	obj := call.Argument(0).ToObject(r.vm)

	spec := scannerSpec{}
	if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
		spec.name = v.String()
	}
	if spec.name == "" {
		panic(r.vm.ToValue("registerScanner: name is required"))
	}

	if v := obj.Get("manifests"); v != nil && !goja.IsUndefined(v) {
		if err := r.vm.ExportTo(v, &spec.manifests); err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("registerScanner: manifests must be an array of strings: %v", err)))
		}
	}
	if len(spec.manifests) == 0 {
		panic(r.vm.ToValue("registerScanner: at least one manifest filename is required"))
	}

	parse, ok := goja.AssertFunction(obj.Get("parse"))
	if !ok {
		panic(r.vm.ToValue("registerScanner: parse must be a function"))
	}
	spec.parse = parse

	r.pending = append(r.pending, spec)
	return goja.Undefined()
}

// fetchFunc backs devtask.fetch(url). It blocks the VM for the duration of
// the request; the watchdog deadline still applies because the fetcher
// receives the current call's context.
func (r *Runtime) fetchFunc(call goja.FunctionCall) goja.Value {
	if r.fetch == nil {
		panic(r.vm.ToValue("fetch is not available"))
	}
	if len(call.Arguments) < 1 {
		panic(r.vm.ToValue("fetch: url required"))
	}
	url := call.Argument(0).String()

	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := r.fetch(ctx, url)
	if err != nil {
		panic(r.vm.ToValue(fmt.Sprintf("fetch %s: %v", url, err)))
	}

	obj := r.vm.NewObject()
	obj.Set("status", res.Status)
	obj.Set("body", res.Body)
	obj.Set("ok", res.Status >= 200 && res.Status < 300)
	return obj
}

// run executes the plugin's top-level source, collecting scanner
// registrations. Called once per plugin at load time.
func (r *Runtime) run(ctx context.Context, path, source string) error {
	program, err := goja.Compile(path, source, false)
	if err != nil {
		return fmt.Errorf("compile plugin %s: %w", r.name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
	defer func() { r.ctx = nil }()

	stop := r.watchdog(ctx)
	defer stop()

	if _, err := r.vm.RunProgram(program); err != nil {
		return r.wrapErr(err)
	}
	return nil
}

// invoke calls a plugin function with the deadline watchdog armed and
// returns the exported result. Arguments are converted to VM values under
// the lock; goja values must never be built outside it.
func (r *Runtime) invoke(ctx context.Context, fn goja.Callable, args ...interface{}) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
	defer func() { r.ctx = nil }()

	jsArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		jsArgs[i] = r.vm.ToValue(arg)
	}

	stop := r.watchdog(ctx)
	defer stop()

	value, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, r.wrapErr(err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// watchdog interrupts the VM when the deadline passes or the context is
// cancelled. The returned stop func must run before the lock is released.
func (r *Runtime) watchdog(ctx context.Context) func() {
	done := make(chan struct{})
	timer := time.AfterFunc(r.deadline, func() {
		r.vm.Interrupt("execution deadline exceeded")
	})
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()
	return func() {
		timer.Stop()
		close(done)
		r.vm.ClearInterrupt()
	}
}

func (r *Runtime) wrapErr(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w: plugin %s: %v", ErrInterrupted, r.name, interrupted.Value())
	}
	return fmt.Errorf("plugin %s: %w", r.name, err)
}
