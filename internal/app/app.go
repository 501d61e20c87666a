package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/assist"
	"github.com/devtaskhq/devtask/internal/config"
	"github.com/devtaskhq/devtask/internal/docs"
	"github.com/devtaskhq/devtask/internal/httpx"
	"github.com/devtaskhq/devtask/internal/ide"
	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/metrics"
	"github.com/devtaskhq/devtask/internal/plugin"
	"github.com/devtaskhq/devtask/internal/queue"
	"github.com/devtaskhq/devtask/internal/remote"
	"github.com/devtaskhq/devtask/internal/resilience"
	"github.com/devtaskhq/devtask/internal/runner"
	"github.com/devtaskhq/devtask/internal/scan"
	"github.com/devtaskhq/devtask/internal/shared/paths"
)

// Options come from CLI flags and the process environment.
type Options struct {
	// WorkDir is the project directory. Empty means the current directory.
	WorkDir string
	// ConfigPath points at an explicit configuration file.
	ConfigPath string
	// StateDir overrides the resolved state directory.
	StateDir string
	// TrustPlugins accepts plugins whose content changed since pinning.
	TrustPlugins bool
	Verbose      bool
	NoColor      bool
	// Version is the build version stamped into the binary.
	Version string
}

// App is the per-invocation context object holding every wired subsystem.
type App struct {
	Config  *config.Config
	Log     *logging.Logger
	Metrics *metrics.Metrics
	State   paths.StateDir
	WorkDir string
	Version string

	HTTP       *httpx.Client
	Queue      *queue.Manager
	Resilience *resilience.Manager
	Scanners   *scan.Registry
	Generators *ide.Registry
	Docs       *docs.Store
	Runner     *runner.Runner
	Assist     *assist.Client
	Registry   *remote.Registry
	Sync       *remote.Sync
	Plugins    []plugin.Info
}

// New constructs and wires the application. Plugin loading runs here because
// scanners must be registered before any scan; a broken plugin is logged and
// skipped inside the host, only lock file corruption aborts startup.
func New(ctx context.Context, opts Options) (*App, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}

	cfg, err := config.Load(workDir, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	log, err := buildLogger(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	state, err := paths.Resolve(firstNonEmpty(opts.StateDir, cfg.StateDir))
	if err != nil {
		return nil, err
	}
	if err := state.Ensure(); err != nil {
		return nil, err
	}

	m := metrics.New()

	queueMgr := queue.NewManager(
		queue.NewStore(state.QueueFile(), log),
		state.ArchiveDir(),
		queue.Config{
			MaxAttempts:   cfg.Queue.MaxAttempts,
			ReplayWorkers: cfg.Queue.ReplayWorkers,
			ReplayRate:    cfg.Queue.ReplayRate,
			DeadLetterCap: cfg.Queue.DeadLetterCap,
		},
		log, m,
	)

	features := make(map[resilience.Feature]resilience.FeatureConfig, len(resilience.Known()))
	for _, feature := range resilience.Known() {
		s := cfg.Feature(feature.String())
		features[feature] = resilience.FeatureConfig{
			FailureThreshold: s.FailureThreshold,
			SuccessThreshold: s.SuccessThreshold,
			Cooldown:         s.Cooldown,
			Window:           s.Window,
			MaxAttempts:      s.MaxAttempts,
			BaseDelay:        s.BaseDelay,
			MaxDelay:         s.MaxDelay,
			Timeout:          s.Timeout,
		}
	}
	resMgr, err := resilience.NewManager(resilience.ManagerConfig{
		Features:     features,
		SnapshotPath: state.BreakerFile(),
	}, queueMgr, log, m)
	if err != nil {
		return nil, err
	}

	httpClient := httpx.New(httpx.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		RetryMax:          cfg.HTTP.RetryMax,
	}, log, m)

	docsStore, err := docs.NewStore(workDir, log)
	if err != nil {
		return nil, err
	}

	assistClient := assist.NewClient(assist.Config{
		Endpoint: cfg.Assist.Endpoint,
		Model:    cfg.Assist.Model,
		APIKey:   cfg.Assist.APIKey,
	}, httpClient, resMgr, log)

	registry := remote.NewRegistry(remote.RegistryConfig{
		NPM:       cfg.Registry.NPM,
		Crates:    cfg.Registry.Crates,
		PyPI:      cfg.Registry.PyPI,
		Packagist: cfg.Registry.Packagist,
	}, httpClient, resMgr, state, log)

	syncClient := remote.NewSync(remote.SyncConfig{
		Endpoint:   cfg.Sync.Endpoint,
		Token:      cfg.Sync.Token,
		Deferrable: cfg.SyncDeferrable(),
	}, httpClient, resMgr, log)

	// Executors are registered before any command runs so replay can always
	// reconstruct queued operations, whichever command triggers it.
	if err := resMgr.RegisterPayloadExecutor(resilience.FeatureSync, syncClient.ReplayExecutor()); err != nil {
		return nil, err
	}
	if err := resMgr.RegisterPayloadExecutor(resilience.FeatureAssistant, assistClient.ReplayExecutor(docsStore)); err != nil {
		return nil, err
	}

	scanners := scan.Defaults()

	pluginsDir := cfg.Scan.PluginsDir
	if pluginsDir != "" && !filepath.IsAbs(pluginsDir) {
		pluginsDir = filepath.Join(workDir, pluginsDir)
	}
	host := plugin.NewHost(plugin.Options{
		Dir:      pluginsDir,
		LockPath: state.PluginLock(),
		Trust:    opts.TrustPlugins,
		Fetch:    pluginFetcher(httpClient, resMgr),
		Log:      log,
	})
	loaded, err := host.Load(ctx, scanners)
	if err != nil {
		return nil, fmt.Errorf("load plugins: %w", err)
	}

	log.Debug("application wired",
		zap.String("state_dir", state.Root()),
		zap.String("work_dir", workDir),
		zap.Int("plugins", len(loaded)),
	)

	return &App{
		Config:     cfg,
		Log:        log,
		Metrics:    m,
		State:      state,
		WorkDir:    workDir,
		Version:    opts.Version,
		HTTP:       httpClient,
		Queue:      queueMgr,
		Resilience: resMgr,
		Scanners:   scanners,
		Generators: ide.Defaults(),
		Docs:       docsStore,
		Runner:     runner.New(log),
		Assist:     assistClient,
		Registry:   registry,
		Sync:       syncClient,
		Plugins:    loaded,
	}, nil
}

// Engine builds a discovery engine over the given roots, falling back to the
// configured scan roots. Built per command because the scan root is a flag.
// Relative roots resolve against the project directory, so --chdir behaves
// like running from there.
func (a *App) Engine(roots []string) *scan.Engine {
	if len(roots) == 0 {
		roots = a.Config.Scan.Roots
	}
	resolved := make([]string, len(roots))
	for i, root := range roots {
		if filepath.IsAbs(root) {
			resolved[i] = root
		} else {
			resolved[i] = filepath.Join(a.WorkDir, root)
		}
	}
	walker := scan.NewWalker(scan.WalkerConfig{
		Roots:    resolved,
		Ignore:   a.Config.Scan.Ignore,
		MaxDepth: a.Config.Scan.MaxDepth,
		MaxFiles: a.Config.Scan.MaxFiles,
	}, a.Log)
	return scan.NewEngine(a.Scanners, walker, a.Log, a.Metrics)
}

// Lookup adapts the registry client to the scanner update-check contract.
func (a *App) Lookup() scan.Lookup {
	return func(ctx context.Context, ecosystem, name string) (string, error) {
		return a.Registry.Latest(ctx, ecosystem, name)
	}
}

// Close flushes breaker state and buffered log output.
func (a *App) Close() error {
	err := a.Resilience.Close()
	_ = a.Log.Sync()
	return err
}

// buildLogger picks the log configuration: --verbose wins, otherwise the
// configured level with console colors per --no-color.
func buildLogger(cfg *config.Config, opts Options) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if opts.Verbose {
		lc = logging.VerboseConfig()
	} else if cfg.LogLevel != "" {
		lc.Level = cfg.LogLevel
	}
	lc.NoColor = opts.NoColor
	return logging.New(lc)
}

// pluginFetcher routes plugin network access through the extension feature's
// breaker. Any completed HTTP exchange counts as a success whatever the status
// code: the plugin sees the status and decides, only transport failures count
// against the circuit.
func pluginFetcher(client *httpx.Client, res *resilience.Manager) plugin.Fetcher {
	return func(ctx context.Context, url string) (plugin.FetchResult, error) {
		result := res.Perform(ctx, resilience.FeatureExtension, func(ctx context.Context) (interface{}, error) {
			req, err := client.R(ctx)
			if err != nil {
				return nil, err
			}
			resp, err := req.Get(url)
			if err != nil {
				return nil, err
			}
			return plugin.FetchResult{Status: resp.StatusCode(), Body: string(resp.Body())}, nil
		})
		if !result.IsSuccess() {
			if err := result.Err(); err != nil {
				return plugin.FetchResult{}, err
			}
			return plugin.FetchResult{}, fmt.Errorf("fetch %s: %s", url, result.Reason())
		}
		fetched, ok := result.Value().(plugin.FetchResult)
		if !ok {
			return plugin.FetchResult{}, fmt.Errorf("fetch %s: unexpected result shape", url)
		}
		return fetched, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
