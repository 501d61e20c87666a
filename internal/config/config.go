package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// DefaultFileName is the project configuration file looked up from the
// working directory upward.
const DefaultFileName = "devtask.yaml"

// Config holds all tool configuration. Precedence: flags > environment >
// project file > defaults; flags are applied by the CLI after Load.
type Config struct {
	StateDir string `yaml:"state_dir"`
	LogLevel string `yaml:"log_level"`

	Scan     ScanConfig                 `yaml:"scan"`
	IDE      IDEConfig                  `yaml:"ide"`
	Assist   AssistConfig               `yaml:"assist"`
	Sync     SyncConfig                 `yaml:"sync"`
	Registry RegistryConfig             `yaml:"registry"`
	Queue    QueueConfig                `yaml:"queue"`
	HTTP     HTTPConfig                 `yaml:"http"`
	Feats    map[string]FeatureSettings `yaml:"features"`
}

// ScanConfig controls manifest discovery.
type ScanConfig struct {
	Roots      []string `yaml:"roots"`
	Ignore     []string `yaml:"ignore"`
	PluginsDir string   `yaml:"plugins_dir"`
	MaxDepth   int      `yaml:"max_depth"`
	MaxFiles   int      `yaml:"max_files"`
}

// IDEConfig selects integration generator targets.
type IDEConfig struct {
	Targets []string `yaml:"targets"`
}

// AssistConfig configures the AI provider client. The API key is environment
// only and never read from the project file.
type AssistConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"-"`
}

// SyncConfig configures the workflow document sync service.
type SyncConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"-"`
	// Deferrable marks sync operations as eligible for offline queueing.
	// Pointer so an explicit false in the file is distinguishable from unset.
	Deferrable *bool `yaml:"deferrable"`
}

// RegistryConfig points ecosystem registries at alternate bases, e.g.
// corporate mirrors. Empty fields use the public registries.
type RegistryConfig struct {
	NPM       string `yaml:"npm"`
	Crates    string `yaml:"crates"`
	PyPI      string `yaml:"pypi"`
	Packagist string `yaml:"packagist"`
}

// QueueConfig controls the offline queue and its replay.
type QueueConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	ReplayWorkers int     `yaml:"replay_workers"`
	ReplayRate    float64 `yaml:"replay_rate"`
	DeadLetterCap int     `yaml:"dead_letter_cap"`
}

// HTTPConfig controls the shared outbound HTTP client.
type HTTPConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	RetryMax          int     `yaml:"retry_max"`
}

// FeatureSettings holds per-feature resilience tuning.
type FeatureSettings struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	SuccessThreshold uint32        `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	Window           time.Duration `yaml:"window"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Timeout          time.Duration `yaml:"timeout"`
}

// env holds environment-sourced overrides, processed separately so unrelated
// environment variables can never leak into untagged fields.
type env struct {
	StateDir         string `envconfig:"DEVTASK_STATE_DIR"`
	ConfigPath       string `envconfig:"DEVTASK_CONFIG"`
	LogLevel         string `envconfig:"DEVTASK_LOG_LEVEL"`
	AssistEndpoint   string `envconfig:"DEVTASK_ASSIST_ENDPOINT"`
	AssistModel      string `envconfig:"DEVTASK_ASSIST_MODEL"`
	AssistAPIKey     string `envconfig:"DEVTASK_ASSIST_API_KEY"`
	SyncEndpoint     string `envconfig:"DEVTASK_SYNC_ENDPOINT"`
	SyncToken        string `envconfig:"DEVTASK_SYNC_TOKEN"`
	QueueMaxAttempts int    `envconfig:"DEVTASK_QUEUE_MAX_ATTEMPTS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	deferrable := true
	return &Config{
		LogLevel: "warn",
		Scan: ScanConfig{
			Roots:      []string{"."},
			PluginsDir: filepath.Join(".devtask", "plugins"),
			MaxDepth:   12,
			MaxFiles:   50000,
		},
		IDE: IDEConfig{
			Targets: []string{"vscode"},
		},
		Assist: AssistConfig{
			Endpoint: "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
		},
		Sync: SyncConfig{
			Deferrable: &deferrable,
		},
		Queue: QueueConfig{
			MaxAttempts:   5,
			ReplayWorkers: 4,
			ReplayRate:    2.0,
			DeadLetterCap: 100,
		},
		HTTP: HTTPConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			RetryMax:          2,
		},
		Feats: map[string]FeatureSettings{
			"registry":  {Cooldown: 20 * time.Second},
			"sync":      {FailureThreshold: 3, Cooldown: 60 * time.Second},
			"extension": {FailureThreshold: 4},
		},
	}
}

// defaultFeature is the base every feature's settings merge over.
var defaultFeature = FeatureSettings{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Cooldown:         30 * time.Second,
	Window:           time.Minute,
	MaxAttempts:      3,
	BaseDelay:        200 * time.Millisecond,
	MaxDelay:         5 * time.Second,
	Timeout:          30 * time.Second,
}

// Load builds the configuration: defaults, then the project file (explicit
// path, DEVTASK_CONFIG, or devtask.yaml found from dir upward), then
// environment overrides.
func Load(dir, explicitPath string) (*Config, error) {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg := Default()

	path := explicitPath
	if path == "" {
		path = e.ConfigPath
	}
	if path == "" {
		path = findProjectFile(dir)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicitPath != "" || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(e)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or falls back to defaults.
func LoadOrDefault(dir string) *Config {
	cfg, err := Load(dir, "")
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) applyEnv(e env) {
	if e.StateDir != "" {
		c.StateDir = e.StateDir
	}
	if e.LogLevel != "" {
		c.LogLevel = e.LogLevel
	}
	if e.AssistEndpoint != "" {
		c.Assist.Endpoint = e.AssistEndpoint
	}
	if e.AssistModel != "" {
		c.Assist.Model = e.AssistModel
	}
	if e.AssistAPIKey != "" {
		c.Assist.APIKey = e.AssistAPIKey
	}
	if e.SyncEndpoint != "" {
		c.Sync.Endpoint = e.SyncEndpoint
	}
	if e.SyncToken != "" {
		c.Sync.Token = e.SyncToken
	}
	if e.QueueMaxAttempts > 0 {
		c.Queue.MaxAttempts = e.QueueMaxAttempts
	}
}

func (c *Config) validate() error {
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if c.Queue.ReplayWorkers < 1 {
		return fmt.Errorf("queue.replay_workers must be at least 1")
	}
	if c.Queue.ReplayRate <= 0 {
		return fmt.Errorf("queue.replay_rate must be positive")
	}
	if len(c.Scan.Roots) == 0 {
		return fmt.Errorf("scan.roots must not be empty")
	}
	return nil
}

// Feature returns the resolved settings for a feature: file overrides merged
// over the built-in defaults, zero fields filled from the base.
func (c *Config) Feature(name string) FeatureSettings {
	s := defaultFeature
	override, ok := c.Feats[name]
	if !ok {
		return s
	}
	if override.FailureThreshold > 0 {
		s.FailureThreshold = override.FailureThreshold
	}
	if override.SuccessThreshold > 0 {
		s.SuccessThreshold = override.SuccessThreshold
	}
	if override.Cooldown > 0 {
		s.Cooldown = override.Cooldown
	}
	if override.Window > 0 {
		s.Window = override.Window
	}
	if override.MaxAttempts > 0 {
		s.MaxAttempts = override.MaxAttempts
	}
	if override.BaseDelay > 0 {
		s.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay > 0 {
		s.MaxDelay = override.MaxDelay
	}
	if override.Timeout > 0 {
		s.Timeout = override.Timeout
	}
	return s
}

// SyncDeferrable reports whether sync operations opt into offline queueing.
func (c *Config) SyncDeferrable() bool {
	if c.Sync.Deferrable == nil {
		return true
	}
	return *c.Sync.Deferrable
}

// findProjectFile walks from dir toward the filesystem root looking for the
// project configuration file.
func findProjectFile(dir string) string {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return ""
		}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, DefaultFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
