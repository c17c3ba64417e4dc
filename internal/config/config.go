// Package config loads the cloudanchor YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/marimax/cloudanchor/internal/allocator"
	"github.com/marimax/cloudanchor/internal/connectors/simulated"
	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/scheduler"
	"github.com/marimax/cloudanchor/internal/storage"
)

// DefaultRoot is the key namespace shared by every device of the remote backend.
const DefaultRoot = "shared_anchor_codelab_root"

// Config holds the cloudanchor configuration.
type Config struct {
	Daemon    DaemonConfig      `yaml:"daemon"`
	Local     LocalConfig       `yaml:"local"`
	Remote    RemoteConfig      `yaml:"remote"`
	Allocator AllocatorConfig   `yaml:"allocator"`
	Tracker   TrackerConfig     `yaml:"tracker"`
	Frame     scheduler.Config  `yaml:"frame"`
	Simulated simulated.Options `yaml:"simulated"`
	Log       LogConfig         `yaml:"log"`
}

// DaemonConfig configures the shared store daemon.
type DaemonConfig struct {
	// Listen is the HTTP API address.
	Listen string `yaml:"listen"`
	// GRPCListen is the gRPC KV address. Empty disables the gRPC listener.
	GRPCListen string `yaml:"grpc_listen"`
	// DB is the daemon's SQLite file.
	DB string `yaml:"db"`
}

// LocalConfig configures the device-local backend.
type LocalConfig struct {
	DB          string      `yaml:"db"`
	InitialCode models.Code `yaml:"initial_code"`
}

// RemoteConfig configures the shared backend clients.
type RemoteConfig struct {
	// Backend is the registered backend name: http or grpc.
	Backend string `yaml:"backend"`

	// Addr is the daemon address. Empty means this host's daemon listener
	// for the backend's transport.
	Addr           string        `yaml:"addr"`
	Root           string        `yaml:"root"`
	InitialCode    models.Code   `yaml:"initial_code"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type AllocatorConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type TrackerConfig struct {
	// TaskTimeout expires host and resolve operations. Zero disables expiry.
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

type LogConfig struct {
	// Level is debug, info or error.
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Dir returns ~/.cloudanchor, or a relative .cloudanchor when there is no home.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cloudanchor"
	}
	return filepath.Join(home, ".cloudanchor")
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		Daemon: DaemonConfig{
			Listen:     "127.0.0.1:7466",
			GRPCListen: "127.0.0.1:7467",
			DB:         filepath.Join(dir, "daemon.db"),
		},
		Local: LocalConfig{
			DB:          filepath.Join(dir, "local.db"),
			InitialCode: allocator.LocalInitialCode,
		},
		Remote: RemoteConfig{
			Backend:        "http",
			Root:           DefaultRoot,
			InitialCode:    allocator.RemoteInitialCode,
			MaxAttempts:    storage.DefaultRetryPolicy().MaxAttempts,
			RequestTimeout: 10 * time.Second,
		},
		Allocator: AllocatorConfig{Timeout: allocator.DefaultTimeout},
		Tracker:   TrackerConfig{TaskTimeout: 2 * time.Minute},
		Frame:     *scheduler.DefaultConfig(),
		Simulated: simulated.Options{PollsToComplete: simulated.DefaultPollsToComplete},
		Log:       LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadFromHome loads configuration from ~/.cloudanchor/config.yaml.
func LoadFromHome() (*Config, error) {
	return Load(filepath.Join(Dir(), "config.yaml"))
}

// Save writes cfg to a YAML file, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Local.InitialCode < 1 {
		return fmt.Errorf("local.initial_code must be at least 1")
	}
	if c.Remote.InitialCode < 1 {
		return fmt.Errorf("remote.initial_code must be at least 1")
	}
	if c.Remote.MaxAttempts < 1 {
		return fmt.Errorf("remote.max_attempts must be at least 1")
	}

	validBackends := map[string]bool{
		"http": true,
		"grpc": true,
	}
	if !validBackends[c.Remote.Backend] {
		return fmt.Errorf("invalid remote.backend %q, must be: http or grpc", c.Remote.Backend)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q, must be: debug, info, or error", c.Log.Level)
	}

	for name, d := range map[string]time.Duration{
		"remote.request_timeout": c.Remote.RequestTimeout,
		"allocator.timeout":      c.Allocator.Timeout,
		"tracker.task_timeout":   c.Tracker.TaskTimeout,
		"frame.interval":         c.Frame.FrameInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	return nil
}

// BackendOptions returns the storage options for a backend of the given kind:
// "local" or one of the remote backend names.
func (c *Config) BackendOptions(kind string, log logr.Logger) storage.Options {
	retry := storage.DefaultRetryPolicy()
	retry.MaxAttempts = c.Remote.MaxAttempts

	if kind == "local" {
		return storage.Options{DBPath: c.Local.DB, Logger: log}
	}
	return storage.Options{
		Addr:    c.RemoteAddr(kind),
		Root:    c.Remote.Root,
		Timeout: c.Remote.RequestTimeout,
		Retry:   retry,
		Logger:  log,
	}
}

// RemoteAddr returns the daemon address a remote backend of kind dials.
func (c *Config) RemoteAddr(kind string) string {
	if c.Remote.Addr != "" {
		return c.Remote.Addr
	}
	if kind == "grpc" {
		return c.Daemon.GRPCListen
	}
	return c.Daemon.Listen
}

// DaemonAPIAddr returns the daemon's HTTP API address, for health checks
// and the audit log.
func (c *Config) DaemonAPIAddr() string {
	if c.Remote.Addr != "" && c.Remote.Backend == "http" {
		return c.Remote.Addr
	}
	return c.Daemon.Listen
}

// AllocatorFor returns the allocator settings for a backend kind.
func (c *Config) AllocatorFor(kind string) allocator.Config {
	initial := c.Remote.InitialCode
	if kind == "local" {
		initial = c.Local.InitialCode
	}
	return allocator.Config{InitialCode: initial, Timeout: c.Allocator.Timeout}
}
