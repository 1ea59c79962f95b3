package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// StoreDriver selects the persistence backend.
type StoreDriver string

const (
	StoreDriverMemory StoreDriver = "memory" // Process-local, lost on exit
	StoreDriverYAML   StoreDriver = "yaml"   // Single snapshot file on disk
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Driver StoreDriver `toml:"driver"`
	// Path is the snapshot file for the yaml driver.
	Path string `toml:"path"`
}

// EngineConfig holds step lifecycle settings.
type EngineConfig struct {
	// AbandonAfter is how long a step may stay running before the reaper reclaims it.
	AbandonAfter time.Duration `toml:"abandon_after"`
	// ReapInterval is the period of the standalone reaper loop.
	ReapInterval      time.Duration `toml:"reap_interval"`
	DefaultMaxRetries int           `toml:"default_max_retries"`
	StoryMaxRetries   int           `toml:"story_max_retries"`
}

// WorkflowsConfig holds template source settings.
type WorkflowsConfig struct {
	Dir string `toml:"dir"`
	// DisableBuiltins hides the embedded templates.
	DisableBuiltins bool `toml:"disable_builtins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for clawdeck.
type Config struct {
	Version   string          `toml:"version"`
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Engine    EngineConfig    `toml:"engine"`
	Workflows WorkflowsConfig `toml:"workflows"`
	Logging   LoggingConfig   `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Addr:            "127.0.0.1:7420",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreDriverYAML,
			Path:   ".clawdeck/state.yaml",
		},
		Engine: EngineConfig{
			AbandonAfter:      15 * time.Minute,
			ReapInterval:      time.Minute,
			DefaultMaxRetries: 2,
			StoryMaxRetries:   2,
		},
		Workflows: WorkflowsConfig{
			Dir: ".clawdeck/workflows",
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations in a directory.
// Applies in order: defaults -> ~/.clawdeck/config.toml -> <dir>/.clawdeck/config.toml
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(home, ".clawdeck", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".clawdeck", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverYAML:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the yaml driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Engine.AbandonAfter <= 0 {
		return fmt.Errorf("abandon_after must be positive")
	}
	if c.Engine.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be positive")
	}
	if c.Engine.DefaultMaxRetries < 0 || c.Engine.StoryMaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}

// StorePath returns the absolute snapshot path.
func (c *Config) StorePath(baseDir string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(baseDir, c.Store.Path)
}

// WorkflowDir returns the absolute project workflow directory.
func (c *Config) WorkflowDir(baseDir string) string {
	if filepath.IsAbs(c.Workflows.Dir) {
		return c.Workflows.Dir
	}
	return filepath.Join(baseDir, c.Workflows.Dir)
}

// LogFile returns the absolute log file path, or "" when logging to stderr only.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" || filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(baseDir, c.Logging.File)
}
