package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the indexd daemon configuration.
type Config struct {
	Index   IndexConfig   `yaml:"index" mapstructure:"index"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// IndexConfig holds the content pipeline configuration.
type IndexConfig struct {
	// CacheDir is the binary content cache directory. Empty disables
	// caching entirely.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
	// DatabasePath locates the SQLite manifest store.
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`
	// Workers bounds the per-job parse fan-out; zero means all CPUs.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// ParseMemoSize sizes the shared parse memo.
	ParseMemoSize int `yaml:"parse_memo_size" mapstructure:"parse_memo_size"`
	// ProjectGlobs locate project descriptor files to load at startup.
	ProjectGlobs []string `yaml:"project_globs" mapstructure:"project_globs"`
	// StatsRetention bounds how long parse statistics are kept.
	StatsRetention time.Duration `yaml:"stats_retention" mapstructure:"stats_retention"`
}

// ServerConfig holds the HTTP status API configuration.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Address      string        `yaml:"address" mapstructure:"address"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			CacheDir:       defaultDataPath("cache"),
			DatabasePath:   defaultDataPath("indexd.db"),
			Workers:        0,
			ParseMemoSize:  1024,
			ProjectGlobs:   []string{},
			StatsRetention: 30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Enabled:      false,
			Address:      "localhost",
			Port:         7432,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "indexd",
			SampleRatio: 1.0,
		},
	}
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "indexd", name)
	}
	return filepath.Join(home, ".local", "share", "indexd", name)
}

// LoadConfig loads configuration from the given file (or the default
// search path when empty) and INDEXD_ environment variables layered over
// the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("indexd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/indexd")
		v.AddConfigPath("/etc/indexd")
	}

	v.SetEnvPrefix("INDEXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Index.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	if c.Index.ParseMemoSize < 0 {
		return fmt.Errorf("parse memo size cannot be negative")
	}
	if c.Index.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("sample ratio must be within [0, 1]")
	}
	return nil
}

// CreateDirectories creates the directories the configuration points at.
func (c *Config) CreateDirectories() error {
	dirs := []string{
		c.Index.CacheDir,
		filepath.Dir(c.Index.DatabasePath),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
