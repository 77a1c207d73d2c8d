package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir

const (
	userConfigDir  = ".config/kubedesk"
	configFileName = "config.yaml"
	dataFileName   = "kubedesk.db"
)

// Config holds the engine configuration. Everything has a sensible default;
// a user config file under ~/.config/kubedesk may override fields.
type Config struct {
	// CacheCapacity bounds the resource snapshot cache.
	CacheCapacity int `yaml:"cacheCapacity"`
	// Kubeconfig overrides the kubeconfig file location. Empty means the
	// standard client-go loading rules.
	Kubeconfig string `yaml:"kubeconfig"`
	// DataDir is where the local state database lives.
	DataDir string `yaml:"dataDir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
	// MetricsInterval is the poll interval for streamed metrics.
	MetricsInterval time.Duration `yaml:"metricsInterval"`
	// StaggerInterval spaces the commands of a staggered batch.
	StaggerInterval time.Duration `yaml:"staggerInterval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CacheCapacity:   128,
		LogLevel:        "info",
		MetricsInterval: 5 * time.Second,
		StaggerInterval: 1 * time.Second,
	}
}

// DataPath returns the local state database path, deriving it from the home
// directory when DataDir is unset.
func (c Config) DataPath() (string, error) {
	dir := c.DataDir
	if dir == "" {
		home, err := osUserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		dir = filepath.Join(home, userConfigDir)
	}
	return filepath.Join(dir, dataFileName), nil
}

// UnmarshalYAML layers the file's fields over whatever the config already
// holds, so unset fields keep their defaults. Durations are written in Go
// notation ("5s", "250ms").
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		CacheCapacity   *int   `yaml:"cacheCapacity"`
		Kubeconfig      string `yaml:"kubeconfig"`
		DataDir         string `yaml:"dataDir"`
		LogLevel        string `yaml:"logLevel"`
		MetricsInterval string `yaml:"metricsInterval"`
		StaggerInterval string `yaml:"staggerInterval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.CacheCapacity != nil {
		c.CacheCapacity = *raw.CacheCapacity
	}
	if raw.Kubeconfig != "" {
		c.Kubeconfig = raw.Kubeconfig
	}
	if raw.DataDir != "" {
		c.DataDir = raw.DataDir
	}
	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.MetricsInterval != "" {
		d, err := time.ParseDuration(raw.MetricsInterval)
		if err != nil {
			return fmt.Errorf("invalid metricsInterval: %w", err)
		}
		c.MetricsInterval = d
	}
	if raw.StaggerInterval != "" {
		d, err := time.ParseDuration(raw.StaggerInterval)
		if err != nil {
			return fmt.Errorf("invalid staggerInterval: %w", err)
		}
		c.StaggerInterval = d
	}
	return nil
}

// Load builds the configuration by layering the optional user config file
// over the defaults. A missing file is not an error.
func Load() (Config, error) {
	cfg := Default()

	path, err := userConfigPath()
	if err != nil {
		// User config is optional; fall back to defaults.
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("error reading config from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config from %s: %w", path, err)
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = Default().CacheCapacity
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = Default().MetricsInterval
	}
	if cfg.StaggerInterval <= 0 {
		cfg.StaggerInterval = Default().StaggerInterval
	}
	return cfg, nil
}

var userConfigPath = func() (string, error) {
	home, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, userConfigDir, configFileName), nil
}
