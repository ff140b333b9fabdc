package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies a configuration file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Loader loads configuration from files and the environment. File
// values are decoded over a copy of the defaults, so keys absent from
// the file keep their default values; environment overrides apply
// last.
type Loader struct {
	searchPaths []string
	envPrefix   string
	defaults    *Config
}

// NewLoader returns a loader with the default search paths and the
// STATOR environment prefix.
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
			"/etc/stator",
			filepath.Join(os.Getenv("HOME"), ".stator"),
		},
		envPrefix: "STATOR",
		defaults:  DefaultConfig(),
	}
}

// SetSearchPaths replaces the directories AutoLoad searches.
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix replaces the environment variable prefix.
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaults replaces the base configuration that file values are
// decoded over.
func (l *Loader) SetDefaults(c *Config) *Loader {
	l.defaults = c
	return l
}

// Load loads the named file over the defaults, applies environment
// overrides, and validates the result. An empty filename skips the
// file step and loads defaults plus environment only.
func (l *Loader) Load(filename string) (*Config, error) {
	cfg := l.base()
	if filename != "" {
		format, err := formatForFile(filename)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeInto(cfg, data, format); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	return l.finish(cfg)
}

// LoadFromReader decodes configuration from r over the defaults and
// finishes like Load.
func (l *Loader) LoadFromReader(r io.Reader, format Format) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := l.base()
	if err := decodeInto(cfg, data, format); err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

// AutoLoad searches the configured paths for a configuration file and
// loads the first hit. With no file present it loads defaults and
// environment overrides only.
func (l *Loader) AutoLoad() (*Config, error) {
	file, err := l.findConfigFile()
	if err != nil {
		if errors.Is(err, ErrConfigFileNotFound) {
			return l.Load("")
		}
		return nil, err
	}
	return l.Load(file)
}

// base returns a private copy of the defaults for one load.
func (l *Loader) base() *Config {
	src := l.defaults
	if src == nil {
		src = DefaultConfig()
	}
	cfg := *src
	cfg.Pools = slices.Clone(src.Pools)
	return &cfg
}

// finish applies environment overrides and validates.
func (l *Loader) finish(cfg *Config) (*Config, error) {
	l.applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// findConfigFile searches the configured paths for a known file name.
func (l *Loader) findConfigFile() (string, error) {
	names := []string{
		"stator.yaml", "stator.yml", "stator.json",
		"config.yaml", "config.yml", "config.json",
	}
	for _, dir := range l.searchPaths {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", ErrConfigFileNotFound
}

// formatForFile maps a file extension to its format.
func formatForFile(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// decodeInto decodes data onto cfg. Keys absent from the data leave
// the corresponding fields untouched; a pools list replaces the base
// list wholesale.
func decodeInto(cfg *Config, data []byte, format Format) error {
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return nil
}

// applyEnv applies PREFIX_* environment overrides onto cfg. Unset
// variables change nothing; unparsable numeric values are ignored.
func (l *Loader) applyEnv(cfg *Config) {
	if v := os.Getenv(l.envPrefix + "_APP_NAME"); v != "" {
		cfg.App.Name = v
	}
	if v := os.Getenv(l.envPrefix + "_APP_ENVIRONMENT"); v != "" {
		cfg.App.Environment = Environment(strings.ToLower(v))
	}
	if v := os.Getenv(l.envPrefix + "_LOG_LEVEL"); v != "" {
		cfg.Log.Level = LogLevel(strings.ToLower(v))
	}
	if v := os.Getenv(l.envPrefix + "_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv(l.envPrefix + "_RUNTIME_HOST"); v != "" {
		cfg.Runtime.Host = HostKind(strings.ToLower(v))
	}
	if v := os.Getenv(l.envPrefix + "_RUNTIME_MAX_SIGNAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runtime.MaxSignal = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_RUNTIME_OVERFLOW_POLICY"); v != "" {
		cfg.Runtime.OverflowPolicy = OverflowPolicy(strings.ToLower(v))
	}
	if v := os.Getenv(l.envPrefix + "_RUNTIME_TICK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runtime.TickIntervalMS = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_MONITOR_ENABLED"); v != "" {
		cfg.Monitor.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv(l.envPrefix + "_MONITOR_ADDRESS"); v != "" {
		cfg.Monitor.Address = v
	}
	if v := os.Getenv(l.envPrefix + "_MONITOR_METRICS_PATH"); v != "" {
		cfg.Monitor.MetricsPath = v
	}
	if v := os.Getenv(l.envPrefix + "_MONITOR_HEALTH_PATH"); v != "" {
		cfg.Monitor.HealthPath = v
	}
}
