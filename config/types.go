// Package config defines the framework configuration schema and the
// machinery to load, validate, and hot-reload it.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
)

// Environment names the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment.
func (e Environment) String() string {
	return string(e)
}

// IsValid reports whether the environment is one of the known names.
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel names a slog level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel.
func (l LogLevel) String() string {
	return string(l)
}

// IsValid reports whether the level is one of the known names.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Slog maps the level name onto the slog scale. Unknown names map to
// info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HostKind selects the execution host the runtime is built on.
type HostKind string

const (
	// HostLockstep steps every object on the caller's goroutine,
	// highest priority first.
	HostLockstep HostKind = "lockstep"

	// HostGoroutine gives every object its own goroutine.
	HostGoroutine HostKind = "goroutine"
)

// String returns the string representation of HostKind.
func (h HostKind) String() string {
	return string(h)
}

// IsValid reports whether the host kind is one of the known names.
func (h HostKind) IsValid() bool {
	switch h {
	case HostLockstep, HostGoroutine:
		return true
	default:
		return false
	}
}

// OverflowPolicy names the queue overflow policy.
type OverflowPolicy string

const (
	// PolicyFatal routes queue overflow to the failure handler.
	PolicyFatal OverflowPolicy = "fatal"

	// PolicyDrop releases the overflowing event and reports the full
	// queue to the poster.
	PolicyDrop OverflowPolicy = "drop"
)

// String returns the string representation of OverflowPolicy.
func (p OverflowPolicy) String() string {
	return string(p)
}

// IsValid reports whether the policy is one of the known names.
func (p OverflowPolicy) IsValid() bool {
	switch p {
	case PolicyFatal, PolicyDrop:
		return true
	default:
		return false
	}
}

// Config is the complete framework configuration.
type Config struct {
	// Application identity.
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration.
	Log LogConfig `yaml:"log" json:"log"`

	// Runtime construction parameters.
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// Event pools, ordered by ascending block size.
	Pools []PoolConfig `yaml:"pools" json:"pools"`

	// HTTP monitoring endpoint.
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
}

// AppConfig identifies the application.
type AppConfig struct {
	// Application name, used in logs and the monitor.
	Name string `yaml:"name" json:"name"`

	// Deployment environment.
	Environment Environment `yaml:"environment" json:"environment"`
}

// LogConfig controls the slog handler the application installs.
type LogConfig struct {
	// Minimum level.
	Level LogLevel `yaml:"level" json:"level"`

	// Handler format: text or json.
	Format string `yaml:"format" json:"format"`
}

// RuntimeConfig carries the knobs the runtime is constructed with.
// Everything here is structural: it is fixed once the application has
// started.
type RuntimeConfig struct {
	// Execution host: lockstep or goroutine.
	Host HostKind `yaml:"host" json:"host"`

	// Size of the publish/subscribe signal space.
	MaxSignal int `yaml:"max_signal" json:"max_signal"`

	// Queue overflow policy for objects built by bootstrap.
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy" json:"overflow_policy"`

	// System clock tick period in milliseconds. Zero disables the
	// ticker.
	TickIntervalMS int `yaml:"tick_interval_ms" json:"tick_interval_ms"`
}

// PoolConfig sizes one event pool.
type PoolConfig struct {
	// Payload block size in bytes.
	BlockSize int `yaml:"block_size" json:"block_size"`

	// Number of blocks.
	Count int `yaml:"count" json:"count"`
}

// MonitorConfig configures the HTTP monitoring endpoint.
type MonitorConfig struct {
	// Serve metrics and health over HTTP.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address, host:port.
	Address string `yaml:"address" json:"address"`

	// Prometheus metrics path.
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`

	// Health endpoint path.
	HealthPath string `yaml:"health_path" json:"health_path"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "stator-app",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
		},
		Runtime: RuntimeConfig{
			Host:           HostGoroutine,
			MaxSignal:      256,
			OverflowPolicy: PolicyFatal,
			TickIntervalMS: 10,
		},
		Pools: []PoolConfig{
			{BlockSize: 32, Count: 128},
			{BlockSize: 128, Count: 32},
		},
		Monitor: MonitorConfig{
			Enabled:     true,
			Address:     "127.0.0.1:9190",
			MetricsPath: "/metrics",
			HealthPath:  "/healthz",
		},
	}
}

// maxPools mirrors the pool-set registration bound in the event
// package.
const maxPools = 8

// Validate checks the configuration for values the framework would
// reject at startup.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEnvironment, c.App.Environment)
	}
	if !c.Log.Level.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}
	if !c.Runtime.Host.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidHost, c.Runtime.Host)
	}
	if c.Runtime.MaxSignal <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxSignal, c.Runtime.MaxSignal)
	}
	if !c.Runtime.OverflowPolicy.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, c.Runtime.OverflowPolicy)
	}
	if c.Runtime.TickIntervalMS < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTickInterval, c.Runtime.TickIntervalMS)
	}
	if err := validatePools(c.Pools); err != nil {
		return err
	}
	if c.Monitor.Enabled {
		if err := validateMonitor(&c.Monitor); err != nil {
			return err
		}
	}
	return nil
}

func validatePools(pools []PoolConfig) error {
	if len(pools) > maxPools {
		return fmt.Errorf("%w: %d pools over the limit of %d", ErrInvalidPools, len(pools), maxPools)
	}
	prev := 0
	for i, p := range pools {
		if p.BlockSize <= 0 || p.Count <= 0 {
			return fmt.Errorf("%w: pool %d is %d blocks of %d bytes", ErrInvalidPools, i, p.Count, p.BlockSize)
		}
		if p.BlockSize <= prev {
			return fmt.Errorf("%w: %d after %d", ErrPoolOrder, p.BlockSize, prev)
		}
		prev = p.BlockSize
	}
	return nil
}

func validateMonitor(m *MonitorConfig) error {
	_, portStr, err := net.SplitHostPort(m.Address)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMonitorAddress, m.Address)
	}
	if port, err := strconv.Atoi(portStr); err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidMonitorAddress, m.Address)
	}
	if m.MetricsPath == "" || m.MetricsPath[0] != '/' {
		return fmt.Errorf("%w: metrics path %q", ErrInvalidMonitorPath, m.MetricsPath)
	}
	if m.HealthPath == "" || m.HealthPath[0] != '/' {
		return fmt.Errorf("%w: health path %q", ErrInvalidMonitorPath, m.HealthPath)
	}
	return nil
}

// IsDevelopment reports whether the environment is development.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
