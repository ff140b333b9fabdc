package config

import "errors"

// Validation errors.
var (
	ErrInvalidAppName        = errors.New("config: application name is empty")
	ErrInvalidEnvironment    = errors.New("config: unknown environment")
	ErrInvalidLogLevel       = errors.New("config: unknown log level")
	ErrInvalidLogFormat      = errors.New("config: unknown log format")
	ErrInvalidHost           = errors.New("config: unknown execution host")
	ErrInvalidMaxSignal      = errors.New("config: signal space must be positive")
	ErrInvalidPolicy         = errors.New("config: unknown overflow policy")
	ErrInvalidTickInterval   = errors.New("config: negative tick interval")
	ErrInvalidPools          = errors.New("config: bad pool layout")
	ErrPoolOrder             = errors.New("config: pool block sizes must be strictly ascending")
	ErrInvalidMonitorAddress = errors.New("config: bad monitor listen address")
	ErrInvalidMonitorPath    = errors.New("config: monitor paths must start with /")
)

// Loading errors.
var (
	// ErrConfigFileNotFound means no file was found under the search
	// paths. AutoLoad treats it as "run on defaults".
	ErrConfigFileNotFound = errors.New("config: no configuration file found")

	// ErrUnsupportedFormat marks a file whose extension is neither
	// YAML nor JSON.
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
)

// Watching errors.
var (
	// ErrStructuralChange marks a reload that modified settings fixed
	// at startup. The running configuration is kept.
	ErrStructuralChange = errors.New("config: structural settings changed")
)
