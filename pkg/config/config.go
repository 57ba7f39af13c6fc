package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the cconnect daemon configuration.
//
// This structure captures the static configuration of the daemon:
//   - Device identity presentation (name, type)
//   - Network settings (discovery/TCP port, RPC port)
//   - Storage paths (data directory, downloads directory)
//   - Logging and metrics behavior
//   - Plugin defaults and the runcommand allow-list
//
// Dynamic state (known devices, pairing trust, per-device plugin overrides,
// filesync folders) lives under the data directory and is managed through
// the local RPC API, not through this file.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CCONNECT_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Device controls how this machine announces itself to peers
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Network contains discovery and connection settings
	Network NetworkConfig `mapstructure:"network" yaml:"network"`

	// RPC configures the local HTTP API (loopback only)
	RPC RPCConfig `mapstructure:"rpc" yaml:"rpc"`

	// Storage contains filesystem paths for persistent state and downloads
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Plugins contains global per-plugin enabled defaults
	Plugins PluginsConfig `mapstructure:"plugins" yaml:"plugins"`

	// RunCommand is the allow-list of commands peers may trigger.
	// Keys are command ids, values are the shell command lines.
	RunCommand map[string]string `mapstructure:"runcommand" yaml:"runcommand,omitempty"`

	// ShutdownTimeout bounds each step of the daemon shutdown sequence
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// DeviceConfig controls the identity this daemon announces.
type DeviceConfig struct {
	// Name is the human-readable device name shown to peers.
	// Default: the machine hostname
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Type classifies the device for presentation on peers.
	// Valid values: desktop, laptop, phone, tablet, tv
	Type string `mapstructure:"type" validate:"required,oneof=desktop laptop phone tablet tv" yaml:"type"`
}

// NetworkConfig contains discovery and connection settings.
type NetworkConfig struct {
	// Port is the well-known UDP discovery port; the TCP listener uses
	// the same port. Default: 1716
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// BindAddress restricts the sockets to one interface.
	// Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address,omitempty"`

	// DiscoveryInterval is the pause between identity broadcasts.
	// Default: 5s
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval" validate:"required,gt=0" yaml:"discovery_interval"`

	// DeviceTimeout ages out discovered devices unseen for longer than this.
	// Default: 30s
	DeviceTimeout time.Duration `mapstructure:"device_timeout" validate:"required,gt=0" yaml:"device_timeout"`
}

// RPCConfig configures the local HTTP API server.
// The server always binds 127.0.0.1; only the port is configurable.
type RPCConfig struct {
	// Port is the loopback TCP port for the RPC API.
	// Default: 5771
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// ReadTimeout bounds request header+body reads. Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds response writes for non-streaming handlers.
	// The SSE event stream is exempt. Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// StorageConfig contains filesystem paths.
type StorageConfig struct {
	// DataDir is the root for persistent daemon state: certificates,
	// devices.json, per-device plugin config, filesync folder config.
	// Default: $XDG_DATA_HOME/cconnect or ~/.local/share/cconnect
	DataDir string `mapstructure:"data_dir" validate:"required" yaml:"data_dir"`

	// DownloadsDir is where received shared files land.
	// Default: ~/Downloads
	DownloadsDir string `mapstructure:"downloads_dir" validate:"required" yaml:"downloads_dir"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures Prometheus metrics.
// When Enabled is false, no metrics are collected (zero overhead).
// Metrics are served on the RPC server at /metrics; there is no
// separate listener.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// PluginsConfig contains global plugin defaults.
type PluginsConfig struct {
	// Defaults maps plugin name to its global enabled default.
	// Plugins absent from the map default to enabled. Per-device
	// overrides stored in the registry take precedence.
	Defaults map[string]bool `mapstructure:"defaults" yaml:"defaults,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CCONNECT_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location; a missing file is not an
// error and yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600 because the file may name private filesystem paths.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the CCONNECT_ prefix and underscores.
	// Example: CCONNECT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CCONNECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/cconnect/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Explicit config paths surface a plain os.PathError instead.
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cconnect")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "cconnect")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
