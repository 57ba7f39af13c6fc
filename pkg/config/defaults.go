package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olafkfreund/cconnect/pkg/protocol"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyDeviceDefaults(&cfg.Device)
	applyNetworkDefaults(&cfg.Network)
	applyRPCDefaults(&cfg.RPC)
	applyStorageDefaults(&cfg.Storage)
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
}

// applyDeviceDefaults sets the announced identity defaults.
func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.Name == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Name = host
		} else {
			cfg.Name = "cconnect"
		}
	}
	if cfg.Type == "" {
		cfg.Type = protocol.DeviceTypeDesktop.String()
	}
	// Normalize to lowercase so "Desktop" from hand-edited files validates
	cfg.Type = strings.ToLower(cfg.Type)
}

// applyNetworkDefaults sets discovery and connection defaults.
func applyNetworkDefaults(cfg *NetworkConfig) {
	if cfg.Port == 0 {
		cfg.Port = protocol.DefaultPort
	}
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = 5 * time.Second
	}
	if cfg.DeviceTimeout == 0 {
		cfg.DeviceTimeout = 30 * time.Second
	}
}

// applyRPCDefaults sets local API server defaults.
func applyRPCDefaults(cfg *RPCConfig) {
	if cfg.Port == 0 {
		cfg.Port = 5771
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

// applyStorageDefaults sets filesystem path defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = defaultDownloadsDir()
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
}

// defaultDataDir returns $XDG_DATA_HOME/cconnect, falling back to
// ~/.local/share/cconnect, or a relative directory if home is unknown.
func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "cconnect")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "cconnect-data"
	}

	return filepath.Join(home, ".local", "share", "cconnect")
}

// defaultDownloadsDir returns ~/Downloads, or a relative directory if home
// is unknown.
func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}

	return filepath.Join(home, "Downloads")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
