package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Device.Name == "" {
		t.Error("Expected a default device name")
	}
	if cfg.Device.Type != "desktop" {
		t.Errorf("Expected default device type 'desktop', got %q", cfg.Device.Type)
	}
	if cfg.Network.Port != 1716 {
		t.Errorf("Expected default port 1716, got %d", cfg.Network.Port)
	}
	if cfg.Network.DiscoveryInterval != 5*time.Second {
		t.Errorf("Expected default discovery interval 5s, got %v", cfg.Network.DiscoveryInterval)
	}
	if cfg.Network.DeviceTimeout != 30*time.Second {
		t.Errorf("Expected default device timeout 30s, got %v", cfg.Network.DeviceTimeout)
	}
	if cfg.RPC.Port != 5771 {
		t.Errorf("Expected default RPC port 5771, got %d", cfg.RPC.Port)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Expected a default data dir")
	}
	if cfg.Storage.DownloadsDir == "" {
		t.Error("Expected a default downloads dir")
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected default shutdown timeout 5s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Device:  DeviceConfig{Name: "laptop-a", Type: "laptop"},
		Network: NetworkConfig{Port: 1816},
		RPC:     RPCConfig{Port: 6000},
	}
	ApplyDefaults(cfg)

	if cfg.Device.Name != "laptop-a" {
		t.Errorf("Expected explicit name preserved, got %q", cfg.Device.Name)
	}
	if cfg.Device.Type != "laptop" {
		t.Errorf("Expected explicit type preserved, got %q", cfg.Device.Type)
	}
	if cfg.Network.Port != 1816 {
		t.Errorf("Expected explicit port preserved, got %d", cfg.Network.Port)
	}
	if cfg.RPC.Port != 6000 {
		t.Errorf("Expected explicit RPC port preserved, got %d", cfg.RPC.Port)
	}
}

func TestApplyDefaults_NormalizesCase(t *testing.T) {
	cfg := &Config{
		Device:  DeviceConfig{Type: "Phone"},
		Logging: LoggingConfig{Level: "warn"},
	}
	ApplyDefaults(cfg)

	if cfg.Device.Type != "phone" {
		t.Errorf("Expected device type normalized to 'phone', got %q", cfg.Device.Type)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected log level normalized to 'WARN', got %q", cfg.Logging.Level)
	}
}

func TestGetDefaultConfig_Validates(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected default config to be valid: %v", err)
	}
}
