package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_PartialConfigGetsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
device:
  name: "study-desktop"

logging:
  level: "debug"

network:
  discovery_interval: 10s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Device.Name != "study-desktop" {
		t.Errorf("Expected device name 'study-desktop', got %q", cfg.Device.Name)
	}
	if cfg.Device.Type != "desktop" {
		t.Errorf("Expected default device type 'desktop', got %q", cfg.Device.Type)
	}
	if cfg.Network.Port != 1716 {
		t.Errorf("Expected default network port 1716, got %d", cfg.Network.Port)
	}
	if cfg.Network.DiscoveryInterval != 10*time.Second {
		t.Errorf("Expected discovery interval 10s, got %v", cfg.Network.DiscoveryInterval)
	}
	if cfg.RPC.Port != 5771 {
		t.Errorf("Expected default RPC port 5771, got %d", cfg.RPC.Port)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected log level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected default shutdown_timeout 5s, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config so the
	// daemon can run without prior setup.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}

	if cfg.Network.Port != 1716 {
		t.Errorf("Expected default port 1716, got %d", cfg.Network.Port)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Expected a default data dir")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("network: [not: valid"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
device:
  type: "toaster"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown device type")
	}
}

func TestLoad_DurationFromString(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
shutdown_timeout: "2m"
network:
  device_timeout: 90s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.ShutdownTimeout != 2*time.Minute {
		t.Errorf("Expected shutdown_timeout 2m, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Network.DeviceTimeout != 90*time.Second {
		t.Errorf("Expected device_timeout 90s, got %v", cfg.Network.DeviceTimeout)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sub", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Device.Name = "roundtrip"
	cfg.RunCommand = map[string]string{"lock": "loginctl lock-session"}

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Device.Name != "roundtrip" {
		t.Errorf("Expected device name 'roundtrip', got %q", loaded.Device.Name)
	}
	if loaded.RunCommand["lock"] != "loginctl lock-session" {
		t.Errorf("Expected runcommand entry to survive, got %v", loaded.RunCommand)
	}
}
