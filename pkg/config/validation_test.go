package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidDeviceType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Device.Type = "watch"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid device type")
	}
}

func TestValidate_PortOutOfRange(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Network.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativeRPCPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.RPC.Port = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_PortCollision(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.RPC.Port = cfg.Network.Port

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for colliding ports")
	}
	if !strings.Contains(err.Error(), "must differ") {
		t.Errorf("Expected port collision error, got: %v", err)
	}
}

func TestValidate_MissingDataDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.DataDir = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing data dir")
	}
	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "datadir") {
		t.Errorf("Expected error about data dir, got: %v", err)
	}
}

func TestValidate_EmptyRunCommandEntry(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.RunCommand = map[string]string{"lock": "   "}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for empty command line")
	}
	if !strings.Contains(err.Error(), "lock") {
		t.Errorf("Expected error naming the command key, got: %v", err)
	}
}

func TestValidate_LogLevelCaseAccepted(t *testing.T) {
	// Validation accepts both cases; normalization belongs to ApplyDefaults.
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}
