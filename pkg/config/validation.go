package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid values.
//
// Struct-level rules come from `validate` tags; cross-field rules that tags
// cannot express are checked explicitly afterwards. Validation never mutates
// the config; normalization belongs to ApplyDefaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", formatValidationErrors(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The discovery port and the RPC port share a machine; a collision
	// would make the RPC listener race the TCP connection listener.
	if cfg.Network.Port == cfg.RPC.Port {
		return fmt.Errorf("invalid configuration: network.port and rpc.port must differ (both %d)", cfg.Network.Port)
	}

	for key, cmd := range cfg.RunCommand {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("invalid configuration: runcommand entry with empty key")
		}
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("invalid configuration: runcommand %q has an empty command line", key)
		}
	}

	return nil
}

// formatValidationErrors renders validator errors as one readable line each,
// keeping the failed tag name so callers can match on it.
func formatValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s failed %q=%s validation", fe.Namespace(), fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}
