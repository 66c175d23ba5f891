package config

import (
	"fmt"
	"strings"
	"time"

	"grimm.is/vpcctl/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.StateDir == "" {
		errs = append(errs, ValidationError{Field: "state_dir", Message: "must not be empty"})
	}
	switch c.StateBackend {
	case "file", "sqlite":
	default:
		errs = append(errs, ValidationError{Field: "state_backend", Message: fmt.Sprintf("unknown backend %q (must be file or sqlite)", c.StateBackend)})
	}
	if c.IptablesPath == "" {
		errs = append(errs, ValidationError{Field: "iptables_path", Message: "must not be empty"})
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, ValidationError{Field: "log_level", Message: err.Error()})
	}
	if d, err := time.ParseDuration(c.ProbeTimeout); err != nil || d <= 0 {
		errs = append(errs, ValidationError{Field: "probe_timeout", Message: fmt.Sprintf("invalid duration %q", c.ProbeTimeout)})
	}

	errs = append(errs, c.validateAppCommand()...)
	return errs
}

func (c *Config) validateAppCommand() ValidationErrors {
	if len(c.AppCommand) == 0 {
		return ValidationErrors{{Field: "app_command", Message: "must not be empty"}}
	}
	for _, arg := range c.AppCommand {
		if strings.Contains(arg, PortPlaceholder) {
			return nil
		}
	}
	return ValidationErrors{{Field: "app_command", Message: "must contain the " + PortPlaceholder + " placeholder"}}
}
