package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
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

var (
	validModes   = []string{"bluetooth", "usb", "demo"}
	validLevels  = []string{"debug", "info", "warn", "warning", "error"}
	validFormats = []string{"text", "json"}
	validOutputs = []string{"stdout", "stderr", "file", "both"}
)

// Validate checks the configuration and returns ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !oneOf(c.Connection.Mode, validModes) {
		add("connection.mode", "must be one of %v, got %q", validModes, c.Connection.Mode)
	}
	if c.Bluetooth.Adapter == "" {
		add("bluetooth.adapter", "is required")
	}
	if c.Bluetooth.Name == "" {
		add("bluetooth.name", "is required")
	}
	if c.Foreground.Boost < -20 || c.Foreground.Boost > 19 {
		add("foreground.boost", "nice value %d out of range [-20, 19]", c.Foreground.Boost)
	}
	if b := c.Foreground.Base; b != nil && (*b < -20 || *b > 19) {
		add("foreground.base", "nice value %d out of range [-20, 19]", *b)
	}
	if c.KeepAlive.IntervalSec < 10 {
		add("keepalive.interval_sec", "must be at least 10, got %d", c.KeepAlive.IntervalSec)
	}
	if c.Repeat.DelayMs < 0 {
		add("repeat.delay_ms", "must not be negative")
	}
	if c.Repeat.IntervalMs < 50 {
		add("repeat.interval_ms", "must be at least 50, got %d", c.Repeat.IntervalMs)
	}
	if c.Profiles.Dir == "" {
		add("profiles.dir", "is required")
	}
	if c.Profiles.KeyFile == "" {
		add("profiles.key_file", "is required")
	}
	if c.Settings.Path == "" {
		add("settings.path", "is required")
	}
	if !oneOf(strings.ToLower(c.Logging.Level), validLevels) {
		add("logging.level", "must be one of %v, got %q", validLevels, c.Logging.Level)
	}
	if c.Logging.Format != "" && !oneOf(strings.ToLower(c.Logging.Format), validFormats) {
		add("logging.format", "must be one of %v, got %q", validFormats, c.Logging.Format)
	}
	if c.Logging.Output != "" && !oneOf(strings.ToLower(c.Logging.Output), validOutputs) {
		add("logging.output", "must be one of %v, got %q", validOutputs, c.Logging.Output)
	}
	if o := strings.ToLower(c.Logging.Output); (o == "file" || o == "both") && c.Logging.FilePath == "" {
		add("logging.file_path", "is required for output %q", c.Logging.Output)
	}
	if c.IPC.SocketPath == "" {
		add("ipc.socket_path", "is required")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
