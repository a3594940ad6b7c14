// Package config loads the daemon configuration from TOML, JSON or YAML and
// reloads it when the file changes.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete daemon configuration.
type Config struct {
	Connection ConnectionConfig `toml:"connection" json:"connection" yaml:"connection"`
	Bluetooth  BluetoothConfig  `toml:"bluetooth" json:"bluetooth" yaml:"bluetooth"`
	Foreground ForegroundConfig `toml:"foreground" json:"foreground" yaml:"foreground"`
	KeepAlive  KeepAliveConfig  `toml:"keepalive" json:"keepalive" yaml:"keepalive"`
	Repeat     RepeatConfig     `toml:"repeat" json:"repeat" yaml:"repeat"`
	Profiles   ProfilesConfig   `toml:"profiles" json:"profiles" yaml:"profiles"`
	Settings   SettingsConfig   `toml:"settings" json:"settings" yaml:"settings"`
	Logging    LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
	IPC        IPCConfig        `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// ConnectionConfig selects the transport.
type ConnectionConfig struct {
	// Mode is "bluetooth", "usb" or "demo". A mode persisted in the settings
	// store takes precedence at startup.
	Mode string `toml:"mode" json:"mode" yaml:"mode"`
}

// BluetoothConfig describes the HID application registered with BlueZ.
type BluetoothConfig struct {
	// Adapter is the controller name, e.g. "hci0".
	Adapter     string `toml:"adapter" json:"adapter" yaml:"adapter"`
	Name        string `toml:"name" json:"name" yaml:"name"`
	Description string `toml:"description" json:"description" yaml:"description"`
	Provider    string `toml:"provider" json:"provider" yaml:"provider"`

	// Discoverable makes the adapter visible while the application is
	// registered so a new host can pair.
	Discoverable bool `toml:"discoverable" json:"discoverable" yaml:"discoverable"`
}

// ForegroundConfig controls priority elevation while sending.
type ForegroundConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	// Boost is the nice value while elevated, Base the one restored. An
	// unset Base restores the nice value the daemon was started with.
	Boost int  `toml:"boost" json:"boost" yaml:"boost"`
	Base  *int `toml:"base,omitempty" json:"base,omitempty" yaml:"base,omitempty"`
}

// KeepAliveConfig sends a harmless key periodically to keep the host awake.
type KeepAliveConfig struct {
	Enabled     bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	IntervalSec int  `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`
}

// RepeatConfig is the long-press repetition timing.
type RepeatConfig struct {
	DelayMs    int `toml:"delay_ms" json:"delay_ms" yaml:"delay_ms"`
	IntervalMs int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`
}

// ProfilesConfig locates the sealed profile documents.
type ProfilesConfig struct {
	Dir     string `toml:"dir" json:"dir" yaml:"dir"`
	KeyFile string `toml:"key_file" json:"key_file" yaml:"key_file"`
}

// SettingsConfig locates the settings database.
type SettingsConfig struct {
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `toml:"level" json:"level" yaml:"level"`
	Format   string `toml:"format" json:"format" yaml:"format"`
	Output   string `toml:"output" json:"output" yaml:"output"`
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// IPCConfig holds the control socket configuration.
type IPCConfig struct {
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{Mode: "bluetooth"},
		Bluetooth: BluetoothConfig{
			Adapter:      "hci0",
			Name:         "StreamPad",
			Description:  "Bluetooth Shortcut Pad",
			Provider:     "StreamPad",
			Discoverable: true,
		},
		Foreground: ForegroundConfig{Enabled: true, Boost: -5},
		KeepAlive:  KeepAliveConfig{Enabled: false, IntervalSec: 300},
		Repeat:     RepeatConfig{DelayMs: 1000, IntervalMs: 100},
		Profiles: ProfilesConfig{
			Dir:     filepath.Join(DataDir(), "profiles"),
			KeyFile: filepath.Join(DataDir(), "profile.key"),
		},
		Settings: SettingsConfig{Path: filepath.Join(DataDir(), "settings.db")},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		IPC: IPCConfig{SocketPath: SocketPath()},
	}
}

// KeepAliveInterval returns the keep-alive period.
func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAlive.IntervalSec) * time.Second
}

// RepeatDelay returns the long-press delay before the first repeat.
func (c *Config) RepeatDelay() time.Duration {
	return time.Duration(c.Repeat.DelayMs) * time.Millisecond
}

// RepeatInterval returns the long-press repeat period.
func (c *Config) RepeatInterval() time.Duration {
	return time.Duration(c.Repeat.IntervalMs) * time.Millisecond
}

// ApplyEnvOverrides applies STREAMPAD_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("STREAMPAD_MODE"); v != "" {
		c.Connection.Mode = v
	}
	if v := os.Getenv("STREAMPAD_ADAPTER"); v != "" {
		c.Bluetooth.Adapter = v
	}
	if v := os.Getenv("STREAMPAD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STREAMPAD_SOCKET"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("STREAMPAD_KEEPALIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.KeepAlive.Enabled = b
		}
	}
	c.Connection.Mode = strings.ToLower(strings.TrimSpace(c.Connection.Mode))
}

// ConfigDir is $XDG_CONFIG_HOME/streampad.
func ConfigDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "streampad")
}

// ConfigPath is the default config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DataDir is $XDG_DATA_HOME/streampad.
func DataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(dir, "streampad")
}

// SocketPath is the default control socket.
func SocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, "streampad.sock")
}
