package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "bluetooth", cfg.Connection.Mode)
	assert.Equal(t, "hci0", cfg.Bluetooth.Adapter)
	assert.Equal(t, 5*time.Minute, cfg.KeepAliveInterval())
	assert.Equal(t, time.Second, cfg.RepeatDelay())
	assert.Equal(t, 100*time.Millisecond, cfg.RepeatInterval())
}

func TestPathsFollowXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	assert.Equal(t, "/cfg/streampad/config.toml", ConfigPath())
	assert.Equal(t, "/data/streampad", DataDir())
	assert.Equal(t, "/run/user/1000/streampad.sock", SocketPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/pad")
	assert.Equal(t, "/home/pad/.config/streampad", ConfigDir())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "bluetooth", cfg.Connection.Mode)
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"config.toml": "[connection]\nmode = \"demo\"\n[keepalive]\nenabled = true\ninterval_sec = 60\n",
		"config.json": `{"connection": {"mode": "demo"}, "keepalive": {"enabled": true, "interval_sec": 60}}`,
		"config.yaml": "connection:\n  mode: demo\nkeepalive:\n  enabled: true\n  interval_sec: 60\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "demo", cfg.Connection.Mode)
			assert.True(t, cfg.KeepAlive.Enabled)
			assert.Equal(t, time.Minute, cfg.KeepAliveInterval())
			// Untouched sections keep their defaults.
			assert.Equal(t, "hci0", cfg.Bluetooth.Adapter)
		})
	}
}

func TestForegroundBaseOptional(t *testing.T) {
	assert.Nil(t, DefaultConfig().Foreground.Base)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[foreground]\nbase = 10\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Foreground.Base)
	assert.Equal(t, 10, *cfg.Foreground.Base)

	bad := 25
	cfg.Foreground.Base = &bad
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STREAMPAD_MODE", " Demo ")
	t.Setenv("STREAMPAD_LOG_LEVEL", "debug")
	t.Setenv("STREAMPAD_KEEPALIVE", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Connection.Mode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.KeepAlive.Enabled)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Connection.Mode = "wifi"
	cfg.Repeat.IntervalMs = 10
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = ""

	err := cfg.Validate()
	require.Error(t, err)
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	var fields []string
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"connection.mode", "repeat.interval_ms", "logging.file_path"}, fields)
	assert.True(t, strings.Contains(err.Error(), "connection.mode"))
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection]\nmode = \"serial\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "config"+ext)
			cfg := DefaultConfig()
			cfg.Connection.Mode = "demo"
			cfg.Repeat.IntervalMs = 250
			require.NoError(t, Save(cfg, path))

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "demo", got.Connection.Mode)
			assert.Equal(t, 250, got.Repeat.IntervalMs)
		})
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection]\nmode = \"bluetooth\"\n"), 0o644))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())
	defer l.Close()

	// A broken edit is reported and does not replace the config.
	require.NoError(t, os.WriteFile(path, []byte("[connection]\nmode = \"serial\"\n"), 0o644))
	select {
	case err := <-l.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload error reported")
	}
	assert.Equal(t, "bluetooth", l.Config().Connection.Mode)

	require.NoError(t, os.WriteFile(path, []byte("[connection]\nmode = \"demo\"\n"), 0o644))
	select {
	case c := <-changed:
		assert.Equal(t, "demo", c.Connection.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload")
	}
	assert.Equal(t, "demo", l.Config().Connection.Mode)
}
