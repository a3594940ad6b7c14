package main

import (
	"github.com/mil-ad/streampad/internal/config"
)

// clientSocket finds the daemon socket for CLI commands: STREAMPAD_SOCKET,
// then the config file, then the default location. A broken config file is
// not fatal for the client.
func clientSocket(configPath string) string {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.DefaultConfig()
		cfg.ApplyEnvOverrides()
	}
	if cfg.IPC.SocketPath == "" {
		return config.SocketPath()
	}
	return cfg.IPC.SocketPath
}
