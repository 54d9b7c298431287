package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/tailexplorer/internal/socketrpc"
)

const (
	defaultServerURL       = "http://127.0.0.1:8000"
	defaultMaxLines        = 5000
	defaultRefreshInterval = 2 * time.Second
)

// cliConfig holds only TUI-relevant configuration.
type cliConfig struct {
	SocketPath      string        `mapstructure:"socket_path"`
	ServerURL       string        `mapstructure:"server_url"`
	Token           string        `mapstructure:"token"`
	MaxLines        int           `mapstructure:"max_lines"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	var cfg cliConfig

	v := viper.New()
	v.SetEnvPrefix("TAILEXPLORER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("socket_path", socketrpc.DefaultSocketPath())
	v.SetDefault("server_url", defaultServerURL)
	v.SetDefault("token", "")
	v.SetDefault("max_lines", defaultMaxLines)
	v.SetDefault("refresh_interval", defaultRefreshInterval)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("finding home directory: %w", err)
		}
		v.SetConfigFile(filepath.Join(home, ".config", "tailexplorer", "tui.yaml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if cfg.MaxLines <= 0 {
		return cfg, fmt.Errorf("invalid max_lines: %d", cfg.MaxLines)
	}

	return cfg, nil
}
