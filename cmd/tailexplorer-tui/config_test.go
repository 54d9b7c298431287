package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCLIConfigDefaults(t *testing.T) {
	cfg, err := loadCLIConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultServerURL, cfg.ServerURL)
	assert.Equal(t, defaultMaxLines, cfg.MaxLines)
	assert.Equal(t, defaultRefreshInterval, cfg.RefreshInterval)
	assert.NotEmpty(t, cfg.SocketPath)
}

func TestLoadCLIConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tui.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: http://logs:9000\nmax_lines: 50\nrefresh_interval: 500ms\n"), 0o600))
	t.Setenv("TAILEXPLORER_TOKEN", "pw")

	cfg, err := loadCLIConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://logs:9000", cfg.ServerURL)
	assert.Equal(t, 50, cfg.MaxLines)
	assert.Equal(t, 500*time.Millisecond, cfg.RefreshInterval)
	assert.Equal(t, "pw", cfg.Token)
}

func TestLoadCLIConfigRejectsBadMaxLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tui.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_lines: 0\n"), 0o600))
	_, err := loadCLIConfig(path)
	assert.Error(t, err)
}
