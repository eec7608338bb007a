package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	config, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "localhost:8080", config.Server.Addr())
	require.Equal(t, 2*time.Second, config.Poller.Interval)
	require.Equal(t, 10*time.Second, config.Poller.MaxBackoff)
	require.Equal(t, 300, config.Poller.MaxAttempts)
	require.Empty(t, config.Storage.PostgresDSN)
}

func TestLoadReadsExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckwork.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
upstream:
  base_url: https://tasks.internal:8443
  timeout: 5s
poller:
  interval: 500ms
  max_backoff: 4s
  max_attempts: 20
`), 0o644))

	config, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, config.Server.Port)
	require.Equal(t, "https://tasks.internal:8443", config.Upstream.BaseURL)
	require.Equal(t, 5*time.Second, config.Upstream.Timeout)
	require.Equal(t, 500*time.Millisecond, config.Poller.Interval)
	require.Equal(t, 20, config.Poller.MaxAttempts)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DECKWORK_SERVER_PORT", "7070")
	t.Setenv("DECKWORK_POLLER_MAX_ATTEMPTS", "12")

	config, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, config.Server.Port)
	require.Equal(t, 12, config.Poller.MaxAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"missing upstream url", func(c *Config) { c.Upstream.BaseURL = "" }},
		{"zero interval", func(c *Config) { c.Poller.Interval = 0 }},
		{"backoff below interval", func(c *Config) { c.Poller.MaxBackoff = time.Second; c.Poller.Interval = 2 * time.Second }},
		{"zero attempts", func(c *Config) { c.Poller.MaxAttempts = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := Default()
			tc.mutate(config)
			require.Error(t, config.Validate())
		})
	}
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckwork.yaml")

	require.NoError(t, WriteDefault(path))

	// The template itself must load cleanly.
	config, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, config.Server.Port)

	require.Error(t, WriteDefault(path))
}

func TestRenderMasksSecrets(t *testing.T) {
	config := Default()
	config.Upstream.APIKey = "sk-verysecretkey-abcd"

	out, err := config.Render()
	require.NoError(t, err)
	require.NotContains(t, out, "sk-verysecretkey")
	require.Contains(t, out, "abcd")
	require.Contains(t, out, "base_url: http://localhost:9090")
}
