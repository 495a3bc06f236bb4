package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every XDG lookup at a temp dir so a developer's own
// config file never leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	return home
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx, "")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "https://demo.docusign.net/restapi", cfg.ESign.BasePath)
		assert.Equal(t, 30*time.Second, cfg.ESign.Timeout)

		assert.Equal(t, "./downloads", cfg.Download.Folder)
		assert.Equal(t, 3, cfg.Download.MaxConcurrent)
		assert.Equal(t, "pt_BR", cfg.Download.Language)
		assert.Equal(t, time.Second, cfg.Download.UnitPause)
		assert.Equal(t, 500*time.Millisecond, cfg.Download.CriteriaPause)
		assert.Equal(t, 100, cfg.Download.PageSize)

		assert.Equal(t, 300, cfg.RateLimit.RequestsPerMinute)
		assert.Equal(t, 200*time.Millisecond, cfg.RateLimit.Spacing)
		assert.Equal(t, time.Minute, cfg.RateLimit.Window)
		assert.Equal(t, time.Minute, cfg.RateLimit.StallWait)

		assert.True(t, cfg.Store.Enabled)
		assert.Equal(t, "libsql", cfg.Store.Driver)
		assert.Equal(t, DefaultStorePath(), cfg.Store.Path)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.False(t, cfg.Monitor.Enabled)
		assert.Equal(t, "127.0.0.1:8089", cfg.Monitor.Addr)

		require.NoError(t, cfg.Validate())
	})

	t.Run("ConfigFile", func(t *testing.T) {
		home := isolate(t)
		path := filepath.Join(home, "signcrate.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
esign:
  integration_key: ik-file
  account_id: acct-file
download:
  folder: /tmp/envelopes
  max_concurrent: 5
rate_limit:
  requests_per_minute: 120
  stall_wait: 90s
`), 0o600))

		cfg, err := Load(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "ik-file", cfg.ESign.IntegrationKey)
		assert.Equal(t, "acct-file", cfg.ESign.AccountID)
		assert.Equal(t, "/tmp/envelopes", cfg.Download.Folder)
		assert.Equal(t, 5, cfg.Download.MaxConcurrent)
		assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
		assert.Equal(t, 90*time.Second, cfg.RateLimit.StallWait)
		// untouched keys keep their defaults
		assert.Equal(t, "pt_BR", cfg.Download.Language)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		home := isolate(t)
		_, err := Load(ctx, filepath.Join(home, "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		home := isolate(t)
		path := filepath.Join(home, "signcrate.yaml")
		require.NoError(t, os.WriteFile(path, []byte("download:\n  max_concurrent: 5\n"), 0o600))

		t.Setenv("SIGNCRATE_MAX_CONCURRENT", "8")
		t.Setenv("SIGNCRATE_LOG_LEVEL", "debug")
		t.Setenv("SIGNCRATE_DB_ENABLED", "false")
		t.Setenv("SIGNCRATE_RATE_STALL_WAIT", "2m")

		cfg, err := Load(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Download.MaxConcurrent)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.False(t, cfg.Store.Enabled)
		assert.Equal(t, 2*time.Minute, cfg.RateLimit.StallWait)
	})

	t.Run("RuntimeOverridesWin", func(t *testing.T) {
		isolate(t)
		t.Setenv("SIGNCRATE_DOWNLOAD_FOLDER", "/from/env")

		cfg, err := Load(ctx, "", map[string]any{
			"download": map[string]any{"folder": "/from/flag"},
		})
		require.NoError(t, err)
		assert.Equal(t, "/from/flag", cfg.Download.Folder)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cancelled, "")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestGetConfig(t *testing.T) {
	isolate(t)

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Same(t, cfg, retrieved)

	reloaded, err := Load(context.Background(), "", map[string]any{
		"download": map[string]any{"max_concurrent": 9},
	})
	require.NoError(t, err)
	assert.Equal(t, 9, GetConfig().Download.MaxConcurrent)
	assert.Same(t, reloaded, GetConfig())
}

func TestEnvSpecs(t *testing.T) {
	names := make(map[string]bool)
	for _, spec := range getEnvSpecs() {
		assert.NotEmpty(t, spec.Path, spec.Name)
		names[spec.Name] = true
	}

	for _, name := range []string{
		"SIGNCRATE_INTEGRATION_KEY",
		"SIGNCRATE_USER_ID",
		"SIGNCRATE_ACCOUNT_ID",
		"SIGNCRATE_PRIVATE_KEY_PATH",
		"SIGNCRATE_DOWNLOAD_FOLDER",
		"SIGNCRATE_REQUESTS_PER_MINUTE",
		"SIGNCRATE_LOG_LEVEL",
		"SIGNCRATE_DB_PATH",
	} {
		assert.True(t, names[name], "%s must be mapped", name)
	}
}

func TestValidate(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)

	broken := *cfg
	broken.RateLimit.RequestsPerMinute = 0
	broken.Download.MaxConcurrent = 0
	err = broken.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requests_per_minute")
	assert.Contains(t, err.Error(), "max_concurrent")

	err = cfg.ValidateRemote()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "esign.integration_key")
	assert.Contains(t, err.Error(), "esign.user_id")

	complete := *cfg
	complete.ESign.IntegrationKey = "ik"
	complete.ESign.UserID = "user"
	complete.ESign.AccountID = "acct"
	require.NoError(t, complete.ValidateRemote())

	var missing *Config
	require.Error(t, missing.Validate())
}
