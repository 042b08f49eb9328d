package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, ":4200", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FLOWSERVE_LOG_LEVEL", "debug")
	t.Setenv("FLOWSERVE_SERVER_ADDR", ":9999")
	t.Setenv("FLOWSERVE_RUNNER_MAX_CONCURRENCY", "4")
	t.Setenv("FLOWSERVE_RUNNER_CANCELLATION_GRACE_PERIOD", "2s")
	t.Setenv("FLOWSERVE_SERVER_API_TOKENS", "alpha,beta")
	t.Setenv("FLOWSERVE_RUNNER_API_TOKEN", "alpha")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Runner.MaxConcurrency)
	assert.Equal(t, 2*time.Second, cfg.Runner.CancellationGracePeriod)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Server.APITokens)
	assert.Equal(t, "alpha", cfg.Runner.APIToken)
}

func TestLoader_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	content := `
server:
  db_path: /tmp/test.db
runner:
  name: edge-1
  api_url: http://localhost:4200
  poll_interval: 3s
scheduler:
  max_scheduled_runs: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flowserve.yaml"), []byte(content), 0o644))

	loader := NewLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.Server.DBPath)
	assert.Equal(t, "edge-1", cfg.Runner.Name)
	assert.Equal(t, "http://localhost:4200", cfg.Runner.APIURL)
	assert.Equal(t, 3*time.Second, cfg.Runner.PollInterval)
	assert.Equal(t, 3, cfg.Scheduler.MaxScheduledRuns)
	assert.Equal(t, time.Hour, cfg.Scheduler.Horizon, "unset keys keep defaults")
	assert.NotEmpty(t, loader.ConfigFile())
}

func TestLoader_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: json\n"), 0o644))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_MissingExplicitFile(t *testing.T) {
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.Error(t, err)
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flowserve.yaml"), []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().Load()
	require.Error(t, err)
}
