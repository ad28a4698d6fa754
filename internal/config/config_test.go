package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
storage:
  dir: /tmp/ohjaamo

backend:
  kind: aws
  region: eu-west-1
  profile: production

executor:
  workers: 8
  call_timeout: 45s
  sweep_interval: 10s

reconciler:
  interval: 2m
  scope_kind: tenant
  scopes: ["acme", "globex"]

status:
  burst_window: 90s

policy:
  dir: /etc/ohjaamo/policies

otel:
  endpoint: localhost:4317
  insecure: true
  service_name: ohjaamo
  traces:
    enabled: true
    sample_rate: 1.0
  metrics:
    enabled: true

log:
  level: debug
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/tmp/ohjaamo", cfg.Storage.Dir)
	assert.Equal(t, "aws", cfg.Backend.Kind)
	assert.Equal(t, "eu-west-1", cfg.Backend.Region)
	assert.Equal(t, "production", cfg.Backend.Profile)
	assert.Equal(t, 8, cfg.Executor.Workers)
	assert.Equal(t, 45*time.Second, cfg.Executor.CallTimeout)
	assert.Equal(t, 10*time.Second, cfg.Executor.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.Reconciler.Interval)
	assert.Equal(t, []string{"acme", "globex"}, cfg.Reconciler.Scopes)
	assert.Equal(t, 90*time.Second, cfg.Status.BurstWindow)
	assert.Equal(t, "/etc/ohjaamo/policies", cfg.Policy.Dir)
	assert.Equal(t, "localhost:4317", cfg.OTEL.Endpoint)
	assert.True(t, cfg.OTEL.Insecure)
	assert.Equal(t, "ohjaamo", cfg.OTEL.ServiceName)
	assert.True(t, cfg.OTEL.Traces.Enabled)
	assert.Equal(t, 1.0, cfg.OTEL.Traces.SampleRate)
	assert.True(t, cfg.OTEL.Metrics.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Defaults(t *testing.T) {
	content := `
backend:
  kind: memory
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ohjaamo", cfg.Storage.Dir)
	assert.Equal(t, 4, cfg.Executor.Workers)
	assert.Equal(t, 30*time.Second, cfg.Executor.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Executor.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Reconciler.Interval)
	assert.Equal(t, "tenant", cfg.Reconciler.ScopeKind)
	assert.Equal(t, time.Minute, cfg.Status.BurstWindow)
	assert.Equal(t, "ohjaamo", cfg.OTEL.ServiceName)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	content := `
backend: [kind: broken
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := `
reconciler:
  interval: not-a-duration
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_Validate_AWSNeedsRegion(t *testing.T) {
	cfg := loadDefault(t)
	cfg.Backend.Kind = "aws"
	cfg.Backend.Region = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region required")
}

func TestConfig_Validate_UnknownBackend(t *testing.T) {
	cfg := loadDefault(t)
	cfg.Backend.Kind = "azure"

	err := cfg.Validate()
	require.Error(t, err)
}

func TestConfig_Validate_BadSampleRate(t *testing.T) {
	cfg := loadDefault(t)
	cfg.OTEL.Traces.SampleRate = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_rate")
}

func TestConfig_Validate_Valid(t *testing.T) {
	cfg := loadDefault(t)
	require.NoError(t, cfg.Validate())
}

func loadDefault(t *testing.T) *Config {
	t.Helper()
	path := writeTempConfig(t, "backend:\n  kind: memory\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	return cfg
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}
