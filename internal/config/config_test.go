package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypher-asi/z-billing/internal/pricing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /tmp/z-billing
auth:
  service_api_key: svc-key
`)
	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 1<<20, cfg.Server.MaxBodyBytes)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout())
	assert.Equal(t, time.Hour, cfg.Subscriptions.SweepInterval)
	assert.Equal(t, 14*24*time.Hour, cfg.Subscriptions.PastDueGrace())
	assert.Equal(t, 1024, cfg.Analytics.QueueSize)
	assert.True(t, cfg.Observability.EnableMetrics)
}

func TestLoadMissingRequired(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9999"
`)
	_, err := Load(Options{ConfigFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ZBILLING_STORAGE_DATA_DIR")
	assert.Contains(t, err.Error(), "ZBILLING_AUTH_SERVICE_API_KEY")
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
  max_body_bytes: 2097152
  request_timeout_seconds: 10
  frontend_url: https://app.example.com
storage:
  data_dir: /var/lib/z-billing
auth:
  base_url: https://auth.example.com
  audience: z-billing
  service_api_key: svc-key
redis:
  url: redis://localhost:6379
payments:
  charge_url: https://payments.example.com/charges
  webhook_secret: whsec_pay
analytics:
  url: https://analytics.example.com/events
  max_retries: 5
  queue_size: 64
subscriptions:
  sweep_interval: 30m
  past_due_grace_days: 7
pricing:
  storage_gb_hour_credits: 1
  models:
    - provider: anthropic
      model: claude-3-7-sonnet
      input_credits_per_million: 300
      output_credits_per_million: 1500
`)
	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout())
	assert.Equal(t, "https://app.example.com", cfg.Server.FrontendURL)
	assert.Equal(t, 30*time.Minute, cfg.Subscriptions.SweepInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Subscriptions.PastDueGrace())
	assert.Equal(t, 5, cfg.Analytics.MaxRetries)

	rates := cfg.BuildPricing()
	assert.Equal(t, int64(1), rates.StorageGBHourCredits)
	entry, ok := rates.LLMPricing[pricing.ModelKey{Provider: "anthropic", Model: "claude-3-7-sonnet"}]
	require.True(t, ok)
	assert.Equal(t, int64(300), entry.InputCreditsPerMillion)
	// Built-in table stays intact underneath the overrides.
	_, ok = rates.LLMPricing[pricing.ModelKey{Provider: "openai", Model: "gpt-4o"}]
	assert.True(t, ok)
}

func TestValidateRejectsBadPricingEntry(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /tmp/z-billing
auth:
  service_api_key: svc-key
pricing:
  models:
    - provider: ""
      model: x
`)
	_, err := Load(Options{ConfigFile: path})
	assert.Error(t, err)
}
