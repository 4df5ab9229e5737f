package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/cost"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 4, cfg.Matcher.Workers)
	assert.Equal(t, 3, cfg.Matcher.RetryAttempts)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Perplexity.BaseURL)
	assert.Equal(t, "sonar", cfg.Perplexity.Model)
	assert.Equal(t, "low", cfg.Perplexity.SearchContextSize)
	assert.InDelta(t, 1.0, cfg.Perplexity.RequestsPerSecond, 0.001)
	assert.InDelta(t, 20.0, cfg.Usage.MonthlyCostLimit, 0.001)
	assert.Equal(t, int64(5000), cfg.Usage.MonthlyCallLimit)
	assert.InDelta(t, 0.004, cfg.Usage.CostPerCall, 0.0001)
	assert.Equal(t, cost.DefaultRates(), cfg.Pricing)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.InDelta(t, 0.8, cfg.Monitoring.BudgetAlertRatio, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: saleslist.db
log:
  level: debug
  format: console
server:
  port: 9090
  allowed_origins:
    - https://app.example.com
matcher:
  workers: 8
pricing:
  perplexity:
    sonar-reasoning:
      input: 1.0
      output: 5.0
      request_fee:
        low: 0.005
        medium: 0.008
        high: 0.012
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "saleslist.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8, cfg.Matcher.Workers)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Matcher.RetryAttempts)

	assert.Equal(t, []string{"sonar", "sonar-pro", "sonar-reasoning"}, cfg.Pricing.Models())
	calc := cost.NewCalculator(cfg.Pricing)
	got, ok := calc.Estimate("sonar-reasoning", 0, 1_000_000, cost.ContextHigh)
	require.True(t, ok)
	assert.InDelta(t, 5.012, got, 1e-9)
}

func TestLoadRejectsNegativePricing(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
pricing:
  perplexity:
    sonar:
      input: -1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative token price")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SALESLIST_STORE_DRIVER", "postgres")
	t.Setenv("SALESLIST_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SALESLIST_SERVER_PORT", "3000")
	t.Setenv("SALESLIST_USAGE_MONTHLY_CALL_LIMIT", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, int64(10), cfg.Usage.MonthlyCallLimit)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/saleslist"
	cfg.Server.Port = 8080
	cfg.Matcher.Workers = 4
	cfg.Matcher.RetryAttempts = 3
	cfg.Perplexity.Key = "pplx-key"
	cfg.Perplexity.SearchContextSize = "low"
	cfg.Perplexity.RequestsPerSecond = 1
	cfg.Usage.MonthlyCostLimit = 20
	cfg.Usage.MonthlyCallLimit = 5000
	cfg.Usage.CostPerCall = 0.004
	return cfg
}

func TestValidateAllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "migrate", "match", "enrich"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")

	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "dev.db"
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_BudgetAlertRatio(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.BudgetAlertRatio = 1.5

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.budget_alert_ratio must be between 0 and 1")
	assert.NoError(t, cfg.Validate("match"))
}

func TestValidateMatcherBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Matcher.Workers = 0
	err := cfg.Validate("match")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matcher.workers must be between 1 and 64")

	cfg.Matcher.Workers = 65
	assert.Error(t, cfg.Validate("serve"))

	cfg.Matcher.Workers = 64
	cfg.Matcher.RetryAttempts = 0
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matcher.retry_attempts")
}

func TestValidateEnrich(t *testing.T) {
	cfg := validDefaults()
	cfg.Perplexity.Key = ""
	cfg.Perplexity.SearchContextSize = "huge"
	cfg.Perplexity.RequestsPerSecond = 0

	err := cfg.Validate("enrich")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perplexity.key is required")
	assert.Contains(t, err.Error(), "search_context_size")
	assert.Contains(t, err.Error(), "requests_per_second")

	// Enrichment settings don't matter to the API server.
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
