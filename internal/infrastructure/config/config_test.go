package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evenstad/reconcile-backend/internal/domain/matcher"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "/var/lib/reconcile/prod.db")

	path := writeConfig(t, `
storage:
  database_path: ${TEST_DB_PATH}
server:
  port: 9090
  allowed_origins:
    - https://app.example.com
pipeline:
  workers: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/reconcile/prod.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := LoadFromEnv()
	assert.Equal(t, "reconcile.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("RECONCILE_PORT", "9999")
	t.Setenv("RECONCILE_WORKERS", "2")

	cfg := LoadFromEnv()
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
}

func TestLoadOrEnvWithPath_FallsBack(t *testing.T) {
	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NotNil(t, cfg)
	assert.Equal(t, 85, cfg.Defaults.ConfidenceThreshold)
}

func TestTenant_LayeredMerge(t *testing.T) {
	cfg := &Config{
		Defaults: TenantConfig{
			ConfidenceThreshold: 90,
			BankAccount:         "1930",
		},
		Tenants: map[string]TenantConfig{
			"tenant-strict": {ConfidenceThreshold: 95},
			"tenant-sweep":  {OverpaymentAutoSearch: true},
		},
	}

	t.Run("unknown tenant gets configured defaults", func(t *testing.T) {
		tc := cfg.Tenant("tenant-other")
		assert.Equal(t, 90, tc.ConfidenceThreshold)
		assert.Equal(t, "1930", tc.BankAccount)
		assert.Equal(t, "2400", tc.PayableAccount, "built-in default survives the merge")
	})

	t.Run("tenant override wins", func(t *testing.T) {
		tc := cfg.Tenant("tenant-strict")
		assert.Equal(t, 95, tc.ConfidenceThreshold)
		assert.Equal(t, "1930", tc.BankAccount)
	})

	t.Run("overpayment policy is opt-in", func(t *testing.T) {
		assert.False(t, cfg.Tenant("tenant-strict").OverpaymentAutoSearch)
		assert.True(t, cfg.Tenant("tenant-sweep").OverpaymentAutoSearch)
	})
}

func TestPriority_HighestMatchingFloorWins(t *testing.T) {
	tc := DefaultTenantConfig()

	assert.Equal(t, 1, tc.Priority(50_00))
	assert.Equal(t, 2, tc.Priority(10_000_00))
	assert.Equal(t, 3, tc.Priority(250_000_00))
	assert.Equal(t, 3, tc.Priority(-250_000_00), "sign does not change priority")
}

func TestMatcherConfig_AppliesOverrides(t *testing.T) {
	tc := DefaultTenantConfig()
	tc.DateWindowDays = 90
	tc.AmountTolerance = 500
	tc.Weights = matcher.Weights{Amount: 1}

	mc := tc.MatcherConfig()
	assert.Equal(t, 90, mc.DateWindowDays)
	assert.Equal(t, int64(500), mc.AmountToleranceMinor)
	assert.Equal(t, matcher.Weights{Amount: 1}, mc.Weights)

	zero := TenantConfig{}
	mc = zero.MatcherConfig()
	assert.Equal(t, matcher.DefaultConfig().DateWindowDays, mc.DateWindowDays, "zero values keep matcher defaults")
}
