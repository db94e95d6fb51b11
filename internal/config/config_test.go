package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/services/commission"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, LeadStorePrimary, cfg.Store.LeadStore)
	assert.Equal(t, int64(3500), cfg.Engine.CapBps)
	assert.Equal(t, 3, cfg.Engine.LeadCapacity)
	assert.Equal(t, 5, cfg.Engine.MatchLimit)
	assert.Equal(t, 24*time.Hour, cfg.Engine.IdempotencyTTL)
	assert.Equal(t, "@every 1m", cfg.Engine.PoolStatsSchedule)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Payments.Sandbox())

	calc, err := cfg.Engine.Calculator()
	require.NoError(t, err)
	assert.Equal(t, int64(3500), calc.CapBps())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AUTH_JWT_SECRET=from-file\nENGINE_LEAD_CAPACITY=4\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("AUTH_JWT_SECRET")
		os.Unsetenv("ENGINE_LEAD_CAPACITY")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 4, cfg.Engine.LeadCapacity)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":         {"AUTH_JWT_SECRET": ""},
		"postgres without dsn":   {"STORE_BACKEND": "postgres"},
		"unknown backend":        {"STORE_BACKEND": "mongo"},
		"supabase without creds": {"LEAD_STORE": "supabase"},
		"cap above whole":        {"ENGINE_CAP_BPS": "10001"},
		"zero capacity":          {"ENGINE_LEAD_CAPACITY": "0"},
		"gateway without secret": {"PAYMENT_GATEWAY_URL": "https://pay.example.com"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("AUTH_JWT_SECRET", "secret")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestRatesFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cap_bps: 4000
match_limit: 8
tiers:
  gold: {direct_bps: 3200, override_bps: 600}
`), 0o600))
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("ENGINE_RATES_FILE", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), cfg.Engine.CapBps)
	assert.Equal(t, 8, cfg.Engine.MatchLimit)
	assert.Equal(t, 3, cfg.Engine.LeadCapacity)
	assert.Equal(t, int64(3200), cfg.Engine.Rates[domain.TierGold].DirectBps)
	assert.Equal(t, int64(2500), cfg.Engine.Rates[domain.TierBronze].DirectBps)
}

func TestRatesFileUnknownTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  platinum: {direct_bps: 1}\n"), 0o600))
	_, err := LoadRatesFile(path)
	assert.Error(t, err)
}

func TestOverrideWithoutDirectRejected(t *testing.T) {
	e := EngineConfig{CapBps: 3500, LeadCapacity: 3, MatchLimit: 5, Rates: commission.RateTable{
		domain.TierGold: {DirectBps: 0, OverrideBps: 100},
	}}
	assert.Error(t, e.Validate())
}

func TestAllowedOrigins(t *testing.T) {
	s := ServerConfig{CORSOrigins: " https://a.example.com, ,https://b.example.com"}
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, s.AllowedOrigins())
}
