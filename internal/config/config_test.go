package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "USD", cfg.Pricing.Currency)
	assert.Equal(t, 30*time.Minute, cfg.Matching.MaxLocationAge)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, "en", cfg.Maps.Language)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CHAUFFEUR_HTTP_ADDR", ":9090")
	t.Setenv("CHAUFFEUR_MATCHING_RADIUS_KM", "25")
	t.Setenv("CHAUFFEUR_MATCHING_MAX_LOCATION_AGE", "5m")
	t.Setenv("CHAUFFEUR_PRICING_CURRENCY", "EUR")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 25.0, cfg.Matching.RadiusKm)
	assert.Equal(t, 5*time.Minute, cfg.Matching.MaxLocationAge)
	assert.Equal(t, "EUR", cfg.Pricing.Currency)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chauffeur.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":7000"
logger:
  format: console
  level: debug
matching:
  limit: 10
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, 10, cfg.Matching.Limit)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.Pricing.Currency = "DOLLARS"
	bad.Matching.RadiusKm = -1
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pricing.currency")
	assert.Contains(t, err.Error(), "matching.radius_km")

	bad = cfg
	bad.Logger.Format = "xml"
	assert.Error(t, bad.Validate())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
