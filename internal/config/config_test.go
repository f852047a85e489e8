package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ".georate", cfg.Data.Dir)
	assert.Equal(t, "https://api.census.gov", cfg.Census.ACSBaseURL)
	assert.Equal(t, "acs/acs5", cfg.Census.Dataset)
	assert.Equal(t, "B01003_001E", cfg.Census.Variable)
	assert.Equal(t, 2023, cfg.Census.Year)
	assert.InDelta(t, 2.0, cfg.Census.RateLimitRPS, 0.001)
	assert.Equal(t, "EPSG:4326", cfg.Pipeline.InputCRS)
	assert.Equal(t, "EPSG:4269", cfg.Pipeline.TargetCRS)
	assert.Equal(t, "longitude", cfg.Pipeline.XColumn)
	assert.Equal(t, "latitude", cfg.Pipeline.YColumn)
	assert.InDelta(t, 1000, cfg.Pipeline.Scale, 0.001)
	assert.Equal(t, "tract_rates", cfg.PostGIS.Table)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtemp(t)

	yaml := `
data:
  dir: /var/lib/georate
census:
  api_key: secret
  year: 2021
log:
  level: debug
  format: console
server:
  addr: ":9090"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/georate", cfg.Data.Dir)
	assert.Equal(t, "secret", cfg.Census.APIKey)
	assert.Equal(t, 2021, cfg.Census.Year)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	// Defaults still apply for unset values
	assert.Equal(t, "acs/acs5", cfg.Census.Dataset)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chtemp(t)

	yaml := `
log:
  level: debug
census:
  year: 2021
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEORATE_LOG_LEVEL", "warn")
	t.Setenv("GEORATE_CENSUS_YEAR", "2022")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2022, cfg.Census.Year)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)

	t.Setenv("GEORATE_SERVER_ADDR", ":3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.Addr)
}

func TestStorePath(t *testing.T) {
	cfg := &Config{}
	cfg.Data.Dir = "/data"
	assert.Equal(t, filepath.Join("/data", "georate.db"), cfg.StorePath())

	cfg.Store.Path = "/elsewhere/cache.db"
	assert.Equal(t, "/elsewhere/cache.db", cfg.StorePath())
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Pipeline.InputCRS = "EPSG:4326"
	cfg.Pipeline.TargetCRS = "EPSG:4269"
	cfg.Pipeline.Scale = 1000
	cfg.Server.Addr = ":8080"
	cfg.PostGIS.DatabaseURL = "postgres://localhost/gis"
	cfg.PostGIS.Table = "tract_rates"
	return cfg
}

func TestValidateRun(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))

	cfg.Pipeline.InputCRS = "EPSG:9999"
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input_crs")

	cfg = validDefaults()
	cfg.Pipeline.Scale = 0
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scale must be > 0")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Addr = ""
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.addr")
}

func TestValidatePgload(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("pgload"))

	cfg.PostGIS.DatabaseURL = ""
	err := cfg.Validate("pgload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgis.database_url")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
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
