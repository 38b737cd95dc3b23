package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcv-engine/internal/indicator"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FX_DATA_DIR", "FX_HTTP_ADDR", "FX_METRICS_ADDR", "FX_LOG_LEVEL",
		"FX_REDIS_ADDR", "FX_REDIS_PASSWORD", "FX_REDIS_DB", "FX_WORKERS",
		"FX_MA_PERIOD", "FX_RSI_PERIOD", "FX_MACD", "FX_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, indicator.DefaultSettings(), cfg.Indicators)
	assert.Equal(t, "file", cfg.PrefsBackend())
	assert.Equal(t, filepath.Join("data", "cache"), cfg.CacheDir())
	assert.Equal(t, filepath.Join("data", "logs", "events.log"), cfg.EventLogPath())
}

func TestLoad_MissingFileIsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DataDir)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/fx
workers: 8
redis:
  addr: localhost:6379
allowed_origins:
  - http://localhost:3000
indicators:
  ma_period: 50
`), 0o644))

	t.Setenv("FX_WORKERS", "2")
	t.Setenv("FX_MACD", "5, 35, 5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/fx", cfg.DataDir)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 2, cfg.Workers, "env wins over file")
	assert.Equal(t, "redis", cfg.PrefsBackend())
	assert.Equal(t, 50, cfg.Indicators.MAPeriod)
	assert.Equal(t, 14, cfg.Indicators.RSIPeriod, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.Indicators.MACDFast)
	assert.Equal(t, 35, cfg.Indicators.MACDSlow)
	assert.Equal(t, 5, cfg.Indicators.MACDSignal)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"bad workers":   {"FX_WORKERS": "many"},
		"zero workers":  {"FX_WORKERS": "0"},
		"bad level":     {"FX_LOG_LEVEL": "loud"},
		"bad macd":      {"FX_MACD": "12,26"},
		"inverted macd": {"FX_MACD": "26,12,9"},
		"zero ma":       {"FX_MA_PERIOD": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestParseMACD(t *testing.T) {
	f, s, sig, err := ParseMACD("12,26,9")
	require.NoError(t, err)
	assert.Equal(t, []int{12, 26, 9}, []int{f, s, sig})

	_, _, _, err = ParseMACD("a,b,c")
	assert.Error(t, err)
}

func TestLoad_AllowedOriginsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FX_ALLOWED_ORIGINS", " http://localhost:5173 , ,https://fx.local ")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "https://fx.local"}, cfg.AllowedOrigins)
}
