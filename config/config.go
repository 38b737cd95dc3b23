package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ohlcv-engine/internal/indicator"
	"ohlcv-engine/internal/logger"
)

// Config holds all application configuration.
type Config struct {
	// Root for the cache, preferences and event log.
	DataDir string `yaml:"data_dir"`

	// Both listeners bind to loopback unless configured otherwise.
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	// Browser origins allowed besides the server's own, e.g.
	// "http://localhost:5173".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Concurrent command limit for the API.
	Workers int `yaml:"workers"`

	// Preferences go to Redis when Addr is set, else to JSON files.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Indicators indicator.Settings `yaml:"indicators"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{
		DataDir:     "data",
		HTTPAddr:    "127.0.0.1:8080",
		MetricsAddr: "127.0.0.1:9090",
		LogLevel:    "info",
		Workers:     4,
		Indicators:  indicator.DefaultSettings(),
	}
	return cfg
}

// Load reads config from an optional YAML file, then applies environment
// variable overrides, then validates. An empty path or a missing file means
// defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataDir = getEnv("FX_DATA_DIR", c.DataDir)
	c.HTTPAddr = getEnv("FX_HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = getEnv("FX_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("FX_LOG_LEVEL", c.LogLevel)
	c.Redis.Addr = getEnv("FX_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("FX_REDIS_PASSWORD", c.Redis.Password)
	if v := os.Getenv("FX_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	var err error
	if c.Workers, err = getEnvInt("FX_WORKERS", c.Workers); err != nil {
		return err
	}
	if c.Redis.DB, err = getEnvInt("FX_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Indicators.MAPeriod, err = getEnvInt("FX_MA_PERIOD", c.Indicators.MAPeriod); err != nil {
		return err
	}
	if c.Indicators.RSIPeriod, err = getEnvInt("FX_RSI_PERIOD", c.Indicators.RSIPeriod); err != nil {
		return err
	}
	if v := os.Getenv("FX_MACD"); v != "" {
		fast, slow, signal, err := ParseMACD(v)
		if err != nil {
			return err
		}
		c.Indicators.MACDFast, c.Indicators.MACDSlow, c.Indicators.MACDSignal = fast, slow, signal
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("config: data_dir is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CacheDir is where the per-file SQLite stores live.
func (c *Config) CacheDir() string { return filepath.Join(c.DataDir, "cache") }

// EventLogPath is the append-only event log.
func (c *Config) EventLogPath() string { return filepath.Join(c.DataDir, "logs", "events.log") }

// PrefsBackend names the preferences backend in use.
func (c *Config) PrefsBackend() string {
	if c.Redis.Addr != "" {
		return "redis"
	}
	return "file"
}

// ParseMACD parses "fast,slow,signal", e.g. "12,26,9".
func ParseMACD(s string) (fast, slow, signal int, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("config: FX_MACD must be fast,slow,signal, got %q", s)
	}
	var n [3]int
	for i, p := range parts {
		n[i], err = strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("config: FX_MACD: invalid number %q", p)
		}
	}
	return n[0], n[1], n[2], nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid integer %q", key, v)
	}
	return n, nil
}
