// Package config loads the application configuration from YAML, layering
// file values over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantlab/papertrade/internal/backtest"
	"github.com/quantlab/papertrade/internal/engine"
	"github.com/quantlab/papertrade/internal/market"
	"github.com/quantlab/papertrade/internal/runner"
)

// Config is the full application configuration.
type Config struct {
	Server   Server          `yaml:"server"`
	Engine   engine.Config   `yaml:"engine"`
	Runner   Runner          `yaml:"runner"`
	Feed     Feed            `yaml:"feed"`
	Cache    Cache           `yaml:"cache"`
	Database Database        `yaml:"database"`
	Audit    Audit           `yaml:"audit"`
	Backtest backtest.Config `yaml:"backtest"`
	Logging  Logging         `yaml:"logging"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr                  string `yaml:"addr"`
	ReadTimeoutSeconds    int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds   int    `yaml:"write_timeout_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// Runner configures the live strategy loop. Durations are plain seconds so
// the YAML stays numeric.
type Runner struct {
	Strategy            string      `yaml:"strategy"`
	Symbols             []string    `yaml:"symbols"`
	IntervalSeconds     int         `yaml:"interval_seconds"`
	DataPeriod          string      `yaml:"data_period"`
	DataInterval        string      `yaml:"data_interval"`
	Pairs               [][2]string `yaml:"pairs"`
	OptimizedParamsPath string      `yaml:"optimized_params_path"`
}

// RunnerConfig converts to the runner package's config.
func (r Runner) RunnerConfig() runner.Config {
	return runner.Config{
		Symbols:             r.Symbols,
		Interval:            time.Duration(r.IntervalSeconds) * time.Second,
		DataPeriod:          r.DataPeriod,
		DataInterval:        r.DataInterval,
		Pairs:               r.Pairs,
		OptimizedParamsPath: r.OptimizedParamsPath,
	}
}

// Feed configures the outbound market-data client.
type Feed struct {
	BaseURL               string  `yaml:"base_url"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`
	Burst                 int     `yaml:"burst"`
}

// FeedConfig converts to the market package's config.
func (f Feed) FeedConfig() market.FeedConfig {
	return market.FeedConfig{
		BaseURL:           f.BaseURL,
		RequestTimeout:    time.Duration(f.RequestTimeoutSeconds) * time.Second,
		RequestsPerSecond: f.RequestsPerSecond,
		Burst:             f.Burst,
	}
}

// Cache configures the optional Redis bar cache.
type Cache struct {
	Enabled         bool   `yaml:"enabled"`
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	BarTTLSeconds   int    `yaml:"bar_ttl_seconds"`
	PriceTTLSeconds int    `yaml:"price_ttl_seconds"`
}

// CacheConfig converts to the market package's config.
func (c Cache) CacheConfig() market.CacheConfig {
	return market.CacheConfig{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		BarTTL:   time.Duration(c.BarTTLSeconds) * time.Second,
		PriceTTL: time.Duration(c.PriceTTLSeconds) * time.Second,
	}
}

// Database configures optional PostgreSQL persistence.
type Database struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Audit configures the optional trade audit log.
type Audit struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Logging configures zerolog output.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:                  ":8000",
			ReadTimeoutSeconds:    15,
			WriteTimeoutSeconds:   30,
			RequestTimeoutSeconds: 25,
		},
		Engine: engine.DefaultConfig(),
		Runner: Runner{
			Strategy:        "simple_ma",
			Symbols:         []string{"AAPL", "TSLA", "GOOGL"},
			IntervalSeconds: 60,
			DataPeriod:      "1mo",
			DataInterval:    "1h",
		},
		Feed: Feed{
			BaseURL:               market.DefaultFeedConfig().BaseURL,
			RequestTimeoutSeconds: 10,
			RequestsPerSecond:     2,
			Burst:                 4,
		},
		Cache: Cache{
			Addr:            "localhost:6379",
			BarTTLSeconds:   300,
			PriceTTLSeconds: 5,
		},
		Audit: Audit{
			Enabled: true,
			Dir:     "logs",
		},
		Backtest: backtest.DefaultConfig(),
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the config file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the components cannot run with.
func (c Config) Validate() error {
	if c.Engine.InitialCapital <= 0 {
		return fmt.Errorf("engine.initial_capital must be positive, got %v", c.Engine.InitialCapital)
	}
	if c.Engine.CommissionPct < 0 || c.Engine.SlippagePct < 0 {
		return fmt.Errorf("commission and slippage percentages must be non-negative")
	}
	if c.Runner.IntervalSeconds <= 0 {
		return fmt.Errorf("runner.interval_seconds must be positive, got %d", c.Runner.IntervalSeconds)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.enabled")
	}
	return nil
}
