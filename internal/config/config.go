// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nickollio28/algorithmic-trading-bot/internal/risk"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Market describes the historical candle provider and optional live quote stream.
type Market struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	Resolution   string `yaml:"resolution"`
	LookbackBars int    `yaml:"lookback_bars"`
	StreamURL    string `yaml:"stream_url"`
}

// Broker describes the order submission endpoint.
type Broker struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Predictor describes the optional model-serving collaborator.
type Predictor struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// Execution tunes submission retries and status polling.
type Execution struct {
	MaxAttempts    int `yaml:"max_attempts"`
	BaseDelayMs    int `yaml:"base_delay_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	MaxPolls       int `yaml:"max_polls"`
}

// Engine controls the evaluation cycle scheduler.
type Engine struct {
	Symbols           []string `yaml:"symbols"`
	CycleIntervalSecs int      `yaml:"cycle_interval_secs"`
	MaxConcurrency    int      `yaml:"max_concurrency"`
	StartingCapital   float64  `yaml:"starting_capital"`
	VolatilityWindow  int      `yaml:"volatility_window"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App             `yaml:"app"`
	Market    Market          `yaml:"market"`
	Broker    Broker          `yaml:"broker"`
	Predictor Predictor       `yaml:"predictor"`
	Risk      risk.Parameters `yaml:"risk"`
	Execution Execution       `yaml:"execution"`
	Engine    Engine          `yaml:"engine"`
}

// Load reads a YAML file from disk, hydrates a Config struct, and applies
// environment overrides for secrets.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyEnv()
	if err := config.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return &config, nil
}

// applyEnv lets API keys come from the environment (or a .env file) instead of
// the config file on disk.
func (c *Config) applyEnv() {
	_ = godotenv.Load() // best-effort
	if v := os.Getenv("MARKET_API_KEY"); v != "" {
		c.Market.APIKey = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
