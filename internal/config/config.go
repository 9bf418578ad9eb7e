package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
// Values load from the YAML file first, then environment variables
// (prefix SEASON_) override.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	RequestTimeout  time.Duration `yaml:"request_timeout" split_words:"true"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" split_words:"true"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" split_words:"true"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Output   string `yaml:"output"` // stdout, file, both
	FilePath string `yaml:"file_path" split_words:"true"`
}

// DatabaseConfig contains SQLite configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SourceConfig selects the active market-data provider and holds the
// per-provider credentials. Changing the active provider takes effect on
// the next reconciliation run, never mid-run.
type SourceConfig struct {
	ActiveProvider string        `yaml:"active_provider" split_words:"true"`
	StartYear      int           `yaml:"start_year" split_words:"true"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" split_words:"true"`

	Tushare  TushareConfig  `yaml:"tushare"`
	Finnhub  FinnhubConfig  `yaml:"finnhub"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

// TushareConfig holds tushare credentials.
type TushareConfig struct {
	Token string `yaml:"token"`
}

// FinnhubConfig holds finnhub credentials.
type FinnhubConfig struct {
	APIKey   string `yaml:"api_key" split_words:"true"`
	Exchange string `yaml:"exchange"`
}

// ThrottleConfig sets the inter-request delays applied between instrument
// fetches. Strict providers (known tighter rate limits) get the longer delay.
type ThrottleConfig struct {
	Delay           time.Duration `yaml:"delay"`
	StrictDelay     time.Duration `yaml:"strict_delay" split_words:"true"`
	StrictProviders []string      `yaml:"strict_providers" split_words:"true"`
}

// Load loads configuration from the config file and environment variables.
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom loads configuration from a specific file path, then applies
// environment overrides and validates the result.
func LoadFrom(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	// Environment variables win over file values. The struct carries no
	// envconfig defaults, so absent variables leave YAML values alone.
	if err := envconfig.Process("SEASON", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func configFilePath() string {
	if p := os.Getenv("SEASON_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// applyDefaults fills zero values that envconfig leaves untouched when the
// YAML file set a sibling field but not this one.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = 100
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = "logs/app.log"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/stockseason.db"
	}
	if cfg.Source.ActiveProvider == "" {
		cfg.Source.ActiveProvider = "eastmoney"
	}
	if cfg.Source.StartYear == 0 {
		cfg.Source.StartYear = 2000
	}
	if cfg.Source.FetchTimeout == 0 {
		cfg.Source.FetchTimeout = 30 * time.Second
	}
	if cfg.Source.Finnhub.Exchange == "" {
		cfg.Source.Finnhub.Exchange = "US"
	}
	if cfg.Source.Throttle.Delay == 0 {
		cfg.Source.Throttle.Delay = 200 * time.Millisecond
	}
	if cfg.Source.Throttle.StrictDelay == 0 {
		cfg.Source.Throttle.StrictDelay = time.Second
	}
	if len(cfg.Source.Throttle.StrictProviders) == 0 {
		cfg.Source.Throttle.StrictProviders = []string{"eastmoney"}
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Source.ActiveProvider {
	case "tushare", "eastmoney", "finnhub":
	default:
		return fmt.Errorf("unknown active provider: %q", c.Source.ActiveProvider)
	}
	if c.Source.StartYear < 1900 || c.Source.StartYear > time.Now().Year() {
		return fmt.Errorf("invalid start year: %d", c.Source.StartYear)
	}
	return nil
}

// ThrottleDelayFor returns the inter-request delay for a provider.
func (c *Config) ThrottleDelayFor(provider string) time.Duration {
	for _, strict := range c.Source.Throttle.StrictProviders {
		if strict == provider {
			return c.Source.Throttle.StrictDelay
		}
	}
	return c.Source.Throttle.Delay
}
