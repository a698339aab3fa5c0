// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Label   LabelConfig   `mapstructure:"label"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls persistence. Driver "memory" runs without Postgres.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// CrawlConfig governs the discovery session and page extraction.
type CrawlConfig struct {
	UserAgent          string `mapstructure:"user_agent"`
	SessionCookie      string `mapstructure:"session_cookie"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMS      int    `mapstructure:"settle_delay_ms"`
	DefaultMaxItems    int    `mapstructure:"default_max_items"`
	DefaultMaxScrolls  int    `mapstructure:"default_max_scrolls"`
	DefaultConcurrency int    `mapstructure:"default_concurrency"`
	ItemDelayMS        int    `mapstructure:"item_delay_ms"`
}

// LabelConfig selects the vision model used for grading.
type LabelConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	OllamaHost string `mapstructure:"ollama_host"`
}

// JobsConfig tunes the orchestration loops.
type JobsConfig struct {
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	LaunchDelayMS  int `mapstructure:"launch_delay_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHELFMINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("crawl.user_agent", "shelfminer/0.1")
	v.SetDefault("crawl.nav_timeout_seconds", 45)
	v.SetDefault("crawl.settle_delay_ms", 1500)
	v.SetDefault("crawl.default_max_items", 200)
	v.SetDefault("crawl.default_max_scrolls", 30)
	v.SetDefault("crawl.default_concurrency", 3)
	v.SetDefault("crawl.item_delay_ms", 500)
	v.SetDefault("label.provider", "openai")
	v.SetDefault("label.model", "gpt-4o-mini")
	v.SetDefault("label.ollama_host", "http://localhost:11434")
	v.SetDefault("jobs.poll_interval_ms", 1000)
	v.SetDefault("jobs.launch_delay_ms", 500)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Driver {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	if c.Crawl.DefaultConcurrency < 1 || c.Crawl.DefaultConcurrency > 5 {
		return fmt.Errorf("crawl.default_concurrency must be between 1 and 5")
	}
	if c.Jobs.PollIntervalMS <= 0 {
		return fmt.Errorf("jobs.poll_interval_ms must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Label.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown label.provider %q", c.Label.Provider)
	}
	return nil
}

// PollInterval is the control-loop poll cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Jobs.PollIntervalMS) * time.Millisecond
}

// LaunchDelay is the gap between job creation and its execution loop.
func (c Config) LaunchDelay() time.Duration {
	return time.Duration(c.Jobs.LaunchDelayMS) * time.Millisecond
}

// RequestTimeout bounds a control-surface HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
