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
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Amazon   AmazonConfig   `mapstructure:"amazon"`
	Flipkart FlipkartConfig `mapstructure:"flipkart"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeoutSec  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSec int `mapstructure:"write_timeout_seconds"`
	ShutdownSec     int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// ScraperConfig governs job execution.
type ScraperConfig struct {
	MaxConcurrent    int `mapstructure:"max_concurrent"`
	FetchTimeoutSec  int `mapstructure:"fetch_timeout_seconds"`
	PageDelayMs      int `mapstructure:"page_delay_ms"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"`
	RetryBaseMs      int `mapstructure:"retry_base_ms"`
	RetryMaxMs       int `mapstructure:"retry_max_ms"`
}

// AmazonConfig tunes the Amazon review extractor.
type AmazonConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	MaxPagesPerWindow int    `mapstructure:"max_pages_per_window"`
	MaxEmptyPages     int    `mapstructure:"max_empty_pages"`
}

// FlipkartConfig tunes the Flipkart review extractor. The cookie is an
// operator-supplied browser session; jobs fail fast without a valid one
// for cookie-gated products.
type FlipkartConfig struct {
	Cookie        string `mapstructure:"cookie"`
	UserAgent     string `mapstructure:"user_agent"`
	MaxPages      int    `mapstructure:"max_pages"`
	MaxEmptyPages int    `mapstructure:"max_empty_pages"`
}

// ProgressConfig sizes the progress event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.shutdown_seconds", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("scraper.max_concurrent", 8)
	v.SetDefault("scraper.fetch_timeout_seconds", 45)
	v.SetDefault("scraper.page_delay_ms", 1500)
	v.SetDefault("scraper.retry_max_attempts", 3)
	v.SetDefault("scraper.retry_base_ms", 250)
	v.SetDefault("scraper.retry_max_ms", 5000)
	v.SetDefault("amazon.base_url", "https://www.amazon.in")
	v.SetDefault("amazon.max_pages_per_window", 15)
	v.SetDefault("amazon.max_empty_pages", 3)
	v.SetDefault("flipkart.max_pages", 500)
	v.SetDefault("flipkart.max_empty_pages", 40)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxConcurrent <= 0 {
		return fmt.Errorf("scraper.max_concurrent must be > 0")
	}
	if c.Scraper.FetchTimeoutSec <= 0 {
		return fmt.Errorf("scraper.fetch_timeout_seconds must be > 0")
	}
	if c.Scraper.RetryMaxAttempts < 0 {
		return fmt.Errorf("scraper.retry_max_attempts must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Amazon.BaseURL == "" {
		return fmt.Errorf("amazon.base_url must be set")
	}
	return nil
}

// FetchTimeout converts the scraper timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSec) * time.Second
}

// PageDelay converts the inter-page delay config into a duration.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Scraper.PageDelayMs) * time.Millisecond
}

// RetryBase converts the retry base delay config into a duration.
func (c Config) RetryBase() time.Duration {
	return time.Duration(c.Scraper.RetryBaseMs) * time.Millisecond
}

// RetryMax converts the retry delay ceiling config into a duration.
func (c Config) RetryMax() time.Duration {
	return time.Duration(c.Scraper.RetryMaxMs) * time.Millisecond
}
