package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  shutdown_seconds: 10
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: warn
db:
  dsn: postgres://scraper:pw@localhost:5432/reviews
  max_conns: 16
scraper:
  max_concurrent: 4
  fetch_timeout_seconds: 60
  page_delay_ms: 500
  retry_max_attempts: 5
amazon:
  base_url: https://www.amazon.com
  max_pages_per_window: 20
flipkart:
  cookie: "T=abc; SN=def"
  max_pages: 100
progress:
  buffer_size: 512
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if cfg.DB.DSN == "" || cfg.DB.MaxConns != 16 {
		t.Fatalf("expected db overrides to apply: %+v", cfg.DB)
	}
	if cfg.Scraper.MaxConcurrent != 4 || cfg.Scraper.RetryMaxAttempts != 5 {
		t.Fatalf("expected scraper overrides to apply: %+v", cfg.Scraper)
	}
	if cfg.Amazon.BaseURL != "https://www.amazon.com" || cfg.Amazon.MaxPagesPerWindow != 20 {
		t.Fatalf("expected amazon overrides to apply: %+v", cfg.Amazon)
	}
	if cfg.Flipkart.Cookie != "T=abc; SN=def" || cfg.Flipkart.MaxPages != 100 {
		t.Fatalf("expected flipkart overrides to apply: %+v", cfg.Flipkart)
	}
	// defaults survive partial files
	if cfg.Amazon.MaxEmptyPages != 3 {
		t.Fatalf("expected default max_empty_pages, got %d", cfg.Amazon.MaxEmptyPages)
	}
	if got := cfg.FetchTimeout(); got != 60*time.Second {
		t.Fatalf("expected fetch timeout 60s, got %v", got)
	}
	if got := cfg.PageDelay(); got != 500*time.Millisecond {
		t.Fatalf("expected page delay 500ms, got %v", got)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scraper.MaxConcurrent != 8 {
		t.Fatalf("expected default max_concurrent 8, got %d", cfg.Scraper.MaxConcurrent)
	}
	if cfg.DB.DSN != "" {
		t.Fatalf("expected empty default dsn, got %q", cfg.DB.DSN)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Scraper: ScraperConfig{MaxConcurrent: 4, FetchTimeoutSec: 45},
		Amazon:  AmazonConfig{BaseURL: "https://www.amazon.in"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Scraper.MaxConcurrent = 0
				return c
			}(),
			want: "scraper.max_concurrent",
		},
		{
			name: "invalid fetch timeout",
			cfg: func() Config {
				c := base
				c.Scraper.FetchTimeoutSec = 0
				return c
			}(),
			want: "scraper.fetch_timeout_seconds",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "missing amazon base url",
			cfg: func() Config {
				c := base
				c.Amazon.BaseURL = ""
				return c
			}(),
			want: "amazon.base_url",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
