package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawl:
  concurrency: 6
  dispatch_timeout_seconds: 30
  max_results: 50
  lookback_hours: 6
  interval_minutes: 15
  transient_retries: 2
platforms:
  twitter:
    enabled: true
    token: bearer-token
    rps: 0.2
    max_concurrent: 1
  telegram:
    channels: ["cryptonews", "defi_news"]
  rss:
    feeds: ["https://example.com/feed.xml"]
redis:
  addr: localhost:6379
  ttl_hours: 12
storage:
  gcs_bucket: archive
logging:
  development: false
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
	if cfg.Crawl.Concurrency != 6 || cfg.Crawl.TransientRetries != 2 {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if got := cfg.DispatchTimeout(); got != 30*time.Second {
		t.Fatalf("expected dispatch timeout 30s, got %v", got)
	}
	if got := cfg.Lookback(); got != 6*time.Hour {
		t.Fatalf("expected lookback 6h, got %v", got)
	}
	if got := cfg.Interval(); got != 15*time.Minute {
		t.Fatalf("expected interval 15m, got %v", got)
	}
	tw, ok := cfg.Platform(monitor.PlatformTwitter)
	if !ok || !tw.Enabled || tw.Token != "bearer-token" || tw.RPS != 0.2 {
		t.Fatalf("expected twitter overrides: %+v", tw)
	}
	if tw.MaxWait() != 5*time.Second {
		t.Fatalf("expected default twitter max wait to survive a partial override, got %v", tw.MaxWait())
	}
	tg, _ := cfg.Platform(monitor.PlatformTelegram)
	if len(tg.Channels) != 2 || tg.Channels[1] != "defi_news" {
		t.Fatalf("expected telegram channels: %+v", tg.Channels)
	}
	rd, _ := cfg.Platform(monitor.PlatformReddit)
	if !rd.Enabled || len(rd.Subreddits) == 0 {
		t.Fatalf("expected reddit defaults: %+v", rd)
	}
	if got := cfg.ClaimTTL(); got != 12*time.Hour {
		t.Fatalf("expected claim ttl 12h, got %v", got)
	}
	if cfg.Storage.GCSBucket != "archive" || cfg.Storage.Prefix != "socialmon" {
		t.Fatalf("expected storage config: %+v", cfg.Storage)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development false")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Crawl.MaxResults != 100 || cfg.Crawl.TransientRetries != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Interval() != 0 {
		t.Fatalf("scheduled runs must be off by default")
	}
	if cfg.DB.DSN != "" || cfg.Redis.Addr != "" {
		t.Fatalf("external stores must be opt in: %+v %+v", cfg.DB, cfg.Redis)
	}
	if cfg.Crawl.NotifyTopic != "post.matched" {
		t.Fatalf("unexpected notify topic %q", cfg.Crawl.NotifyTopic)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SOCIALMON_DB_DSN", "postgres://monitor@localhost/socialmon")
	t.Setenv("SOCIALMON_PLATFORMS_TWITTER_TOKEN", "env-token")
	t.Setenv("SOCIALMON_CRAWL_CONCURRENCY", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DB.DSN != "postgres://monitor@localhost/socialmon" {
		t.Fatalf("expected dsn from env, got %q", cfg.DB.DSN)
	}
	if tw, _ := cfg.Platform(monitor.PlatformTwitter); tw.Token != "env-token" {
		t.Fatalf("expected twitter token from env, got %q", tw.Token)
	}
	if cfg.Crawl.Concurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", cfg.Crawl.Concurrency)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawl:  CrawlConfig{Concurrency: 1, MaxResults: 10},
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
				c.Crawl.Concurrency = 0
				return c
			}(),
			want: "crawl.concurrency",
		},
		{
			name: "negative retries",
			cfg: func() Config {
				c := base
				c.Crawl.TransientRetries = -1
				return c
			}(),
			want: "crawl.transient_retries",
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
			name: "unknown platform",
			cfg: func() Config {
				c := base
				c.Platforms = map[string]PlatformConfig{"myspace": {Enabled: true}}
				return c
			}(),
			want: "platforms.myspace",
		},
		{
			name: "twitter without token",
			cfg: func() Config {
				c := base
				c.Platforms = map[string]PlatformConfig{"twitter": {Enabled: true}}
				return c
			}(),
			want: "platforms.twitter.token",
		},
		{
			name: "redis without ttl",
			cfg: func() Config {
				c := base
				c.Redis.Addr = "localhost:6379"
				return c
			}(),
			want: "redis.ttl_hours",
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
