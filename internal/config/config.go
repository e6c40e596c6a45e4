// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Crawl     CrawlConfig               `mapstructure:"crawl"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
	DB        DBConfig                  `mapstructure:"db"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Storage   StorageConfig             `mapstructure:"storage"`
	PubSub    PubSubConfig              `mapstructure:"pubsub"`
	Progress  ProgressConfig            `mapstructure:"progress"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig governs the orchestrator and the scheduler.
type CrawlConfig struct {
	Concurrency            int `mapstructure:"concurrency"`
	DispatchTimeoutSeconds int `mapstructure:"dispatch_timeout_seconds"`
	RunTimeoutSeconds      int `mapstructure:"run_timeout_seconds"`
	MaxResults             int `mapstructure:"max_results"`
	LookbackHours          int `mapstructure:"lookback_hours"`
	IntervalMinutes        int `mapstructure:"interval_minutes"`
	TransientRetries       int `mapstructure:"transient_retries"`
	// NotifyTopic names the topic new posts are published to.
	NotifyTopic string `mapstructure:"notify_topic"`
}

// PlatformConfig configures one adapter and its limits.
type PlatformConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	RPS           float64  `mapstructure:"rps"`
	Burst         int      `mapstructure:"burst"`
	MaxConcurrent int      `mapstructure:"max_concurrent"`
	MaxWaitMs     int      `mapstructure:"max_wait_ms"`
	BaseURL       string   `mapstructure:"base_url"`
	Token         string   `mapstructure:"token"`
	UserAgent     string   `mapstructure:"user_agent"`
	Channels      []string `mapstructure:"channels"`
	Subreddits    []string `mapstructure:"subreddits"`
	Feeds         []string `mapstructure:"feeds"`
}

// MaxWait returns the limiter wait bound.
func (p PlatformConfig) MaxWait() time.Duration {
	return time.Duration(p.MaxWaitMs) * time.Millisecond
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// RedisConfig enables the claim cache when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// StorageConfig selects where run archives go: GCS when GCSBucket is set,
// else the local directory when LocalDir is set, else nowhere.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID   string `mapstructure:"project_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize      int  `mapstructure:"buffer_size"`
	BatchMaxEvents  int  `mapstructure:"batch_max_events"`
	BatchMaxWaitMs  int  `mapstructure:"batch_max_wait_ms"`
	SinkTimeoutMs   int  `mapstructure:"sink_timeout_ms"`
	PersistRunStats bool `mapstructure:"persist_run_stats"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOCIALMON")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("crawl.concurrency", 8)
	v.SetDefault("crawl.dispatch_timeout_seconds", 120)
	v.SetDefault("crawl.run_timeout_seconds", 900)
	v.SetDefault("crawl.max_results", 100)
	v.SetDefault("crawl.lookback_hours", 24)
	v.SetDefault("crawl.interval_minutes", 0)
	v.SetDefault("crawl.transient_retries", 1)
	v.SetDefault("crawl.notify_topic", "post.matched")

	v.SetDefault("platforms.twitter.enabled", false)
	v.SetDefault("platforms.twitter.rps", 0.5)
	v.SetDefault("platforms.twitter.burst", 1)
	v.SetDefault("platforms.twitter.max_concurrent", 1)
	v.SetDefault("platforms.twitter.max_wait_ms", 5000)
	v.SetDefault("platforms.reddit.enabled", true)
	v.SetDefault("platforms.reddit.rps", 0.5)
	v.SetDefault("platforms.reddit.burst", 2)
	v.SetDefault("platforms.reddit.max_concurrent", 2)
	v.SetDefault("platforms.reddit.max_wait_ms", 5000)
	v.SetDefault("platforms.reddit.subreddits", []string{"CryptoCurrency", "ethereum", "defi"})
	v.SetDefault("platforms.telegram.enabled", true)
	v.SetDefault("platforms.telegram.rps", 2)
	v.SetDefault("platforms.telegram.burst", 2)
	v.SetDefault("platforms.telegram.max_concurrent", 2)
	v.SetDefault("platforms.telegram.max_wait_ms", 2000)
	v.SetDefault("platforms.rss.enabled", true)
	v.SetDefault("platforms.rss.rps", 1)
	v.SetDefault("platforms.rss.burst", 4)
	v.SetDefault("platforms.rss.max_concurrent", 4)
	v.SetDefault("platforms.rss.max_wait_ms", 2000)

	// Keys without a natural default are registered so AutomaticEnv can
	// resolve them, e.g. SOCIALMON_PLATFORMS_TWITTER_TOKEN.
	for _, key := range []string{
		"auth.api_key",
		"platforms.twitter.token",
		"db.dsn",
		"redis.addr",
		"redis.password",
		"storage.gcs_bucket",
		"storage.local_dir",
		"pubsub.project_id",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.enabled", false)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("redis.ttl_hours", 168)
	v.SetDefault("storage.prefix", "socialmon")
	v.SetDefault("pubsub.topic_prefix", "socialmon-")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_max_events", 100)
	v.SetDefault("progress.batch_max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("progress.persist_run_stats", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.MaxResults <= 0 {
		return fmt.Errorf("crawl.max_results must be > 0")
	}
	if c.Crawl.LookbackHours < 0 || c.Crawl.IntervalMinutes < 0 || c.Crawl.TransientRetries < 0 {
		return fmt.Errorf("crawl.lookback_hours, crawl.interval_minutes and crawl.transient_retries must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for name, p := range c.Platforms {
		if !monitor.Platform(name).Valid() {
			return fmt.Errorf("platforms.%s: unknown platform", name)
		}
		if p.RPS < 0 || p.Burst < 0 || p.MaxConcurrent < 0 || p.MaxWaitMs < 0 {
			return fmt.Errorf("platforms.%s: limits must be >= 0", name)
		}
	}
	if tw, ok := c.Platforms[string(monitor.PlatformTwitter)]; ok && tw.Enabled && tw.Token == "" {
		return fmt.Errorf("platforms.twitter.token must be set when twitter is enabled")
	}
	if c.Redis.Addr != "" && c.Redis.TTLHours <= 0 {
		return fmt.Errorf("redis.ttl_hours must be > 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicPrefix == "" {
		return fmt.Errorf("pubsub.topic_prefix must be set when pubsub is enabled")
	}
	return nil
}

// Platform returns the settings for p, if any.
func (c Config) Platform(p monitor.Platform) (PlatformConfig, bool) {
	pc, ok := c.Platforms[string(p)]
	return pc, ok
}

// DispatchTimeout converts crawl.dispatch_timeout_seconds.
func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Crawl.DispatchTimeoutSeconds) * time.Second
}

// RunTimeout bounds a whole crawl run; zero means unbounded.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Crawl.RunTimeoutSeconds) * time.Second
}

// Lookback converts crawl.lookback_hours.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.Crawl.LookbackHours) * time.Hour
}

// Interval is the scheduler period; zero disables scheduled runs.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Crawl.IntervalMinutes) * time.Minute
}

// RequestTimeout bounds non-crawl API requests.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ClaimTTL converts redis.ttl_hours.
func (c Config) ClaimTTL() time.Duration {
	return time.Duration(c.Redis.TTLHours) * time.Hour
}
