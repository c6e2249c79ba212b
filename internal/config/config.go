// Package config defines all configuration for the insider tracker.
// Config is env-first: every field binds to an environment variable via
// viper, with sane defaults for everything except DATABASE_URL.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, built once at startup and passed
// down by the supervisor. No process-wide mutable state.
type Config struct {
	DatabaseURL string
	RedisURL    string

	Polygon    PolygonConfig
	Polymarket PolymarketConfig
	Discord    DiscordConfig
	Telegram   TelegramConfig
	Detector   DetectorConfig

	LogLevel   string
	LogFormat  string
	HealthPort int
	DryRun     bool
}

// PolygonConfig holds the blockchain RPC endpoints and client tuning.
type PolygonConfig struct {
	RPCURL         string
	FallbackRPCURL string
	RateLimit      float64 // req/s
	MaxRetries     int
	CacheTTL       time.Duration
}

// PolymarketConfig holds the trade feed and CLOB API settings.
type PolymarketConfig struct {
	WSURL        string
	CLOBBaseURL  string
	APIKey       string
	EventFilter  string // event slug, optional
	MarketSlugs  string // comma-separated, optional
	SyncInterval time.Duration
	MetadataTTL  time.Duration
}

// DiscordConfig enables the webhook channel when the URL is set.
type DiscordConfig struct {
	WebhookURL string
}

// Enabled reports whether the Discord channel should be wired.
func (c DiscordConfig) Enabled() bool { return c.WebhookURL != "" }

// TelegramConfig enables the bot channel when both fields are set.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Enabled reports whether the Telegram channel should be wired.
func (c TelegramConfig) Enabled() bool { return c.BotToken != "" && c.ChatID != "" }

// DetectorConfig tunes the anomaly detectors and the risk scorer.
//
//   - FreshThreshold: nonce below this may count as fresh.
//   - AlertThreshold: minimum weighted score that alerts.
//   - DedupWindow: suppression window per wallet/market pair.
//   - SniperInterval: how often the clustering pass runs.
type DetectorConfig struct {
	FreshThreshold int
	AlertThreshold float64
	DedupWindow    time.Duration
	SniperInterval time.Duration
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("polygon_rpc_url", "https://polygon-rpc.com")
	v.SetDefault("polygon_fallback_rpc_url", "")
	v.SetDefault("polygon_rate_limit", 25.0)
	v.SetDefault("polygon_max_retries", 3)
	v.SetDefault("polygon_cache_ttl", 5*time.Minute)
	v.SetDefault("polymarket_ws_url", "wss://ws-live-data.polymarket.com")
	v.SetDefault("polymarket_clob_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket_api_key", "")
	v.SetDefault("polymarket_event_filter", "")
	v.SetDefault("polymarket_market_filter", "")
	v.SetDefault("metadata_sync_interval", 5*time.Minute)
	v.SetDefault("metadata_cache_ttl", 10*time.Minute)
	v.SetDefault("discord_webhook_url", "")
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_chat_id", "")
	v.SetDefault("fresh_wallet_threshold", 5)
	v.SetDefault("alert_threshold", 0.6)
	v.SetDefault("dedup_window", time.Hour)
	v.SetDefault("sniper_interval", 5*time.Minute)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", "text")
	v.SetDefault("health_port", 8080)
	v.SetDefault("dry_run", false)

	cfg := &Config{
		DatabaseURL: v.GetString("database_url"),
		RedisURL:    v.GetString("redis_url"),
		Polygon: PolygonConfig{
			RPCURL:         v.GetString("polygon_rpc_url"),
			FallbackRPCURL: v.GetString("polygon_fallback_rpc_url"),
			RateLimit:      v.GetFloat64("polygon_rate_limit"),
			MaxRetries:     v.GetInt("polygon_max_retries"),
			CacheTTL:       v.GetDuration("polygon_cache_ttl"),
		},
		Polymarket: PolymarketConfig{
			WSURL:        v.GetString("polymarket_ws_url"),
			CLOBBaseURL:  v.GetString("polymarket_clob_url"),
			APIKey:       v.GetString("polymarket_api_key"),
			EventFilter:  v.GetString("polymarket_event_filter"),
			MarketSlugs:  v.GetString("polymarket_market_filter"),
			SyncInterval: v.GetDuration("metadata_sync_interval"),
			MetadataTTL:  v.GetDuration("metadata_cache_ttl"),
		},
		Discord: DiscordConfig{
			WebhookURL: v.GetString("discord_webhook_url"),
		},
		Telegram: TelegramConfig{
			BotToken: v.GetString("telegram_bot_token"),
			ChatID:   v.GetString("telegram_chat_id"),
		},
		Detector: DetectorConfig{
			FreshThreshold: v.GetInt("fresh_wallet_threshold"),
			AlertThreshold: v.GetFloat64("alert_threshold"),
			DedupWindow:    v.GetDuration("dedup_window"),
			SniperInterval: v.GetDuration("sniper_interval"),
		},
		LogLevel:   v.GetString("log_level"),
		LogFormat:  v.GetString("log_format"),
		HealthPort: v.GetInt("health_port"),
		DryRun:     v.GetBool("dry_run"),
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Validate checks all required fields and value ranges. Failures here are
// fatal at startup (exit code 2).
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must use a postgres scheme")
	}
	if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("REDIS_URL must use a redis scheme")
	}
	if !strings.HasPrefix(c.Polygon.RPCURL, "http://") && !strings.HasPrefix(c.Polygon.RPCURL, "https://") {
		return fmt.Errorf("POLYGON_RPC_URL must be http(s)")
	}
	if f := c.Polygon.FallbackRPCURL; f != "" && !strings.HasPrefix(f, "http://") && !strings.HasPrefix(f, "https://") {
		return fmt.Errorf("POLYGON_FALLBACK_RPC_URL must be http(s)")
	}
	if !strings.HasPrefix(c.Polymarket.WSURL, "ws://") && !strings.HasPrefix(c.Polymarket.WSURL, "wss://") {
		return fmt.Errorf("POLYMARKET_WS_URL must be ws(s)")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if !validLogLevels[strings.ToUpper(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
	}
	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be in 1..65535")
	}
	if c.Detector.AlertThreshold < 0 || c.Detector.AlertThreshold > 1 {
		return fmt.Errorf("alert_threshold must be in [0,1]")
	}
	if c.Detector.FreshThreshold <= 0 {
		return fmt.Errorf("fresh_wallet_threshold must be > 0")
	}
	return nil
}

// MarketFilters splits the comma-separated market slug filter.
func (c *Config) MarketFilters() []string {
	if c.Polymarket.MarketSlugs == "" {
		return nil
	}
	parts := strings.Split(c.Polymarket.MarketSlugs, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
