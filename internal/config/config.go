// Package config defines the top-level configuration for the binance link
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BINANCELINK_* environment variables.
type Config struct {
	Venue        VenueConfig        `toml:"venue"`
	RateLimit    RateLimitConfig    `toml:"rate_limit"`
	Clock        ClockConfig        `toml:"clock"`
	Stream       StreamConfig       `toml:"stream"`
	Subscription SubscriptionConfig `toml:"subscription"`
	Redis        RedisConfig        `toml:"redis"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// VenueConfig holds the exchange endpoints and API credentials.
type VenueConfig struct {
	RestBaseURL string `toml:"rest_base_url"`
	WsBaseURL   string `toml:"ws_base_url"`
	ApiKey      string `toml:"api_key"`

	// ApiSecret is the raw HMAC secret; prefer EncryptedSecretPath in
	// production so the secret never sits in plaintext on disk.
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindow          duration `toml:"recv_window"`
}

// RateLimitConfig holds the per-channel outbound budgets.
type RateLimitConfig struct {
	RestPerSecond   float64 `toml:"rest_per_second"`
	RestBurst       int     `toml:"rest_burst"`
	StreamPerSecond float64 `toml:"stream_per_second"`
	StreamBurst     int     `toml:"stream_burst"`
}

// ClockConfig holds clock-synchronization parameters.
type ClockConfig struct {
	RecalcInterval duration `toml:"recalc_interval"`
}

// StreamConfig holds streaming-connection parameters.
type StreamConfig struct {
	// UserData enables the authenticated user-data stream. Required for
	// trade mode; monitor mode can run market data only.
	UserData bool `toml:"user_data"`
}

// SubscriptionConfig holds subscription-manager parameters.
type SubscriptionConfig struct {
	// StreamKinds are the per-symbol stream suffixes opened for every
	// subscribed symbol, e.g. ["trade", "bookTicker"].
	StreamKinds []string `toml:"stream_kinds"`
	QuietPeriod duration `toml:"quiet_period"`
	// Symbols is the initial desired set subscribed at startup.
	Symbols []string `toml:"symbols"`
}

// RedisConfig holds Redis connection parameters for the optional kline cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			RestBaseURL: "https://api.binance.com",
			WsBaseURL:   "wss://stream.binance.com:9443",
			RecvWindow:  duration{5 * time.Second},
		},
		RateLimit: RateLimitConfig{
			RestPerSecond:   10,
			RestBurst:       10,
			StreamPerSecond: 5,
			StreamBurst:     5,
		},
		Clock: ClockConfig{
			RecalcInterval: duration{3 * time.Hour},
		},
		Stream: StreamConfig{
			UserData: true,
		},
		Subscription: SubscriptionConfig{
			StreamKinds: []string{"trade", "bookTicker"},
			QuietPeriod: duration{250 * time.Millisecond},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue endpoints
	if c.Venue.RestBaseURL == "" {
		errs = append(errs, "venue: rest_base_url must not be empty")
	}
	if c.Venue.WsBaseURL == "" {
		errs = append(errs, "venue: ws_base_url must not be empty")
	}
	if c.Venue.RecvWindow.Duration <= 0 {
		errs = append(errs, "venue: recv_window must be positive")
	}

	// Credentials are mandatory for trading; monitor mode can run keyless
	// unless the user-data stream is requested.
	needsAuth := strings.ToLower(c.Mode) == "trade" || c.Stream.UserData
	if needsAuth {
		if c.Venue.ApiKey == "" {
			errs = append(errs, "venue: api_key is required for mode "+c.Mode)
		}
		if c.Venue.ApiSecret == "" && c.Venue.EncryptedSecretPath == "" {
			errs = append(errs, "venue: either api_secret or encrypted_secret_path must be set for mode "+c.Mode)
		}
		if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
			errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Rate limits
	if c.RateLimit.RestPerSecond <= 0 {
		errs = append(errs, "rate_limit: rest_per_second must be > 0")
	}
	if c.RateLimit.RestBurst < 1 {
		errs = append(errs, "rate_limit: rest_burst must be >= 1")
	}
	if c.RateLimit.StreamPerSecond <= 0 {
		errs = append(errs, "rate_limit: stream_per_second must be > 0")
	}
	if c.RateLimit.StreamBurst < 1 {
		errs = append(errs, "rate_limit: stream_burst must be >= 1")
	}

	// Clock
	if c.Clock.RecalcInterval.Duration <= 0 {
		errs = append(errs, "clock: recalc_interval must be positive")
	}

	// Subscription
	if c.Subscription.QuietPeriod.Duration <= 0 {
		errs = append(errs, "subscription: quiet_period must be positive")
	}
	if len(c.Subscription.StreamKinds) == 0 {
		errs = append(errs, "subscription: stream_kinds must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Notify: Telegram fields must be set together.
	tk := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tk != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
