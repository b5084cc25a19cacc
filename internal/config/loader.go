package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BINANCELINK_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BINANCELINK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.RestBaseURL, "BINANCELINK_VENUE_REST_BASE_URL")
	setStr(&cfg.Venue.WsBaseURL, "BINANCELINK_VENUE_WS_BASE_URL")
	setStr(&cfg.Venue.ApiKey, "BINANCELINK_VENUE_API_KEY")
	setStr(&cfg.Venue.ApiSecret, "BINANCELINK_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "BINANCELINK_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "BINANCELINK_VENUE_SECRET_PASSWORD")
	setDuration(&cfg.Venue.RecvWindow, "BINANCELINK_VENUE_RECV_WINDOW")

	// ── Rate limit ──
	setFloat64(&cfg.RateLimit.RestPerSecond, "BINANCELINK_RATE_LIMIT_REST_PER_SECOND")
	setInt(&cfg.RateLimit.RestBurst, "BINANCELINK_RATE_LIMIT_REST_BURST")
	setFloat64(&cfg.RateLimit.StreamPerSecond, "BINANCELINK_RATE_LIMIT_STREAM_PER_SECOND")
	setInt(&cfg.RateLimit.StreamBurst, "BINANCELINK_RATE_LIMIT_STREAM_BURST")

	// ── Clock ──
	setDuration(&cfg.Clock.RecalcInterval, "BINANCELINK_CLOCK_RECALC_INTERVAL")

	// ── Stream ──
	setBool(&cfg.Stream.UserData, "BINANCELINK_STREAM_USER_DATA")

	// ── Subscription ──
	setStringSlice(&cfg.Subscription.StreamKinds, "BINANCELINK_SUBSCRIPTION_STREAM_KINDS")
	setDuration(&cfg.Subscription.QuietPeriod, "BINANCELINK_SUBSCRIPTION_QUIET_PERIOD")
	setStringSlice(&cfg.Subscription.Symbols, "BINANCELINK_SUBSCRIPTION_SYMBOLS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BINANCELINK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BINANCELINK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BINANCELINK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BINANCELINK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BINANCELINK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BINANCELINK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BINANCELINK_REDIS_TLS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BINANCELINK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BINANCELINK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BINANCELINK_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "BINANCELINK_MODE")
	setStr(&cfg.LogLevel, "BINANCELINK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
