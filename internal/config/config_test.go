package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults_ValidateForMonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Stream.UserData = false

	assert.NoError(t, cfg.Validate())
}

func TestValidate_TradeModeRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), "api_secret")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "verbose"
	cfg.RateLimit.RestPerSecond = 0
	cfg.Stream.UserData = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "rest_per_second")
}

func TestValidate_TelegramFieldsMustBeSetTogether(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Stream.UserData = false
	cfg.Notify.TelegramToken = "token-only"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "trade"
log_level = "debug"

[venue]
api_key = "k"
api_secret = "s"
recv_window = "10s"

[subscription]
quiet_period = "500ms"
symbols = ["BTC-USDT", "ETH-USDT"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "k", cfg.Venue.ApiKey)
	assert.Equal(t, 10*time.Second, cfg.Venue.RecvWindow.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Subscription.QuietPeriod.Duration)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, cfg.Subscription.Symbols)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://api.binance.com", cfg.Venue.RestBaseURL)
	assert.Equal(t, 10.0, cfg.RateLimit.RestPerSecond)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[venue]
api_key = "from-file"
api_secret = "s"
`)

	t.Setenv("BINANCELINK_VENUE_API_KEY", "from-env")
	t.Setenv("BINANCELINK_MODE", "monitor")
	t.Setenv("BINANCELINK_SUBSCRIPTION_SYMBOLS", "BTC-USDT, SOL-USDT")
	t.Setenv("BINANCELINK_CLOCK_RECALC_INTERVAL", "1h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Venue.ApiKey)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, []string{"BTC-USDT", "SOL-USDT"}, cfg.Subscription.Symbols)
	assert.Equal(t, time.Hour, cfg.Clock.RecalcInterval.Duration)
}

func TestRedactedConfig_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Venue.ApiKey = "key"
	cfg.Venue.ApiSecret = "secret"
	cfg.Redis.Password = "redis-pass"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Venue.ApiKey)
	assert.Equal(t, "***", red.Venue.ApiSecret)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// The original is untouched.
	assert.Equal(t, "secret", cfg.Venue.ApiSecret)

	// Empty secrets stay empty rather than implying a value exists.
	assert.Empty(t, red.Notify.DiscordWebhookURL)
}
