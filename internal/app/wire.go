package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gelinger777/binancelink/internal/broker"
	"github.com/gelinger777/binancelink/internal/cache/redis"
	"github.com/gelinger777/binancelink/internal/clock"
	"github.com/gelinger777/binancelink/internal/config"
	"github.com/gelinger777/binancelink/internal/crypto"
	"github.com/gelinger777/binancelink/internal/notify"
	"github.com/gelinger777/binancelink/internal/ratelimit"
	"github.com/gelinger777/binancelink/internal/venue/binance"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Limiter   *ratelimit.Limiter
	Clock     *clock.Synchronizer
	Venue     *binance.Client
	Brokerage *broker.Brokerage
	Notifier  *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Credentials (absent in keyless monitor deployments) ---
	auth := &crypto.HMACAuth{Key: cfg.Venue.ApiKey}
	if cfg.Venue.ApiSecret != "" || cfg.Venue.EncryptedSecretPath != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Venue.ApiSecret,
			EncryptedSecretPath: cfg.Venue.EncryptedSecretPath,
			SecretPassword:      cfg.Venue.SecretPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load secret: %w", err)
		}
		auth.Secret = secret
	}

	// --- Rate limiter ---
	deps.Limiter = ratelimit.New(map[ratelimit.Channel]ratelimit.Budget{
		ratelimit.ChannelRest: {
			PerSecond: cfg.RateLimit.RestPerSecond,
			Burst:     cfg.RateLimit.RestBurst,
		},
		ratelimit.ChannelStreamSend: {
			PerSecond: cfg.RateLimit.StreamPerSecond,
			Burst:     cfg.RateLimit.StreamBurst,
		},
	})

	// --- Venue REST client and clock synchronizer ---
	// The client needs the clock for signed requests and the clock needs the
	// client for server-time probes, so the clock is attached after both
	// exist.
	deps.Venue = binance.NewClient(cfg.Venue.RestBaseURL, auth, deps.Limiter, logger)
	deps.Venue.SetRecvWindow(cfg.Venue.RecvWindow.Duration)
	deps.Clock = clock.NewSynchronizer(deps.Venue, cfg.Clock.RecalcInterval.Duration, logger)
	deps.Venue.SetClock(deps.Clock)

	// --- Redis kline cache (optional accelerator) ---
	var klines broker.KlineCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		klines = redis.NewKlineCache(redisClient)
	}

	// --- Brokerage ---
	deps.Brokerage = broker.New(deps.Venue, nil, deps.Limiter, broker.Options{
		WSBase:      cfg.Venue.WsBaseURL,
		StreamKinds: cfg.Subscription.StreamKinds,
		QuietPeriod: cfg.Subscription.QuietPeriod.Duration,
		UserData:    cfg.Stream.UserData,
		Klines:      klines,
	}, logger)
	closers = append(closers, func() { _ = deps.Brokerage.Close() })

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, logger)

	return deps, cleanup, nil
}
