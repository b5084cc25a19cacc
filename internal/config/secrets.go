package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Venue
	out.Venue = cfg.Venue
	redact(&out.Venue.ApiKey)
	redact(&out.Venue.ApiSecret)
	redact(&out.Venue.SecretPassword)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Subscription.StreamKinds != nil {
		out.Subscription.StreamKinds = make([]string, len(cfg.Subscription.StreamKinds))
		copy(out.Subscription.StreamKinds, cfg.Subscription.StreamKinds)
	}
	if cfg.Subscription.Symbols != nil {
		out.Subscription.Symbols = make([]string, len(cfg.Subscription.Symbols))
		copy(out.Subscription.Symbols, cfg.Subscription.Symbols)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
