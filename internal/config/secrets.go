package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Exchange = cfg.Exchange
	redact(&out.Exchange.ApiKey)
	redact(&out.Exchange.ApiSecret)
	redact(&out.Exchange.SecretPassword)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	out.Journal = cfg.Journal
	redact(&out.Journal.DSN)
	redact(&out.Journal.Password)

	out.Archive = cfg.Archive
	redact(&out.Archive.AccessKey)
	redact(&out.Archive.SecretKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Markets != nil {
		out.Markets = append([]MarketConfig(nil), cfg.Markets...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Journal.Kinds != nil {
		out.Journal.Kinds = append([]string(nil), cfg.Journal.Kinds...)
	}
	if cfg.Tape.ActivityMarkets != nil {
		out.Tape.ActivityMarkets = append([]string(nil), cfg.Tape.ActivityMarkets...)
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
