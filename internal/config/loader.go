package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DOMSYNC_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DOMSYNC_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are normally injected this way.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestURL, "DOMSYNC_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.WsURL, "DOMSYNC_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.ApiKey, "DOMSYNC_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "DOMSYNC_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "DOMSYNC_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "DOMSYNC_EXCHANGE_SECRET_PASSWORD")
	setStr(&cfg.Exchange.Subaccount, "DOMSYNC_EXCHANGE_SUBACCOUNT")
	setDuration(&cfg.Exchange.RequestTimeout, "DOMSYNC_EXCHANGE_REQUEST_TIMEOUT")

	// ── Session ──
	setDuration(&cfg.Session.PingInterval, "DOMSYNC_SESSION_PING_INTERVAL")
	setDuration(&cfg.Session.IdleTimeout, "DOMSYNC_SESSION_IDLE_TIMEOUT")
	setDuration(&cfg.Session.ReconnectDelay, "DOMSYNC_SESSION_RECONNECT_DELAY")
	setDuration(&cfg.Session.MaxReconnectDelay, "DOMSYNC_SESSION_MAX_RECONNECT_DELAY")
	setDuration(&cfg.Session.HandshakeTimeout, "DOMSYNC_SESSION_HANDSHAKE_TIMEOUT")

	// ── Book ──
	setDuration(&cfg.Book.SettleDelay, "DOMSYNC_BOOK_SETTLE_DELAY")
	setInt(&cfg.Book.RawDepth, "DOMSYNC_BOOK_RAW_DEPTH")
	setInt(&cfg.Book.GroupedDepth, "DOMSYNC_BOOK_GROUPED_DEPTH")
	setInt(&cfg.Book.ChecksumDepth, "DOMSYNC_BOOK_CHECKSUM_DEPTH")

	// ── Tape ──
	setInt(&cfg.Tape.TradeHistory, "DOMSYNC_TAPE_TRADE_HISTORY")
	setInt(&cfg.Tape.ActivityHistory, "DOMSYNC_TAPE_ACTIVITY_HISTORY")
	setDecimal(&cfg.Tape.ActivityThreshold, "DOMSYNC_TAPE_ACTIVITY_THRESHOLD")
	setStringSlice(&cfg.Tape.ActivityMarkets, "DOMSYNC_TAPE_ACTIVITY_MARKETS")

	// ── Account ──
	setBool(&cfg.Account.Enabled, "DOMSYNC_ACCOUNT_ENABLED")
	setDuration(&cfg.Account.PollInterval, "DOMSYNC_ACCOUNT_POLL_INTERVAL")
	setDuration(&cfg.Account.ErrorBackoff, "DOMSYNC_ACCOUNT_ERROR_BACKOFF")

	// ── Markets ──
	if v := os.Getenv("DOMSYNC_MARKETS"); v != "" {
		var names []string
		setStringSlice(&names, "DOMSYNC_MARKETS")
		markets := make([]MarketConfig, 0, len(names))
		for _, n := range names {
			markets = append(markets, MarketConfig{Name: n})
		}
		cfg.Markets = markets
	}

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DOMSYNC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DOMSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DOMSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DOMSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DOMSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DOMSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DOMSYNC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.ChannelPrefix, "DOMSYNC_REDIS_CHANNEL_PREFIX")
	setDuration(&cfg.Redis.SnapshotTTL, "DOMSYNC_REDIS_SNAPSHOT_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DOMSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DOMSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DOMSYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DOMSYNC_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DOMSYNC_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "DOMSYNC_SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "DOMSYNC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DOMSYNC_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DOMSYNC_SERVER_RATE_LIMIT")

	// ── Journal ──
	setBool(&cfg.Journal.Enabled, "DOMSYNC_JOURNAL_ENABLED")
	setStr(&cfg.Journal.DSN, "DOMSYNC_JOURNAL_DSN")
	setStr(&cfg.Journal.Host, "DOMSYNC_JOURNAL_HOST")
	setInt(&cfg.Journal.Port, "DOMSYNC_JOURNAL_PORT")
	setStr(&cfg.Journal.Database, "DOMSYNC_JOURNAL_DATABASE")
	setStr(&cfg.Journal.User, "DOMSYNC_JOURNAL_USER")
	setStr(&cfg.Journal.Password, "DOMSYNC_JOURNAL_PASSWORD")
	setStringSlice(&cfg.Journal.Kinds, "DOMSYNC_JOURNAL_KINDS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DOMSYNC_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "DOMSYNC_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "DOMSYNC_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "DOMSYNC_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "DOMSYNC_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "DOMSYNC_ARCHIVE_SECRET_KEY")
	setDuration(&cfg.Archive.Retention, "DOMSYNC_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "DOMSYNC_ARCHIVE_INTERVAL")
	setBool(&cfg.Archive.Prune, "DOMSYNC_ARCHIVE_PRUNE")

	// ── Top-level ──
	setStr(&cfg.Mode, "DOMSYNC_MODE")
	setStr(&cfg.LogLevel, "DOMSYNC_LOG_LEVEL")
	setDuration(&cfg.StopGrace, "DOMSYNC_STOP_GRACE")
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

func setDecimal(dst *decimalText, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			dst.Decimal = d
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
