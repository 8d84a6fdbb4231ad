// Package config defines the top-level configuration for domsync and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DOMSYNC_* environment variables.
type Config struct {
	Exchange  ExchangeConfig `toml:"exchange"`
	Session   SessionConfig  `toml:"session"`
	Book      BookConfig     `toml:"book"`
	Tape      TapeConfig     `toml:"tape"`
	Account   AccountConfig  `toml:"account"`
	Markets   []MarketConfig `toml:"markets"`
	Redis     RedisConfig    `toml:"redis"`
	Notify    NotifyConfig   `toml:"notify"`
	Server    ServerConfig   `toml:"server"`
	Journal   JournalConfig  `toml:"journal"`
	Archive   ArchiveConfig  `toml:"archive"`
	Mode      string         `toml:"mode"`
	LogLevel  string         `toml:"log_level"`
	StopGrace duration       `toml:"stop_grace"`
}

// ExchangeConfig holds endpoints and API credentials.
type ExchangeConfig struct {
	RestURL             string   `toml:"rest_url"`
	WsURL               string   `toml:"ws_url"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Subaccount          string   `toml:"subaccount"`
	RequestTimeout      duration `toml:"request_timeout"`
}

// HasCredentials reports whether a key and some secret source are set.
func (e ExchangeConfig) HasCredentials() bool {
	return e.ApiKey != "" && (e.ApiSecret != "" || e.EncryptedSecretPath != "")
}

// SessionConfig tunes the push socket.
type SessionConfig struct {
	PingInterval      duration `toml:"ping_interval"`
	IdleTimeout       duration `toml:"idle_timeout"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	MaxReconnectDelay duration `toml:"max_reconnect_delay"`
	HandshakeTimeout  duration `toml:"handshake_timeout"`
}

// BookConfig tunes the order book synchronizer.
type BookConfig struct {
	SettleDelay   duration `toml:"settle_delay"`
	RawDepth      int      `toml:"raw_depth"`
	GroupedDepth  int      `toml:"grouped_depth"`
	ChecksumDepth int      `toml:"checksum_depth"`
}

// TapeConfig tunes trade history and the activity feed.
type TapeConfig struct {
	TradeHistory      int         `toml:"trade_history"`
	ActivityHistory   int         `toml:"activity_history"`
	ActivityThreshold decimalText `toml:"activity_threshold"`
	ActivityMarkets   []string    `toml:"activity_markets"`
}

// AccountConfig tunes the REST account poller.
type AccountConfig struct {
	Enabled      bool     `toml:"enabled"`
	PollInterval duration `toml:"poll_interval"`
	ErrorBackoff duration `toml:"error_backoff"`
}

// MarketConfig is a market subscribed at startup. Tick and Kind override
// what the exchange reports; both are optional.
type MarketConfig struct {
	Name string      `toml:"name"`
	Tick decimalText `toml:"tick"`
	Kind string      `toml:"kind"`
}

// RedisConfig holds Redis connection parameters for the event mirror.
type RedisConfig struct {
	Enabled       bool     `toml:"enabled"`
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	ChannelPrefix string   `toml:"channel_prefix"`
	SnapshotTTL   duration `toml:"snapshot_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the control API and event stream listener.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit caps control requests per client per minute. It takes
	// effect only with redis enabled; 0 disables it.
	RateLimit int `toml:"rate_limit"`
}

// JournalConfig holds the PostgreSQL event journal. Kinds lists the event
// kinds persisted; empty means notifications and activity.
type JournalConfig struct {
	Enabled  bool     `toml:"enabled"`
	DSN      string   `toml:"dsn"`
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Database string   `toml:"database"`
	User     string   `toml:"user"`
	Password string   `toml:"password"`
	SSLMode  string   `toml:"sslmode"`
	MaxConns int      `toml:"max_conns"`
	MinConns int      `toml:"min_conns"`
	Kinds    []string `toml:"kinds"`
}

// ArchiveConfig holds the S3-compatible journal archive.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Retention      duration `toml:"retention"`
	Interval       duration `toml:"interval"`
	Prune          bool     `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// decimalText decodes quoted TOML strings such as "0.5" into an exact
// decimal.
type decimalText struct {
	decimal.Decimal
}

func (d *decimalText) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Decimal = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}

func (d decimalText) MarshalText() ([]byte, error) {
	return []byte(d.Decimal.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RestURL:        "https://ftx.com",
			WsURL:          "wss://ftx.com/ws/",
			RequestTimeout: duration{10 * time.Second},
		},
		Session: SessionConfig{
			PingInterval:      duration{15 * time.Second},
			IdleTimeout:       duration{30 * time.Second},
			ReconnectDelay:    duration{2 * time.Second},
			MaxReconnectDelay: duration{60 * time.Second},
			HandshakeTimeout:  duration{15 * time.Second},
		},
		Book: BookConfig{
			SettleDelay:   duration{500 * time.Millisecond},
			RawDepth:      0,
			GroupedDepth:  50,
			ChecksumDepth: 100,
		},
		Tape: TapeConfig{
			TradeHistory:      1000,
			ActivityHistory:   10000,
			ActivityThreshold: decimalText{decimal.NewFromInt(20000)},
		},
		Account: AccountConfig{
			Enabled:      true,
			PollInterval: duration{time.Second},
			ErrorBackoff: duration{2 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:       false,
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			ChannelPrefix: "domsync",
			SnapshotTTL:   duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"fills", "order_fail", "liquidation"},
		},
		Server: ServerConfig{
			Enabled:   false,
			Addr:      "127.0.0.1:8088",
			RateLimit: 120,
		},
		Journal: JournalConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			Database: "domsync",
			SSLMode:  "disable",
			MaxConns: 4,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Region:    "us-east-1",
			UseSSL:    true,
			Retention: duration{7 * 24 * time.Hour},
			Interval:  duration{6 * time.Hour},
			Prune:     true,
		},
		Mode:      "ladder",
		LogLevel:  "info",
		StopGrace: duration{3 * time.Second},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ladder":   true,
	"account":  true,
	"activity": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNotifyEvents = map[string]bool{
	"fills":       true,
	"orders":      true,
	"order_fail":  true,
	"liquidation": true,
}

var validEventKinds = map[string]bool{
	"book":           true,
	"volume_profile": true,
	"orders":         true,
	"position":       true,
	"account":        true,
	"trigger_orders": true,
	"activity":       true,
	"notification":   true,
	"mid":            true,
	"session_state":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ladder, account, activity, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.RestURL == "" {
		errs = append(errs, "exchange: rest_url must not be empty")
	}
	if c.Exchange.WsURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
		errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
	}
	if (c.Exchange.ApiSecret != "" || c.Exchange.EncryptedSecretPath != "") && c.Exchange.ApiKey == "" {
		errs = append(errs, "exchange: api_key must be set together with a secret")
	}

	// Session
	if c.Session.PingInterval.Duration <= 0 {
		errs = append(errs, "session: ping_interval must be > 0")
	}
	if c.Session.IdleTimeout.Duration <= c.Session.PingInterval.Duration {
		errs = append(errs, "session: idle_timeout must exceed ping_interval")
	}
	if c.Session.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "session: reconnect_delay must be > 0")
	}
	if c.Session.MaxReconnectDelay.Duration < c.Session.ReconnectDelay.Duration {
		errs = append(errs, "session: max_reconnect_delay must be >= reconnect_delay")
	}

	// Book
	if c.Book.SettleDelay.Duration < 0 {
		errs = append(errs, "book: settle_delay must be >= 0")
	}
	if c.Book.RawDepth < 0 || c.Book.GroupedDepth < 0 {
		errs = append(errs, "book: depths must be >= 0")
	}
	if c.Book.ChecksumDepth < 1 {
		errs = append(errs, "book: checksum_depth must be >= 1")
	}

	// Tape
	if c.Tape.TradeHistory < 1 {
		errs = append(errs, "tape: trade_history must be >= 1")
	}
	if c.Tape.ActivityHistory < 1 {
		errs = append(errs, "tape: activity_history must be >= 1")
	}
	if c.Tape.ActivityThreshold.IsNegative() {
		errs = append(errs, "tape: activity_threshold must be >= 0")
	}

	// Account
	if c.Account.Enabled && c.Account.PollInterval.Duration <= 0 {
		errs = append(errs, "account: poll_interval must be > 0")
	}

	// Markets
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if strings.TrimSpace(m.Name) == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: name must not be empty", i))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("markets[%d]: duplicate market %q", i, m.Name))
		}
		seen[m.Name] = true
		if m.Tick.IsNegative() {
			errs = append(errs, fmt.Sprintf("markets[%d]: tick must be > 0", i))
		}
		if m.Kind != "" && m.Kind != "spot" && m.Kind != "future" {
			errs = append(errs, fmt.Sprintf("markets[%d]: kind must be spot or future, got %q", i, m.Kind))
		}
	}
	needsMarkets := c.Mode == "ladder" || c.Mode == "full"
	if needsMarkets && len(c.Markets) == 0 {
		errs = append(errs, "markets: at least one market is required for mode "+c.Mode)
	}
	if c.Mode == "activity" && len(c.Tape.ActivityMarkets) == 0 {
		errs = append(errs, "tape: activity_markets must not be empty for mode activity")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must not be negative")
	}

	// Journal
	if c.Journal.Enabled {
		if c.Journal.DSN == "" && (c.Journal.Host == "" || c.Journal.Database == "") {
			errs = append(errs, "journal: dsn or host and database must be set")
		}
		for _, k := range c.Journal.Kinds {
			if !validEventKinds[k] {
				errs = append(errs, fmt.Sprintf("journal: unknown event kind %q", k))
			}
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Journal.Enabled {
			errs = append(errs, "archive: requires journal.enabled")
		}
		if c.Archive.Bucket == "" || c.Archive.Region == "" {
			errs = append(errs, "archive: bucket and region must not be empty")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if c.StopGrace.Duration <= 0 {
		errs = append(errs, "stop_grace must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
