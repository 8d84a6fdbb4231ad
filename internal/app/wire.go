package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/domsync/internal/blob/s3"
	"github.com/alanyoungcy/domsync/internal/cache/redis"
	"github.com/alanyoungcy/domsync/internal/config"
	"github.com/alanyoungcy/domsync/internal/crypto"
	"github.com/alanyoungcy/domsync/internal/domain"
	"github.com/alanyoungcy/domsync/internal/engine"
	"github.com/alanyoungcy/domsync/internal/notify"
	"github.com/alanyoungcy/domsync/internal/pipeline"
	"github.com/alanyoungcy/domsync/internal/platform/exchange"
	"github.com/alanyoungcy/domsync/internal/server/ws"
	"github.com/alanyoungcy/domsync/internal/store/postgres"
)

// Dependencies bundles what the modes need. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	// Exchange
	REST    *exchange.Client
	Session exchange.SessionConfig

	// Outbound sinks, in dispatch order.
	Sinks []Sink

	// Notifications
	Notifier *notify.Notifier

	// Event stream for presentation clients; nil when the server is off.
	Hub *ws.Hub

	// Control API throttle; nil without redis.
	Limiter domain.RateLimiter

	// Journal maintenance; nil when the archive is off.
	Archiver *pipeline.Archiver
}

// Sink is a named outbound event consumer.
type Sink struct {
	Name      string
	Publisher domain.EventPublisher
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Credentials ---
	var auth *crypto.HMACAuth
	if cfg.Exchange.HasCredentials() {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           cfg.Exchange.ApiSecret,
			EncryptedPath: cfg.Exchange.EncryptedSecretPath,
			Password:      cfg.Exchange.SecretPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: api secret: %w", err)
		}
		auth = &crypto.HMACAuth{
			Key:        cfg.Exchange.ApiKey,
			Secret:     secret,
			Subaccount: cfg.Exchange.Subaccount,
		}
		logger.InfoContext(ctx, "exchange credentials loaded", slog.String("auth", auth.String()))
	} else {
		logger.InfoContext(ctx, "no exchange credentials, private feeds disabled")
	}

	// --- Exchange ---
	deps.REST = exchange.NewClient(cfg.Exchange.RestURL, auth, cfg.Exchange.RequestTimeout.Duration)
	deps.Session = exchange.SessionConfig{
		URL:               cfg.Exchange.WsURL,
		Auth:              auth,
		PingInterval:      cfg.Session.PingInterval.Duration,
		IdleTimeout:       cfg.Session.IdleTimeout.Duration,
		ReconnectDelay:    cfg.Session.ReconnectDelay.Duration,
		MaxReconnectDelay: cfg.Session.MaxReconnectDelay.Duration,
		HandshakeTimeout:  cfg.Session.HandshakeTimeout.Duration,
	}

	// --- Redis mirror (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
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

		mirror := redis.NewMirror(
			redis.NewEventBus(redisClient, cfg.Redis.ChannelPrefix),
			redis.NewBookCache(redisClient, cfg.Redis.ChannelPrefix, cfg.Redis.SnapshotTTL.Duration),
		)
		deps.Sinks = append(deps.Sinks, Sink{Name: "redis", Publisher: mirror})
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Redis.ChannelPrefix)
	}

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.Notifier.Enabled() {
		deps.Sinks = append(deps.Sinks, Sink{Name: "notify", Publisher: deps.Notifier})
	}

	// --- Journal (optional) ---
	if cfg.Journal.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Journal.DSN,
			Host:     cfg.Journal.Host,
			Port:     cfg.Journal.Port,
			Database: cfg.Journal.Database,
			User:     cfg.Journal.User,
			Password: cfg.Journal.Password,
			SSLMode:  cfg.Journal.SSLMode,
			MaxConns: cfg.Journal.MaxConns,
			MinConns: cfg.Journal.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: migrations: %w", err)
		}
		journal := postgres.NewJournalStore(pgClient.Pool(), cfg.Journal.Kinds)
		deps.Sinks = append(deps.Sinks, Sink{Name: "journal", Publisher: journal})

		// --- Archive (optional, needs the journal) ---
		if cfg.Archive.Enabled {
			blob, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.Archive.Endpoint,
				Region:         cfg.Archive.Region,
				Bucket:         cfg.Archive.Bucket,
				AccessKey:      cfg.Archive.AccessKey,
				SecretKey:      cfg.Archive.SecretKey,
				UseSSL:         cfg.Archive.UseSSL,
				ForcePathStyle: cfg.Archive.ForcePathStyle,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}
			if err := blob.Health(ctx); err != nil {
				logger.WarnContext(ctx, "archive bucket not reachable", slog.String("error", err.Error()))
			}
			deps.Archiver = pipeline.NewArchiver(
				s3blob.NewArchiver(s3blob.NewWriter(blob), journal),
				journal,
				pipeline.ArchiverConfig{
					Retention: cfg.Archive.Retention.Duration,
					Interval:  cfg.Archive.Interval.Duration,
					Prune:     cfg.Archive.Prune,
				},
				logger,
			)
		}
	}

	// --- Event stream ---
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(logger, ws.Config{
			Mode:        cfg.Mode,
			StartedAt:   time.Now().UTC(),
			CheckOrigin: originChecker(cfg.Server.CORSOrigins),
		})
		deps.Sinks = append(deps.Sinks, Sink{Name: "ws", Publisher: deps.Hub})
	}

	return deps, cleanup, nil
}

// originChecker accepts websocket upgrades from the configured origins, or
// from anywhere when none are configured.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// engineConfig maps the book, tape and market sections onto the engine.
func engineConfig(cfg *config.Config) engine.Config {
	overrides := make(map[string]engine.MarketOverride, len(cfg.Markets))
	for _, m := range cfg.Markets {
		overrides[m.Name] = engine.MarketOverride{
			Tick: m.Tick.Decimal,
			Kind: domain.MarketKind(m.Kind),
		}
	}
	return engine.Config{
		SettleDelay:       cfg.Book.SettleDelay.Duration,
		RawDepth:          cfg.Book.RawDepth,
		GroupedDepth:      cfg.Book.GroupedDepth,
		ChecksumDepth:     cfg.Book.ChecksumDepth,
		TradeHistory:      cfg.Tape.TradeHistory,
		ActivityHistory:   cfg.Tape.ActivityHistory,
		ActivityThreshold: cfg.Tape.ActivityThreshold.Decimal,
		StopGrace:         cfg.StopGrace.Duration,
		Overrides:         overrides,
	}
}
