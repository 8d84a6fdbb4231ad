package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "ladder"
log_level = "debug"

[exchange]
api_key = "key"
api_secret = "secret"
subaccount = "scalp"

[book]
settle_delay = "250ms"
grouped_depth = 40

[tape]
activity_threshold = "50000"
activity_markets = ["BTC-PERP", "ETH-PERP"]

[[markets]]
name = "BTC-PERP"
tick = "5"

[[markets]]
name = "SOL/USD"
kind = "spot"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.Book.SettleDelay.Duration)
	assert.Equal(t, 40, cfg.Book.GroupedDepth)
	assert.Equal(t, 100, cfg.Book.ChecksumDepth)
	assert.Equal(t, 15*time.Second, cfg.Session.PingInterval.Duration)
	assert.True(t, cfg.Tape.ActivityThreshold.Equal(decimal.NewFromInt(50000)))

	require.Len(t, cfg.Markets, 2)
	assert.True(t, cfg.Markets[0].Tick.Equal(decimal.NewFromInt(5)))
	assert.True(t, cfg.Markets[1].Tick.IsZero())
	assert.Equal(t, "spot", cfg.Markets[1].Kind)
	assert.True(t, cfg.Exchange.HasCredentials())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOMSYNC_EXCHANGE_API_SECRET", "from-env")
	t.Setenv("DOMSYNC_SESSION_RECONNECT_DELAY", "3s")
	t.Setenv("DOMSYNC_MARKETS", "ETH-PERP, BTC-PERP")
	t.Setenv("DOMSYNC_SERVER_RATE_LIMIT", "30")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Exchange.ApiSecret)
	assert.Equal(t, 3*time.Second, cfg.Session.ReconnectDelay.Duration)
	require.Len(t, cfg.Markets, 2)
	assert.Equal(t, "ETH-PERP", cfg.Markets[0].Name)
	assert.Equal(t, 30, cfg.Server.RateLimit)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Session.IdleTimeout = duration{time.Second}
	cfg.Notify.Events = []string{"arb_detected"}
	cfg.Exchange.EncryptedSecretPath = "/tmp/secret.json"
	cfg.Server.RateLimit = -1

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "idle_timeout must exceed ping_interval")
	assert.Contains(t, msg, `unknown event "arb_detected"`)
	assert.Contains(t, msg, "secret_password is required")
	assert.Contains(t, msg, "api_key must be set together")
	assert.Contains(t, msg, "rate_limit must not be negative")
}

func TestValidateRequiresMarketsForLadder(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one market")

	cfg.Mode = "account"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.ApiKey = "key"
	cfg.Exchange.ApiSecret = "secret"
	cfg.Notify.Events = []string{"fills"}
	cfg.Server.APIKey = "control"
	cfg.Journal.DSN = "postgres://u:p@db/j"
	cfg.Archive.SecretKey = "s3secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Journal.DSN)
	assert.Equal(t, "***", out.Archive.SecretKey)
	assert.Equal(t, "***", out.Exchange.ApiSecret)
	assert.Equal(t, "***", out.Exchange.ApiKey)
	assert.Equal(t, "secret", cfg.Exchange.ApiSecret)

	out.Notify.Events[0] = "orders"
	assert.Equal(t, "fills", cfg.Notify.Events[0])
}

func TestValidateArchiveNeedsJournal(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "account"
	cfg.Archive.Enabled = true
	cfg.Archive.Bucket = "journal"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: requires journal.enabled")

	cfg.Journal.Enabled = true
	cfg.Journal.Kinds = []string{"notification", "fills"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `journal: unknown event kind "fills"`)

	cfg.Journal.Kinds = []string{"notification"}
	assert.NoError(t, cfg.Validate())
}
