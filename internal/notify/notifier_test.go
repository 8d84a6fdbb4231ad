package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/domsync/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNotifyFiltersByType(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"fills", " liquidation"}, discard)

	require.NoError(t, n.Notify(context.Background(), domain.Notification{Type: domain.NotifyOrders, Message: "x"}))
	require.NoError(t, n.Notify(context.Background(), domain.Notification{
		Type: domain.NotifyFills, Market: "BTC-PERP", Message: "buy 1 BTC-PERP @ 100",
	}))
	require.NoError(t, n.Notify(context.Background(), domain.Notification{
		Type: domain.NotifyLiquidation, Market: "ETH-PERP", Message: "30,000 sell liquidated @ 2000",
	}))

	assert.Equal(t, []string{"Order Filled", "Liquidation"}, s.titles)
	assert.Equal(t, "buy 1 BTC-PERP @ 100", s.bodies[0])
	assert.Equal(t, "ETH-PERP: 30,000 sell liquidated @ 2000", s.bodies[1])
}

func TestPublishIgnoresOtherEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard)
	require.NoError(t, n.Publish(context.Background(), domain.MidPrice{Market: "BTC-PERP"}))
	require.NoError(t, n.Publish(context.Background(), domain.Notification{Type: domain.NotifyOrderFail, Message: "rejected"}))
	assert.Equal(t, []string{"Unsuccessful Order"}, s.titles)
	assert.True(t, n.Enabled())
}

func TestDispatchContinuesPastFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard)

	err := n.Notify(context.Background(), domain.Notification{Type: domain.NotifyOrders, Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.titles, 1)
}

func TestTelegramSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Order Filled", "buy 1 BTC_PERP"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Order Filled*\nbuy 1 BTC\\_PERP", got["text"])
}

func TestDiscordSendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDiscordSendEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Send(context.Background(), "Liquidation", "BTC-PERP: sell 2 @ 40000"))

	assert.Equal(t, "domsync", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Liquidation", got.Embeds[0].Title)
	assert.Equal(t, "BTC-PERP: sell 2 @ 40000", got.Embeds[0].Description)
	assert.Equal(t, 0xe74c3c, got.Embeds[0].Color)
	assert.Equal(t, "2024-03-01T12:00:00Z", got.Embeds[0].Timestamp)

	require.NoError(t, s.Send(context.Background(), "something else", "m"))
	assert.Equal(t, discordNeutral, got.Embeds[0].Color)
}
