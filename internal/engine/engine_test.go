package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/domsync/internal/book"
	"github.com/alanyoungcy/domsync/internal/domain"
	"github.com/alanyoungcy/domsync/internal/platform/exchange"
)

// fakeTransport records control calls and lets tests inject frames.
type fakeTransport struct {
	mu        sync.Mutex
	handler   exchange.Handler
	calls     []string
	connected bool
	stopped   bool
	done      chan struct{}
}

func newFakeTransport() *fakeTransport { return &fakeTransport{done: make(chan struct{})} }

func (f *fakeTransport) ID() string                         { return "fake" }
func (f *fakeTransport) OnStateChange(func(exchange.State)) {}
func (f *fakeTransport) Done() <-chan struct{}              { return f.done }

func (f *fakeTransport) OnMessage(h exchange.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeTransport) Subscribe(sub domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "subscribe "+sub.Key())
	return nil
}

func (f *fakeTransport) Unsubscribe(sub domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unsubscribe "+sub.Key())
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.done)
	}
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) isConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) deliver(t *testing.T, msg exchange.Message) {
	t.Helper()
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	require.NotNil(t, h)
	h(msg)
}

type fakeREST struct {
	authed    bool
	info      map[string]domain.MarketInfo
	open      []domain.Order
	triggers  []domain.Order
	positions []domain.Position
}

func (f *fakeREST) Authenticated() bool { return f.authed }

func (f *fakeREST) Market(_ context.Context, name string) (domain.MarketInfo, error) {
	info, ok := f.info[name]
	if !ok {
		return domain.MarketInfo{}, domain.ErrNotFound
	}
	return info, nil
}

func (f *fakeREST) OpenOrders(context.Context) ([]domain.Order, error)    { return f.open, nil }
func (f *fakeREST) TriggerOrders(context.Context) ([]domain.Order, error) { return f.triggers, nil }
func (f *fakeREST) Positions(context.Context) ([]domain.Position, error)  { return f.positions, nil }
func (f *fakeREST) Balances(context.Context) ([]domain.Balance, error)    { return nil, nil }

type harness struct {
	eng        *Engine
	events     chan domain.Event
	rest       *fakeREST
	mu         sync.Mutex
	transports []*fakeTransport
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newHarness(t *testing.T, rest *fakeREST, cfg Config) *harness {
	t.Helper()
	if rest.info == nil {
		rest.info = map[string]domain.MarketInfo{
			"BTC-PERP": {Name: "BTC-PERP", Kind: domain.MarketKindFuture, PriceTick: d("0.5")},
		}
	}
	h := &harness{events: make(chan domain.Event, 256), rest: rest}
	factory := func() Transport {
		ft := newFakeTransport()
		h.mu.Lock()
		h.transports = append(h.transports, ft)
		h.mu.Unlock()
		return ft
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.eng = New(cfg, rest, factory, h.events, logger)
	t.Cleanup(func() { _ = h.eng.Stop() })
	return h
}

func (h *harness) transport(t *testing.T, i int) *fakeTransport {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.transports) > i && h.transports[i].isConnected()
	}, 2*time.Second, 5*time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[i]
}

// next returns the next event of kind, skipping others.
func (h *harness) next(t *testing.T, kind domain.EventKind) domain.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind() == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return nil
		}
	}
}

func frame(channel, market, typ string, data any) exchange.Message {
	raw, _ := json.Marshal(data)
	return exchange.Message{Channel: channel, Market: market, Type: typ, Data: raw}
}

func bookFrame(action string, bids, asks [][2]string, checksum *uint32) exchange.Message {
	data := map[string]any{"action": action, "bids": bids, "asks": asks, "time": 1700000000.5}
	if checksum != nil {
		data["checksum"] = *checksum
	}
	return frame("orderbook", "BTC-PERP", action, data)
}

func checksumOf(bids, asks [][2]string) uint32 {
	ob := book.NewOrderBook("BTC-PERP", decimal.Zero)
	conv := func(in [][2]string) []domain.PriceLevel {
		out := make([]domain.PriceLevel, len(in))
		for i, l := range in {
			out[i] = domain.PriceLevel{Price: d(l[0]), Size: d(l[1])}
		}
		return out
	}
	ob.Apply(conv(bids), conv(asks))
	return book.Checksum(ob, 100)
}

func orderFrame(id int64, price, remaining, filled, status string) exchange.Message {
	return frame("orders", "", "update", map[string]any{
		"id": id, "market": "BTC-PERP", "type": "limit", "side": "buy",
		"price": price, "size": "10", "filledSize": filled, "remainingSize": remaining,
		"status": status,
	})
}

func TestSubscribeOpensWorkerFeeds(t *testing.T) {
	h := newHarness(t, &fakeREST{authed: true}, Config{})
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))

	ft := h.transport(t, 0)
	assert.Equal(t, []string{
		"subscribe orderbook|BTC-PERP",
		"subscribe trades|BTC-PERP",
		"subscribe orders|",
		"subscribe fills|",
	}, ft.Calls())

	disp := h.next(t, domain.EventOrders).(domain.OrderDisplay)
	assert.Empty(t, disp.Buckets)
	pos := h.next(t, domain.EventPosition).(domain.PositionSummary)
	assert.Equal(t, "No Position", pos.Display)
	assert.Equal(t, []string{"BTC-PERP"}, h.eng.Markets())
}

func TestSubscribeUnknownMarket(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{})
	err := h.eng.Subscribe(context.Background(), "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOverrideRescuesFailedLookup(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{Overrides: map[string]MarketOverride{
		"SOL/USD": {Tick: d("0.01"), Kind: domain.MarketKindSpot},
	}})
	require.NoError(t, h.eng.Subscribe(context.Background(), "SOL/USD"))
	pos := h.next(t, domain.EventPosition).(domain.PositionSummary)
	assert.True(t, pos.Unavailable)
}

func TestControlsOnUnknownMarket(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{})
	assert.ErrorIs(t, h.eng.ResetVolumeProfile("BTC-PERP"), domain.ErrNotSubscribed)
	assert.ErrorIs(t, h.eng.RefreshTriggerOrders("BTC-PERP"), domain.ErrNotSubscribed)
	assert.ErrorIs(t, h.eng.Unsubscribe("BTC-PERP"), domain.ErrNotSubscribed)
	assert.ErrorIs(t, h.eng.ChangeGranularity("BTC-PERP", d("0")), domain.ErrInvalidTick)
}

func TestChecksumMismatchResubscribesAndPartialReplaces(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{})
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))
	ft := h.transport(t, 0)

	bids := [][2]string{{"100", "1"}, {"99.5", "2"}}
	asks := [][2]string{{"100.5", "3"}}
	sum := checksumOf(bids, asks)
	ft.deliver(t, bookFrame("partial", bids, asks, &sum))
	snap := h.next(t, domain.EventBook).(domain.BookSnapshot)
	assert.True(t, snap.BestBid.Equal(d("100")))
	mid := h.next(t, domain.EventMid).(domain.MidPrice)
	assert.True(t, mid.Price.Equal(d("100.25")))

	wrong := sum + 1
	ft.deliver(t, bookFrame("update", [][2]string{{"99", "4"}}, nil, &wrong))
	require.Eventually(t, func() bool {
		calls := ft.Calls()
		return len(calls) >= 4 &&
			calls[len(calls)-2] == "unsubscribe orderbook|BTC-PERP" &&
			calls[len(calls)-1] == "subscribe orderbook|BTC-PERP"
	}, 2*time.Second, 5*time.Millisecond)

	// updates before the fresh partial are dropped
	ft.deliver(t, bookFrame("update", [][2]string{{"98", "1"}}, nil, nil))

	fresh := [][2]string{{"90", "5"}}
	freshSum := checksumOf(fresh, asks)
	ft.deliver(t, bookFrame("partial", fresh, asks, &freshSum))
	snap = h.next(t, domain.EventBook).(domain.BookSnapshot)
	assert.True(t, snap.BestBid.Equal(d("90")))
	bidRows := 0
	for _, r := range snap.Rows {
		if r.BidSize.IsPositive() {
			bidRows++
		}
	}
	assert.Equal(t, 1, bidRows)
}

func TestChangeGranularity(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{SettleDelay: time.Millisecond})
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))
	ft := h.transport(t, 0)
	h.next(t, domain.EventOrders)

	ft.deliver(t, frame("trades", "BTC-PERP", "update", []map[string]any{
		{"id": 1, "price": "100.5", "size": "2", "side": "buy"},
	}))
	vp := h.next(t, domain.EventVolumeProfile).(domain.VolumeProfileEvent)
	assert.False(t, vp.Refresh)

	require.NoError(t, h.eng.ChangeGranularity("BTC-PERP", d("1")))
	vp = h.next(t, domain.EventVolumeProfile).(domain.VolumeProfileEvent)
	assert.True(t, vp.Refresh)
	require.Len(t, vp.Full, 1)
	assert.True(t, vp.Full[0].Price.Equal(d("101")))
	disp := h.next(t, domain.EventOrders).(domain.OrderDisplay)
	assert.True(t, disp.Tick.Equal(d("1")))

	calls := ft.Calls()
	assert.Equal(t, []string{"unsubscribe orderbook|BTC-PERP", "subscribe orderbookGrouped|BTC-PERP|1"}, calls[len(calls)-2:])

	// frames from the old raw feed are ignored after the switch
	ft.deliver(t, bookFrame("partial", [][2]string{{"100", "1"}}, nil, nil))
	grouped := frame("orderbookGrouped", "BTC-PERP", "partial", map[string]any{
		"action": "partial", "bids": [][2]string{{"100", "7"}}, "asks": [][2]string{},
	})
	grouped.Grouping = decimal.NewNullDecimal(d("1"))
	ft.deliver(t, grouped)
	snap := h.next(t, domain.EventBook).(domain.BookSnapshot)
	assert.True(t, snap.Refresh)
	assert.True(t, snap.Grouping.Equal(d("1")))
	require.Len(t, snap.Rows, 1)
	assert.True(t, snap.Rows[0].BidSize.Equal(d("7")))
}

func TestResetVolumeProfile(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{})
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))
	h.transport(t, 0)
	require.NoError(t, h.eng.ResetVolumeProfile("BTC-PERP"))
	vp := h.next(t, domain.EventVolumeProfile).(domain.VolumeProfileEvent)
	assert.True(t, vp.Refresh)
	assert.Empty(t, vp.Full)
}

func TestOrderLifecycleEndToEnd(t *testing.T) {
	rest := &fakeREST{authed: true, open: []domain.Order{{
		ID: 42, Market: "BTC-PERP", Side: domain.SideBuy, Price: d("50"),
		Size: d("10"), RemainingSize: d("10"), Status: domain.OrderStatusOpen,
	}}}
	h := newHarness(t, rest, Config{})
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))
	ft := h.transport(t, 0)

	disp := h.next(t, domain.EventOrders).(domain.OrderDisplay)
	require.Len(t, disp.Buckets, 1)
	assert.True(t, disp.Buckets[0].Open.Quantity.Equal(d("10")))

	ft.deliver(t, orderFrame(42, "50", "4", "6", "open"))
	n := h.next(t, domain.EventNotification).(domain.Notification)
	assert.Equal(t, domain.NotifyOrders, n.Type)
	disp = h.next(t, domain.EventOrders).(domain.OrderDisplay)
	require.Len(t, disp.Buckets, 1)
	assert.True(t, disp.Buckets[0].Open.Quantity.Equal(d("4")))
	assert.Equal(t, []int64{42}, disp.Buckets[0].OrderIDs)
	h.next(t, domain.EventPosition)

	ft.deliver(t, orderFrame(42, "50", "0", "10", "closed"))
	disp = h.next(t, domain.EventOrders).(domain.OrderDisplay)
	assert.Empty(t, disp.Buckets)
}

func TestUnfilledCloseRaisesNoNotification(t *testing.T) {
	h := newHarness(t, &fakeREST{authed: true}, Config{})
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))
	ft := h.transport(t, 0)
	h.next(t, domain.EventPosition)

	ft.deliver(t, orderFrame(7, "60", "0", "0", "closed"))
	ft.deliver(t, frame("fills", "", "update", map[string]any{
		"id": 1, "orderId": 8, "market": "BTC-PERP", "side": "sell", "price": "61", "size": "1",
	}))

	n := h.next(t, domain.EventNotification).(domain.Notification)
	assert.Equal(t, domain.NotifyFills, n.Type)
	assert.Equal(t, "sell 1 BTC-PERP @ 61", n.Message)
	h.next(t, domain.EventPosition)
}

func TestRouteTriggerOrders(t *testing.T) {
	h := newHarness(t, &fakeREST{authed: true}, Config{})
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))
	h.transport(t, 0)
	h.next(t, domain.EventPosition)

	trig := domain.Order{ID: 5, Market: "BTC-PERP", Side: domain.SideSell, Price: d("90"),
		Size: d("1"), RemainingSize: d("1"), Status: domain.OrderStatusOpen, Trigger: true}
	h.eng.RouteTriggerOrders(domain.TriggerOrdersEvent{Status: domain.StatusNotLoggedIn})
	h.eng.RouteTriggerOrders(domain.TriggerOrdersEvent{ByMarket: map[string][]domain.Order{"BTC-PERP": {trig}}})

	disp := h.next(t, domain.EventOrders).(domain.OrderDisplay)
	require.Len(t, disp.Buckets, 1)
	require.NotNil(t, disp.Buckets[0].Trigger)
	assert.Nil(t, disp.Buckets[0].Open)
}

func TestReportOrderFailure(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{})
	h.eng.ReportOrderFailure("BTC-PERP", "post only would cross")
	n := h.next(t, domain.EventNotification).(domain.Notification)
	assert.Equal(t, domain.NotifyOrderFail, n.Type)
	assert.Equal(t, "post only would cross", n.Message)
	assert.NotEmpty(t, n.ID)
}

func TestWatchActivity(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{ActivityThreshold: d("20000")})
	require.NoError(t, h.eng.WatchActivity([]string{"BTC-PERP", "ETH-PERP"}))
	ft := h.transport(t, 0)
	assert.Equal(t, []string{"subscribe trades|BTC-PERP", "subscribe trades|ETH-PERP"}, ft.Calls())

	ft.deliver(t, frame("trades", "ETH-PERP", "update", []map[string]any{
		{"id": 1, "price": "2000", "size": "1", "side": "buy"},
		{"id": 2, "price": "2000", "size": "15", "side": "sell", "liquidation": true},
	}))
	entry := h.next(t, domain.EventActivity).(domain.ActivityEntry)
	assert.Equal(t, "ETH-PERP", entry.Market)
	assert.Equal(t, "30,000", entry.Display)
	n := h.next(t, domain.EventNotification).(domain.Notification)
	assert.Equal(t, domain.NotifyLiquidation, n.Type)
}

func TestStopTearsDownWorkers(t *testing.T) {
	h := newHarness(t, &fakeREST{}, Config{StopGrace: time.Second})
	require.NoError(t, h.eng.Subscribe(context.Background(), "BTC-PERP"))
	ft := h.transport(t, 0)

	require.NoError(t, h.eng.Stop())
	select {
	case <-ft.Done():
	default:
		t.Fatal("transport not stopped")
	}
	err := h.eng.Subscribe(context.Background(), "BTC-PERP")
	assert.True(t, errors.Is(err, domain.ErrEngineStopped), fmt.Sprint(err))
	assert.ErrorIs(t, h.eng.ResetVolumeProfile("BTC-PERP"), domain.ErrEngineStopped)
}
