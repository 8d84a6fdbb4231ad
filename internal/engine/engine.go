// Package engine runs one worker per subscribed market and exposes the
// inbound control surface. Workers own their book, tape and order state
// and publish immutable events on a single outbound channel.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/band"
	"github.com/alanyoungcy/domsync/internal/domain"
	"github.com/alanyoungcy/domsync/internal/orders"
	"github.com/alanyoungcy/domsync/internal/platform/exchange"
)

// Transport is the push connection a worker reads from. *exchange.Session
// satisfies it.
type Transport interface {
	ID() string
	OnMessage(h exchange.Handler)
	OnStateChange(f func(exchange.State))
	Connect(ctx context.Context) error
	Subscribe(sub domain.Subscription) error
	Unsubscribe(sub domain.Subscription) error
	Stop()
	Done() <-chan struct{}
}

// TransportFactory creates a fresh, unconnected transport.
type TransportFactory func() Transport

// RESTClient is the REST surface the workers read.
type RESTClient interface {
	orders.AccountReader
	Authenticated() bool
	Market(ctx context.Context, name string) (domain.MarketInfo, error)
	OpenOrders(ctx context.Context) ([]domain.Order, error)
	TriggerOrders(ctx context.Context) ([]domain.Order, error)
}

// MarketOverride replaces exchange-reported metadata for one market.
type MarketOverride struct {
	Tick decimal.Decimal
	Kind domain.MarketKind
}

// Config tunes the workers.
type Config struct {
	SettleDelay       time.Duration
	RawDepth          int
	GroupedDepth      int
	ChecksumDepth     int
	TradeHistory      int
	ActivityHistory   int
	ActivityThreshold decimal.Decimal
	StopGrace         time.Duration
	Overrides         map[string]MarketOverride
}

// Engine is the control surface over all market workers.
type Engine struct {
	cfg          Config
	rest         RESTClient
	newTransport TransportFactory
	events       chan<- domain.Event
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	workers  map[string]*marketWorker
	activity *activityWorker
	stopped  bool
}

// New creates an engine publishing on events. The caller owns events and
// must keep draining it until Stop returns.
func New(cfg Config, rest RESTClient, newTransport TransportFactory, events chan<- domain.Event, logger *slog.Logger) *Engine {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 3 * time.Second
	}
	if cfg.TradeHistory <= 0 {
		cfg.TradeHistory = 1000
	}
	if cfg.ActivityHistory <= 0 {
		cfg.ActivityHistory = 10000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:          cfg,
		rest:         rest,
		newTransport: newTransport,
		events:       events,
		logger:       logger.With(slog.String("component", "engine")),
		ctx:          ctx,
		cancel:       cancel,
		workers:      make(map[string]*marketWorker),
	}
}

// Subscribe starts a worker for market. Market metadata is fetched over
// REST; a configured override wins and lets a market start even when the
// lookup fails. Subscribing twice is a no-op.
func (e *Engine) Subscribe(ctx context.Context, market string) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine: subscribe %s: %w", market, domain.ErrEngineStopped)
	}
	if _, ok := e.workers[market]; ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	info, err := e.marketInfo(ctx, market)
	if err != nil {
		return fmt.Errorf("engine: subscribe %s: %w", market, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return fmt.Errorf("engine: subscribe %s: %w", market, domain.ErrEngineStopped)
	}
	if _, ok := e.workers[market]; ok {
		return nil
	}
	w := newMarketWorker(e, info)
	e.workers[market] = w
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.run()
	}()
	e.logger.InfoContext(ctx, "market subscribed",
		slog.String("market", market),
		slog.String("tick", info.PriceTick.String()),
		slog.String("kind", string(info.Kind)),
	)
	return nil
}

func (e *Engine) marketInfo(ctx context.Context, market string) (domain.MarketInfo, error) {
	ov, hasOverride := e.cfg.Overrides[market]
	info, err := e.rest.Market(ctx, market)
	if err != nil {
		if !hasOverride || !band.Valid(ov.Tick) {
			return domain.MarketInfo{}, err
		}
		e.logger.WarnContext(ctx, "market lookup failed, using configured tick",
			slog.String("market", market),
			slog.String("error", err.Error()),
		)
		info = domain.MarketInfo{Name: market, Kind: domain.MarketKindFuture}
	}
	if hasOverride {
		if band.Valid(ov.Tick) {
			info.PriceTick = ov.Tick
		}
		if ov.Kind != "" {
			info.Kind = ov.Kind
		}
	}
	if !band.Valid(info.PriceTick) {
		return domain.MarketInfo{}, fmt.Errorf("%w: %s", domain.ErrInvalidTick, info.PriceTick)
	}
	return info, nil
}

// Unsubscribe stops the market's worker and tears down its socket.
func (e *Engine) Unsubscribe(market string) error {
	e.mu.Lock()
	w, ok := e.workers[market]
	delete(e.workers, market)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: unsubscribe %s: %w", market, domain.ErrNotSubscribed)
	}
	w.stop()
	select {
	case <-w.done:
	case <-time.After(e.cfg.StopGrace):
		e.logger.Warn("worker slow to stop", slog.String("market", market))
	}
	e.logger.Info("market unsubscribed", slog.String("market", market))
	return nil
}

// Markets lists the subscribed markets.
func (e *Engine) Markets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.workers))
	for m := range e.workers {
		out = append(out, m)
	}
	return out
}

// ChangeGranularity switches the display tick of market. The switch runs
// on the worker; the next book, profile and order display carry the new
// tick and the book and profile are flagged as a refresh.
func (e *Engine) ChangeGranularity(market string, tick decimal.Decimal) error {
	if !band.Valid(tick) {
		return fmt.Errorf("engine: change granularity %s: %w: %s", market, domain.ErrInvalidTick, tick)
	}
	return e.send(market, "change granularity", func(ctx context.Context, w *marketWorker) {
		w.changeGranularity(ctx, tick)
	})
}

// ResetVolumeProfile clears the market's volume profile.
func (e *Engine) ResetVolumeProfile(market string) error {
	return e.send(market, "reset volume profile", func(ctx context.Context, w *marketWorker) {
		w.resetProfile(ctx)
	})
}

// RefreshTriggerOrders reloads trigger orders for market over REST.
func (e *Engine) RefreshTriggerOrders(market string) error {
	return e.send(market, "refresh trigger orders", func(ctx context.Context, w *marketWorker) {
		w.refreshTriggers(ctx)
	})
}

// RouteTriggerOrders hands polled trigger orders to every worker. Markets
// missing from the event have no trigger orders left. Failed polls are
// ignored so workers keep what they have.
func (e *Engine) RouteTriggerOrders(ev domain.TriggerOrdersEvent) {
	if ev.Status != "" {
		return
	}
	e.mu.Lock()
	workers := make([]*marketWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.Unlock()

	for _, w := range workers {
		triggers := ev.ByMarket[w.info.Name]
		w.enqueue(func(ctx context.Context, w *marketWorker) {
			w.setTriggers(ctx, triggers)
		})
	}
}

// ReportOrderFailure raises an order_fail notification for market.
func (e *Engine) ReportOrderFailure(market, reason string) {
	e.emit(e.ctx, newNotification(domain.NotifyOrderFail, market, reason))
}

// WatchActivity starts the global activity feed over markets. Calling it
// again replaces the watched set.
func (e *Engine) WatchActivity(markets []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return fmt.Errorf("engine: watch activity: %w", domain.ErrEngineStopped)
	}
	if e.activity != nil {
		e.activity.cancel()
	}
	if len(markets) == 0 {
		e.activity = nil
		return nil
	}
	a := newActivityWorker(e, markets)
	e.activity = a
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		a.run()
	}()
	return nil
}

// Stop cancels every worker and waits up to the configured grace period
// for them to release their sockets.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.workers = make(map[string]*marketWorker)
	e.activity = nil
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-time.After(e.cfg.StopGrace):
		e.logger.Warn("engine stop grace exceeded", slog.Duration("grace", e.cfg.StopGrace))
		return fmt.Errorf("engine: stop: %w", context.DeadlineExceeded)
	}
}

func (e *Engine) send(market, op string, cmd command) error {
	e.mu.Lock()
	w, ok := e.workers[market]
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return fmt.Errorf("engine: %s %s: %w", op, market, domain.ErrEngineStopped)
	}
	if !ok {
		return fmt.Errorf("engine: %s %s: %w", op, market, domain.ErrNotSubscribed)
	}
	if !w.enqueue(cmd) {
		return fmt.Errorf("engine: %s %s: %w", op, market, domain.ErrNotSubscribed)
	}
	return nil
}

// emit publishes ev, giving up when ctx ends.
func (e *Engine) emit(ctx context.Context, ev domain.Event) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// tryEmit publishes ev only if the channel has room.
func (e *Engine) tryEmit(ev domain.Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Debug("event dropped", slog.String("kind", string(ev.Kind())))
	}
}

func newNotification(kind domain.NotificationKind, market, msg string) domain.Notification {
	return domain.Notification{
		ID:      uuid.NewString(),
		Type:    kind,
		Market:  market,
		Message: msg,
		Time:    time.Now().UTC(),
	}
}
