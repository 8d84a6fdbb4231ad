package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/book"
	"github.com/alanyoungcy/domsync/internal/domain"
	"github.com/alanyoungcy/domsync/internal/orders"
	"github.com/alanyoungcy/domsync/internal/platform/exchange"
	"github.com/alanyoungcy/domsync/internal/tape"
)

const (
	inboxSize    = 256
	commandsSize = 16
)

// command runs on the worker goroutine with exclusive access to its state.
type command func(ctx context.Context, w *marketWorker)

// marketWorker owns everything about one market. All fields below logger
// are touched only by the run goroutine.
type marketWorker struct {
	eng       *Engine
	info      domain.MarketInfo
	transport Transport
	logger    *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	inbox    chan exchange.Message
	commands chan command
	done     chan struct{}

	sync     *book.Synchronizer
	tape     *tape.Tape
	recon    *orders.Reconciler
	position *orders.PositionResolver
	private  bool
}

func newMarketWorker(e *Engine, info domain.MarketInfo) *marketWorker {
	ctx, cancel := context.WithCancel(e.ctx)
	logger := e.logger.With(slog.String("market", info.Name))
	return &marketWorker{
		eng:       e,
		info:      info,
		transport: e.newTransport(),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan exchange.Message, inboxSize),
		commands:  make(chan command, commandsSize),
		done:      make(chan struct{}),
		sync: book.NewSynchronizer(info.Name, info.PriceTick, book.Config{
			NativeTick:    info.PriceTick,
			RawDepth:      e.cfg.RawDepth,
			GroupedDepth:  e.cfg.GroupedDepth,
			ChecksumDepth: e.cfg.ChecksumDepth,
		}, logger),
		tape:     tape.New(info.Name, info.PriceTick, info.PriceTick, e.cfg.TradeHistory),
		recon:    orders.NewReconciler(info.Name),
		position: orders.NewPositionResolver(info, e.rest, logger),
		private:  e.rest.Authenticated(),
	}
}

// enqueue hands cmd to the worker. It reports false once the worker has
// stopped.
func (w *marketWorker) enqueue(cmd command) bool {
	select {
	case w.commands <- cmd:
		return true
	case <-w.ctx.Done():
		return false
	}
}

func (w *marketWorker) stop() {
	w.cancel()
}

func (w *marketWorker) run() {
	defer close(w.done)
	defer w.transport.Stop()

	w.transport.OnMessage(func(msg exchange.Message) {
		select {
		case w.inbox <- msg:
		case <-w.ctx.Done():
		}
	})
	w.transport.OnStateChange(func(st exchange.State) {
		w.eng.tryEmit(domain.SessionState{
			Market:    w.info.Name,
			SessionID: w.transport.ID(),
			State:     st.String(),
			Time:      time.Now().UTC(),
		})
	})

	for _, sub := range w.subscriptions() {
		if err := w.transport.Subscribe(sub); err != nil {
			w.logger.Error("subscribe failed", slog.String("sub", sub.String()), slog.String("error", err.Error()))
			return
		}
	}
	if err := w.transport.Connect(w.ctx); err != nil {
		w.logger.Error("connect failed", slog.String("error", err.Error()))
		return
	}

	w.bootstrap(w.ctx)

	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.inbox:
			w.handle(w.ctx, msg)
		case cmd := <-w.commands:
			cmd(w.ctx, w)
		}
	}
}

func (w *marketWorker) subscriptions() []domain.Subscription {
	subs := []domain.Subscription{
		w.sync.Subscription(),
		{Channel: domain.ChannelTrades, Market: w.info.Name},
	}
	if w.private {
		subs = append(subs,
			domain.Subscription{Channel: domain.ChannelOrders},
			domain.Subscription{Channel: domain.ChannelFills},
		)
	}
	return subs
}

// bootstrap loads the REST order snapshot and publishes the initial order
// display and position.
func (w *marketWorker) bootstrap(ctx context.Context) {
	if !w.private {
		w.emitOrders(ctx)
		w.eng.emit(ctx, orders.Unavailable(w.info.Name))
		return
	}
	open, err := w.eng.rest.OpenOrders(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "open orders unavailable", slog.String("error", err.Error()))
	}
	triggers, err := w.eng.rest.TriggerOrders(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "trigger orders unavailable", slog.String("error", err.Error()))
	}
	w.recon.Init(open, triggers)
	w.emitOrders(ctx)
	w.emitPosition(ctx)
}

func (w *marketWorker) handle(ctx context.Context, msg exchange.Message) {
	switch domain.Channel(msg.Channel) {
	case domain.ChannelOrderbook, domain.ChannelOrderbookGrouped:
		w.handleBook(ctx, msg)
	case domain.ChannelTrades:
		w.handleTrades(ctx, msg)
	case domain.ChannelOrders:
		w.handleOrder(ctx, msg)
	case domain.ChannelFills:
		w.handleFill(ctx, msg)
	default:
		w.logger.Debug("unhandled channel", slog.String("channel", msg.Channel))
	}
}

func (w *marketWorker) handleBook(ctx context.Context, msg exchange.Message) {
	frame, err := exchange.DecodeBook(msg)
	if err != nil {
		w.logger.Warn("bad book frame", slog.String("error", err.Error()))
		return
	}
	res := w.sync.Apply(frame)
	switch res.Action {
	case book.ActionEmit:
		w.eng.emit(ctx, res.Snapshot)
		if !res.Snapshot.Mid.IsZero() {
			w.eng.emit(ctx, domain.MidPrice{Market: w.info.Name, Price: res.Snapshot.Mid})
		}
	case book.ActionResync:
		w.logger.Warn("book checksum mismatch, resyncing", slog.String("error", res.Err.Error()))
		w.resubscribe(w.sync.Subscription())
	}
}

// resubscribe forces a fresh partial for sub. Updates that arrive before
// it are dropped by the synchronizer.
func (w *marketWorker) resubscribe(sub domain.Subscription) {
	if err := w.transport.Unsubscribe(sub); err != nil {
		w.logger.Warn("resync unsubscribe failed", slog.String("error", err.Error()))
	}
	if err := w.transport.Subscribe(sub); err != nil {
		w.logger.Warn("resync subscribe failed", slog.String("error", err.Error()))
	}
}

func (w *marketWorker) handleTrades(ctx context.Context, msg exchange.Message) {
	trades, err := exchange.DecodeTrades(msg)
	if err != nil {
		w.logger.Warn("bad trades frame", slog.String("error", err.Error()))
		return
	}
	if len(trades) == 0 {
		return
	}
	w.tape.Add(trades)
	w.eng.emit(ctx, w.tape.Emit())
}

func (w *marketWorker) handleOrder(ctx context.Context, msg exchange.Message) {
	o, err := exchange.DecodeOrder(msg)
	if err != nil {
		w.logger.Warn("bad order frame", slog.String("error", err.Error()))
		return
	}
	if o.Market != w.info.Name {
		return
	}
	if !(o.FilledSize.IsZero() && o.Status == domain.OrderStatusClosed) {
		w.eng.emit(ctx, newNotification(domain.NotifyOrders, o.Market, describeOrder(o)))
	}
	if w.recon.Apply(o) {
		w.emitOrders(ctx)
		w.emitPosition(ctx)
	}
}

func (w *marketWorker) handleFill(ctx context.Context, msg exchange.Message) {
	f, err := exchange.DecodeFill(msg)
	if err != nil {
		w.logger.Warn("bad fill frame", slog.String("error", err.Error()))
		return
	}
	if f.Market != w.info.Name {
		return
	}
	w.eng.emit(ctx, newNotification(domain.NotifyFills, f.Market,
		fmt.Sprintf("%s %s %s @ %s", f.Side, f.Size, f.Market, f.Price)))
	w.emitPosition(ctx)
}

func (w *marketWorker) changeGranularity(ctx context.Context, tick decimal.Decimal) {
	old, next, changed := w.sync.SetTick(tick)
	if !changed {
		return
	}
	if err := w.transport.Unsubscribe(old); err != nil {
		w.logger.Warn("unsubscribe old book failed", slog.String("error", err.Error()))
	}
	if d := w.eng.cfg.SettleDelay; d > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
	if err := w.transport.Subscribe(next); err != nil {
		w.logger.Warn("subscribe new book failed", slog.String("error", err.Error()))
	}
	w.tape.SetTick(tick)
	w.eng.emit(ctx, w.tape.Emit())
	w.emitOrders(ctx)
}

func (w *marketWorker) resetProfile(ctx context.Context) {
	w.tape.Reset()
	w.eng.emit(ctx, w.tape.Emit())
}

func (w *marketWorker) refreshTriggers(ctx context.Context) {
	if !w.private {
		return
	}
	triggers, err := w.eng.rest.TriggerOrders(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "trigger refresh failed", slog.String("error", err.Error()))
		return
	}
	w.setTriggers(ctx, triggers)
}

func (w *marketWorker) setTriggers(ctx context.Context, triggers []domain.Order) {
	if w.recon.SetTriggers(triggers) {
		w.emitOrders(ctx)
	}
}

func (w *marketWorker) emitOrders(ctx context.Context) {
	w.eng.emit(ctx, w.recon.Display(w.sync.Tick()))
}

func (w *marketWorker) emitPosition(ctx context.Context) {
	if !w.private {
		return
	}
	w.eng.emit(ctx, w.position.Resolve(ctx))
}

func describeOrder(o domain.Order) string {
	price := o.Price
	if o.Status == domain.OrderStatusClosed && o.AvgFillPrice.IsPositive() {
		price = o.AvgFillPrice
	}
	return fmt.Sprintf("%s %s %s @ %s (%s, filled %s)", o.Side, o.Size, o.Market, price, o.Status, o.FilledSize)
}
