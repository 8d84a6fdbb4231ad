package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/domsync/internal/domain"
	"github.com/alanyoungcy/domsync/internal/platform/exchange"
	"github.com/alanyoungcy/domsync/internal/tape"
)

// activityWorker follows the trades of many markets on one socket and
// publishes the large ones.
type activityWorker struct {
	eng       *Engine
	markets   []string
	transport Transport
	feed      *tape.ActivityFeed
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan exchange.Message
}

func newActivityWorker(e *Engine, markets []string) *activityWorker {
	ctx, cancel := context.WithCancel(e.ctx)
	return &activityWorker{
		eng:       e,
		markets:   append([]string(nil), markets...),
		transport: e.newTransport(),
		feed:      tape.NewActivityFeed(e.cfg.ActivityHistory, e.cfg.ActivityThreshold),
		logger:    e.logger.With(slog.String("worker", "activity")),
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan exchange.Message, inboxSize),
	}
}

func (a *activityWorker) run() {
	defer a.transport.Stop()

	a.transport.OnMessage(func(msg exchange.Message) {
		select {
		case a.inbox <- msg:
		case <-a.ctx.Done():
		}
	})
	for _, m := range a.markets {
		if err := a.transport.Subscribe(domain.Subscription{Channel: domain.ChannelTrades, Market: m}); err != nil {
			a.logger.Error("subscribe failed", slog.String("market", m), slog.String("error", err.Error()))
			return
		}
	}
	if err := a.transport.Connect(a.ctx); err != nil {
		a.logger.Error("connect failed", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("activity feed started", slog.Int("markets", len(a.markets)))

	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.inbox:
			a.handle(a.ctx, msg)
		}
	}
}

func (a *activityWorker) handle(ctx context.Context, msg exchange.Message) {
	if domain.Channel(msg.Channel) != domain.ChannelTrades {
		return
	}
	trades, err := exchange.DecodeTrades(msg)
	if err != nil {
		a.logger.Warn("bad trades frame", slog.String("error", err.Error()))
		return
	}
	for _, entry := range a.feed.Add(trades) {
		if !a.eng.emit(ctx, entry) {
			return
		}
		if entry.Liquidation {
			a.eng.emit(ctx, newNotification(domain.NotifyLiquidation, entry.Market,
				fmt.Sprintf("%s %s liquidated @ %s", entry.Display, entry.Side, entry.Price)))
		}
	}
}
