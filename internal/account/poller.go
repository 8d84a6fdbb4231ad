// Package account polls the exchange REST surface for the user's balances,
// positions and orders.
package account

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// Source is the REST surface the poller reads.
type Source interface {
	Authenticated() bool
	AllBalances(ctx context.Context) ([]domain.Balance, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	OpenOrders(ctx context.Context) ([]domain.Order, error)
	TriggerOrders(ctx context.Context) ([]domain.Order, error)
}

var sectionNames = [4]string{"balances", "positions", "open_orders", "trigger_orders"}

// Config tunes the poll loop.
type Config struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
}

// TriggerRouter receives the trigger orders of every successful cycle.
type TriggerRouter func(ev domain.TriggerOrdersEvent)

// Poller runs one fan-out of REST calls per interval and emits an
// AccountSnapshot and a TriggerOrdersEvent per cycle.
type Poller struct {
	src      Source
	cfg      Config
	events   chan<- domain.Event
	triggers TriggerRouter
	logger   *slog.Logger
	now      func() time.Time
}

// NewPoller creates a poller that publishes on events. route may be nil.
func NewPoller(src Source, cfg Config, events chan<- domain.Event, route TriggerRouter, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
	return &Poller{
		src:      src,
		cfg:      cfg,
		events:   events,
		triggers: route,
		logger:   logger.With(slog.String("component", "account_poller")),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. Without credentials a single
// placeholder snapshot is emitted and no request is ever made.
func (p *Poller) Run(ctx context.Context) error {
	if !p.src.Authenticated() {
		snap, trig := Placeholder(p.now())
		p.publish(ctx, snap, trig)
		<-ctx.Done()
		return nil
	}

	p.logger.InfoContext(ctx, "account poller started", slog.Duration("interval", p.cfg.Interval))
	for {
		snap, trig, failed := p.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.publish(ctx, snap, trig)

		wait := p.cfg.Interval
		if failed > 0 {
			wait = p.cfg.ErrorBackoff
			p.logger.WarnContext(ctx, "account poll degraded", slog.Int("failed_sections", failed))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("account poller stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// Poll runs one cycle. Each section is fetched concurrently; a failing
// section degrades to its placeholder and is counted in failed.
func (p *Poller) Poll(ctx context.Context) (domain.AccountSnapshot, domain.TriggerOrdersEvent, int) {
	var (
		g         errgroup.Group
		balances  []domain.Balance
		positions []domain.Position
		open      []domain.Order
		triggers  []domain.Order
		errs      [4]error
	)
	g.Go(func() error {
		balances, errs[0] = p.src.AllBalances(ctx)
		return nil
	})
	g.Go(func() error {
		positions, errs[1] = p.src.Positions(ctx)
		return nil
	})
	g.Go(func() error {
		open, errs[2] = p.src.OpenOrders(ctx)
		return nil
	})
	g.Go(func() error {
		triggers, errs[3] = p.src.TriggerOrders(ctx)
		return nil
	})
	_ = g.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			p.logger.DebugContext(ctx, "account section failed",
				slog.String("section", sectionNames[i]),
				slog.String("error", err.Error()),
			)
		}
	}

	snap := domain.AccountSnapshot{
		Balances:      balanceSection(balances, errs[0]),
		Positions:     positionSection(positions, errs[1]),
		OpenOrders:    orderSection(open, errs[2], domain.StatusNoOpenOrders),
		TriggerOrders: orderSection(triggers, errs[3], domain.StatusNoTriggerOrders),
		Time:          p.now(),
	}
	trig := domain.TriggerOrdersEvent{Status: domain.StatusNotLoggedIn}
	if errs[3] == nil {
		trig = domain.TriggerOrdersEvent{ByMarket: GroupByMarket(triggers)}
	}
	return snap, trig, failed
}

func (p *Poller) publish(ctx context.Context, snap domain.AccountSnapshot, trig domain.TriggerOrdersEvent) {
	if trig.Status == "" && p.triggers != nil {
		p.triggers(trig)
	}
	for _, ev := range []domain.Event{snap, trig} {
		select {
		case p.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Placeholder is the snapshot used when no account is configured.
func Placeholder(now time.Time) (domain.AccountSnapshot, domain.TriggerOrdersEvent) {
	return domain.AccountSnapshot{
		Balances:      domain.BalanceSection{Status: domain.StatusNotLoggedIn},
		Positions:     domain.PositionSection{Status: domain.StatusNotLoggedIn},
		OpenOrders:    domain.OrderSection{Status: domain.StatusNotLoggedIn},
		TriggerOrders: domain.OrderSection{Status: domain.StatusNotLoggedIn},
		Time:          now,
	}, domain.TriggerOrdersEvent{Status: domain.StatusNotLoggedIn}
}

// GroupByMarket splits orders per market, keeping their order.
func GroupByMarket(orders []domain.Order) map[string][]domain.Order {
	out := make(map[string][]domain.Order)
	for _, o := range orders {
		out[o.Market] = append(out[o.Market], o)
	}
	return out
}

func balanceSection(b []domain.Balance, err error) domain.BalanceSection {
	switch {
	case err != nil:
		return domain.BalanceSection{Status: domain.StatusNotLoggedIn}
	case len(b) == 0:
		return domain.BalanceSection{Status: domain.StatusNoBalances}
	}
	return domain.BalanceSection{Balances: b}
}

func positionSection(ps []domain.Position, err error) domain.PositionSection {
	if err != nil {
		return domain.PositionSection{Status: domain.StatusNotLoggedIn}
	}
	var open []domain.Position
	for _, p := range ps {
		if !p.Size.IsZero() {
			open = append(open, p)
		}
	}
	if len(open) == 0 {
		return domain.PositionSection{Status: domain.StatusNoOpenPositions}
	}
	return domain.PositionSection{Positions: open}
}

func orderSection(os []domain.Order, err error, empty string) domain.OrderSection {
	switch {
	case err != nil:
		return domain.OrderSection{Status: domain.StatusNotLoggedIn}
	case len(os) == 0:
		return domain.OrderSection{Status: empty}
	}
	return domain.OrderSection{Orders: os}
}
