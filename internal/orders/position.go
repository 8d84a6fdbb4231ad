package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// NoPosition is the display for a flat market.
const NoPosition = "No Position"

// AccountReader is the REST surface needed to resolve a position.
type AccountReader interface {
	Positions(ctx context.Context) ([]domain.Position, error)
	Balances(ctx context.Context) ([]domain.Balance, error)
}

// PositionResolver derives the ladder position line for one market. Spot
// markets have no position, so the base coin's wallet balance stands in.
type PositionResolver struct {
	info   domain.MarketInfo
	api    AccountReader
	logger *slog.Logger
}

// NewPositionResolver binds a resolver to a market.
func NewPositionResolver(info domain.MarketInfo, api AccountReader, logger *slog.Logger) *PositionResolver {
	return &PositionResolver{
		info:   info,
		api:    api,
		logger: logger.With(slog.String("component", "position"), slog.String("market", info.Name)),
	}
}

// Resolve fetches the current position. It never fails: a REST error yields
// an unavailable placeholder.
func (p *PositionResolver) Resolve(ctx context.Context) domain.PositionSummary {
	var (
		summary domain.PositionSummary
		err     error
	)
	if p.info.Spot() {
		summary, err = p.spot(ctx)
	} else {
		summary, err = p.derivative(ctx)
	}
	if err != nil {
		p.logger.WarnContext(ctx, "position unavailable", slog.String("error", err.Error()))
		return Unavailable(p.info.Name)
	}
	return summary
}

// Unavailable is the placeholder summary used when the account cannot be
// read.
func Unavailable(market string) domain.PositionSummary {
	return domain.PositionSummary{Market: market, Display: domain.StatusNotLoggedIn, Unavailable: true}
}

func (p *PositionResolver) derivative(ctx context.Context) (domain.PositionSummary, error) {
	positions, err := p.api.Positions(ctx)
	if err != nil {
		return domain.PositionSummary{}, fmt.Errorf("orders/position: positions: %w", err)
	}
	for _, pos := range positions {
		if pos.Future != p.info.Name || pos.Size.IsZero() {
			continue
		}
		return DerivativeSummary(pos), nil
	}
	return flat(p.info.Name), nil
}

func (p *PositionResolver) spot(ctx context.Context) (domain.PositionSummary, error) {
	balances, err := p.api.Balances(ctx)
	if err != nil {
		return domain.PositionSummary{}, fmt.Errorf("orders/position: balances: %w", err)
	}
	coin := p.info.BaseCurrency
	if coin == "" {
		coin, _, _ = strings.Cut(p.info.Name, "/")
	}
	for _, b := range balances {
		if b.Coin == coin {
			return SpotSummary(p.info.Name, b), nil
		}
	}
	return flat(p.info.Name), nil
}

// DerivativeSummary renders an exchange position, e.g. "Long 1.5 @ 100".
// Quantity is signed.
func DerivativeSummary(pos domain.Position) domain.PositionSummary {
	price := pos.RecentAverageOpenPrice
	if price.IsZero() {
		price = pos.EntryPrice
	}
	size := pos.Size.Abs()
	direction, qty := "Long", size
	if pos.Side == domain.SideSell {
		direction, qty = "Short", size.Neg()
	}
	return domain.PositionSummary{
		Market:   pos.Future,
		Side:     pos.Side,
		Quantity: qty,
		Total:    size,
		Price:    price,
		Display:  fmt.Sprintf("%s %s @ %s", direction, size, price),
	}
}

// SpotSummary renders a wallet balance as "free | total coin", prefixed
// with "Long" while any of it is free.
func SpotSummary(market string, b domain.Balance) domain.PositionSummary {
	s := domain.PositionSummary{
		Market:   market,
		Quantity: b.Free,
		Total:    b.Total,
		Display:  fmt.Sprintf("%s | %s %s", b.Free, b.Total, b.Coin),
	}
	if !b.Free.IsZero() {
		s.Side = domain.SideBuy
		s.Display = "Long " + s.Display
	}
	return s
}

func flat(market string) domain.PositionSummary {
	return domain.PositionSummary{Market: market, Quantity: decimal.Zero, Display: NoPosition}
}
