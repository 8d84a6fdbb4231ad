package domain

import "github.com/shopspring/decimal"

// MarketKind separates spot pairs from derivatives; position resolution
// differs between the two.
type MarketKind string

const (
	MarketKindSpot   MarketKind = "spot"
	MarketKindFuture MarketKind = "future"
)

// MarketInfo is the static metadata needed to mirror a market.
type MarketInfo struct {
	Name          string          `json:"name"`
	Kind          MarketKind      `json:"kind"`
	PriceTick     decimal.Decimal `json:"price_tick"`
	SizeIncrement decimal.Decimal `json:"size_increment"`
	BaseCurrency  string          `json:"base_currency,omitempty"`
	QuoteCurrency string          `json:"quote_currency,omitempty"`
}

// Spot reports whether positions derive from wallet balances.
func (m MarketInfo) Spot() bool { return m.Kind == MarketKindSpot }
