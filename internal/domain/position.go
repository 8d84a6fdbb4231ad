package domain

import "github.com/shopspring/decimal"

// Position is a derivative position as reported by the exchange.
type Position struct {
	Future                 string          `json:"future"`
	Side                   Side            `json:"side"`
	Size                   decimal.Decimal `json:"size"`
	NetSize                decimal.Decimal `json:"net_size"`
	EntryPrice             decimal.Decimal `json:"entry_price"`
	RecentAverageOpenPrice decimal.Decimal `json:"recent_average_open_price"`
	UnrealizedPnL          decimal.Decimal `json:"unrealized_pnl"`
}

// Balance is one wallet coin balance.
type Balance struct {
	Coin     string          `json:"coin"`
	Free     decimal.Decimal `json:"free"`
	Total    decimal.Decimal `json:"total"`
	USDValue decimal.Decimal `json:"usd_value"`
}

// PositionSummary is the per-market position line shown next to the ladder.
// Side is empty when flat. Unavailable marks a placeholder built after a
// REST failure.
type PositionSummary struct {
	Market      string          `json:"market"`
	Side        Side            `json:"side,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
	Price       decimal.Decimal `json:"price"`
	Display     string          `json:"display"`
	Unavailable bool            `json:"unavailable"`
}

func (PositionSummary) Kind() EventKind      { return EventPosition }
func (p PositionSummary) MarketName() string { return p.Market }
