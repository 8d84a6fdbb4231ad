package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single public execution on the tape.
type Trade struct {
	ID          int64           `json:"id"`
	Market      string          `json:"market"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Side        Side            `json:"side"`
	Liquidation bool            `json:"liquidation"`
	Time        time.Time       `json:"time"`
}

// Notional is price times size in quote currency.
func (t Trade) Notional() decimal.Decimal { return t.Price.Mul(t.Size) }

// VolumeLevel is the traded volume attributed to one display price.
type VolumeLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// VolumeProfileEvent is the aggregated volume profile at the current tick.
// Diff lists only levels added or changed since the previous emission.
type VolumeProfileEvent struct {
	Market  string          `json:"market"`
	Tick    decimal.Decimal `json:"tick"`
	Full    []VolumeLevel   `json:"full"`
	Diff    []VolumeLevel   `json:"diff"`
	Refresh bool            `json:"refresh"`
}

func (VolumeProfileEvent) Kind() EventKind      { return EventVolumeProfile }
func (v VolumeProfileEvent) MarketName() string { return v.Market }

// ActivityEntry is a large trade on the global activity feed.
type ActivityEntry struct {
	Market      string          `json:"market"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Notional    decimal.Decimal `json:"notional"`
	Display     string          `json:"display"`
	Liquidation bool            `json:"liquidation"`
	Time        time.Time       `json:"time"`
}

func (ActivityEntry) Kind() EventKind      { return EventActivity }
func (a ActivityEntry) MarketName() string { return a.Market }
