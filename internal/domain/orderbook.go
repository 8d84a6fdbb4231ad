package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookAction distinguishes full snapshots from incremental updates.
type BookAction string

const (
	BookActionPartial BookAction = "partial"
	BookActionUpdate  BookAction = "update"
)

// BookFrame is one decoded order book message. A level with zero size in an
// update removes that price.
type BookFrame struct {
	Subscription Subscription
	Action       BookAction
	Bids         []PriceLevel
	Asks         []PriceLevel
	Checksum     uint32
	HasChecksum  bool
	Time         time.Time
}

// BookRow is one ladder row. Ask rows carry AskSize, bid rows BidSize; the
// other column is zero.
type BookRow struct {
	BidSize decimal.Decimal `json:"bid_size"`
	Price   decimal.Decimal `json:"price"`
	AskSize decimal.Decimal `json:"ask_size"`
}

// BookSnapshot is the display table emitted after every accepted book frame.
// Rows are sorted by price descending, asks first.
type BookSnapshot struct {
	Market    string          `json:"market"`
	Grouping  decimal.Decimal `json:"grouping"`
	Rows      []BookRow       `json:"rows"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Mid       decimal.Decimal `json:"mid"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Refresh   bool            `json:"refresh"`
}

func (BookSnapshot) Kind() EventKind      { return EventBook }
func (s BookSnapshot) MarketName() string { return s.Market }

// MidPrice carries the ladder centering price.
type MidPrice struct {
	Market string          `json:"market"`
	Price  decimal.Decimal `json:"price"`
}

func (MidPrice) Kind() EventKind      { return EventMid }
func (m MidPrice) MarketName() string { return m.Market }
