package book

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/domain"
)

var two = decimal.NewFromInt(2)

// Snapshot renders the ladder table: asks then bids, each descending by
// price, limited to depth levels per side (all when depth <= 0).
func (b *OrderBook) Snapshot(depth int) domain.BookSnapshot {
	asks := b.Asks.Levels(depth)
	bids := b.Bids.Levels(depth)

	rows := make([]domain.BookRow, 0, len(asks)+len(bids))
	for i := len(asks) - 1; i >= 0; i-- {
		rows = append(rows, domain.BookRow{Price: asks[i].Price, AskSize: asks[i].Size})
	}
	for _, l := range bids {
		rows = append(rows, domain.BookRow{BidSize: l.Size, Price: l.Price})
	}

	snap := domain.BookSnapshot{
		Market:    b.Market,
		Grouping:  b.Grouping,
		Rows:      rows,
		Sequence:  b.Sequence,
		Timestamp: b.Timestamp,
	}
	bestBid, hasBid := b.Bids.Best()
	bestAsk, hasAsk := b.Asks.Best()
	if hasBid {
		snap.BestBid = bestBid.Price
	}
	if hasAsk {
		snap.BestAsk = bestAsk.Price
	}
	if hasBid && hasAsk {
		snap.Mid = bestBid.Price.Add(bestAsk.Price).Div(two)
	}
	return snap
}
