package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order, trade or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus tracks the exchange-side order lifecycle.
type OrderStatus string

const (
	OrderStatusNew    OrderStatus = "new"
	OrderStatusOpen   OrderStatus = "open"
	OrderStatusClosed OrderStatus = "closed"
)

// Working reports whether the order can still rest on the book.
func (s OrderStatus) Working() bool {
	return s == OrderStatusNew || s == OrderStatusOpen
}

// Order is a working order or a conditional (trigger) order. For trigger
// orders Price holds the trigger price and Trigger is set.
type Order struct {
	ID            int64           `json:"id"`
	Market        string          `json:"market"`
	Side          Side            `json:"side"`
	Type          string          `json:"type"`
	Price         decimal.Decimal `json:"price"`
	OrderPrice    decimal.Decimal `json:"order_price"`
	Size          decimal.Decimal `json:"size"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	RemainingSize decimal.Decimal `json:"remaining_size"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Status        OrderStatus     `json:"status"`
	ReduceOnly    bool            `json:"reduce_only"`
	PostOnly      bool            `json:"post_only"`
	Trigger       bool            `json:"trigger"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Fill is a private execution of one of the user's orders.
type Fill struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	Market    string          `json:"market"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Fee       decimal.Decimal `json:"fee"`
	Liquidity string          `json:"liquidity"`
	Time      time.Time       `json:"time"`
}

// OrderBucket groups the user's orders resting at one price. Quantity is
// the sum of the members' remaining size.
type OrderBucket struct {
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   []Order         `json:"orders"`
}

// NewOrderBucket starts a bucket holding a single order.
func NewOrderBucket(o Order) *OrderBucket {
	return &OrderBucket{Side: o.Side, Quantity: o.RemainingSize, Orders: []Order{o}}
}

// IDs lists member order IDs in insertion order.
func (b *OrderBucket) IDs() []int64 {
	ids := make([]int64, len(b.Orders))
	for i, o := range b.Orders {
		ids[i] = o.ID
	}
	return ids
}

// Index returns the position of the member with the given ID or -1.
func (b *OrderBucket) Index(id int64) int {
	for i, o := range b.Orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// Recompute refreshes Quantity and drops members with no remaining size.
func (b *OrderBucket) Recompute() {
	total := decimal.Zero
	kept := b.Orders[:0]
	for _, o := range b.Orders {
		if !o.RemainingSize.IsPositive() {
			continue
		}
		total = total.Add(o.RemainingSize)
		kept = append(kept, o)
	}
	b.Orders = kept
	b.Quantity = total
}

// Empty reports whether the bucket has nothing left to show.
func (b *OrderBucket) Empty() bool {
	return len(b.Orders) == 0 || b.Quantity.IsZero()
}

// Clone returns a deep copy safe to hand to another goroutine.
func (b *OrderBucket) Clone() *OrderBucket {
	if b == nil {
		return nil
	}
	c := *b
	c.Orders = append([]Order(nil), b.Orders...)
	return &c
}

// CombinedDisplayBucket merges open and trigger orders that land on the same
// display price. Either side may be nil.
type CombinedDisplayBucket struct {
	Price    decimal.Decimal `json:"price"`
	Open     *OrderBucket    `json:"open,omitempty"`
	Trigger  *OrderBucket    `json:"trigger,omitempty"`
	OrderIDs []int64         `json:"order_ids"`
}

// OrderDisplay is the user's orders banded to the current display tick,
// sorted by price descending.
type OrderDisplay struct {
	Market  string                  `json:"market"`
	Tick    decimal.Decimal         `json:"tick"`
	Buckets []CombinedDisplayBucket `json:"buckets"`
}

func (OrderDisplay) Kind() EventKind      { return EventOrders }
func (d OrderDisplay) MarketName() string { return d.Market }
