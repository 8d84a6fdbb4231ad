package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Channel names a push channel on the exchange socket.
type Channel string

const (
	ChannelOrderbook        Channel = "orderbook"
	ChannelOrderbookGrouped Channel = "orderbookGrouped"
	ChannelTrades           Channel = "trades"
	ChannelOrders           Channel = "orders"
	ChannelFills            Channel = "fills"
)

// Private reports whether the channel requires a logged-in session.
func (c Channel) Private() bool {
	return c == ChannelOrders || c == ChannelFills
}

// Subscription identifies one live channel subscription. Grouping is zero
// unless Channel is ChannelOrderbookGrouped.
type Subscription struct {
	Channel  Channel         `json:"channel"`
	Market   string          `json:"market,omitempty"`
	Grouping decimal.Decimal `json:"grouping"`
}

// Key is a stable identity usable as a map key. Groupings that differ only
// in trailing zeros produce the same key.
func (s Subscription) Key() string {
	var b strings.Builder
	b.WriteString(string(s.Channel))
	b.WriteByte('|')
	b.WriteString(s.Market)
	if !s.Grouping.IsZero() {
		b.WriteByte('|')
		b.WriteString(s.Grouping.String())
	}
	return b.String()
}

// Equal compares subscriptions by identity.
func (s Subscription) Equal(o Subscription) bool { return s.Key() == o.Key() }

func (s Subscription) String() string { return s.Key() }

// BookSubscription returns the book subscription for a market at the given
// tick: the raw channel when tick equals the native tick, else grouped.
func BookSubscription(market string, nativeTick, tick decimal.Decimal) Subscription {
	if tick.IsZero() || tick.Equal(nativeTick) {
		return Subscription{Channel: ChannelOrderbook, Market: market}
	}
	return Subscription{Channel: ChannelOrderbookGrouped, Market: market, Grouping: tick}
}
