// Package band maps raw exchange prices onto coarser display ticks.
package band

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// Bounds returns the tick-aligned band containing price: upper is price
// rounded up to a multiple of tick and lower is one tick below it. A price
// already on a multiple of tick is its own upper bound.
func Bounds(price, tick decimal.Decimal) (upper, lower decimal.Decimal) {
	q, r := price.QuoRem(tick, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	upper = q.Mul(tick)
	return upper, upper.Sub(tick)
}

// OnBoundary reports whether price is an exact multiple of tick.
func OnBoundary(price, tick decimal.Decimal) bool {
	upper, _ := Bounds(price, tick)
	return upper.Equal(price)
}

// Volume returns where buy and sell volume traded at price is attributed:
// buys to the upper bound and sells to the lower one. On a boundary both
// land on the price itself.
func Volume(price, tick decimal.Decimal) (buyAt, sellAt decimal.Decimal) {
	upper, lower := Bounds(price, tick)
	if upper.Equal(price) {
		return price, price
	}
	return upper, lower
}

// Order returns the display price for a user order. Open buys and trigger
// sells stay on the upper bound only when exactly on it and otherwise fall to
// the lower bound; open sells and trigger buys stay on the lower bound only
// when exactly on it and otherwise go to the upper bound.
func Order(price, tick decimal.Decimal, side domain.Side, trigger bool) decimal.Decimal {
	upper, lower := Bounds(price, tick)
	down := (side == domain.SideBuy) != trigger
	if down {
		if price.Equal(upper) {
			return upper
		}
		return lower
	}
	if price.Equal(lower) {
		return lower
	}
	return upper
}

// Valid reports whether tick can be used as a display granularity.
func Valid(tick decimal.Decimal) bool { return tick.IsPositive() }
