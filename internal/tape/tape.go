// Package tape keeps the trade tape, the per-market volume profile and the
// cross-market large-trade activity feed.
package tape

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// Tape is the trade history and volume profile of one market. It is owned
// by the market worker goroutine.
type Tape struct {
	market     string
	nativeTick decimal.Decimal
	tick       decimal.Decimal
	trades     *Ring[domain.Trade]
	profile    *VolumeProfile
	last       map[string]decimal.Decimal
	refresh    bool
}

// New creates a tape keeping the last history trades, aggregated at tick.
func New(market string, nativeTick, tick decimal.Decimal, history int) *Tape {
	if tick.IsZero() {
		tick = nativeTick
	}
	return &Tape{
		market:     market,
		nativeTick: nativeTick,
		tick:       tick,
		trades:     NewRing[domain.Trade](history),
		profile:    NewVolumeProfile(),
	}
}

// Add records trades on the tape and in the profile.
func (t *Tape) Add(trades []domain.Trade) {
	for _, tr := range trades {
		t.trades.Push(tr)
		t.profile.Add(tr)
	}
}

// Tick is the aggregation tick.
func (t *Tape) Tick() decimal.Decimal { return t.tick }

// SetTick changes the aggregation tick; the next emission is a refresh.
func (t *Tape) SetTick(tick decimal.Decimal) {
	if tick.Equal(t.tick) {
		return
	}
	t.tick = tick
	t.refresh = true
	t.last = nil
}

// Reset clears the profile; the next emission is a refresh.
func (t *Tape) Reset() {
	t.profile.Reset()
	t.refresh = true
	t.last = nil
}

// Profile exposes the raw profile.
func (t *Tape) Profile() *VolumeProfile { return t.profile }

// Trades returns the retained trades, oldest first.
func (t *Tape) Trades() []domain.Trade { return t.trades.Items() }

// LastTrade is the most recent trade.
func (t *Tape) LastTrade() (domain.Trade, bool) { return t.trades.Last() }

// Emit aggregates the profile at the current tick. Diff holds the levels
// that are new or changed since the previous call.
func (t *Tape) Emit() domain.VolumeProfileEvent {
	full := t.profile.Aggregate(t.tick, t.nativeTick)
	next := make(map[string]decimal.Decimal, len(full))
	var diff []domain.VolumeLevel
	for _, l := range full {
		key := l.Price.String()
		next[key] = l.Volume
		if prev, ok := t.last[key]; !ok || !prev.Equal(l.Volume) {
			diff = append(diff, l)
		}
	}
	t.last = next

	ev := domain.VolumeProfileEvent{
		Market:  t.market,
		Tick:    t.tick,
		Full:    full,
		Diff:    diff,
		Refresh: t.refresh,
	}
	t.refresh = false
	return ev
}
