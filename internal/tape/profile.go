package tape

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/alanyoungcy/domsync/internal/band"
	"github.com/alanyoungcy/domsync/internal/domain"
)

type volumeAtPrice struct {
	price decimal.Decimal
	buy   decimal.Decimal
	sell  decimal.Decimal
}

func volumeLess(a, b volumeAtPrice) bool { return a.price.LessThan(b.price) }

type bandVolume struct {
	price  decimal.Decimal
	volume decimal.Decimal
}

// VolumeProfile accumulates traded size per raw price and side until reset.
type VolumeProfile struct {
	levels *btree.BTreeG[volumeAtPrice]
}

// NewVolumeProfile returns an empty profile.
func NewVolumeProfile() *VolumeProfile {
	return &VolumeProfile{levels: newVolumeTree()}
}

func newVolumeTree() *btree.BTreeG[volumeAtPrice] {
	return btree.NewBTreeGOptions(volumeLess, btree.Options{NoLocks: true})
}

// Add books a trade's size on its side. Both sides exist from the first
// trade at a price.
func (p *VolumeProfile) Add(t domain.Trade) {
	v, ok := p.levels.Get(volumeAtPrice{price: t.Price})
	if !ok {
		v = volumeAtPrice{price: t.Price, buy: decimal.Zero, sell: decimal.Zero}
	}
	if t.Side == domain.SideSell {
		v.sell = v.sell.Add(t.Size)
	} else {
		v.buy = v.buy.Add(t.Size)
	}
	p.levels.Set(v)
}

// Get returns the per-side volume at an exact raw price.
func (p *VolumeProfile) Get(price decimal.Decimal) (buy, sell decimal.Decimal, ok bool) {
	v, ok := p.levels.Get(volumeAtPrice{price: price})
	return v.buy, v.sell, ok
}

// Len is the number of distinct raw prices.
func (p *VolumeProfile) Len() int { return p.levels.Len() }

// Total is the volume over all prices and sides.
func (p *VolumeProfile) Total() decimal.Decimal {
	total := decimal.Zero
	p.levels.Scan(func(v volumeAtPrice) bool {
		total = total.Add(v.buy).Add(v.sell)
		return true
	})
	return total
}

// Reset clears all accumulated volume.
func (p *VolumeProfile) Reset() { p.levels = newVolumeTree() }

// Aggregate re-bands the profile to tick, ascending by price. At the native
// tick each price keeps buy+sell; otherwise buys go to the band's upper
// bound and sells to its lower bound, except on a boundary where both stay.
func (p *VolumeProfile) Aggregate(tick, nativeTick decimal.Decimal) []domain.VolumeLevel {
	out := btree.NewBTreeGOptions(func(a, b bandVolume) bool {
		return a.price.LessThan(b.price)
	}, btree.Options{NoLocks: true})
	add := func(price, vol decimal.Decimal) {
		cur, ok := out.Get(bandVolume{price: price})
		if !ok {
			cur = bandVolume{price: price, volume: decimal.Zero}
		}
		cur.volume = cur.volume.Add(vol)
		out.Set(cur)
	}

	native := tick.Equal(nativeTick) || !band.Valid(tick)
	p.levels.Scan(func(v volumeAtPrice) bool {
		if native {
			add(v.price, v.buy.Add(v.sell))
			return true
		}
		buyAt, sellAt := band.Volume(v.price, tick)
		add(buyAt, v.buy)
		add(sellAt, v.sell)
		return true
	})

	levels := make([]domain.VolumeLevel, 0, out.Len())
	out.Scan(func(v bandVolume) bool {
		levels = append(levels, domain.VolumeLevel{Price: v.price, Volume: v.volume})
		return true
	})
	return levels
}
