package tape

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/domsync/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(price, size string, side domain.Side) domain.Trade {
	return domain.Trade{Market: "BTC-PERP", Price: d(price), Size: d(size), Side: side}
}

func volumeAt(levels []domain.VolumeLevel, price string) decimal.Decimal {
	for _, l := range levels {
		if l.Price.Equal(d(price)) {
			return l.Volume
		}
	}
	return decimal.Zero
}

func sumLevels(levels []domain.VolumeLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Volume)
	}
	return total
}

func TestProfileAccumulatesPerSide(t *testing.T) {
	p := NewVolumeProfile()
	p.Add(trade("100.5", "1", domain.SideBuy))
	p.Add(trade("100.5", "2", domain.SideSell))
	p.Add(trade("100.5", "0.25", domain.SideBuy))

	buy, sell, ok := p.Get(d("100.5"))
	require.True(t, ok)
	assert.True(t, buy.Equal(d("1.25")))
	assert.True(t, sell.Equal(d("2")))
	assert.Equal(t, 1, p.Len())
	assert.True(t, p.Total().Equal(d("3.25")))
}

func TestAggregateAtNativeTickSumsSides(t *testing.T) {
	p := NewVolumeProfile()
	p.Add(trade("100", "1", domain.SideBuy))
	p.Add(trade("100", "2", domain.SideSell))
	p.Add(trade("100.5", "3", domain.SideBuy))

	levels := p.Aggregate(d("0.5"), d("0.5"))
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(d("100")))
	assert.True(t, levels[0].Volume.Equal(d("3")))
	assert.True(t, levels[1].Price.Equal(d("100.5")))
	assert.True(t, levels[1].Volume.Equal(d("3")))
}

func TestAggregateBandsBuysUpAndSellsDown(t *testing.T) {
	p := NewVolumeProfile()
	p.Add(trade("100.5", "1", domain.SideBuy))
	p.Add(trade("100.5", "2", domain.SideSell))
	p.Add(trade("102", "4", domain.SideBuy))
	p.Add(trade("102", "5", domain.SideSell))

	levels := p.Aggregate(d("1"), d("0.5"))
	assert.True(t, volumeAt(levels, "101").Equal(d("1")))
	assert.True(t, volumeAt(levels, "100").Equal(d("2")))
	assert.True(t, volumeAt(levels, "102").Equal(d("9")))
	for i := 1; i < len(levels); i++ {
		assert.True(t, levels[i-1].Price.LessThan(levels[i].Price))
	}
}

func TestAggregateConservesVolume(t *testing.T) {
	p := NewVolumeProfile()
	prices := []string{"99.5", "100", "100.5", "101", "101.5", "103", "107.5"}
	for i, px := range prices {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}
		p.Add(trade(px, "1.5", side))
		p.Add(trade(px, "0.5", domain.SideSell))
	}
	total := p.Total()

	for _, tick := range []string{"0.5", "1", "2.5", "5"} {
		levels := p.Aggregate(d(tick), d("0.5"))
		assert.True(t, sumLevels(levels).Equal(total), "tick %s", tick)
		for _, l := range levels {
			_, r := l.Price.QuoRem(d(tick), 0)
			assert.True(t, r.IsZero(), "price %s not on tick %s", l.Price, tick)
		}
	}
}

func TestProfileReset(t *testing.T) {
	p := NewVolumeProfile()
	p.Add(trade("100", "1", domain.SideBuy))
	p.Reset()
	assert.Equal(t, 0, p.Len())
	assert.Empty(t, p.Aggregate(d("1"), d("0.5")))
}
