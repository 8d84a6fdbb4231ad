package band

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/domsync/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBounds(t *testing.T) {
	cases := []struct {
		price, tick, upper, lower string
	}{
		{"100.4", "1", "101", "100"},
		{"100", "1", "100", "99"},
		{"100.05", "0.1", "100.1", "100"},
		{"1234.5", "5", "1235", "1230"},
		{"0.00001234", "0.00001", "0.00002", "0.00001"},
	}
	for _, tc := range cases {
		t.Run(tc.price+"@"+tc.tick, func(t *testing.T) {
			upper, lower := Bounds(d(tc.price), d(tc.tick))
			assert.True(t, upper.Equal(d(tc.upper)), "upper %s", upper)
			assert.True(t, lower.Equal(d(tc.lower)), "lower %s", lower)
		})
	}
}

func TestVolume(t *testing.T) {
	buy, sell := Volume(d("100.4"), d("1"))
	assert.True(t, buy.Equal(d("101")))
	assert.True(t, sell.Equal(d("100")))

	buy, sell = Volume(d("100"), d("1"))
	assert.True(t, buy.Equal(d("100")))
	assert.True(t, sell.Equal(d("100")))
}

func TestOrderBanding(t *testing.T) {
	tick := d("1")
	cases := []struct {
		name    string
		price   string
		side    domain.Side
		trigger bool
		want    string
	}{
		{"open buy inside band", "100.4", domain.SideBuy, false, "100"},
		{"open buy on boundary", "100", domain.SideBuy, false, "100"},
		{"open sell inside band", "100.4", domain.SideSell, false, "101"},
		{"open sell on boundary", "100", domain.SideSell, false, "100"},
		{"trigger sell inside band", "100.4", domain.SideSell, true, "100"},
		{"trigger buy inside band", "100.4", domain.SideBuy, true, "101"},
		{"trigger buy on boundary", "101", domain.SideBuy, true, "101"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Order(d(tc.price), tick, tc.side, tc.trigger)
			assert.True(t, got.Equal(d(tc.want)), "got %s", got)
		})
	}
}

func TestOnBoundary(t *testing.T) {
	assert.True(t, OnBoundary(d("2.5"), d("0.5")))
	assert.False(t, OnBoundary(d("2.6"), d("0.5")))
	assert.False(t, Valid(decimal.Zero))
}
