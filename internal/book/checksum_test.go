package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/domsync/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lv(price, size string) domain.PriceLevel {
	return domain.PriceLevel{Price: d(price), Size: d(size)}
}

func TestFormatChecksumNumber(t *testing.T) {
	cases := map[string]string{
		"100":           "100.0",
		"100.5":         "100.5",
		"0.00001":       "1e-05",
		"0.0001":        "0.0001",
		"0.000015":      "1.5e-05",
		"1e16":          "1e+16",
		"123456789.125": "123456789.125",
		"0":             "0.0",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatChecksumNumber(d(in)), in)
	}
}

func TestChecksumInterleavesUnevenSides(t *testing.T) {
	b := NewOrderBook("BTC-PERP", decimal.Zero)
	b.Apply(
		[]domain.PriceLevel{lv("100.5", "2"), lv("100", "1.25"), lv("99.5", "0.00001")},
		[]domain.PriceLevel{lv("101", "3"), lv("101.5", "10")},
	)
	// 100.5:2.0:101.0:3.0:100.0:1.25:101.5:10.0:99.5:1e-05
	assert.Equal(t, uint32(591671419), Checksum(b, 100))

	b.Bids.Set(d("99"), d("4"))
	assert.Equal(t, uint32(830828155), Checksum(b, 100))
	assert.Equal(t, uint32(591671419), Checksum(b, 3))
}
