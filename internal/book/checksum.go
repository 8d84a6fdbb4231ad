package book

import (
	"hash/crc32"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Checksum computes the exchange's CRC32 over the top depth levels. Bids
// (descending) and asks (ascending) are interleaved as
// bidPrice:bidSize:askPrice:askSize; when one side runs out the other
// continues alone.
func Checksum(b *OrderBook, depth int) uint32 {
	bids := b.Bids.Levels(depth)
	asks := b.Asks.Levels(depth)

	var sb strings.Builder
	n := max(len(bids), len(asks))
	for i := 0; i < n; i++ {
		if i < len(bids) {
			writeField(&sb, bids[i].Price)
			writeField(&sb, bids[i].Size)
		}
		if i < len(asks) {
			writeField(&sb, asks[i].Price)
			writeField(&sb, asks[i].Size)
		}
	}
	return crc32.ChecksumIEEE([]byte(sb.String()))
}

func writeField(sb *strings.Builder, d decimal.Decimal) {
	if sb.Len() > 0 {
		sb.WriteByte(':')
	}
	sb.WriteString(formatChecksumNumber(d))
}

// formatChecksumNumber renders d the way the exchange does: the shortest
// float representation, ".0" for integral values and exponent notation below
// 1e-4 or from 1e16 up, with a two-digit exponent.
func formatChecksumNumber(d decimal.Decimal) string {
	f := d.InexactFloat64()
	if f == 0 {
		return "0.0"
	}
	abs := math.Abs(f)
	if abs < 1e-4 || abs >= 1e16 {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
