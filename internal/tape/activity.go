package tape

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/domain"
)

var million = decimal.NewFromInt(1_000_000)

// ActivityFeed keeps recent trades across markets and surfaces the large
// ones.
type ActivityFeed struct {
	entries   *Ring[domain.ActivityEntry]
	threshold decimal.Decimal
}

// NewActivityFeed keeps capacity entries and reports those whose rounded
// notional is at least threshold.
func NewActivityFeed(capacity int, threshold decimal.Decimal) *ActivityFeed {
	return &ActivityFeed{
		entries:   NewRing[domain.ActivityEntry](capacity),
		threshold: threshold,
	}
}

// Add records trades and returns the entries that pass the threshold.
func (f *ActivityFeed) Add(trades []domain.Trade) []domain.ActivityEntry {
	var large []domain.ActivityEntry
	for _, t := range trades {
		e := NewActivityEntry(t)
		f.entries.Push(e)
		if e.Notional.GreaterThanOrEqual(f.threshold) {
			large = append(large, e)
		}
	}
	return large
}

// Recent returns up to n large entries, newest first (all when n <= 0).
func (f *ActivityFeed) Recent(n int) []domain.ActivityEntry {
	items := f.entries.Items()
	var out []domain.ActivityEntry
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Notional.LessThan(f.threshold) {
			continue
		}
		out = append(out, items[i])
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// NewActivityEntry computes the rounded USD notional of a trade.
func NewActivityEntry(t domain.Trade) domain.ActivityEntry {
	notional := t.Notional().Round(0)
	return domain.ActivityEntry{
		Market:      t.Market,
		Side:        t.Side,
		Price:       t.Price,
		Size:        t.Size,
		Notional:    notional,
		Display:     FormatNotional(notional),
		Liquidation: t.Liquidation,
		Time:        t.Time,
	}
}

// FormatNotional renders whole dollars with thousands separators below one
// million and as millions with up to two decimals from there on, e.g.
// "12,345" and "1.23M".
func FormatNotional(n decimal.Decimal) string {
	if n.Abs().LessThan(million) {
		return groupThousands(n.Round(0).String())
	}
	s := n.Div(million).Round(2).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "M"
}

func groupThousands(digits string) string {
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}
	var b strings.Builder
	b.WriteString(sign)
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > len(sign) {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
