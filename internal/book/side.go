package book

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/alanyoungcy/domsync/internal/domain"
)

type level struct {
	price decimal.Decimal
	size  decimal.Decimal
}

func byPrice(a, b level) bool { return a.price.LessThan(b.price) }

// OrderBookSide is an ordered price → size map for one side of a book.
// Zero sizes are never stored.
type OrderBookSide struct {
	levels *btree.BTreeG[level]
	desc   bool
}

func newSide(desc bool) *OrderBookSide {
	return &OrderBookSide{
		levels: btree.NewBTreeGOptions(byPrice, btree.Options{NoLocks: true}),
		desc:   desc,
	}
}

// Set upserts a level; a zero size removes it.
func (s *OrderBookSide) Set(price, size decimal.Decimal) {
	if size.IsZero() {
		s.levels.Delete(level{price: price})
		return
	}
	s.levels.Set(level{price: price, size: size})
}

// Get returns the size resting at price.
func (s *OrderBookSide) Get(price decimal.Decimal) (decimal.Decimal, bool) {
	l, ok := s.levels.Get(level{price: price})
	return l.size, ok
}

// Len is the number of price levels.
func (s *OrderBookSide) Len() int { return s.levels.Len() }

// Best returns the highest bid or the lowest ask.
func (s *OrderBookSide) Best() (domain.PriceLevel, bool) {
	var l level
	var ok bool
	if s.desc {
		l, ok = s.levels.Max()
	} else {
		l, ok = s.levels.Min()
	}
	return domain.PriceLevel{Price: l.price, Size: l.size}, ok
}

// Levels returns up to n levels from the top of the side (all when n <= 0):
// bids descending, asks ascending.
func (s *OrderBookSide) Levels(n int) []domain.PriceLevel {
	capHint := s.levels.Len()
	if n > 0 && n < capHint {
		capHint = n
	}
	out := make([]domain.PriceLevel, 0, capHint)
	iter := func(l level) bool {
		out = append(out, domain.PriceLevel{Price: l.price, Size: l.size})
		return n <= 0 || len(out) < n
	}
	if s.desc {
		s.levels.Reverse(iter)
	} else {
		s.levels.Scan(iter)
	}
	return out
}

// OrderBook is a local mirror of one book subscription. Grouping is zero for
// the raw tick-level book.
type OrderBook struct {
	Market    string
	Grouping  decimal.Decimal
	Bids      *OrderBookSide
	Asks      *OrderBookSide
	Sequence  uint64
	Timestamp time.Time
}

// NewOrderBook creates an empty book.
func NewOrderBook(market string, grouping decimal.Decimal) *OrderBook {
	return &OrderBook{
		Market:   market,
		Grouping: grouping,
		Bids:     newSide(true),
		Asks:     newSide(false),
	}
}

// Apply upserts the given levels on both sides.
func (b *OrderBook) Apply(bids, asks []domain.PriceLevel) {
	for _, l := range bids {
		b.Bids.Set(l.Price, l.Size)
	}
	for _, l := range asks {
		b.Asks.Set(l.Price, l.Size)
	}
}
