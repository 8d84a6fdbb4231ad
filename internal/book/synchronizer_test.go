package book

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/domsync/internal/domain"
)

var rawSub = domain.Subscription{Channel: domain.ChannelOrderbook, Market: "BTC-PERP"}

func newTestSync(tick string) *Synchronizer {
	cfg := Config{NativeTick: d("0.5"), GroupedDepth: 50, ChecksumDepth: 100}
	return NewSynchronizer("BTC-PERP", d(tick), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func partial(sub domain.Subscription, bids, asks []domain.PriceLevel) domain.BookFrame {
	return domain.BookFrame{Subscription: sub, Action: domain.BookActionPartial, Bids: bids, Asks: asks}
}

func update(sub domain.Subscription, bids, asks []domain.PriceLevel) domain.BookFrame {
	return domain.BookFrame{Subscription: sub, Action: domain.BookActionUpdate, Bids: bids, Asks: asks}
}

// withChecksum stamps the checksum a correct exchange would send for the
// book that results from applying f on top of base.
func withChecksum(t *testing.T, base *OrderBook, f domain.BookFrame) domain.BookFrame {
	t.Helper()
	shadow := NewOrderBook("BTC-PERP", decimal.Zero)
	if base != nil && f.Action == domain.BookActionUpdate {
		shadow.Apply(base.Bids.Levels(0), base.Asks.Levels(0))
	}
	shadow.Apply(f.Bids, f.Asks)
	f.Checksum = Checksum(shadow, 100)
	f.HasChecksum = true
	return f
}

func TestZeroSizeNeverStored(t *testing.T) {
	s := newTestSync("0.5")
	res := s.Apply(partial(rawSub,
		[]domain.PriceLevel{lv("100", "1"), lv("99.5", "0")},
		[]domain.PriceLevel{lv("100.5", "2")},
	))
	require.Equal(t, ActionEmit, res.Action)
	assert.Equal(t, 1, s.Book().Bids.Len())

	s.Apply(update(rawSub, []domain.PriceLevel{lv("100", "0")}, nil))
	_, ok := s.Book().Bids.Get(d("100"))
	assert.False(t, ok)
	assert.Equal(t, 0, s.Book().Bids.Len())
}

func TestUpdatesBeforePartialAreIgnored(t *testing.T) {
	s := newTestSync("0.5")
	res := s.Apply(update(rawSub, []domain.PriceLevel{lv("100", "1")}, nil))
	assert.Equal(t, ActionIgnore, res.Action)
	assert.Nil(t, s.Book())
}

func TestChecksumMismatchTriggersResyncAndReplace(t *testing.T) {
	s := newTestSync("0.5")

	first := withChecksum(t, nil, partial(rawSub,
		[]domain.PriceLevel{lv("100", "1"), lv("99.5", "2")},
		[]domain.PriceLevel{lv("100.5", "1")},
	))
	require.Equal(t, ActionEmit, s.Apply(first).Action)

	good := withChecksum(t, s.Book(), update(rawSub, []domain.PriceLevel{lv("99", "5")}, nil))
	require.Equal(t, ActionEmit, s.Apply(good).Action)

	bad := update(rawSub, []domain.PriceLevel{lv("98.5", "1")}, nil)
	bad.HasChecksum = true
	bad.Checksum = 42
	res := s.Apply(bad)
	require.Equal(t, ActionResync, res.Action)
	assert.ErrorIs(t, res.Err, domain.ErrChecksumMismatch)
	assert.Nil(t, s.Book())

	// Updates between the resync and the next partial are dropped.
	assert.Equal(t, ActionIgnore, s.Apply(update(rawSub, []domain.PriceLevel{lv("97", "1")}, nil)).Action)

	fresh := withChecksum(t, nil, partial(rawSub,
		[]domain.PriceLevel{lv("101", "3")},
		[]domain.PriceLevel{lv("101.5", "4")},
	))
	res = s.Apply(fresh)
	require.Equal(t, ActionEmit, res.Action)

	// The new partial replaces the book; nothing from before survives.
	assert.Equal(t, 1, s.Book().Bids.Len())
	_, stale := s.Book().Bids.Get(d("99"))
	assert.False(t, stale)
	assert.True(t, res.Snapshot.BestBid.Equal(d("101")))
}

func TestSnapshotRowsAndMid(t *testing.T) {
	s := newTestSync("0.5")
	res := s.Apply(partial(rawSub,
		[]domain.PriceLevel{lv("99.5", "2"), lv("100", "1")},
		[]domain.PriceLevel{lv("101", "4"), lv("100.5", "3")},
	))
	require.Equal(t, ActionEmit, res.Action)

	rows := res.Snapshot.Rows
	require.Len(t, rows, 4)
	wantPrices := []string{"101", "100.5", "100", "99.5"}
	for i, p := range wantPrices {
		assert.True(t, rows[i].Price.Equal(d(p)), "row %d price %s", i, rows[i].Price)
	}
	assert.True(t, rows[0].AskSize.Equal(d("4")))
	assert.True(t, rows[0].BidSize.IsZero())
	assert.True(t, rows[2].BidSize.Equal(d("1")))
	assert.True(t, rows[2].AskSize.IsZero())
	assert.True(t, res.Snapshot.Mid.Equal(d("100.25")))
	assert.Equal(t, uint64(1), res.Snapshot.Sequence)
}

func TestGroupedDepthLimit(t *testing.T) {
	cfg := Config{NativeTick: d("0.5"), GroupedDepth: 2, ChecksumDepth: 100}
	s := NewSynchronizer("BTC-PERP", d("5"), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sub := s.Subscription()
	require.Equal(t, domain.ChannelOrderbookGrouped, sub.Channel)

	res := s.Apply(partial(sub,
		[]domain.PriceLevel{lv("100", "1"), lv("95", "1"), lv("90", "1")},
		[]domain.PriceLevel{lv("105", "1"), lv("110", "1"), lv("115", "1")},
	))
	require.Equal(t, ActionEmit, res.Action)
	assert.Len(t, res.Snapshot.Rows, 4)
	assert.True(t, res.Snapshot.Grouping.Equal(d("5")))
}

func TestSetTickSwitchesSubscriptionAndIgnoresStaleFrames(t *testing.T) {
	s := newTestSync("0.5")
	require.Equal(t, ModeRaw, s.Mode())
	s.Apply(partial(rawSub, []domain.PriceLevel{lv("100", "1")}, nil))

	old, next, changed := s.SetTick(d("5"))
	require.True(t, changed)
	assert.True(t, old.Equal(rawSub))
	assert.Equal(t, domain.ChannelOrderbookGrouped, next.Channel)
	assert.Equal(t, ModeGrouped, s.Mode())
	assert.Nil(t, s.Book())

	// A late raw frame after the switch is ignored.
	assert.Equal(t, ActionIgnore, s.Apply(update(rawSub, []domain.PriceLevel{lv("100", "2")}, nil)).Action)

	// A frame for another grouping is ignored as well.
	other := domain.Subscription{Channel: domain.ChannelOrderbookGrouped, Market: "BTC-PERP", Grouping: d("10")}
	assert.Equal(t, ActionIgnore, s.Apply(partial(other, []domain.PriceLevel{lv("100", "2")}, nil)).Action)

	res := s.Apply(partial(next, []domain.PriceLevel{lv("100", "7")}, nil))
	require.Equal(t, ActionEmit, res.Action)
	assert.True(t, res.Snapshot.Refresh)

	res = s.Apply(update(next, []domain.PriceLevel{lv("95", "1")}, nil))
	require.Equal(t, ActionEmit, res.Action)
	assert.False(t, res.Snapshot.Refresh)

	_, _, changed = s.SetTick(d("5.0"))
	assert.False(t, changed)
}
