// Package book keeps a local order book consistent with the exchange feed.
package book

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// Mode tells whether the synchronizer mirrors the tick-level book or an
// exchange-grouped one.
type Mode int

const (
	ModeRaw Mode = iota
	ModeGrouped
)

func (m Mode) String() string {
	if m == ModeGrouped {
		return "grouped"
	}
	return "raw"
}

// Action is what the owning worker must do with a Result.
type Action int

const (
	// ActionIgnore: the frame did not change the book.
	ActionIgnore Action = iota
	// ActionEmit: publish Result.Snapshot.
	ActionEmit
	// ActionResync: the book was discarded; unsubscribe and resubscribe
	// the current subscription.
	ActionResync
)

// Result is the outcome of applying one frame.
type Result struct {
	Action   Action
	Snapshot domain.BookSnapshot
	Err      error
}

// Config holds per-market book settings.
type Config struct {
	NativeTick    decimal.Decimal
	RawDepth      int
	GroupedDepth  int
	ChecksumDepth int
}

// Synchronizer mirrors the book of one market at the current display tick.
// It is owned by a single goroutine and does no locking.
type Synchronizer struct {
	market          string
	cfg             Config
	tick            decimal.Decimal
	book            *OrderBook
	awaitingPartial bool
	refresh         bool
	logger          *slog.Logger
}

// NewSynchronizer starts in raw mode when tick equals the native tick.
func NewSynchronizer(market string, tick decimal.Decimal, cfg Config, logger *slog.Logger) *Synchronizer {
	if cfg.ChecksumDepth <= 0 {
		cfg.ChecksumDepth = 100
	}
	if tick.IsZero() {
		tick = cfg.NativeTick
	}
	return &Synchronizer{
		market:          market,
		cfg:             cfg,
		tick:            tick,
		awaitingPartial: true,
		logger: logger.With(
			slog.String("component", "book_sync"),
			slog.String("market", market),
		),
	}
}

// Mode reports raw or grouped.
func (s *Synchronizer) Mode() Mode {
	if s.tick.Equal(s.cfg.NativeTick) {
		return ModeRaw
	}
	return ModeGrouped
}

// Tick is the active display tick.
func (s *Synchronizer) Tick() decimal.Decimal { return s.tick }

// Subscription is the book subscription matching the active tick.
func (s *Synchronizer) Subscription() domain.Subscription {
	return domain.BookSubscription(s.market, s.cfg.NativeTick, s.tick)
}

// Book exposes the current mirror; nil until the first partial.
func (s *Synchronizer) Book() *OrderBook { return s.book }

// Accepts reports whether a frame belongs to the active subscription. A
// grouped frame without a grouping is attributed to the active one.
func (s *Synchronizer) Accepts(sub domain.Subscription) bool {
	want := s.Subscription()
	if sub.Channel != want.Channel || sub.Market != want.Market {
		return false
	}
	if want.Channel == domain.ChannelOrderbookGrouped && !sub.Grouping.IsZero() {
		return sub.Grouping.Equal(want.Grouping)
	}
	return true
}

// Apply folds one frame into the book.
func (s *Synchronizer) Apply(f domain.BookFrame) Result {
	if !s.Accepts(f.Subscription) {
		return Result{Action: ActionIgnore}
	}

	switch f.Action {
	case domain.BookActionPartial:
		grouping := decimal.Zero
		if s.Mode() == ModeGrouped {
			grouping = s.tick
		}
		s.book = NewOrderBook(s.market, grouping)
		s.awaitingPartial = false
	case domain.BookActionUpdate:
		if s.awaitingPartial || s.book == nil {
			return Result{Action: ActionIgnore}
		}
	default:
		return Result{Action: ActionIgnore}
	}

	s.book.Apply(f.Bids, f.Asks)
	s.book.Sequence++
	if !f.Time.IsZero() {
		s.book.Timestamp = f.Time
	}

	if s.Mode() == ModeRaw && f.HasChecksum {
		if local := Checksum(s.book, s.cfg.ChecksumDepth); local != f.Checksum {
			s.Resync()
			return Result{
				Action: ActionResync,
				Err: fmt.Errorf("book: %s: %w (local %d, exchange %d)",
					s.market, domain.ErrChecksumMismatch, local, f.Checksum),
			}
		}
	}

	depth := s.cfg.RawDepth
	if s.Mode() == ModeGrouped {
		depth = s.cfg.GroupedDepth
	}
	snap := s.book.Snapshot(depth)
	snap.Refresh = s.refresh
	s.refresh = false
	return Result{Action: ActionEmit, Snapshot: snap}
}

// Resync drops the book; updates are ignored until the next partial.
func (s *Synchronizer) Resync() {
	s.book = nil
	s.awaitingPartial = true
}

// SetTick switches the display tick. It returns the subscription to drop
// and the one to add; changed is false when tick is already active.
func (s *Synchronizer) SetTick(tick decimal.Decimal) (old, next domain.Subscription, changed bool) {
	if tick.Equal(s.tick) {
		return s.Subscription(), s.Subscription(), false
	}
	old = s.Subscription()
	s.tick = tick
	s.Resync()
	s.refresh = true
	next = s.Subscription()
	s.logger.Info("book tick changed",
		slog.String("tick", tick.String()),
		slog.String("mode", s.Mode().String()),
	)
	return old, next, true
}
