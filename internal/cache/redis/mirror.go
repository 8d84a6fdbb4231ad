package redis

import (
	"context"
	"errors"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// Mirror publishes every event on the bus and keeps the latest book of
// each market in the cache.
type Mirror struct {
	bus   domain.EventPublisher
	books domain.BookCache
}

// NewMirror combines a publisher and a book cache. Either may be nil.
func NewMirror(bus domain.EventPublisher, books domain.BookCache) *Mirror {
	return &Mirror{bus: bus, books: books}
}

// Publish implements domain.EventPublisher.
func (m *Mirror) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	if m.bus != nil {
		errs = append(errs, m.bus.Publish(ctx, ev))
	}
	if snap, ok := ev.(domain.BookSnapshot); ok && m.books != nil {
		errs = append(errs, m.books.SetSnapshot(ctx, snap))
	}
	return errors.Join(errs...)
}
