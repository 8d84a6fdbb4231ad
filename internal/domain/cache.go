package domain

import (
	"context"
	"time"
)

// EventPublisher mirrors emitted events to an external bus.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// BookCache keeps the latest book snapshot per market for late readers.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, market string) (BookSnapshot, error)
	GetBBO(ctx context.Context, market string) (bestBid, bestAsk string, err error)
	Expire(ctx context.Context, market string, ttl time.Duration) error
}

// RateLimiter counts requests per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
