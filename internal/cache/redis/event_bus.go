package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// EventBus implements domain.EventPublisher over Redis Pub/Sub.
//
// Channel schema:
//
//	{prefix}:{kind}            - account-wide events
//	{prefix}:{kind}:{market}   - per-market events
type EventBus struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client, prefix string) *EventBus {
	return &EventBus{rdb: c.Underlying(), prefix: prefix, now: time.Now}
}

// Channel returns the pub/sub channel for an event.
func (b *EventBus) Channel(ev domain.Event) string {
	return eventChannel(b.prefix, ev.Kind(), ev.MarketName())
}

func eventChannel(prefix string, kind domain.EventKind, market string) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, string(kind))
	if market != "" {
		parts = append(parts, market)
	}
	return strings.Join(parts, ":")
}

// Publish sends ev, wrapped in a domain.Envelope, on its channel.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := domain.EncodeEvent(ev, b.now())
	if err != nil {
		return err
	}
	channel := b.Channel(ev)
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe follows channel (glob patterns allowed) and decodes envelopes.
// The returned channel closes when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan domain.Envelope, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan domain.Envelope, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env domain.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Compile-time interface check.
var _ domain.EventPublisher = (*EventBus)(nil)
