package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// BookCache implements domain.BookCache with one hash per market.
//
// Key schema:
//
//	{prefix}:book:{market} - hash with fields
//	    snapshot - JSON BookSnapshot
//	    bid, ask - best prices as decimal strings
//	    seq      - book sequence
//	    ts       - exchange timestamp in unix nanoseconds
type BookCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewBookCache creates a BookCache. A positive ttl is refreshed on every
// write so books of dropped markets age out.
func NewBookCache(c *Client, prefix string, ttl time.Duration) *BookCache {
	return &BookCache{rdb: c.Underlying(), prefix: prefix, ttl: ttl}
}

func (bc *BookCache) key(market string) string {
	if bc.prefix == "" {
		return "book:" + market
	}
	return bc.prefix + ":book:" + market
}

// bookFields flattens a snapshot into hash fields.
func bookFields(snap domain.BookSnapshot) (map[string]any, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"snapshot": raw,
		"seq":      strconv.FormatUint(snap.Sequence, 10),
		"ts":       strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
		"bid":      "",
		"ask":      "",
	}
	if !snap.BestBid.IsZero() {
		fields["bid"] = snap.BestBid.String()
	}
	if !snap.BestAsk.IsZero() {
		fields["ask"] = snap.BestAsk.String()
	}
	return fields, nil
}

// SetSnapshot atomically replaces the cached book of snap.Market.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	fields, err := bookFields(snap)
	if err != nil {
		return fmt.Errorf("redis: encode book %s: %w", snap.Market, err)
	}
	key := bc.key(snap.Market)

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if bc.ttl > 0 {
		pipe.Expire(ctx, key, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Market, err)
	}
	return nil
}

// GetSnapshot returns the cached book or domain.ErrNotFound.
func (bc *BookCache) GetSnapshot(ctx context.Context, market string) (domain.BookSnapshot, error) {
	raw, err := bc.rdb.HGet(ctx, bc.key(market), "snapshot").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s: %w", market, err)
	}
	var snap domain.BookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: decode book %s: %w", market, err)
	}
	return snap, nil
}

// GetBBO returns the best bid and ask as decimal strings; a missing side is
// empty. It returns domain.ErrNotFound when nothing is cached.
func (bc *BookCache) GetBBO(ctx context.Context, market string) (bestBid, bestAsk string, err error) {
	vals, err := bc.rdb.HMGet(ctx, bc.key(market), "bid", "ask").Result()
	if err != nil {
		return "", "", fmt.Errorf("redis: get bbo %s: %w", market, err)
	}
	if vals[0] == nil && vals[1] == nil {
		return "", "", domain.ErrNotFound
	}
	bestBid, _ = vals[0].(string)
	bestAsk, _ = vals[1].(string)
	return bestBid, bestAsk, nil
}

// Expire sets the TTL of a market's cached book.
func (bc *BookCache) Expire(ctx context.Context, market string, ttl time.Duration) error {
	if err := bc.rdb.Expire(ctx, bc.key(market), ttl).Err(); err != nil {
		return fmt.Errorf("redis: expire book %s: %w", market, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
