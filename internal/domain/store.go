package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JournalEntry is one persisted outbound event.
type JournalEntry struct {
	ID      int64           `json:"id"`
	Kind    EventKind       `json:"kind"`
	Market  string          `json:"market,omitempty"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit   int
	AfterID int64
	Kinds   []EventKind
	Market  string
	Since   *time.Time
	Until   *time.Time
}

// JournalStore persists selected outbound events (fills, alerts, large
// trades) for later review and archival.
type JournalStore interface {
	Append(ctx context.Context, entries ...JournalEntry) error
	List(ctx context.Context, opts ListOpts) ([]JournalEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
