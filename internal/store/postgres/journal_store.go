package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// defaultJournalKinds are journaled when no kinds are configured.
var defaultJournalKinds = []domain.EventKind{domain.EventNotification, domain.EventActivity}

// JournalStore implements domain.JournalStore using PostgreSQL. It is also
// a domain.EventPublisher that journals the configured event kinds and
// ignores the rest.
type JournalStore struct {
	pool  *pgxpool.Pool
	kinds map[domain.EventKind]bool
	now   func() time.Time
}

// NewJournalStore creates a JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool, kinds []string) *JournalStore {
	allowed := make(map[domain.EventKind]bool)
	for _, k := range kinds {
		allowed[domain.EventKind(strings.TrimSpace(k))] = true
	}
	if len(allowed) == 0 {
		for _, k := range defaultJournalKinds {
			allowed[k] = true
		}
	}
	return &JournalStore{pool: pool, kinds: allowed, now: time.Now}
}

// Journals reports whether events of kind are persisted.
func (s *JournalStore) Journals(kind domain.EventKind) bool {
	return s.kinds[kind]
}

// Publish journals ev when its kind is enabled.
func (s *JournalStore) Publish(ctx context.Context, ev domain.Event) error {
	if !s.kinds[ev.Kind()] {
		return nil
	}
	entry, err := EntryFromEvent(ev, s.now())
	if err != nil {
		return err
	}
	return s.Append(ctx, entry)
}

// EntryFromEvent builds the journal row for ev. Events that carry their own
// timestamp keep it; others are stamped with fallback.
func EntryFromEvent(ev domain.Event, fallback time.Time) (domain.JournalEntry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("postgres: marshal %s: %w", ev.Kind(), err)
	}
	at := fallback
	switch e := ev.(type) {
	case domain.Notification:
		if !e.Time.IsZero() {
			at = e.Time
		}
	case domain.ActivityEntry:
		if !e.Time.IsZero() {
			at = e.Time
		}
	}
	return domain.JournalEntry{
		Kind:    ev.Kind(),
		Market:  ev.MarketName(),
		Time:    at.UTC(),
		Payload: payload,
	}, nil
}

// Append inserts entries in one batch.
func (s *JournalStore) Append(ctx context.Context, entries ...domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const query = `INSERT INTO journal (kind, market, event_time, payload) VALUES ($1, $2, $3, $4)`
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, string(e.Kind), e.Market, e.Time, []byte(e.Payload))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append journal entry %d: %w", i, err)
		}
	}
	return nil
}

// List returns journal entries in id order, filtered by opts.
func (s *JournalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query, args := listQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e       domain.JournalEntry
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.Market, &e.Time, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.Payload = payload
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list journal rows: %w", err)
	}
	return entries, nil
}

// listQuery builds the filtered select for List.
func listQuery(opts domain.ListOpts) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT id, kind, market, event_time, payload FROM journal WHERE id > $1`)
	args = append(args, opts.AfterID)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(opts.Kinds) > 0 {
		kinds := make([]string, len(opts.Kinds))
		for i, k := range opts.Kinds {
			kinds[i] = string(k)
		}
		b.WriteString(" AND kind = ANY(" + arg(kinds) + ")")
	}
	if opts.Market != "" {
		b.WriteString(" AND market = " + arg(opts.Market))
	}
	if opts.Since != nil {
		b.WriteString(" AND event_time >= " + arg(*opts.Since))
	}
	if opts.Until != nil {
		b.WriteString(" AND event_time < " + arg(*opts.Until))
	}
	b.WriteString(" ORDER BY id")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}
	return b.String(), args
}

// DeleteBefore removes entries older than before and returns how many went.
func (s *JournalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM journal WHERE event_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete journal before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface checks.
var (
	_ domain.JournalStore   = (*JournalStore)(nil)
	_ domain.EventPublisher = (*JournalStore)(nil)
)
