package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/domsync/internal/domain"
)

type fakeJournal struct {
	entries []domain.JournalEntry
	calls   int
	err     error
}

func (f *fakeJournal) List(_ context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.JournalEntry
	for _, e := range f.entries {
		if e.ID <= opts.AfterID || (opts.Until != nil && !e.Time.Before(*opts.Until)) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

type fakeWriter struct {
	path        string
	contentType string
	body        []byte
	multipart   bool
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.path, w.contentType = path, contentType
	var err error
	w.body, err = io.ReadAll(data)
	return err
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	w.multipart = true
	return w.Put(context.Background(), path, data, "")
}

func journalEntries(n int, at time.Time) []domain.JournalEntry {
	out := make([]domain.JournalEntry, n)
	for i := range out {
		out[i] = domain.JournalEntry{
			ID:      int64(i + 1),
			Kind:    domain.EventNotification,
			Market:  "BTC-PERP",
			Time:    at.Add(time.Duration(i) * time.Second),
			Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		}
	}
	return out
}

func TestArchiveJournalPagesAndUploads(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	journal := &fakeJournal{entries: journalEntries(7, cutoff.Add(-time.Hour))}
	// Rows at or after the cutoff stay behind.
	journal.entries = append(journal.entries, domain.JournalEntry{ID: 8, Time: cutoff})
	writer := &fakeWriter{}

	a := NewArchiver(writer, journal)
	a.pageSize = 3

	n, err := a.ArchiveJournal(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 3, journal.calls)
	assert.Equal(t, "archive/journal/2024/03/01/030000.jsonl", writer.path)
	assert.Equal(t, jsonlContentType, writer.contentType)
	assert.False(t, writer.multipart)

	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(writer.body))
	for sc.Scan() {
		var e domain.JournalEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, ids)
}

func TestArchiveJournalEmpty(t *testing.T) {
	writer := &fakeWriter{}
	n, err := NewArchiver(writer, &fakeJournal{}).ArchiveJournal(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.path)
}

func TestArchiveJournalQueryError(t *testing.T) {
	_, err := NewArchiver(&fakeWriter{}, &fakeJournal{err: errors.New("db down")}).
		ArchiveJournal(context.Background(), time.Now())
	assert.ErrorContains(t, err, "db down")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
