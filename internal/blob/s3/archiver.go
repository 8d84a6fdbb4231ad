package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/domsync/internal/domain"
)

const (
	// archivePageSize bounds each journal read.
	archivePageSize = 5000

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 64 * 1024 * 1024

	jsonlContentType = "application/x-ndjson"
)

// JournalLister is the journal read the archiver needs.
type JournalLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error)
}

// JournalArchiver implements domain.Archiver: it reads journal rows older
// than a cutoff, serializes them to JSONL, and uploads one object per run.
//
// Deleting archived rows is a separate step owned by the caller, to run
// only after the upload succeeded.
type JournalArchiver struct {
	writer   domain.BlobWriter
	journal  JournalLister
	pageSize int
}

// NewArchiver creates a JournalArchiver.
func NewArchiver(writer domain.BlobWriter, journal JournalLister) *JournalArchiver {
	return &JournalArchiver{writer: writer, journal: journal, pageSize: archivePageSize}
}

// ArchiveJournal uploads every journal row with event_time before the
// cutoff to archive/journal/YYYY/MM/DD/HHMMSS.jsonl and returns the row
// count. Nothing is uploaded when there are no rows.
func (a *JournalArchiver) ArchiveJournal(ctx context.Context, before time.Time) (int64, error) {
	var (
		buf   bytes.Buffer
		count int64
		after int64
	)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for {
		page, err := a.journal.List(ctx, domain.ListOpts{
			AfterID: after,
			Until:   &before,
			Limit:   a.pageSize,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive journal query: %w", err)
		}
		for _, e := range page {
			if err := enc.Encode(e); err != nil {
				return 0, fmt.Errorf("s3blob: archive journal encode %d: %w", e.ID, err)
			}
			after = e.ID
		}
		count += int64(len(page))
		if len(page) < a.pageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	path := archivePath("journal", before)
	var err error
	if buf.Len() >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, &buf, jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal upload: %w", err)
	}
	return count, nil
}

// archivePath builds the object key for an archive run, partitioned by the
// cutoff time.
//
//	archive/journal/2025/01/31/030000.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006/01/02/150405"))
}

var _ domain.Archiver = (*JournalArchiver)(nil)
