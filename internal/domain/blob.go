package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves journal rows older than a cutoff to cold storage and
// reports how many rows it wrote.
type Archiver interface {
	ArchiveJournal(ctx context.Context, before time.Time) (int64, error)
}
