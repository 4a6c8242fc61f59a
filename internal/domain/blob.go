package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveObject is one JSONL export in the archive bucket, keyed as
// archive/<kind>/<YYYY-MM>[.<n>].jsonl.
type ArchiveObject struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter stores archive exports. PutMultipart is used for exports
// large enough to need a streamed upload.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archive exports back, for audits and for choosing a
// key that does not clobber an earlier export.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ArchiveObject, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves terminal orders and closed positions older than a cutoff
// out of Postgres and into the archive bucket. Each call returns the number
// of rows archived.
type Archiver interface {
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
	ArchivePositions(ctx context.Context, before time.Time) (int64, error)
}
