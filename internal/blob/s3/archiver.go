package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

const (
	jsonlContentType = "application/x-ndjson"

	// Payloads above this go through the multipart uploader.
	multipartThreshold = 16 << 20
)

// OrderArchiveStore is the slice of domain.OrderStore the archiver needs.
type OrderArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionArchiveStore is the slice of domain.PositionStore the archiver
// needs.
type PositionArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.PositionRecord, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// blobStore is what the archiver needs from object storage.
type blobStore interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports terminal orders and closed positions as JSONL and then
// removes them from Postgres. Rows are only deleted after the upload
// succeeds.
type Archiver struct {
	blobs     blobStore
	orders    OrderArchiveStore
	positions PositionArchiveStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(blobs blobStore, orders OrderArchiveStore, positions PositionArchiveStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobs:     blobs,
		orders:    orders,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveOrders exports orders that reached a terminal state before the
// cutoff and returns how many were archived.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders: %w", err)
	}
	return archive(ctx, a, "orders", before, orders, a.orders.DeleteTerminalBefore)
}

// ArchivePositions exports closed and liquidated positions that ended before
// the cutoff.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions: %w", err)
	}
	return archive(ctx, a, "positions", before, recs, a.positions.DeleteClosedBefore)
}

func archive[T any](
	ctx context.Context,
	a *Archiver,
	kind string,
	before time.Time,
	records []T,
	purge func(context.Context, time.Time) (int64, error),
) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	path, err := a.freePath(ctx, kind, before)
	if err != nil {
		return 0, err
	}
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}

	deleted, err := purge(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: purge after upload to %s: %w", kind, path, err)
	}
	count := int64(len(records))
	if deleted != count {
		a.logger.WarnContext(ctx, "archiver: deleted row count differs from archived",
			slog.String("kind", kind),
			slog.Int64("archived", count),
			slog.Int64("deleted", deleted),
		)
	}
	metrics.ArchivedRecords.WithLabelValues(kind).Add(float64(count))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "archiver: audit log failed", slog.String("error", err.Error()))
		}
	}
	a.logger.InfoContext(ctx, "archiver: exported records",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	var r io.Reader = bytes.NewReader(buf)
	if len(buf) > multipartThreshold {
		return a.blobs.PutMultipart(ctx, path, r, minPartSize)
	}
	return a.blobs.Put(ctx, path, r, jsonlContentType)
}

// freePath returns archive/<kind>/YYYY-MM.jsonl, or the first numbered
// sibling (YYYY-MM.1.jsonl, ...) not yet taken, so repeated runs in the
// same month never overwrite earlier exports.
func (a *Archiver) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	month := before.UTC().Format("2006-01")
	for n := 0; ; n++ {
		path := fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
		if n > 0 {
			path = fmt.Sprintf("archive/%s/%s.%d.jsonl", kind, month, n)
		}
		ok, err := a.blobs.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if !ok {
			return path, nil
		}
	}
}

// Run archives every interval, exporting records older than retention.
// It blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.RunOnce(ctx, time.Now().Add(-retention))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce archives both kinds, logging failures.
func (a *Archiver) RunOnce(ctx context.Context, before time.Time) {
	if _, err := a.ArchiveOrders(ctx, before); err != nil {
		a.logger.ErrorContext(ctx, "archiver: orders failed", slog.String("error", err.Error()))
	}
	if _, err := a.ArchivePositions(ctx, before); err != nil {
		a.logger.ErrorContext(ctx, "archiver: positions failed", slog.String("error", err.Error()))
	}
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
