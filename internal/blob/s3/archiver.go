package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/targetlab/dmbot/internal/domain"
)

// ArchiveImpl implements domain.Archiver by uploading controller history
// snapshots to S3 before the in-memory sweep drops them, and by exporting
// slices of the lifecycle journal to JSONL. It never deletes journal rows
// from the primary store.
type ArchiveImpl struct {
	writer domain.BlobWriter
	events domain.TargetEventStore
}

// NewArchiver creates a new ArchiveImpl. events may be nil; archives are then
// uploaded without a journal record.
func NewArchiver(writer domain.BlobWriter, events domain.TargetEventStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		events: events,
	}
}

// ArchiveHistory uploads one history snapshot to S3 at
// archive/history/YYYY-MM/{orderID}.json and records the upload in the
// lifecycle journal.
func (a *ArchiveImpl) ArchiveHistory(ctx context.Context, orderID string, payload []byte) error {
	now := time.Now().UTC()
	path := fmt.Sprintf("archive/history/%s/%s.json", now.Format("2006-01"), orderID)

	if err := a.writer.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive history upload: %w", err)
	}

	if a.events != nil {
		if err := a.events.Log(ctx, orderID, "archive.history", map[string]any{
			"path": path,
			"size": len(payload),
		}); err != nil {
			return fmt.Errorf("s3blob: archive history journal: %w", err)
		}
	}
	return nil
}

// ArchiveEvents exports an order's journal entries from before the cutoff to
// S3 as JSONL at archive/events/YYYY-MM/{orderID}.jsonl and returns the count
// of exported records.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, orderID string, before time.Time) (int64, error) {
	if a.events == nil {
		return 0, fmt.Errorf("s3blob: archive events: no event store configured")
	}

	events, err := a.events.ListByOrder(ctx, orderID, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := fmt.Sprintf("archive/events/%s/%s.jsonl", before.Format("2006-01"), orderID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	return int64(len(events)), nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
