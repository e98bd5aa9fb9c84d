package domain

import (
	"context"
	"io"
	"time"
)

// TargetEvent is one entry in the append-only target lifecycle journal.
type TargetEvent struct {
	ID        string
	OrderID   string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts controls pagination and time filtering for journal queries.
type ListOpts struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// TargetEventStore journals target lifecycle events. This is an audit
// trail, not controller state; controllers never read it back.
type TargetEventStore interface {
	Log(ctx context.Context, orderID, event string, detail map[string]any) error
	ListByOrder(ctx context.Context, orderID string, opts ListOpts) ([]TargetEvent, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports swept controller history and journal slices to long-term
// storage before they are dropped from memory.
type Archiver interface {
	ArchiveHistory(ctx context.Context, orderID string, payload []byte) error
	ArchiveEvents(ctx context.Context, orderID string, before time.Time) (int64, error)
}
