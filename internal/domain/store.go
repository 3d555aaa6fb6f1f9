package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	RunID     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of run reports. The pipeline
// only writes to it.
type AuditStore interface {
	Log(ctx context.Context, event, runID string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
