package domain

import (
	"context"
	"database/sql"
)

// JobStore persists JobRecords keyed by signature. Every mutation is a
// compare-and-swap on Version so concurrent callers cannot lose updates.
type JobStore interface {
	// Get returns the record or a *NotFoundError.
	Get(ctx context.Context, signature string) (*JobRecord, error)
	// Create inserts a record that must not exist yet. It returns a
	// *ConflictError when another caller created it first. The stored
	// record has Version 1.
	Create(ctx context.Context, rec *JobRecord) (*JobRecord, error)
	// CompareAndSwap replaces the record whose stored Version equals
	// rec.Version and increments the version. It returns a *ConflictError
	// on a version mismatch and a *NotFoundError when the record is gone.
	CompareAndSwap(ctx context.Context, rec *JobRecord) (*JobRecord, error)
	// Delete removes the record if its stored Version still equals version.
	Delete(ctx context.Context, signature string, version int64) error
	// List returns every record. It backs garbage collection.
	List(ctx context.Context) ([]JobRecord, error)
}

// ManifestStore persists the retention manifest as one document.
type ManifestStore interface {
	// Update runs fn on the current entries and stores its result
	// atomically with respect to other Update calls.
	Update(ctx context.Context, fn func([]ManifestEntry) ([]ManifestEntry, error)) error
	// List returns the current entries.
	List(ctx context.Context) ([]ManifestEntry, error)
}

// TradeSource is the read surface of the backing trades relation.
type TradeSource interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
