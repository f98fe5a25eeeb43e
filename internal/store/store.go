// Package store defines the record store adapter: a uniform read, query,
// and mutation interface over the target incident dataset, implemented by a
// local SQLite table, a local Postgres table, and a remote hosted feature
// layer. It also provides the chunked batch writer used to push edits.
package store

import (
	"context"

	"github.com/sells-group/incident-sync/internal/record"
)

// Failure records one item of a batch mutation that the backend rejected.
type Failure struct {
	Index int   // position in the submitted batch
	Err   error // backend error for that item
}

// EditResult reports the outcome of a batch mutation. Per-item failures are
// always enumerated, never silently dropped.
type EditResult struct {
	SuccessCount int
	Failures     []Failure
}

// Failed reports whether any item in the batch was rejected.
func (r EditResult) Failed() bool { return len(r.Failures) > 0 }

// Store is the capability set the reconciliation engine and importer rely
// on. Mutations are idempotent-safe at the id level: predicates re-resolve
// against current store state, so a retried delete has no further effect.
type Store interface {
	// Schema returns the target's field schema including its row identity
	// field (OBJECTID, rowid, or a serial key column).
	Schema(ctx context.Context) (record.Schema, error)

	// Query returns the records matching the predicate, with the requested
	// fields plus the row identity field populated. The remote backend pages
	// through server transfer limits internally.
	Query(ctx context.Context, where string, fields []string) ([]*record.Record, error)

	// QueryIDs returns the distinct non-null values of the given field keyed
	// by canonical id key. Used as a cheap existence check.
	QueryIDs(ctx context.Context, idField string) (map[string]record.Value, error)

	// InsertBatch durably inserts the records.
	InsertBatch(ctx context.Context, recs []*record.Record) (EditResult, error)

	// UpdateBatch applies attribute updates, keyed by the store's own row
	// identity value carried on each record, not the business id.
	UpdateBatch(ctx context.Context, recs []*record.Record) (EditResult, error)

	// DeleteWhere removes all records matching the predicate and returns the
	// number deleted.
	DeleteWhere(ctx context.Context, where string) (int, error)
}
