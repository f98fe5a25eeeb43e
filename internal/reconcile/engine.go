package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incident-sync/internal/record"
	"github.com/sells-group/incident-sync/internal/store"
)

// RecordError is a non-fatal failure isolated to a single record.
type RecordError struct {
	ID  string
	Err error
}

// Result reports one reconciliation pass.
//
// Every record of the original batch lands in exactly one bucket, so
// len(Inserts) + UpdateCount + DeleteCount + len(NullRecords) equals the
// original batch size. Store-side deletions are tracked separately in
// StoreDeleteCount because the affected batch records continue on as
// insert candidates.
type Result struct {
	// Inserts are the surviving batch records, to be geocoded and appended.
	Inserts []*record.Record

	// NullRecords were rejected before any store comparison for missing a
	// required id or report date.
	NullRecords []*record.Record

	// UpdateCount is the number of batch records consumed by patching
	// stored data in place. A record patching several store rows for its
	// id still counts once.
	UpdateCount int

	// DeleteCount counts batch records consumed without an insert: older
	// than the stored report, duplicated within the batch, or identical to
	// the stored record.
	DeleteCount int

	// StoreDeleteCount counts store rows deleted so their batch records can
	// be re-inserted with fresh geometry.
	StoreDeleteCount int

	// Errors lists per-record failures that did not abort the pass.
	Errors []RecordError
}

// Engine reconciles incoming batches against a record store. One engine is
// safe to reuse across passes; each pass exclusively owns its batch.
type Engine struct {
	cfg Config
	loc *time.Location
}

// New validates the configuration and builds an engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, loc: loc}, nil
}

// Run executes one reconciliation pass. The batch is a disposable working
// copy: records are removed from it as they are resolved, and the original
// spreadsheet source is never touched. Updates queued against the store are
// flushed through the chunked writer before returning.
func (e *Engine) Run(ctx context.Context, batch []*record.Record, st store.Store) (*Result, error) {
	log := zap.L().With(zap.String("component", "reconcile.engine"))
	res := &Result{}

	schema, err := st.Schema(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: read store schema")
	}
	idKind, ok := schema.Kind(e.cfg.IDField)
	if !ok {
		return nil, eris.Errorf("reconcile: id field %q does not exist in the target", e.cfg.IDField)
	}
	if !schema.Has(e.cfg.DateField) {
		return nil, eris.Errorf("reconcile: date field %q does not exist in the target", e.cfg.DateField)
	}

	matching := matchingFields(batch, schema)

	// Step 1: reject records missing a required id or report date.
	working := make([]*record.Record, 0, len(batch))
	for _, rec := range batch {
		if rec.Value(e.cfg.IDField).IsNull() || rec.Value(e.cfg.DateField).IsNull() {
			res.NullRecords = append(res.NullRecords, rec)
			continue
		}
		working = append(working, rec)
	}

	// Step 2: collapse intra-batch duplicates, keeping the latest report.
	working = e.collapse(working, idKind, res)

	// Step 3: only ids already present in the store need comparison.
	storeIDs, err := st.QueryIDs(ctx, e.cfg.IDField)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: query store ids")
	}

	// Step 4: per-id resolution for the intersection.
	var updates []*record.Record
	survivors := working[:0]
	for _, rec := range working {
		id := record.CastID(rec.Value(e.cfg.IDField), idKind)
		if _, exists := storeIDs[id.Key()]; !exists {
			survivors = append(survivors, rec)
			continue
		}

		keep, err := e.resolve(ctx, st, schema, matching, rec, id, idKind, &updates, res)
		if err != nil {
			return nil, err
		}
		if keep {
			survivors = append(survivors, rec)
		}
	}

	// Step 5: flush queued updates in bounded chunks.
	writer := store.NewWriter(st, e.cfg.ChunkSize)
	if _, err := writer.ApplyUpdates(ctx, updates); err != nil {
		return res, eris.Wrap(err, "reconcile: apply updates")
	}

	res.Inserts = survivors
	log.Info("reconciliation pass complete",
		zap.Int("inserts", len(res.Inserts)),
		zap.Int("updates", res.UpdateCount),
		zap.Int("deletes", res.DeleteCount),
		zap.Int("store_deletes", res.StoreDeleteCount),
		zap.Int("null_records", len(res.NullRecords)),
	)
	return res, nil
}

// collapse keeps only the most recent report per id. When two reports carry
// exactly equal timestamps the first one encountered in batch order wins.
func (e *Engine) collapse(working []*record.Record, idKind record.Kind, res *Result) []*record.Record {
	type kept struct {
		pos  int
		when time.Time
	}
	latest := make(map[string]kept)
	drop := make(map[int]bool)

	for i, rec := range working {
		key := record.CastID(rec.Value(e.cfg.IDField), idKind).Key()

		when, err := record.ParseTimestamp(rec.Value(e.cfg.DateField), e.cfg.TimestampFormat, e.loc)
		if err != nil {
			drop[i] = true
			res.DeleteCount++
			res.Errors = append(res.Errors, RecordError{ID: key, Err: eris.Wrapf(err, "reconcile: report date in field %q", e.cfg.DateField)})
			continue
		}

		prev, seen := latest[key]
		if !seen {
			latest[key] = kept{pos: i, when: when}
			continue
		}
		if when.After(prev.when) {
			drop[prev.pos] = true
			latest[key] = kept{pos: i, when: when}
		} else {
			drop[i] = true
		}
		res.DeleteCount++
	}

	out := working[:0]
	for i, rec := range working {
		if !drop[i] {
			out = append(out, rec)
		}
	}
	return out
}

// resolve compares one batch record against the store's record(s) for the
// same id. It reports whether the batch record survives as an insert
// candidate.
func (e *Engine) resolve(
	ctx context.Context,
	st store.Store,
	schema record.Schema,
	matching []string,
	rec *record.Record,
	id record.Value,
	idKind record.Kind,
	updates *[]*record.Record,
	res *Result,
) (bool, error) {
	where := e.cfg.IDField + " = " + record.QuoteForPredicate(id, idKind)

	stored, err := st.Query(ctx, where, matching)
	if err != nil {
		return false, eris.Wrapf(err, "reconcile: fetch store records for id %s", id.Key())
	}
	if len(stored) == 0 {
		// Deleted between QueryIDs and now; treat as a fresh insert.
		return true, nil
	}

	batchDate, err := record.ParseTimestamp(rec.Value(e.cfg.DateField), e.cfg.TimestampFormat, e.loc)
	if err != nil {
		res.DeleteCount++
		res.Errors = append(res.Errors, RecordError{ID: id.Key(), Err: eris.Wrapf(err, "reconcile: report date in field %q", e.cfg.DateField)})
		return false, nil
	}

	// The store can hold more than one row for an id after an interrupted
	// earlier run; every row is checked. A row newer than the batch record
	// drops it before anything is deleted.
	for _, srec := range stored {
		storeDate, err := record.ParseTimestamp(srec.Value(e.cfg.DateField), e.cfg.TimestampFormat, e.loc)
		if err != nil {
			res.DeleteCount++
			res.Errors = append(res.Errors, RecordError{ID: id.Key(), Err: eris.Wrapf(err, "reconcile: stored report date in field %q", e.cfg.DateField)})
			return false, nil
		}

		// Older report: the store wins, drop the batch record.
		if batchDate.Before(storeDate) {
			res.DeleteCount++
			return false, nil
		}
	}

	var patched []*record.Record
	for _, srec := range stored {
		// Changed location invalidates the stored geometry; replace the
		// store rows by re-inserting instead of patching attributes.
		if record.LocationsDiffer(rec, srec, e.cfg.LocationFields, matching) {
			n, err := st.DeleteWhere(ctx, where)
			if err != nil {
				return false, eris.Wrapf(err, "reconcile: delete relocated id %s", id.Key())
			}
			res.StoreDeleteCount += n
			return true, nil
		}

		// Same location: translate attributes and patch only when a field
		// actually changed.
		changed, p, err := e.diff(rec, srec, schema, matching)
		if err != nil {
			n, delErr := st.DeleteWhere(ctx, where)
			if delErr != nil {
				return false, eris.Wrapf(delErr, "reconcile: delete mismatched id %s", id.Key())
			}
			res.StoreDeleteCount += n
			res.Errors = append(res.Errors, RecordError{ID: id.Key(), Err: err})
			return true, nil
		}
		if changed {
			patched = append(patched, p)
		}
	}

	// One batch record can patch several store rows, but it is consumed
	// exactly once for the accounting.
	if len(patched) > 0 {
		*updates = append(*updates, patched...)
		res.UpdateCount++
		return false, nil
	}

	// True duplicate: nothing to do, the batch record is consumed.
	res.DeleteCount++
	return false, nil
}

// diff translates the batch record's matching fields to the store's kinds
// and reports whether any value differs from the stored record. When it
// does, the returned record is the stored record with the batch values
// applied, ready for the update queue.
func (e *Engine) diff(rec, srec *record.Record, schema record.Schema, matching []string) (bool, *record.Record, error) {
	changed := false
	patched := srec.Clone()

	for _, f := range matching {
		kind, _ := schema.Kind(f)
		v, err := translate(f, rec.Value(f), kind, e.cfg.TimestampFormat, e.loc)
		if err != nil {
			return false, nil, err
		}

		if !e.same(v, srec.Value(f), kind) {
			changed = true
		}
		patched.Set(f, v)
	}
	return changed, patched, nil
}

// same compares a translated batch value with a stored value. Date fields
// compare as instants at second granularity; everything else uses
// type-tolerant equality.
func (e *Engine) same(v, sv record.Value, kind record.Kind) bool {
	if kind == record.KindDate {
		if v.IsNull() || sv.IsNull() {
			return v.IsNull() == sv.IsNull()
		}
		a, errA := record.ParseTimestamp(v, e.cfg.TimestampFormat, e.loc)
		b, errB := record.ParseTimestamp(sv, e.cfg.TimestampFormat, e.loc)
		if errA != nil || errB != nil {
			return record.Equivalent(v, sv)
		}
		return a.Equal(b)
	}
	return record.Equivalent(v, sv)
}

// matchingFields intersects the batch's field set with the store schema,
// excluding the store's row identity field.
func matchingFields(batch []*record.Record, schema record.Schema) []string {
	if len(batch) == 0 {
		return nil
	}
	var out []string
	for _, f := range batch[0].Fields() {
		if f == schema.RowID {
			continue
		}
		if schema.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
