package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incident-sync/internal/record"
)

// DefaultChunkSize is the number of records sent per store request.
const DefaultChunkSize = 100

// WriteResult accounts for a chunked write. Processed counts records for
// which a request was actually issued, regardless of item outcome, so the
// caller can reconcile counts against the original batch size. Succeeded
// counts records that committed, including the clean items of a chunk that
// failed partway. FailedIndexes holds the positions (within the submitted
// slice) of the records that the stopping chunk rejected; on a transport
// error the whole chunk's outcome is unknown and every position in it is
// listed.
type WriteResult struct {
	Processed     int
	Succeeded     int
	FailedIndexes []int
}

// Writer applies inserts and updates to a store in bounded-size chunks.
// Each chunk is an independent unit of work: a failure in chunk N stops
// further sends but does not roll back chunks 1..N-1, which are already
// committed remotely.
type Writer struct {
	store Store
	chunk int
}

// NewWriter creates a Writer with the given chunk size; zero or negative
// uses DefaultChunkSize.
func NewWriter(s Store, chunkSize int) *Writer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Writer{store: s, chunk: chunkSize}
}

// ApplyInserts pushes the records to the store's insert operation chunk by
// chunk, stopping at the first chunk that reports a failure. Zero-length
// input is a no-op success.
func (w *Writer) ApplyInserts(ctx context.Context, recs []*record.Record) (WriteResult, error) {
	return w.apply(ctx, recs, "insert", w.store.InsertBatch)
}

// ApplyUpdates pushes the records through the store's update operation with
// the same chunking discipline as ApplyInserts.
func (w *Writer) ApplyUpdates(ctx context.Context, recs []*record.Record) (WriteResult, error) {
	return w.apply(ctx, recs, "update", w.store.UpdateBatch)
}

func (w *Writer) apply(
	ctx context.Context,
	recs []*record.Record,
	op string,
	send func(context.Context, []*record.Record) (EditResult, error),
) (WriteResult, error) {
	var res WriteResult
	if len(recs) == 0 {
		return res, nil
	}

	log := zap.L().With(zap.String("component", "store.writer"), zap.String("op", op))

	for start := 0; start < len(recs); start += w.chunk {
		end := start + w.chunk
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]

		log.Debug("sending chunk", zap.Int("from", start), zap.Int("to", end))

		edit, err := send(ctx, chunk)
		res.Processed += len(chunk)
		if err != nil {
			for i := start; i < end; i++ {
				res.FailedIndexes = append(res.FailedIndexes, i)
			}
			return res, eris.Wrapf(err, "store: %s chunk %d-%d", op, start, end)
		}
		if edit.Failed() {
			res.Succeeded += len(chunk) - len(edit.Failures)
			for _, f := range edit.Failures {
				res.FailedIndexes = append(res.FailedIndexes, start+f.Index)
			}
			first := edit.Failures[0]
			return res, eris.Wrapf(first.Err, "store: %s chunk %d-%d rejected item %d", op, start, end, start+first.Index)
		}
		res.Succeeded += len(chunk)
	}

	return res, nil
}
