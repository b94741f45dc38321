// Package record implements the record segment of C8 (spec.md section
// 4.9): two coupled blockfiles, user_id->offset_id and
// offset_id->DataRecord, kept in lockstep by one Writer. It generalizes
// the teacher's single memtable-backed SSTable (lsm) into a pair of
// UnorderedWriters over independent sparse indices, since updates and
// deletes from a materialized log chunk do not arrive in ascending key
// order.
package record

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockfile"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/materialize"
	"github.com/hunddb/hunddb-core/model"
	"github.com/hunddb/hunddb-core/sparseindex"
)

const (
	prefixUserToOffset   = "user"
	prefixOffsetToRecord = "offset"
)

// Writer applies a materialized log chunk to the record segment.
type Writer struct {
	bm         *blockstore.BlockManager
	prefixPath string

	userWriter   blockfile.Writer
	offsetWriter blockfile.Writer
}

// NewWriter builds a Writer over the (possibly forked) sparse indices
// of the two underlying blockfiles.
func NewWriter(bm *blockstore.BlockManager, prefixPath string, userRootID, offsetRootID uuid.UUID, userIndex, offsetIndex *sparseindex.SparseIndex, maxBlockSize uint64) *Writer {
	return &Writer{
		bm:           bm,
		prefixPath:   prefixPath,
		userWriter:   blockfile.NewUnorderedWriter(bm, userRootID, prefixPath, compositekey.KindString, maxBlockSize, userIndex),
		offsetWriter: blockfile.NewUnorderedWriter(bm, offsetRootID, prefixPath, compositekey.KindUint32, maxBlockSize, offsetIndex),
	}
}

func encodeOffset(offsetID uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, offsetID)
	return buf
}

func decodeOffset(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// ApplyLog writes every materialized record's effect into both
// directions, per spec.md section 4.9: additions/updates set both
// rows, deletion removes both.
func (w *Writer) ApplyLog(records []model.MaterializedLogRecord) error {
	for _, rec := range records {
		switch rec.FinalOperation {
		case model.AddNew, model.UpdateExisting, model.OverwriteExisting:
			if err := w.userWriter.Set(prefixUserToOffset, compositekey.StringKey(rec.UserID), encodeOffset(rec.OffsetID)); err != nil {
				return err
			}
			data, err := json.Marshal(toDataRecord(rec))
			if err != nil {
				return hdberr.Wrap(hdberr.Internal, "record segment: encoding data record", err)
			}
			if err := w.offsetWriter.Set(prefixOffsetToRecord, compositekey.Uint32Key(rec.OffsetID), data); err != nil {
				return err
			}
		case model.DeleteExisting:
			if err := w.userWriter.Delete(prefixUserToOffset, compositekey.StringKey(rec.UserID)); err != nil {
				return err
			}
			if err := w.offsetWriter.Delete(prefixOffsetToRecord, compositekey.Uint32Key(rec.OffsetID)); err != nil {
				return err
			}
		case model.Initial:
			// dropped update-on-nonexistent (spec.md section 4.7): no row
			// to write.
		default:
			return hdberr.Newf(hdberr.InvalidArgument, "record segment: unhandled final operation %s", rec.FinalOperation)
		}
	}
	return nil
}

func toDataRecord(rec model.MaterializedLogRecord) model.DataRecord {
	return model.DataRecord{
		ID:        rec.UserID,
		OffsetID:  rec.OffsetID,
		Embedding: rec.Embedding,
		Metadata:  rec.Metadata,
		Document:  rec.Document,
	}
}

// Commit finalizes both blockfiles and returns a Flusher whose Count
// reports the live row total post-compaction.
func (w *Writer) Commit(ctx context.Context) (*Flusher, error) {
	uf, err := w.userWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	of, err := w.offsetWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return &Flusher{bm: w.bm, prefixPath: w.prefixPath, userFlusher: uf, offsetFlusher: of}, nil
}

// Flusher writes the two new roots and reports the resulting live row
// count (spec.md section 4.9: "count() is the live row count").
type Flusher struct {
	bm            *blockstore.BlockManager
	prefixPath    string
	userFlusher   *blockfile.Flusher
	offsetFlusher *blockfile.Flusher
}

// Count scans the offset->record index post-commit for the live row
// total; it requires I/O since rows may live in blocks untouched by
// this compaction window.
func (f *Flusher) Count(ctx context.Context) (int, error) {
	reader := blockfile.NewReader(f.bm, f.prefixPath, compositekey.KindUint32, f.offsetFlusher.Index())
	return reader.Count(ctx)
}

// Indices returns both directions' updated sparse indices, for forking
// the next compaction window's writers without a RootManager round trip.
func (f *Flusher) Indices() (user, offset *sparseindex.SparseIndex) {
	return f.userFlusher.Index(), f.offsetFlusher.Index()
}

// Result reports the persisted root ids and block paths for both
// directions.
type Result struct {
	UserRoot   *blockfile.FlushResult
	OffsetRoot *blockfile.FlushResult
}

// Flush uploads both blockfiles' new blocks and roots with the given
// bounded concurrency.
func (f *Flusher) Flush(ctx context.Context, rm *blockstore.RootManager, numConcurrentFlushes int) (*Result, error) {
	userResult, err := f.userFlusher.Flush(ctx, rm, numConcurrentFlushes)
	if err != nil {
		return nil, err
	}
	offsetResult, err := f.offsetFlusher.Flush(ctx, rm, numConcurrentFlushes)
	if err != nil {
		return nil, err
	}
	return &Result{UserRoot: userResult, OffsetRoot: offsetResult}, nil
}

// Reader satisfies materialize.RecordSegmentReader over a previously
// flushed record segment.
type Reader struct {
	bm           *blockstore.BlockManager
	userReader   *blockfile.Reader
	offsetReader *blockfile.Reader
}

var _ materialize.RecordSegmentReader = (*Reader)(nil)

// OpenReader loads both roots, returning (nil, nil) if neither exists
// yet (a fresh collection).
func OpenReader(ctx context.Context, bm *blockstore.BlockManager, rm *blockstore.RootManager, userRootID, offsetRootID uuid.UUID, prefixPath string) (*Reader, error) {
	userReader, err := blockfile.OpenReader(ctx, bm, rm, userRootID, prefixPath)
	if err != nil {
		return nil, err
	}
	offsetReader, err := blockfile.OpenReader(ctx, bm, rm, offsetRootID, prefixPath)
	if err != nil {
		return nil, err
	}
	if userReader == nil || offsetReader == nil {
		return nil, nil
	}
	return &Reader{bm: bm, userReader: userReader, offsetReader: offsetReader}, nil
}

func (r *Reader) LookupOffset(ctx context.Context, userID string) (uint32, bool, error) {
	v, ok, err := r.userReader.Get(ctx, prefixUserToOffset, compositekey.StringKey(userID))
	if err != nil || !ok {
		return 0, ok, err
	}
	return decodeOffset(v), true, nil
}

func (r *Reader) GetDataRecord(ctx context.Context, offsetID uint32) (*model.DataRecord, bool, error) {
	v, ok, err := r.offsetReader.Get(ctx, prefixOffsetToRecord, compositekey.Uint32Key(offsetID))
	if err != nil || !ok {
		return nil, ok, err
	}
	var dr model.DataRecord
	if err := json.Unmarshal(v, &dr); err != nil {
		return nil, false, hdberr.Wrap(hdberr.Internal, "record segment: decoding data record", err)
	}
	return &dr, true, nil
}

// MaxExistingOffsetID scans every live row of the offset->record index
// to find the current high-water mark.
func (r *Reader) MaxExistingOffsetID(ctx context.Context) (uint32, error) {
	rows, err := r.offsetReader.GetPrefix(ctx, prefixOffsetToRecord)
	if err != nil {
		return 0, err
	}
	var max uint32
	for _, row := range rows {
		if row.Key.U32 > max {
			max = row.Key.U32
		}
	}
	return max, nil
}
