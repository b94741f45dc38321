// Package materialize implements C7: the LogMaterializer, folding a
// chunk of raw LogRecords against an optional existing-record reader
// into per-offset MaterializedLogRecords (spec.md section 4.7). It
// generalizes the teacher's lsm/memtable fold (apply a WAL's Records
// in order into one flat map keyed by Key) into a two-input fold
// (record-segment state ∪ log chunk) keyed by a monotone offset id
// rather than a raw string key.
package materialize

import (
	"context"

	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/model"
	"github.com/rs/zerolog/log"
)

// RecordSegmentReader is the read side of the record segment,
// narrowed to what the materializer needs: resolve an existing
// user_id's offset and the full row at that offset.
type RecordSegmentReader interface {
	LookupOffset(ctx context.Context, userID string) (offsetID uint32, found bool, err error)
	GetDataRecord(ctx context.Context, offsetID uint32) (*model.DataRecord, bool, error)
	MaxExistingOffsetID(ctx context.Context) (uint32, error)
}

// PostingDelta is the sparse-vector posting-count adjustment for one
// (metadata key, dimension) touched during materialization (spec.md
// section 4.7, 4.10: n_t must track pending log deltas).
type PostingDelta struct {
	MetadataKey string
	Dimension   uint32
	Delta       int // +1 on new appearance, -1 on removal
}

// Result is the materializer's output: the folded records in
// ascending offset order plus the posting-count adjustments they
// imply.
type Result struct {
	Records  []model.MaterializedLogRecord
	Postings []PostingDelta
}

// offsetCounter assigns fresh offsets past the existing high-water
// mark, monotonically, in the order new user ids are first seen.
type offsetCounter struct{ next uint32 }

func (c *offsetCounter) take() uint32 {
	v := c.next
	c.next++
	return v
}

// Materialize folds chunk against reader (nil for a full-rebuild empty
// segment) into a Result. Per spec.md section 4.7, each log record is
// processed in order and its effects fold causally into whatever
// MaterializedLogRecord already exists for its offset.
func Materialize(ctx context.Context, reader RecordSegmentReader, chunk []model.LogRecord) (*Result, error) {
	byOffset := make(map[uint32]*model.MaterializedLogRecord)
	order := make([]uint32, 0, len(chunk))
	userToOffset := make(map[string]uint32)

	var counter offsetCounter
	if reader != nil {
		maxExisting, err := reader.MaxExistingOffsetID(ctx)
		if err != nil {
			return nil, err
		}
		counter.next = maxExisting + 1
	}

	var postings []PostingDelta

	resolveOffset := func(userID string) (uint32, bool, error) {
		if off, ok := userToOffset[userID]; ok {
			return off, true, nil
		}
		if reader != nil {
			if off, found, err := reader.LookupOffset(ctx, userID); err != nil {
				return 0, false, err
			} else if found {
				userToOffset[userID] = off
				return off, true, nil
			}
		}
		return 0, false, nil
	}

	existingRecord := func(offsetID uint32) (*model.DataRecord, error) {
		if reader == nil {
			return nil, nil
		}
		rec, found, err := reader.GetDataRecord(ctx, offsetID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return rec, nil
	}

	for _, rec := range chunk {
		offsetID, existed, err := resolveOffset(rec.UserID)
		if err != nil {
			return nil, err
		}

		var mat *model.MaterializedLogRecord
		already := false
		if existed {
			mat, already = byOffset[offsetID]
		}
		if !already {
			var existing *model.DataRecord
			if existed {
				existing, err = existingRecord(offsetID)
				if err != nil {
					return nil, err
				}
			}
			if !existed {
				offsetID = counter.take()
				userToOffset[rec.UserID] = offsetID
			}
			mat = &model.MaterializedLogRecord{
				OffsetID:       offsetID,
				UserID:         rec.UserID,
				FinalOperation: model.Initial,
				Existing:       existing,
			}
			if existing != nil {
				mat.Metadata = existing.Metadata
				mat.Document = existing.Document
				mat.Embedding = existing.Embedding
			}
			byOffset[offsetID] = mat
			order = append(order, offsetID)
		}

		if err := fold(mat, rec, &postings); err != nil {
			return nil, err
		}
	}

	out := make([]model.MaterializedLogRecord, 0, len(order))
	for _, off := range order {
		out = append(out, *byOffset[off])
	}
	return &Result{Records: out, Postings: postings}, nil
}

// fold applies one log record's operation onto the in-progress
// MaterializedLogRecord, per spec.md section 4.7's per-operation
// table.
func fold(mat *model.MaterializedLogRecord, rec model.LogRecord, postings *[]PostingDelta) error {
	existedBefore := mat.FinalOperation != model.Initial || mat.Existing != nil

	switch rec.Operation {
	case model.OpAdd:
		if existedBefore {
			applyOverwrite(mat, rec, postings)
			mat.FinalOperation = model.UpdateExisting
		} else {
			applyOverwrite(mat, rec, postings)
			mat.FinalOperation = model.AddNew
		}
	case model.OpUpdate:
		if !existedBefore {
			log.Warn().Str("user_id", rec.UserID).Msg("materialize: update on nonexistent record, dropping")
			return nil
		}
		applyMerge(mat, rec, postings)
		if mat.FinalOperation == model.Initial {
			mat.FinalOperation = model.UpdateExisting
		}
	case model.OpUpsert:
		applyMerge(mat, rec, postings)
		if existedBefore {
			if mat.FinalOperation == model.Initial {
				mat.FinalOperation = model.UpdateExisting
			}
		} else {
			mat.FinalOperation = model.AddNew
		}
	case model.OpDelete:
		if !existedBefore {
			return hdberr.Newf(hdberr.FailedPrecondition, "materialize: delete on nonexistent record %s", rec.UserID)
		}
		decrementSparsePostings(mat.Metadata, postings)
		mat.FinalOperation = model.DeleteExisting
		mat.Metadata = nil
		mat.Document = nil
		mat.Embedding = nil
	default:
		return hdberr.Newf(hdberr.InvalidArgument, "materialize: unknown operation %d", rec.Operation)
	}
	return nil
}

// applyOverwrite replaces document/embedding wholesale (Add semantics)
// and merges metadata, updating sparse postings for exactly the keys
// the patch touches: a key's old sparse dims are decremented, its new
// sparse dims (if the patch value is sparse and non-null) incremented.
func applyOverwrite(mat *model.MaterializedLogRecord, rec model.LogRecord, postings *[]PostingDelta) {
	for key, patchVal := range rec.Metadata {
		if oldVal, hadOld := mat.Metadata[key]; hadOld && oldVal.IsSparse() {
			for dim := range oldVal.SparseVec {
				*postings = append(*postings, PostingDelta{MetadataKey: key, Dimension: dim, Delta: -1})
			}
		}
		if !patchVal.Null && patchVal.IsSparse() {
			for dim := range patchVal.SparseVec {
				*postings = append(*postings, PostingDelta{MetadataKey: key, Dimension: dim, Delta: +1})
			}
		}
	}
	mat.Metadata = rec.Metadata.Merge(mat.Metadata)
	if rec.Document != nil {
		mat.Document = rec.Document
	}
	if rec.Embedding != nil {
		mat.Embedding = rec.Embedding
	}
}

// applyMerge is identical to applyOverwrite for this model: Update and
// Upsert both use the key-level metadata merge semantics of spec.md
// section 4.7; only the final FinalOperation differs and document/
// embedding overwrite if provided.
func applyMerge(mat *model.MaterializedLogRecord, rec model.LogRecord, postings *[]PostingDelta) {
	applyOverwrite(mat, rec, postings)
}

func decrementSparsePostings(md model.Metadata, postings *[]PostingDelta) {
	for key, v := range md {
		if !v.IsSparse() {
			continue
		}
		for dim := range v.SparseVec {
			*postings = append(*postings, PostingDelta{MetadataKey: key, Dimension: dim, Delta: -1})
		}
	}
}

