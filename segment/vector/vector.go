// Package vector implements the vector segment of C8 (spec.md section
// 4.9): a thin ApplyLog/Commit/Flush wrapper delegating the actual
// nearest-neighbor index to a pluggable Backend (HNSW or SPANN in a
// full deployment). It generalizes the teacher's single-blockfile
// segment shape to a segment whose committed artifact is opaque bytes
// the backend controls, stored the same content-addressed way as every
// other segment's blocks.
package vector

import (
	"context"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockfile"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/model"
	"github.com/hunddb/hunddb-core/sparseindex"
)

const prefixVector = "vec"

// Backend is the pluggable ANN index a Writer delegates to (spec.md
// section 4.9: "HNSW or SPANN"). Upsert/Remove must be idempotent when
// replayed against the same offset_id.
type Backend interface {
	Upsert(offsetID uint32, embedding []float32) error
	Remove(offsetID uint32) error
	// Serialize returns the backend's opaque persisted form.
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
}

// Writer applies materialized ops to the configured Backend and persists
// its serialized form as a single blob in a one-row blockfile, keyed by
// a fixed sentinel key so the same content-addressing/versioning
// machinery as every other segment applies.
type Writer struct {
	backend Backend
	inner   blockfile.Writer
	rootID  uuid.UUID
}

// NewWriter loads backend from the previous generation's blob (if any)
// via prevReader, then returns a Writer ready to ApplyLog.
func NewWriter(ctx context.Context, bm *blockstore.BlockManager, prefixPath string, rootID uuid.UUID, index *sparseindex.SparseIndex, backend Backend, prevReader *blockfile.Reader, maxBlockSize uint64) (*Writer, error) {
	if prevReader != nil {
		data, ok, err := prevReader.Get(ctx, prefixVector, compositekey.StringKey("blob"))
		if err != nil {
			return nil, err
		}
		if ok {
			if err := backend.Deserialize(data); err != nil {
				return nil, hdberr.Wrap(hdberr.Internal, "vector segment: deserializing backend", err)
			}
		}
	}
	return &Writer{
		backend: backend,
		inner:   blockfile.NewUnorderedWriter(bm, rootID, prefixPath, compositekey.KindString, maxBlockSize, index),
		rootID:  rootID,
	}, nil
}

// ApplyLog upserts AddNew/UpdateExisting/OverwriteExisting records and
// removes DeleteExisting ones. It is idempotent on Initial/AddNew
// replays per spec.md section 4.9, since Backend.Upsert overwrites
// whatever entry previously existed at that offset.
func (w *Writer) ApplyLog(records []model.MaterializedLogRecord) error {
	for _, rec := range records {
		switch rec.FinalOperation {
		case model.AddNew, model.UpdateExisting, model.OverwriteExisting:
			if rec.Embedding == nil {
				continue // metadata-only update, no vector change
			}
			if err := w.backend.Upsert(rec.OffsetID, rec.Embedding); err != nil {
				return hdberr.Wrap(hdberr.Internal, "vector segment: upsert", err)
			}
		case model.DeleteExisting:
			if err := w.backend.Remove(rec.OffsetID); err != nil {
				return hdberr.Wrap(hdberr.Internal, "vector segment: remove", err)
			}
		case model.Initial:
		default:
			return hdberr.Newf(hdberr.InvalidArgument, "vector segment: unhandled final operation %s", rec.FinalOperation)
		}
	}
	return nil
}

// Commit serializes the backend into the single-row blockfile and
// finalizes it.
func (w *Writer) Commit(ctx context.Context) (*Flusher, error) {
	data, err := w.backend.Serialize()
	if err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "vector segment: serializing backend", err)
	}
	if err := w.inner.Set(prefixVector, compositekey.StringKey("blob"), data); err != nil {
		return nil, err
	}
	f, err := w.inner.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return &Flusher{inner: f}, nil
}

// Flusher uploads the serialized backend blob and root.
type Flusher struct {
	inner *blockfile.Flusher
}

func (f *Flusher) Index() *sparseindex.SparseIndex { return f.inner.Index() }

func (f *Flusher) Flush(ctx context.Context, rm *blockstore.RootManager, numConcurrentFlushes int) (*blockfile.FlushResult, error) {
	return f.inner.Flush(ctx, rm, numConcurrentFlushes)
}
