// Package compaction implements C9 (spec.md section 4.8): the
// orchestrator that pipelines one log window through the three
// segment writers and reports the new collection state. It
// generalizes the teacher's lsm.Memtable.Flush (one writer, one
// output SSTable) into a fan-out over three independent segments that
// apply and flush in parallel (commits run one segment after another)
// but share one materialized log chunk.
package compaction

import (
	"context"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockfile"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/materialize"
	"github.com/hunddb/hunddb-core/model"
	"github.com/hunddb/hunddb-core/segment/metadata"
	"github.com/hunddb/hunddb-core/segment/record"
	"github.com/hunddb/hunddb-core/segment/vector"
	"github.com/hunddb/hunddb-core/sparseindex"
	"golang.org/x/sync/errgroup"
)

// ParentState is the previous compaction's generation, carried forward
// so this window's writers fork from it instead of starting empty.
// A nil ParentState means a full rebuild (spec.md section 4.8).
type ParentState struct {
	RecordUserRoot, RecordOffsetRoot uuid.UUID
	MetadataRoots                   metadata.Roots
	VectorRoot                      uuid.UUID
	VectorBackend                   vector.Backend
	Schema                          model.Schema
	LogicalSize                     int64
}

// NewRoots is the fresh set of root ids the caller has minted for this
// window's output generation, one per underlying blockfile.
type NewRoots struct {
	RecordUserRoot, RecordOffsetRoot uuid.UUID
	MetadataRoots                   metadata.Roots
	VectorRoot                      uuid.UUID
}

// Input is one compaction window's request.
type Input struct {
	PrefixPath            string
	MaxBlockSize          uint64
	NumConcurrentFlushes  int
	Chunk                 []model.LogRecord
	Parent                *ParentState
	New                   NewRoots
	VectorBackend         vector.Backend // fresh backend for a rebuild; ignored if Parent != nil
}

// Result is what the orchestrator reports once every segment has
// flushed (spec.md section 4.8).
type Result struct {
	TotalRecords  int
	LogicalSize   int64
	Schema        model.Schema
	Postings      []materialize.PostingDelta
	Record        *record.Result
	Metadata      *metadata.Result
	Vector        *blockfile.FlushResult
	NextState     *ParentState
}

// Orchestrator wires the BlockManager and RootManager a compaction
// needs and serializes per-index flushes via a shared PartitionedMutex
// (spec.md section 5: AsyncPartitionedMutex keyed on IndexUuid).
type Orchestrator struct {
	bm    *blockstore.BlockManager
	rm    *blockstore.RootManager
	mutex *blockfile.PartitionedMutex
}

func New(bm *blockstore.BlockManager, rm *blockstore.RootManager, mutex *blockfile.PartitionedMutex) *Orchestrator {
	return &Orchestrator{bm: bm, rm: rm, mutex: mutex}
}

type forkedIndices struct {
	recordUser, recordOffset *sparseindex.SparseIndex
	meta                     metadata.Indices
	vector                   *sparseindex.SparseIndex
}

// openParent loads the previous generation's readers and forks its
// indices onto the new roots. Returns zero values when parent is nil
// (a full rebuild starts every index fresh).
func (o *Orchestrator) openParent(ctx context.Context, in Input) (*record.Reader, metadata.Readers, *blockfile.Reader, forkedIndices, error) {
	var idx forkedIndices
	if in.Parent == nil {
		idx.recordUser = sparseindex.New(in.New.RecordUserRoot)
		idx.recordOffset = sparseindex.New(in.New.RecordOffsetRoot)
		idx.meta = metadata.Indices{
			Bool:    sparseindex.New(in.New.MetadataRoots.Bool),
			Int:     sparseindex.New(in.New.MetadataRoots.Int),
			Float:   sparseindex.New(in.New.MetadataRoots.Float),
			String:  sparseindex.New(in.New.MetadataRoots.String),
			Trigram: sparseindex.New(in.New.MetadataRoots.Trigram),
			Sparse:  sparseindex.New(in.New.MetadataRoots.Sparse),
		}
		idx.vector = sparseindex.New(in.New.VectorRoot)
		return nil, metadata.Readers{}, nil, idx, nil
	}

	recordReader, err := record.OpenReader(ctx, o.bm, o.rm, in.Parent.RecordUserRoot, in.Parent.RecordOffsetRoot, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}

	userPrev, err := blockfile.OpenReader(ctx, o.bm, o.rm, in.Parent.RecordUserRoot, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}
	offsetPrev, err := blockfile.OpenReader(ctx, o.bm, o.rm, in.Parent.RecordOffsetRoot, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}
	idx.recordUser = userPrev.Index().Fork(in.New.RecordUserRoot)
	idx.recordOffset = offsetPrev.Index().Fork(in.New.RecordOffsetRoot)

	var metaReaders metadata.Readers
	metaReaders.Bool, idx.meta.Bool, err = forkTypedIndex(ctx, o.bm, o.rm, in.Parent.MetadataRoots.Bool, in.New.MetadataRoots.Bool, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}
	metaReaders.Int, idx.meta.Int, err = forkTypedIndex(ctx, o.bm, o.rm, in.Parent.MetadataRoots.Int, in.New.MetadataRoots.Int, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}
	metaReaders.Float, idx.meta.Float, err = forkTypedIndex(ctx, o.bm, o.rm, in.Parent.MetadataRoots.Float, in.New.MetadataRoots.Float, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}
	metaReaders.String, idx.meta.String, err = forkTypedIndex(ctx, o.bm, o.rm, in.Parent.MetadataRoots.String, in.New.MetadataRoots.String, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}
	metaReaders.Trigram, idx.meta.Trigram, err = forkTypedIndex(ctx, o.bm, o.rm, in.Parent.MetadataRoots.Trigram, in.New.MetadataRoots.Trigram, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}
	_, idx.meta.Sparse, err = forkTypedIndex(ctx, o.bm, o.rm, in.Parent.MetadataRoots.Sparse, in.New.MetadataRoots.Sparse, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}

	vectorPrev, err := blockfile.OpenReader(ctx, o.bm, o.rm, in.Parent.VectorRoot, in.PrefixPath)
	if err != nil {
		return nil, metadata.Readers{}, nil, idx, err
	}
	if vectorPrev != nil {
		idx.vector = vectorPrev.Index().Fork(in.New.VectorRoot)
	} else {
		idx.vector = sparseindex.New(in.New.VectorRoot)
	}

	return recordReader, metaReaders, vectorPrev, idx, nil
}

// forkTypedIndex opens one metadata sub-blockfile's previous root (if
// any) and forks its index onto newRoot; a never-written index (no
// rows of that type yet) forks from a fresh empty index instead.
func forkTypedIndex(ctx context.Context, bm *blockstore.BlockManager, rm *blockstore.RootManager, prevRoot, newRoot uuid.UUID, prefixPath string) (*blockfile.Reader, *sparseindex.SparseIndex, error) {
	reader, err := blockfile.OpenReader(ctx, bm, rm, prevRoot, prefixPath)
	if err != nil {
		return nil, nil, err
	}
	if reader == nil {
		return nil, sparseindex.New(newRoot), nil
	}
	return reader, reader.Index().Fork(newRoot), nil
}

// Compact runs one log window through MaterializeLog and the three
// segment writers' ApplyLog/Commit/Flush stages, per spec.md section
// 4.8's pipeline. Cross-segment ApplyLog and Flush each run in
// parallel and the first error is returned. A failed Flush cancels the
// errgroup context its peer flushes run under (the cancellation token
// of spec.md section 5); ApplyLog takes no context, so a failed
// ApplyLog does not stop its peers, which run to completion.
// Already-written blocks are left as garbage for the GC fork-tree
// sweep to reclaim.
func (o *Orchestrator) Compact(ctx context.Context, in Input) (*Result, error) {
	backend := in.VectorBackend
	if in.Parent != nil {
		backend = in.Parent.VectorBackend
	}
	if backend == nil {
		return nil, hdberr.New(hdberr.InvalidArgument, "compaction: vector backend required")
	}

	recordReader, metaReaders, vectorPrevReader, idx, err := o.openParent(ctx, in)
	if err != nil {
		return nil, err
	}

	var matSource materialize.RecordSegmentReader
	if recordReader != nil {
		matSource = recordReader
	}
	matResult, err := materialize.Materialize(ctx, matSource, in.Chunk)
	if err != nil {
		return nil, err
	}

	recordWriter := record.NewWriter(o.bm, in.PrefixPath, in.New.RecordUserRoot, in.New.RecordOffsetRoot, idx.recordUser, idx.recordOffset, in.MaxBlockSize)
	metaWriter := metadata.NewWriter(o.bm, in.PrefixPath, in.New.MetadataRoots, idx.meta, metaReaders, in.MaxBlockSize)
	vectorWriter, err := vector.NewWriter(ctx, o.bm, in.PrefixPath, in.New.VectorRoot, idx.vector, backend, vectorPrevReader, in.MaxBlockSize)
	if err != nil {
		return nil, err
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return recordWriter.ApplyLog(matResult.Records) })
	g.Go(func() error { return metaWriter.ApplyLog(matResult.Records) })
	g.Go(func() error { return vectorWriter.ApplyLog(matResult.Records) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recordFlusher, err := recordWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	metaFlusher, err := metaWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	vectorFlusher, err := vectorWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}

	var recordResult *record.Result
	var metaResult *metadata.Result
	var vectorResult *blockfile.FlushResult

	fg, fctx := errgroup.WithContext(ctx)
	fg.Go(func() error {
		return o.mutex.WithLock(in.New.RecordOffsetRoot, func() error {
			res, err := recordFlusher.Flush(fctx, o.rm, in.NumConcurrentFlushes)
			if err != nil {
				return err
			}
			recordResult = res
			return nil
		})
	})
	fg.Go(func() error {
		return o.mutex.WithLock(in.New.MetadataRoots.String, func() error {
			res, err := metaFlusher.Flush(fctx, o.rm, in.NumConcurrentFlushes)
			if err != nil {
				return err
			}
			metaResult = res
			return nil
		})
	})
	fg.Go(func() error {
		return o.mutex.WithLock(in.New.VectorRoot, func() error {
			res, err := vectorFlusher.Flush(fctx, o.rm, in.NumConcurrentFlushes)
			if err != nil {
				return err
			}
			vectorResult = res
			return nil
		})
	})
	if err := fg.Wait(); err != nil {
		return nil, err
	}

	totalRecords, err := recordFlusher.Count(ctx)
	if err != nil {
		return nil, err
	}

	sizeDelta := computeSizeDelta(matResult.Records)
	var newSize int64
	if in.Parent != nil {
		newSize = in.Parent.LogicalSize + sizeDelta
	} else if sizeDelta < 0 {
		return nil, hdberr.Newf(hdberr.FailedPrecondition, "compaction: invariant violation: negative size delta %d with no parent compaction state", sizeDelta)
	} else {
		newSize = sizeDelta
	}

	schema := make(model.Schema)
	if in.Parent != nil {
		schema.Merge(in.Parent.Schema)
	}
	schema.Merge(metaFlusher.Schema())

	next := &ParentState{
		RecordUserRoot:   in.New.RecordUserRoot,
		RecordOffsetRoot: in.New.RecordOffsetRoot,
		MetadataRoots:    in.New.MetadataRoots,
		VectorRoot:       in.New.VectorRoot,
		VectorBackend:    backend,
		Schema:           schema,
		LogicalSize:      newSize,
	}

	return &Result{
		TotalRecords: totalRecords,
		LogicalSize:  newSize,
		Schema:       schema,
		Postings:     matResult.Postings,
		Record:       recordResult,
		Metadata:     metaResult,
		Vector:       vectorResult,
		NextState:    next,
	}, nil
}

// computeSizeDelta approximates the collection's signed logical-size
// change for this window from the materialized records, since the
// segment writers expose block counts but not raw byte sizes. Each
// row's cost is its embedding (4 bytes/dim), document bytes, and, per
// metadata key, the key's length plus 16 bytes (plus 8 bytes per entry
// of a sparse-vector value); this is a deliberate
// simplification documented in DESIGN.md, not a physical byte count.
func computeSizeDelta(records []model.MaterializedLogRecord) int64 {
	var delta int64
	for _, rec := range records {
		switch rec.FinalOperation {
		case model.AddNew:
			delta += rowByteEstimate(rec.Embedding, rec.Document, rec.Metadata)
		case model.DeleteExisting:
			if rec.Existing != nil {
				delta -= rowByteEstimate(rec.Existing.Embedding, rec.Existing.Document, rec.Existing.Metadata)
			}
		case model.UpdateExisting, model.OverwriteExisting:
			delta += rowByteEstimate(rec.Embedding, rec.Document, rec.Metadata)
			if rec.Existing != nil {
				delta -= rowByteEstimate(rec.Existing.Embedding, rec.Existing.Document, rec.Existing.Metadata)
			}
		}
	}
	return delta
}

func rowByteEstimate(embedding []float32, document *string, metadata model.Metadata) int64 {
	size := int64(len(embedding)) * 4
	if document != nil {
		size += int64(len(*document))
	}
	for key, v := range metadata {
		size += int64(len(key)) + 16
		if v.IsSparse() {
			size += int64(len(v.SparseVec)) * 8
		}
	}
	return size
}
