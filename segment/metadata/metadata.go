// Package metadata implements the metadata segment of C8 (spec.md
// section 4.9): per-type inverted indices, a trigram full-text index,
// sparse-vector postings (delegated to sparsevec), and the schema
// delta the compaction orchestrator merges into the collection schema.
// It generalizes the teacher's single-type memtable index into four
// parallel typed indices plus a content index, following the same
// Unordered-blockfile-per-index shape as the record segment.
package metadata

import (
	"context"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockfile"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/model"
	"github.com/hunddb/hunddb-core/sparseindex"
	"github.com/hunddb/hunddb-core/sparsevec"
)

// Roots bundles the sparse-index root ids for every index the segment
// maintains, so the orchestrator only has to carry one value around.
type Roots struct {
	Bool    uuid.UUID
	Int     uuid.UUID
	Float   uuid.UUID
	String  uuid.UUID
	Trigram uuid.UUID
	Sparse  uuid.UUID
}

// Indices bundles the sparse indices for every Roots entry, for both
// construction and the eventual flushed state.
type Indices struct {
	Bool    *sparseindex.SparseIndex
	Int     *sparseindex.SparseIndex
	Float   *sparseindex.SparseIndex
	String  *sparseindex.SparseIndex
	Trigram *sparseindex.SparseIndex
	Sparse  *sparseindex.SparseIndex
}

// Readers bundles the previous-generation readers a Writer diffs
// against; nil for a full rebuild.
type Readers struct {
	Bool    *blockfile.Reader
	Int     *blockfile.Reader
	Float   *blockfile.Reader
	String  *blockfile.Reader
	Trigram *blockfile.Reader
}

type postingKey struct {
	prefix string
	key    compositekey.KeyWrapper
}

// Writer applies materialized log records to the metadata segment.
type Writer struct {
	bm         *blockstore.BlockManager
	prefixPath string

	boolWriter   blockfile.Writer
	intWriter    blockfile.Writer
	floatWriter  blockfile.Writer
	stringWriter blockfile.Writer
	trigramWriter blockfile.Writer
	sparse       *sparsevec.Writer

	prev Readers

	boolAdds, boolRemoves     map[postingKey]map[uint32]struct{}
	intAdds, intRemoves       map[postingKey]map[uint32]struct{}
	floatAdds, floatRemoves   map[postingKey]map[uint32]struct{}
	stringAdds, stringRemoves map[postingKey]map[uint32]struct{}
	trigramAdds, trigramRemoves map[postingKey]map[uint32]struct{}

	roots Roots

	schema model.Schema
}

func newPostingMaps() map[postingKey]map[uint32]struct{} { return make(map[postingKey]map[uint32]struct{}) }

// NewWriter builds a writer over the (possibly forked) indices; prev
// carries the previous generation's readers for diffing (nil fields for
// a full rebuild).
func NewWriter(bm *blockstore.BlockManager, prefixPath string, roots Roots, idx Indices, prev Readers, maxBlockSize uint64) *Writer {
	return &Writer{
		bm:            bm,
		prefixPath:    prefixPath,
		boolWriter:    blockfile.NewUnorderedWriter(bm, roots.Bool, prefixPath, compositekey.KindBool, maxBlockSize, idx.Bool),
		intWriter:     blockfile.NewUnorderedWriter(bm, roots.Int, prefixPath, compositekey.KindUint32, maxBlockSize, idx.Int),
		floatWriter:   blockfile.NewUnorderedWriter(bm, roots.Float, prefixPath, compositekey.KindFloat32, maxBlockSize, idx.Float),
		stringWriter:  blockfile.NewUnorderedWriter(bm, roots.String, prefixPath, compositekey.KindString, maxBlockSize, idx.String),
		trigramWriter: blockfile.NewUnorderedWriter(bm, roots.Trigram, prefixPath, compositekey.KindString, maxBlockSize, idx.Trigram),
		sparse:        sparsevec.NewWriter(bm, roots.Sparse, prefixPath, maxBlockSize, idx.Sparse),
		prev:          prev,
		boolAdds:      newPostingMaps(), boolRemoves: newPostingMaps(),
		intAdds: newPostingMaps(), intRemoves: newPostingMaps(),
		floatAdds: newPostingMaps(), floatRemoves: newPostingMaps(),
		stringAdds: newPostingMaps(), stringRemoves: newPostingMaps(),
		trigramAdds: newPostingMaps(), trigramRemoves: newPostingMaps(),
		roots:  roots,
		schema: make(model.Schema),
	}
}

func mark(m map[postingKey]map[uint32]struct{}, pk postingKey, offsetID uint32) {
	set, ok := m[pk]
	if !ok {
		set = make(map[uint32]struct{})
		m[pk] = set
	}
	set[offsetID] = struct{}{}
}

// ApplyLog diffs each record's old metadata (from its Existing row, if
// any) against its final metadata and document, updating every
// affected index.
func (w *Writer) ApplyLog(records []model.MaterializedLogRecord) error {
	for _, rec := range records {
		var oldMeta model.Metadata
		var oldDoc *string
		if rec.Existing != nil {
			oldMeta = rec.Existing.Metadata
			oldDoc = rec.Existing.Document
		}

		switch rec.FinalOperation {
		case model.AddNew, model.UpdateExisting, model.OverwriteExisting:
			if err := w.diffMetadata(rec.OffsetID, oldMeta, rec.Metadata); err != nil {
				return err
			}
			w.diffDocument(rec.OffsetID, oldDoc, rec.Document)
		case model.DeleteExisting:
			if err := w.diffMetadata(rec.OffsetID, oldMeta, nil); err != nil {
				return err
			}
			w.diffDocument(rec.OffsetID, oldDoc, nil)
		case model.Initial:
			// dropped update-on-nonexistent: nothing to index.
		default:
			return hdberr.Newf(hdberr.InvalidArgument, "metadata segment: unhandled final operation %s", rec.FinalOperation)
		}
	}
	return nil
}

func (w *Writer) diffMetadata(offsetID uint32, old, updated model.Metadata) error {
	touched := make(map[string]struct{}, len(old)+len(updated))
	for k := range old {
		touched[k] = struct{}{}
	}
	for k := range updated {
		touched[k] = struct{}{}
	}
	for key := range touched {
		oldVal, hadOld := old[key]
		newVal, hasNew := updated[key]

		oldSparse := hadOld && oldVal.IsSparse()
		newSparse := hasNew && newVal.IsSparse()
		if oldSparse || newSparse {
			var oldVec, newVec map[uint32]float32
			if oldSparse {
				oldVec = oldVal.SparseVec
			}
			if newSparse {
				newVec = newVal.SparseVec
			}
			if err := w.sparse.ReplaceVector(key, offsetID, oldVec, newVec); err != nil {
				return err
			}
		}
		if hadOld && !oldSparse {
			w.removeTyped(key, oldVal, offsetID)
		}
		if hasNew && !newSparse {
			w.setTyped(key, newVal, offsetID)
			w.schema.Observe(key, newVal)
		}
		if hasNew && newSparse {
			w.schema.Observe(key, newVal)
		}
	}
	return nil
}

func (w *Writer) removeTyped(key string, v model.MetadataValue, offsetID uint32) {
	switch {
	case v.IsBool():
		mark(w.boolRemoves, postingKey{prefix: key, key: compositekey.BoolKey(v.Bool)}, offsetID)
	case v.IsInt():
		mark(w.intRemoves, postingKey{prefix: key, key: compositekey.Uint32Key(uint32(v.Int))}, offsetID)
	case v.IsFloat():
		mark(w.floatRemoves, postingKey{prefix: key, key: compositekey.Float32Key(float32(v.Float))}, offsetID)
	case v.IsString():
		mark(w.stringRemoves, postingKey{prefix: key, key: compositekey.StringKey(v.Str)}, offsetID)
	}
}

func (w *Writer) setTyped(key string, v model.MetadataValue, offsetID uint32) {
	switch {
	case v.IsBool():
		mark(w.boolAdds, postingKey{prefix: key, key: compositekey.BoolKey(v.Bool)}, offsetID)
	case v.IsInt():
		mark(w.intAdds, postingKey{prefix: key, key: compositekey.Uint32Key(uint32(v.Int))}, offsetID)
	case v.IsFloat():
		mark(w.floatAdds, postingKey{prefix: key, key: compositekey.Float32Key(float32(v.Float))}, offsetID)
	case v.IsString():
		mark(w.stringAdds, postingKey{prefix: key, key: compositekey.StringKey(v.Str)}, offsetID)
	}
}

// diffDocument removes trigrams unique to the old document text and
// adds trigrams of the new text.
func (w *Writer) diffDocument(offsetID uint32, old, updated *string) {
	oldSet := trigramSet(old)
	newSet := trigramSet(updated)
	for tri := range oldSet {
		if _, keep := newSet[tri]; !keep {
			mark(w.trigramRemoves, postingKey{prefix: "doc", key: compositekey.StringKey(tri)}, offsetID)
		}
	}
	for tri := range newSet {
		if _, had := oldSet[tri]; !had {
			mark(w.trigramAdds, postingKey{prefix: "doc", key: compositekey.StringKey(tri)}, offsetID)
		}
	}
}

func trigramSet(doc *string) map[string]struct{} {
	if doc == nil {
		return nil
	}
	runes := []rune(normalizeForFTS(*doc))
	if len(runes) < 3 {
		return nil
	}
	out := make(map[string]struct{}, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}

func normalizeForFTS(s string) string {
	out := make([]rune, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

// Schema returns the schema delta observed so far.
func (w *Writer) Schema() model.Schema { return w.schema }

// Commit resolves every pending posting diff against the previous
// generation's value (read lazily) and writes the merged set, then
// finalizes all six underlying blockfiles.
func (w *Writer) Commit(ctx context.Context) (*Flusher, error) {
	if err := flushPostings(ctx, w.boolWriter, w.prev.Bool, "doc-bool", w.boolAdds, w.boolRemoves); err != nil {
		return nil, err
	}
	if err := flushPostings(ctx, w.intWriter, w.prev.Int, "doc-int", w.intAdds, w.intRemoves); err != nil {
		return nil, err
	}
	if err := flushPostings(ctx, w.floatWriter, w.prev.Float, "doc-float", w.floatAdds, w.floatRemoves); err != nil {
		return nil, err
	}
	if err := flushPostings(ctx, w.stringWriter, w.prev.String, "doc-string", w.stringAdds, w.stringRemoves); err != nil {
		return nil, err
	}
	if err := flushPostings(ctx, w.trigramWriter, w.prev.Trigram, "doc-trigram", w.trigramAdds, w.trigramRemoves); err != nil {
		return nil, err
	}

	boolF, err := w.boolWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	intF, err := w.intWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	floatF, err := w.floatWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	stringF, err := w.stringWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	trigramF, err := w.trigramWriter.Commit(ctx)
	if err != nil {
		return nil, err
	}
	sparseF, err := w.sparse.Commit(ctx)
	if err != nil {
		return nil, err
	}

	return &Flusher{
		bool: boolF, int: intF, float: floatF, string: stringF, trigram: trigramF, sparse: sparseF,
		schema: w.schema,
	}, nil
}

// flushPostings applies every touched posting key's add/remove set
// against the previous reader's stored value (if any) and writes the
// final set back; an empty result deletes the row.
func flushPostings(ctx context.Context, w blockfile.Writer, prevReader *blockfile.Reader, label string, adds, removes map[postingKey]map[uint32]struct{}) error {
	touched := make(map[postingKey]struct{}, len(adds)+len(removes))
	for pk := range adds {
		touched[pk] = struct{}{}
	}
	for pk := range removes {
		touched[pk] = struct{}{}
	}
	for pk := range touched {
		var base []uint32
		if prevReader != nil {
			v, ok, err := prevReader.Get(ctx, pk.prefix, pk.key)
			if err != nil {
				return err
			}
			if ok {
				base = decodePosting(v)
			}
		}
		final := applyPostingDiff(base, adds[pk], removes[pk])
		if len(final) == 0 {
			if err := w.Delete(pk.prefix, pk.key); err != nil {
				return err
			}
			continue
		}
		if err := w.Set(pk.prefix, pk.key, encodePosting(final)); err != nil {
			return err
		}
	}
	return nil
}

// Flusher writes every index's new blocks and root, and exposes the
// merged schema delta for the orchestrator.
type Flusher struct {
	bool, int, float, string, trigram *blockfile.Flusher
	sparse                            *sparsevec.Flusher
	schema                            model.Schema
}

func (f *Flusher) Schema() model.Schema { return f.schema }

// Indices returns the new generation's sparse indices, for wiring into
// the next compaction's Readers/Indices.
func (f *Flusher) Indices() Indices {
	return Indices{
		Bool: f.bool.Index(), Int: f.int.Index(), Float: f.float.Index(),
		String: f.string.Index(), Trigram: f.trigram.Index(), Sparse: f.sparse.Index(),
	}
}

// Result bundles every index's flush result.
type Result struct {
	Bool, Int, Float, String, Trigram *blockfile.FlushResult
	Sparse                            *blockfile.FlushResult
}

func (f *Flusher) Flush(ctx context.Context, rm *blockstore.RootManager, numConcurrentFlushes int) (*Result, error) {
	boolR, err := f.bool.Flush(ctx, rm, numConcurrentFlushes)
	if err != nil {
		return nil, err
	}
	intR, err := f.int.Flush(ctx, rm, numConcurrentFlushes)
	if err != nil {
		return nil, err
	}
	floatR, err := f.float.Flush(ctx, rm, numConcurrentFlushes)
	if err != nil {
		return nil, err
	}
	stringR, err := f.string.Flush(ctx, rm, numConcurrentFlushes)
	if err != nil {
		return nil, err
	}
	trigramR, err := f.trigram.Flush(ctx, rm, numConcurrentFlushes)
	if err != nil {
		return nil, err
	}
	sparseR, err := f.sparse.Flush(ctx, rm, numConcurrentFlushes)
	if err != nil {
		return nil, err
	}
	return &Result{Bool: boolR, Int: intR, Float: floatR, String: stringR, Trigram: trigramR, Sparse: sparseR}, nil
}
