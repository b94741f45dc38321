// Package sparsevec implements C10: the sparse-vector posting index and
// its block-max WAND search (spec.md section 4.10). It generalizes the
// teacher's inverted-index-free design by layering a dimension-scoped
// inverted posting list (metadata_key, dimension) -> (offset_id ->
// weight) on top of an Unordered blockfile, the same posting-list shape
// the metadata segment uses for its typed and trigram indices.
package sparsevec

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/blockfile"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/sparseindex"
)

// dimPrefix scopes the blockfile's prefix dimension to one (metadata
// key, dimension) pair, with the dimension hex-encoded big-endian so
// that lexicographic prefix order matches numeric dimension order
// (spec.md section 4.10: "encode the dimension id as a big-endian u32
// key").
func dimPrefix(metadataKey string, dim uint32) string {
	return fmt.Sprintf("%s\x00%08x", metadataKey, dim)
}

func encodeWeight(w float32) []byte {
	bits := math.Float32bits(w)
	return []byte{byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)}
}

func decodeWeight(b []byte) float32 {
	bits := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return math.Float32frombits(bits)
}

// Writer maintains the posting blockfile: prefix=dimPrefix(key,dim),
// key=offset_id, value=encoded weight.
type Writer struct {
	bm       *blockstore.BlockManager
	rootID   uuid.UUID
	postings blockfile.Writer
}

// NewWriter builds a writer over a fresh or forked sparse index.
func NewWriter(bm *blockstore.BlockManager, rootID uuid.UUID, prefixPath string, maxBlockSize uint64, index *sparseindex.SparseIndex) *Writer {
	return &Writer{
		bm:       bm,
		rootID:   rootID,
		postings: blockfile.NewUnorderedWriter(bm, rootID, prefixPath, compositekey.KindUint32, maxBlockSize, index),
	}
}

// ReplaceVector removes postings for dims present in old but absent
// from updated, and sets postings for every dim in updated — the
// wholesale-replace semantics a sparse metadata value gets on
// Add/Update/Upsert (spec.md section 4.7: sparse values aren't merged
// per-dimension).
func (w *Writer) ReplaceVector(metadataKey string, offsetID uint32, old, updated map[uint32]float32) error {
	for dim := range old {
		if _, keep := updated[dim]; !keep {
			if err := w.postings.Delete(dimPrefix(metadataKey, dim), compositekey.Uint32Key(offsetID)); err != nil {
				return err
			}
		}
	}
	for dim, weight := range updated {
		if err := w.postings.Set(dimPrefix(metadataKey, dim), compositekey.Uint32Key(offsetID), encodeWeight(weight)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveVector removes every posting in old (a full delete).
func (w *Writer) RemoveVector(metadataKey string, offsetID uint32, old map[uint32]float32) error {
	for dim := range old {
		if err := w.postings.Delete(dimPrefix(metadataKey, dim), compositekey.Uint32Key(offsetID)); err != nil {
			return err
		}
	}
	return nil
}

// Commit finalizes the posting blockfile.
func (w *Writer) Commit(ctx context.Context) (*Flusher, error) {
	f, err := w.postings.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return &Flusher{rootID: w.rootID, flusher: f}, nil
}

// Flusher uploads the posting blocks and root.
type Flusher struct {
	rootID  uuid.UUID
	flusher *blockfile.Flusher
}

func (f *Flusher) Index() *sparseindex.SparseIndex { return f.flusher.Index() }

func (f *Flusher) Flush(ctx context.Context, rm *blockstore.RootManager, numConcurrentFlushes int) (*blockfile.FlushResult, error) {
	return f.flusher.Flush(ctx, rm, numConcurrentFlushes)
}

// Reader serves WAND search over a flushed posting index. Per-
// dimension max weights are computed lazily on first touch and cached
// for the Reader's lifetime, standing in for the spec's separate
// sparse_max blockfile: since every posting for a dimension lives
// under one shared prefix, the block(s) the index resolves for that
// prefix already give the reader everything a dedicated max index
// would, without the bookkeeping of a second blockfile keyed by block
// sentinel (see DESIGN.md).
type Reader struct {
	bm     *blockstore.BlockManager
	reader *blockfile.Reader
	maxes  map[string]float32
}

// OpenReader loads a previously flushed posting root.
func OpenReader(ctx context.Context, bm *blockstore.BlockManager, rm *blockstore.RootManager, rootID uuid.UUID, prefixPath string) (*Reader, error) {
	r, err := blockfile.OpenReader(ctx, bm, rm, rootID, prefixPath)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	return &Reader{bm: bm, reader: r, maxes: make(map[string]float32)}, nil
}

// NewReader wraps an already-loaded index.
func NewReader(bm *blockstore.BlockManager, prefixPath string, index *sparseindex.SparseIndex) *Reader {
	return &Reader{bm: bm, reader: blockfile.NewReader(bm, prefixPath, compositekey.KindUint32, index), maxes: make(map[string]float32)}
}

func (r *Reader) postingsForDim(ctx context.Context, metadataKey string, dim uint32) ([]block.Row, error) {
	return r.reader.GetPrefix(ctx, dimPrefix(metadataKey, dim))
}

func (r *Reader) maxWeight(ctx context.Context, metadataKey string, dim uint32, rows []block.Row) float32 {
	key := dimPrefix(metadataKey, dim)
	if v, ok := r.maxes[key]; ok {
		return v
	}
	var max float32
	for _, row := range rows {
		if w := decodeWeight(row.Value); w > max {
			max = w
		}
	}
	r.maxes[key] = max
	return max
}

// Hit is one scored result.
type Hit struct {
	OffsetID uint32
	Score    float64
}

type postingList struct {
	dim     uint32
	qWeight float64
	rows    []block.Row
	max     float64
	pos     int
}

func (p *postingList) exhausted() bool { return p.pos >= len(p.rows) }
func (p *postingList) currentDoc() uint32 {
	return p.rows[p.pos].Key.U32
}

// advanceTo moves the list's cursor to the first row with offset id >=
// target, leaving it exhausted if none remains.
func (p *postingList) advanceTo(target uint32) {
	p.pos += sort.Search(len(p.rows)-p.pos, func(i int) bool {
		return p.rows[p.pos+i].Key.U32 >= target
	})
}

// Search runs block-max WAND over the posting lists of every queried
// dimension, returning the exact top-k by inner product, scores summed
// in ascending-dimension-id order for a fixed canonical rounding (spec.md
// section 4.10, testable property #8).
func (r *Reader) Search(ctx context.Context, metadataKey string, query map[uint32]float32, topK int) ([]Hit, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}
	dims := make([]uint32, 0, len(query))
	for dim := range query {
		dims = append(dims, dim)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })

	lists := make([]*postingList, 0, len(dims))
	for _, dim := range dims {
		rows, err := r.postingsForDim(ctx, metadataKey, dim)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Key.U32 < rows[j].Key.U32 })
		max := r.maxWeight(ctx, metadataKey, dim, rows)
		lists = append(lists, &postingList{
			dim:     dim,
			qWeight: float64(query[dim]),
			rows:    rows,
			max:     float64(max) * float64(query[dim]),
		})
	}
	if len(lists) == 0 {
		return nil, nil
	}

	top := newTopKHeap(topK)
	for {
		sort.Slice(lists, func(i, j int) bool {
			di, dj := docOrMax(lists[i]), docOrMax(lists[j])
			if di != dj {
				return di < dj
			}
			return lists[i].dim < lists[j].dim
		})
		// drop exhausted lists from the back
		for len(lists) > 0 && lists[len(lists)-1].exhausted() {
			lists = lists[:len(lists)-1]
		}
		if len(lists) == 0 {
			break
		}

		threshold := top.threshold()
		var upper float64
		pivot := -1
		for i, l := range lists {
			upper += l.max
			if upper > threshold {
				pivot = i
				break
			}
		}
		if pivot == -1 {
			break // no remaining candidate can beat the current threshold
		}

		pivotDoc := lists[pivot].currentDoc()
		if lists[0].currentDoc() == pivotDoc {
			var score float64
			for _, l := range lists {
				if l.exhausted() || l.currentDoc() != pivotDoc {
					continue
				}
				score += float64(decodeWeight(l.rows[l.pos].Value)) * l.qWeight
				l.pos++
			}
			top.push(Hit{OffsetID: pivotDoc, Score: score})
		} else {
			// advance the list just before the pivot to the pivot's doc id
			lists[0].advanceTo(pivotDoc)
		}
	}

	return top.sorted(), nil
}

func docOrMax(p *postingList) uint64 {
	if p.exhausted() {
		return math.MaxUint64
	}
	return uint64(p.currentDoc())
}

// BruteForce computes the exact inner product for every offset id that
// has at least one queried dimension, for testing Search against an
// independent implementation (testable property #8).
func (r *Reader) BruteForce(ctx context.Context, metadataKey string, query map[uint32]float32) (map[uint32]float64, error) {
	dims := make([]uint32, 0, len(query))
	for dim := range query {
		dims = append(dims, dim)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })

	scores := make(map[uint32]float64)
	for _, dim := range dims {
		rows, err := r.postingsForDim(ctx, metadataKey, dim)
		if err != nil {
			return nil, err
		}
		qw := float64(query[dim])
		for _, row := range rows {
			scores[row.Key.U32] += float64(decodeWeight(row.Value)) * qw
		}
	}
	return scores, nil
}
