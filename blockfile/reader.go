package blockfile

import (
	"context"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/sparseindex"
)

// Reader serves point and range reads over a flushed root.
type Reader struct {
	bm         *blockstore.BlockManager
	prefixPath string
	keyKind    compositekey.KeyKind
	index      *sparseindex.SparseIndex
}

// OpenReader loads the root at rootID and returns a Reader over it.
func OpenReader(ctx context.Context, bm *blockstore.BlockManager, rm *blockstore.RootManager, rootID uuid.UUID, prefixPath string) (*Reader, error) {
	root, ok, err := rm.Get(ctx, rootID, prefixPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Reader{bm: bm, prefixPath: prefixPath, keyKind: root.KeyKind, index: root.Index}, nil
}

// NewReader wraps an already-loaded index, for callers (the
// compaction orchestrator, segment writers) that keep the Flusher's
// index around without a round trip through the RootManager.
func NewReader(bm *blockstore.BlockManager, prefixPath string, keyKind compositekey.KeyKind, index *sparseindex.SparseIndex) *Reader {
	return &Reader{bm: bm, prefixPath: prefixPath, keyKind: keyKind, index: index}
}

func (r *Reader) block(ctx context.Context, id uuid.UUID) (*block.Block, error) {
	return r.bm.Get(ctx, r.prefixPath, id, r.keyKind, objstore.P1)
}

// Get returns the value at (prefix,key), if present. An empty index
// (nothing of this key kind has ever been written) is a plain miss,
// not an error.
func (r *Reader) Get(ctx context.Context, prefix string, key compositekey.KeyWrapper) ([]byte, bool, error) {
	if r.index.Len() == 0 {
		return nil, false, nil
	}
	id, err := r.index.GetTargetBlockID(compositekey.New(prefix, key))
	if err != nil {
		return nil, false, err
	}
	b, err := r.block(ctx, id)
	if err != nil {
		return nil, false, err
	}
	v, ok := b.Get(prefix, key)
	return v, ok, nil
}

// Count returns the total number of rows across every block reachable
// from the index, used by the record segment's live-row count.
func (r *Reader) Count(ctx context.Context) (int, error) {
	total := 0
	for _, id := range r.index.AllBlockIDs() {
		b, err := r.block(ctx, id)
		if err != nil {
			return 0, err
		}
		total += b.NumRows()
	}
	return total, nil
}

// GetGTE returns every live row with CompositeKey >= (prefix,key), in
// ascending order, by scanning every block the index says may hold
// one.
func (r *Reader) GetGTE(ctx context.Context, prefix string, key compositekey.KeyWrapper) ([]block.Row, error) {
	var out []block.Row
	for _, id := range r.index.GetBlockIDsGTE(compositekey.New(prefix, key)) {
		b, err := r.block(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, b.GetGTE(prefix, key)...)
	}
	return out, nil
}

// GetPrefix returns every row with the given prefix.
func (r *Reader) GetPrefix(ctx context.Context, prefix string) ([]block.Row, error) {
	var out []block.Row
	for _, id := range r.index.GetBlockIDsForPrefix(prefix) {
		b, err := r.block(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, b.GetPrefix(prefix)...)
	}
	return out, nil
}

// Index exposes the underlying sparse index for callers (the
// unordered writer's bootstrap, fork) that need to build a writer over
// the same root.
func (r *Reader) Index() *sparseindex.SparseIndex { return r.index }

// KeyKind returns the key kind of the underlying blocks.
func (r *Reader) KeyKind() compositekey.KeyKind { return r.keyKind }
