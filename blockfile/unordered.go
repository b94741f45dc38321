package blockfile

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/sparseindex"
)

// UnorderedWriter allows arbitrary insertion/deletion order and
// multiple mutations per key per commit (spec.md section 4.6). It
// locates the target block via SparseIndex.GetTargetBlockID, hydrates
// it lazily into a BlockDelta via BlockManager.Fork, and accumulates
// mutations there until commit.
type UnorderedWriter struct {
	mu sync.Mutex

	bm           *blockstore.BlockManager
	rootID       uuid.UUID
	prefixPath   string
	keyKind      compositekey.KeyKind
	maxBlockSize uint64

	index *sparseindex.SparseIndex

	// dirty maps the OLD block id owning a delta to the forked,
	// mutation-accumulating delta. bootstrap holds writes that land
	// before the index has any block at all.
	dirty     map[uuid.UUID]*block.Delta
	bootstrap *block.Delta
}

// NewUnorderedWriter creates a writer over a fresh or forked sparse
// index.
func NewUnorderedWriter(bm *blockstore.BlockManager, rootID uuid.UUID, prefixPath string, keyKind compositekey.KeyKind, maxBlockSize uint64, index *sparseindex.SparseIndex) *UnorderedWriter {
	return &UnorderedWriter{
		bm:           bm,
		rootID:       rootID,
		prefixPath:   prefixPath,
		keyKind:      keyKind,
		maxBlockSize: maxBlockSize,
		index:        index,
		dirty:        make(map[uuid.UUID]*block.Delta),
	}
}

func (w *UnorderedWriter) deltaFor(ctx context.Context, prefix string, key compositekey.KeyWrapper) (*block.Delta, error) {
	if w.index.Len() == 0 {
		if w.bootstrap == nil {
			w.bootstrap = block.NewDelta(uuid.New(), w.keyKind)
		}
		return w.bootstrap, nil
	}
	ownerID, err := w.index.GetTargetBlockID(compositekey.New(prefix, key))
	if err != nil {
		return nil, err
	}
	if d, ok := w.dirty[ownerID]; ok {
		return d, nil
	}
	d, err := w.bm.Fork(ctx, w.prefixPath, ownerID, w.keyKind)
	if err != nil {
		return nil, err
	}
	w.dirty[ownerID] = d
	return d, nil
}

// Set overwrites (prefix,key) with value.
func (w *UnorderedWriter) Set(prefix string, key compositekey.KeyWrapper, value []byte) error {
	return w.mutate(context.Background(), prefix, key, func(d *block.Delta) { d.Add(prefix, key, value) })
}

// Delete removes (prefix,key) from its owner delta.
func (w *UnorderedWriter) Delete(prefix string, key compositekey.KeyWrapper) error {
	return w.mutate(context.Background(), prefix, key, func(d *block.Delta) { d.Delete(prefix, key) })
}

func (w *UnorderedWriter) mutate(ctx context.Context, prefix string, key compositekey.KeyWrapper, apply func(*block.Delta)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, err := w.deltaFor(ctx, prefix, key)
	if err != nil {
		return err
	}
	apply(d)
	return nil
}

func (w *UnorderedWriter) GetOwnerBlock(prefix string, key compositekey.KeyWrapper) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index.GetTargetBlockID(compositekey.New(prefix, key))
}

// Commit splits every dirty delta as needed and updates the sparse
// index per spec.md section 4.6's split contract.
func (w *UnorderedWriter) Commit(ctx context.Context) (*Flusher, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var allCommitted []*block.Block

	if w.bootstrap != nil && w.bootstrap.Len() > 0 {
		committed, err := commitDelta(w.bm, w.prefixPath, w.keyKind, w.index, uuid.Nil, w.bootstrap, w.maxBlockSize)
		if err != nil {
			return nil, err
		}
		allCommitted = append(allCommitted, committed...)
		w.bootstrap = nil
	}

	for oldID, delta := range w.dirty {
		committed, err := commitDelta(w.bm, w.prefixPath, w.keyKind, w.index, oldID, delta, w.maxBlockSize)
		if err != nil {
			return nil, err
		}
		allCommitted = append(allCommitted, committed...)
	}
	w.dirty = make(map[uuid.UUID]*block.Delta)

	return newFlusher(w.bm, w.rootID, w.prefixPath, w.keyKind, w.maxBlockSize, w.index, allCommitted), nil
}
