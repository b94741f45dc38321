// Package blockfile implements C6: the Ordered and Unordered
// BlockfileWriter variants, their shared Flusher, and the Reader. It
// generalizes the teacher's lsm/memtable (a single in-memory buffer
// flushed wholesale to an SSTable) into many independently dirty
// BlockDeltas addressed by sparse-index delimiter, each flushed to its
// own content-addressed Block.
package blockfile

import (
	"context"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/sparseindex"
)

// Writer is the contract both variants satisfy (spec.md section 4.6:
// "both expose set, delete, get_owner_block, commit, fork").
type Writer interface {
	Set(prefix string, key compositekey.KeyWrapper, value []byte) error
	Delete(prefix string, key compositekey.KeyWrapper) error
	GetOwnerBlock(prefix string, key compositekey.KeyWrapper) (uuid.UUID, error)
	Commit(ctx context.Context) (*Flusher, error)
}

func firstKeyOf(d *block.Delta) (compositekey.CompositeKey, bool) {
	var ck compositekey.CompositeKey
	found := false
	d.IterInOrder(func(k compositekey.CompositeKey, _ []byte) bool {
		ck = k
		found = true
		return false
	})
	return ck, found
}

// commitDelta splits delta if oversize, commits every resulting slice
// to the BlockManager, and wires the sparse index per spec.md section
// 4.6's split contract: the first slice replaces oldID (or becomes the
// initial block, if the index was empty); later slices are added
// keyed by their own first key. A delta whose rows were all deleted
// replaces oldID with an empty block under oldID's delimiter.
func commitDelta(bm *blockstore.BlockManager, prefixPath string, keyKind compositekey.KeyKind, idx *sparseindex.SparseIndex, oldID uuid.UUID, delta *block.Delta, maxBlockSize uint64) ([]*block.Block, error) {
	if delta.Len() == 0 {
		if oldID == uuid.Nil {
			return nil, nil
		}
		old, err := bm.Fork(context.Background(), prefixPath, oldID, keyKind)
		if err != nil {
			return nil, err
		}
		oldKey, ok := firstKeyOf(old)
		if !ok {
			return nil, nil // oldID was already empty
		}
		b, err := bm.Commit(prefixPath, delta, keyKind)
		if err != nil {
			return nil, err
		}
		return []*block.Block{b}, idx.ReplaceBlock(oldID, b.ID(), oldKey)
	}
	slices := delta.Split(maxBlockSize)
	committed := make([]*block.Block, 0, len(slices))
	for i, slice := range slices {
		b, err := bm.Commit(prefixPath, slice, keyKind)
		if err != nil {
			return nil, err
		}
		committed = append(committed, b)
		if i == 0 {
			if idx.Len() == 0 {
				if err := idx.AddInitialBlock(b.ID()); err != nil {
					return nil, err
				}
			} else {
				startKey := compositekey.New(compositekey.StartPrefix, compositekey.KeyWrapper{})
				if k, ok := firstKeyOf(slice); ok {
					startKey = k
				}
				if oldID == uuid.Nil {
					if err := idx.AddBlock(startKey, b.ID()); err != nil {
						return nil, err
					}
				} else if err := idx.ReplaceBlock(oldID, b.ID(), startKey); err != nil {
					return nil, err
				}
			}
			continue
		}
		startKey, ok := firstKeyOf(slice)
		if !ok {
			return nil, hdberr.New(hdberr.Internal, "blockfile: split produced an empty slice")
		}
		if err := idx.AddBlock(startKey, b.ID()); err != nil {
			return nil, err
		}
	}
	return committed, nil
}
