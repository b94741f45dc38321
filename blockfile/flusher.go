package blockfile

import (
	"context"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/sparseindex"
	"golang.org/x/sync/errgroup"
)

// Flusher is returned by Commit; it writes every new block and the new
// root, bounded by num_concurrent_block_flushes (spec.md section 4.6).
type Flusher struct {
	bm           *blockstore.BlockManager
	rootID       uuid.UUID
	prefixPath   string
	keyKind      compositekey.KeyKind
	maxBlockSize uint64
	index        *sparseindex.SparseIndex
	blocks       []*block.Block
}

func newFlusher(bm *blockstore.BlockManager, rootID uuid.UUID, prefixPath string, keyKind compositekey.KeyKind, maxBlockSize uint64, index *sparseindex.SparseIndex, blocks []*block.Block) *Flusher {
	return &Flusher{
		bm:           bm,
		rootID:       rootID,
		prefixPath:   prefixPath,
		keyKind:      keyKind,
		maxBlockSize: maxBlockSize,
		index:        index,
		blocks:       blocks,
	}
}

// Count returns the number of new blocks this Flusher will persist.
func (f *Flusher) Count() int { return len(f.blocks) }

// Index returns the writer's updated sparse index, for callers that
// need it without a round trip through the RootManager (e.g. the
// compaction orchestrator's schema/size bookkeeping).
func (f *Flusher) Index() *sparseindex.SparseIndex { return f.index }

// FlushResult reports what Flush persisted.
type FlushResult struct {
	RootID     uuid.UUID
	BlockPaths []string
}

// Flush uploads every new block (bounded concurrency) then the new
// root. Block puts are content-addressed and therefore safe to retry.
func (f *Flusher) Flush(ctx context.Context, rm *blockstore.RootManager, numConcurrentFlushes int) (*FlushResult, error) {
	if numConcurrentFlushes <= 0 {
		numConcurrentFlushes = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numConcurrentFlushes)

	paths := make([]string, len(f.blocks))
	for i, b := range f.blocks {
		i, b := i, b
		g.Go(func() error {
			if err := f.bm.Flush(gctx, f.prefixPath, b); err != nil {
				return err
			}
			paths[i] = blockstore.FormatBlockKey(f.prefixPath, b.ID())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	root := &blockstore.Root{Index: f.index, KeyKind: f.keyKind, MaxBlockSize: f.maxBlockSize}
	if err := rm.Flush(ctx, f.rootID, f.prefixPath, root); err != nil {
		return nil, err
	}

	return &FlushResult{RootID: f.rootID, BlockPaths: paths}, nil
}
