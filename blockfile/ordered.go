package blockfile

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/sparseindex"
)

// OrderedWriter requires set(prefix,key,value) for each (prefix,key)
// at most once per commit, called in ascending order (spec.md section
// 4.6). Optimized for streaming compaction: the pending delta flushes
// to a block as soon as it exceeds max_block_size, rather than waiting
// for commit.
type OrderedWriter struct {
	mu sync.Mutex

	bm           *blockstore.BlockManager
	rootID       uuid.UUID
	prefixPath   string
	keyKind      compositekey.KeyKind
	maxBlockSize uint64

	index *sparseindex.SparseIndex
	cur   *block.Delta

	haveLast      bool
	last          compositekey.CompositeKey
	seenSinceLast map[compositekey.CompositeKey]struct{}

	flushed []*block.Block
}

// NewOrderedWriter creates a writer over a fresh or forked sparse
// index.
func NewOrderedWriter(bm *blockstore.BlockManager, rootID uuid.UUID, prefixPath string, keyKind compositekey.KeyKind, maxBlockSize uint64, index *sparseindex.SparseIndex) *OrderedWriter {
	return &OrderedWriter{
		bm:            bm,
		rootID:        rootID,
		prefixPath:    prefixPath,
		keyKind:       keyKind,
		maxBlockSize:  maxBlockSize,
		index:         index,
		cur:           block.NewDelta(uuid.New(), keyKind),
		seenSinceLast: make(map[compositekey.CompositeKey]struct{}),
	}
}

func (w *OrderedWriter) checkOrderAndDup(ck compositekey.CompositeKey) error {
	if _, dup := w.seenSinceLast[ck]; dup {
		return hdberr.Newf(hdberr.FailedPrecondition, "blockfile: ordered writer saw (%s) twice before a commit", ck)
	}
	if w.haveLast && ck.Less(w.last) {
		return hdberr.Newf(hdberr.FailedPrecondition, "blockfile: ordered writer received (%s) out of ascending order", ck)
	}
	w.seenSinceLast[ck] = struct{}{}
	w.haveLast = true
	w.last = ck
	return nil
}

// Set overwrites (prefix,key) with value.
func (w *OrderedWriter) Set(prefix string, key compositekey.KeyWrapper, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ck := compositekey.New(prefix, key)
	if err := w.checkOrderAndDup(ck); err != nil {
		return err
	}
	w.cur.Add(prefix, key, value)
	return w.maybeFlushLocked()
}

// Delete removes (prefix,key).
func (w *OrderedWriter) Delete(prefix string, key compositekey.KeyWrapper) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ck := compositekey.New(prefix, key)
	if err := w.checkOrderAndDup(ck); err != nil {
		return err
	}
	w.cur.Delete(prefix, key)
	return w.maybeFlushLocked()
}

func (w *OrderedWriter) maybeFlushLocked() error {
	if w.cur.EstimatedSize() <= w.maxBlockSize {
		return nil
	}
	oldID := uuid.Nil
	committed, err := commitDelta(w.bm, w.prefixPath, w.keyKind, w.index, oldID, w.cur, w.maxBlockSize)
	if err != nil {
		return err
	}
	w.flushed = append(w.flushed, committed...)
	w.cur = block.NewDelta(uuid.New(), w.keyKind)
	return nil
}

func (w *OrderedWriter) GetOwnerBlock(prefix string, key compositekey.KeyWrapper) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index.GetTargetBlockID(compositekey.New(prefix, key))
}

// Commit finishes the remaining in-flight delta (if any), producing a
// Flusher over every block committed since construction.
func (w *OrderedWriter) Commit(ctx context.Context) (*Flusher, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	committed, err := commitDelta(w.bm, w.prefixPath, w.keyKind, w.index, uuid.Nil, w.cur, w.maxBlockSize)
	if err != nil {
		return nil, err
	}
	w.flushed = append(w.flushed, committed...)
	w.cur = block.NewDelta(uuid.New(), w.keyKind)
	w.seenSinceLast = make(map[compositekey.CompositeKey]struct{})

	return newFlusher(w.bm, w.rootID, w.prefixPath, w.keyKind, w.maxBlockSize, w.index, w.flushed), nil
}
