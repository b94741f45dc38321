package blockstore

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/stretchr/testify/require"
)

func sampleBlock(t *testing.T) *block.Block {
	t.Helper()
	id := uuid.New()
	delta := block.NewDelta(id, compositekey.KindString)
	delta.Add("p", compositekey.StringKey("a"), []byte("1"))
	delta.Add("p", compositekey.StringKey("b"), []byte("2"))
	rec, err := delta.Finish()
	require.NoError(t, err)
	b, err := block.FromRecordBatch(id, compositekey.KindString, rec)
	require.NoError(t, err)
	return b
}

func TestBlockManagerFlushThenGet(t *testing.T) {
	store := objstore.NewMemory()
	bm, err := NewBlockManager(store, "", 0)
	require.NoError(t, err)

	b := sampleBlock(t)
	require.NoError(t, bm.Flush(context.Background(), "tenant", b))

	got, err := bm.Get(context.Background(), "tenant", b.ID(), compositekey.KindString, objstore.P0)
	require.NoError(t, err)
	require.Equal(t, b.NumRows(), got.NumRows())
	require.Equal(t, b.Setsum(), got.Setsum())
}

func TestBlockManagerCoalescesColdFetches(t *testing.T) {
	store := objstore.NewMemory()
	bm, err := NewBlockManager(store, "", 0)
	require.NoError(t, err)

	b := sampleBlock(t)
	require.NoError(t, bm.Flush(context.Background(), "tenant", b))

	var fetches int32
	bm.OnColdFetch(func() { atomic.AddInt32(&fetches, 1) })

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_, err := bm.Get(context.Background(), "tenant", b.ID(), compositekey.KindString, objstore.P0)
			require.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	require.LessOrEqual(t, atomic.LoadInt32(&fetches), int32(2), "concurrent misses for the same id must coalesce")
}

func TestBlockManagerCommitIsNotYetDurable(t *testing.T) {
	store := objstore.NewMemory()
	bm, err := NewBlockManager(store, "", 0)
	require.NoError(t, err)

	id := uuid.New()
	delta := block.NewDelta(id, compositekey.KindString)
	delta.Add("p", compositekey.StringKey("a"), []byte("1"))
	committed, err := bm.Commit("tenant", delta, compositekey.KindString)
	require.NoError(t, err)

	ok, err := store.Exists(context.Background(), "tenant/block/"+committed.ID().String())
	require.NoError(t, err)
	require.False(t, ok, "commit must not itself write to the object store")

	require.NoError(t, bm.Flush(context.Background(), "tenant", committed))
	ok, err = store.Exists(context.Background(), "tenant/block/"+committed.ID().String())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBlockManagerFork(t *testing.T) {
	store := objstore.NewMemory()
	bm, err := NewBlockManager(store, "", 0)
	require.NoError(t, err)

	b := sampleBlock(t)
	require.NoError(t, bm.Flush(context.Background(), "", b))

	delta, err := bm.Fork(context.Background(), "", b.ID(), compositekey.KindString)
	require.NoError(t, err)
	require.Equal(t, b.NumRows(), delta.Len())
	require.NotEqual(t, b.ID(), delta.ID())
}
