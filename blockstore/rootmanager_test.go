package blockstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/sparseindex"
	"github.com/stretchr/testify/require"
)

func sampleRoot(t *testing.T) (*Root, uuid.UUID) {
	t.Helper()
	idxID := uuid.New()
	idx := sparseindex.New(idxID)
	require.NoError(t, idx.AddInitialBlock(uuid.New()))
	return &Root{Index: idx, KeyKind: compositekey.KindString, MaxBlockSize: 1 << 20}, idxID
}

func TestRootManagerFlushThenGet(t *testing.T) {
	store := objstore.NewMemory()
	rm := NewRootManager(store)

	root, idxID := sampleRoot(t)
	id := uuid.New()
	require.NoError(t, rm.Flush(context.Background(), id, "tenant", root))

	got, ok, err := rm.Get(context.Background(), id, "tenant")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, root.MaxBlockSize, got.MaxBlockSize)
	require.Equal(t, root.KeyKind, got.KeyKind)
	require.Equal(t, root.Index.AllBlockIDs(), got.Index.AllBlockIDs())
	_ = idxID
}

func TestRootManagerGetMissing(t *testing.T) {
	store := objstore.NewMemory()
	rm := NewRootManager(store)

	_, ok, err := rm.Get(context.Background(), uuid.New(), "tenant")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRootManagerFork(t *testing.T) {
	store := objstore.NewMemory()
	rm := NewRootManager(store)

	root, _ := sampleRoot(t)
	srcID := uuid.New()
	require.NoError(t, rm.Flush(context.Background(), srcID, "tenant", root))

	newID := uuid.New()
	forked, err := rm.Fork(context.Background(), srcID, newID, "tenant")
	require.NoError(t, err)
	require.Equal(t, newID, forked.Index.ID())
	require.Equal(t, root.Index.AllBlockIDs(), forked.Index.AllBlockIDs())
}

func TestRootManagerShouldPrefetch(t *testing.T) {
	store := objstore.NewMemory()
	rm := NewRootManager(store)

	id := uuid.New()
	require.True(t, rm.ShouldPrefetch(id))
	rm.MarkPrefetched(id)
	require.False(t, rm.ShouldPrefetch(id))
}
