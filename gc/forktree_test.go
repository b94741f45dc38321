package gc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/model"
	"github.com/stretchr/testify/require"
)

func refs(collID uuid.UUID, version int64, paths ...string) []model.FileRef {
	out := make([]model.FileRef, len(paths))
	for i, p := range paths {
		out[i] = model.FileRef{CollectionID: collID, Version: version, Path: p, Kind: "block"}
	}
	return out
}

func TestGarbageCollectKeepsTopNVersions(t *testing.T) {
	tree := NewForkTree()
	coll := uuid.New()
	require.NoError(t, tree.CreateCollection(coll))
	require.NoError(t, tree.IncrementVersion(coll, 1, refs(coll, 1, "v1.block")))
	require.NoError(t, tree.IncrementVersion(coll, 2, refs(coll, 2, "v2.block")))
	require.NoError(t, tree.IncrementVersion(coll, 3, refs(coll, 3, "v3.block")))

	reclaimed, err := tree.GarbageCollect(2)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, "v1.block", reclaimed[0].Path)
}

func TestGarbageCollectSoftDeletedWithoutAliveDescendantsBecomesDeleted(t *testing.T) {
	tree := NewForkTree()
	coll := uuid.New()
	require.NoError(t, tree.CreateCollection(coll))
	require.NoError(t, tree.IncrementVersion(coll, 1, refs(coll, 1, "only.block")))
	require.NoError(t, tree.DeleteCollection(coll))

	reclaimed, err := tree.GarbageCollect(1)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, "only.block", reclaimed[0].Path)

	state, err := tree.State(coll)
	require.NoError(t, err)
	require.Equal(t, Deleted, state)
}

func TestGarbageCollectPreservesFileSharedWithAliveFork(t *testing.T) {
	tree := NewForkTree()
	parent := uuid.New()
	child := uuid.New()
	require.NoError(t, tree.CreateCollection(parent))
	require.NoError(t, tree.Fork(parent, child))

	shared := "shared.block"
	require.NoError(t, tree.IncrementVersion(parent, 1, refs(parent, 1, shared)))
	require.NoError(t, tree.IncrementVersion(child, 1, refs(child, 1, shared)))
	require.NoError(t, tree.DeleteCollection(parent))

	// parent is SoftDeleted but child (Alive) still references the
	// same path, so it must survive the sweep.
	reclaimed, err := tree.GarbageCollect(1)
	require.NoError(t, err)
	require.Empty(t, reclaimed)

	state, err := tree.State(parent)
	require.NoError(t, err)
	require.Equal(t, SoftDeleted, state) // not promoted to Deleted: child is Alive
}

func TestGarbageCollectRejectsInvalidMinVersions(t *testing.T) {
	tree := NewForkTree()
	_, err := tree.GarbageCollect(0)
	require.Error(t, err)
}
