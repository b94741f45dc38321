package compaction

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockfile"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/model"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/segment/metadata"
	"github.com/hunddb/hunddb-core/segment/vector"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(t *testing.T) (*Orchestrator, *blockstore.BlockManager, *blockstore.RootManager) {
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)
	return New(bm, rm, &blockfile.PartitionedMutex{}), bm, rm
}

func freshNewRoots() NewRoots {
	return NewRoots{
		RecordUserRoot:   uuid.New(),
		RecordOffsetRoot: uuid.New(),
		MetadataRoots: metadata.Roots{
			Bool: uuid.New(), Int: uuid.New(), Float: uuid.New(),
			String: uuid.New(), Trigram: uuid.New(), Sparse: uuid.New(),
		},
		VectorRoot: uuid.New(),
	}
}

func strp(s string) *string { return &s }

func TestCompactRebuildThenIncremental(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newOrchestrator(t)

	doc1 := "the quick brown fox"
	chunk1 := []model.LogRecord{
		{
			UserID: "alice", Operation: model.OpAdd,
			Embedding: []float32{1, 0, 0},
			Document:  &doc1,
			Metadata:  model.Metadata{"color": model.StringValue("red"), "active": model.BoolValue(true)},
		},
		{
			UserID: "bob", Operation: model.OpAdd,
			Embedding: []float32{0, 1, 0},
			Metadata:  model.Metadata{"color": model.StringValue("blue")},
		},
	}

	roots1 := freshNewRoots()
	result1, err := o.Compact(ctx, Input{
		PrefixPath:           "tenant",
		MaxBlockSize:         1 << 20,
		NumConcurrentFlushes: 4,
		Chunk:                chunk1,
		New:                  roots1,
		VectorBackend:        vector.NewFlatBackend(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, result1.TotalRecords)
	require.Greater(t, result1.LogicalSize, int64(0))
	require.Contains(t, result1.Schema, "color")
	require.Contains(t, result1.Schema, "active")
	require.NotNil(t, result1.NextState)

	// second window: update alice, delete bob, add carol
	chunk2 := []model.LogRecord{
		{UserID: "alice", Operation: model.OpUpdate, Metadata: model.Metadata{"color": model.StringValue("green")}},
		{UserID: "bob", Operation: model.OpDelete},
		{
			UserID: "carol", Operation: model.OpAdd,
			Embedding: []float32{0, 0, 1},
			Metadata:  model.Metadata{"rank": model.IntValue(3)},
		},
	}

	roots2 := freshNewRoots()
	result2, err := o.Compact(ctx, Input{
		PrefixPath:           "tenant",
		MaxBlockSize:         1 << 20,
		NumConcurrentFlushes: 4,
		Chunk:                chunk2,
		Parent:               result1.NextState,
		New:                  roots2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result2.TotalRecords) // alice + carol, bob deleted
	require.Contains(t, result2.Schema, "rank")
	require.Contains(t, result2.Schema, "color") // schema never shrinks
}

func TestCompactRebuildWithoutVectorBackendFails(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newOrchestrator(t)

	// a delete with no parent and no prior add cannot happen through
	// materialize (it errors FailedPrecondition before compaction even
	// computes a size delta); this test instead exercises the
	// no-backend invariant, a simpler error path for a rebuild misuse.
	_, err := o.Compact(ctx, Input{
		PrefixPath:           "tenant",
		MaxBlockSize:         1 << 20,
		NumConcurrentFlushes: 4,
		Chunk:                nil,
		New:                  freshNewRoots(),
	})
	require.Error(t, err)
}
