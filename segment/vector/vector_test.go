package vector

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/model"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/sparseindex"
	"github.com/stretchr/testify/require"
)

func TestVectorWriterUpsertIdempotentOnReplay(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rootID := uuid.New()

	w, err := NewWriter(ctx, bm, "tenant", rootID, sparseindex.New(rootID), NewFlatBackend(), nil, 1<<20)
	require.NoError(t, err)

	records := []model.MaterializedLogRecord{
		{OffsetID: 1, UserID: "A", FinalOperation: model.AddNew, Embedding: []float32{1, 0}},
	}
	require.NoError(t, w.ApplyLog(records))
	require.NoError(t, w.ApplyLog(records)) // replay must be a no-op, not an error

	flusher, err := w.Commit(ctx)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)
	_, err = flusher.Flush(ctx, rm, 4)
	require.NoError(t, err)
}

func TestFlatBackendQueryAndRoundTrip(t *testing.T) {
	b := NewFlatBackend()
	require.NoError(t, b.Upsert(1, []float32{1, 0}))
	require.NoError(t, b.Upsert(2, []float32{0, 1}))
	require.NoError(t, b.Upsert(3, []float32{0.9, 0.1}))

	hits := b.Query([]float32{1, 0}, 2)
	require.Equal(t, []uint32{1, 3}, hits)

	data, err := b.Serialize()
	require.NoError(t, err)

	b2 := NewFlatBackend()
	require.NoError(t, b2.Deserialize(data))
	hits2 := b2.Query([]float32{1, 0}, 2)
	require.Equal(t, hits, hits2)
}
