package record

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

func TestRecordSegmentAddThenDelete(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)

	userRootID, offsetRootID := uuid.New(), uuid.New()
	w := NewWriter(bm, "tenant", userRootID, offsetRootID, sparseindex.New(userRootID), sparseindex.New(offsetRootID), 1<<20)

	doc := "hello"
	require.NoError(t, w.ApplyLog([]model.MaterializedLogRecord{
		{OffsetID: 1, UserID: "A", FinalOperation: model.AddNew, Embedding: []float32{1, 2}, Document: &doc},
		{OffsetID: 2, UserID: "B", FinalOperation: model.AddNew, Embedding: []float32{3, 4}},
	}))

	flusher, err := w.Commit(ctx)
	require.NoError(t, err)
	count, err := flusher.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = flusher.Flush(ctx, rm, 4)
	require.NoError(t, err)

	reader, err := OpenReader(ctx, bm, rm, userRootID, offsetRootID, "tenant")
	require.NoError(t, err)
	require.NotNil(t, reader)

	off, found, err := reader.LookupOffset(ctx, "A")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(1), off)

	dr, found, err := reader.GetDataRecord(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "A", dr.ID)
	require.Equal(t, "hello", *dr.Document)

	maxOff, err := reader.MaxExistingOffsetID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(2), maxOff)

	// Second writer, forked over the flushed index, deletes offset 1.
	w2 := NewWriter(bm, "tenant", userRootID, offsetRootID, flusher.userFlusher.Index(), flusher.offsetFlusher.Index(), 1<<20)
	require.NoError(t, w2.ApplyLog([]model.MaterializedLogRecord{
		{OffsetID: 1, UserID: "A", FinalOperation: model.DeleteExisting},
	}))
	flusher2, err := w2.Commit(ctx)
	require.NoError(t, err)
	_, err = flusher2.Flush(ctx, rm, 4)
	require.NoError(t, err)

	count2, err := flusher2.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count2)

	reader2, err := OpenReader(ctx, bm, rm, userRootID, offsetRootID, "tenant")
	require.NoError(t, err)
	_, found, err = reader2.LookupOffset(ctx, "A")
	require.NoError(t, err)
	require.False(t, found)
}
