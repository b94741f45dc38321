package metadata

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockfile"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/model"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/sparseindex"
	"github.com/stretchr/testify/require"
)

func freshRoots() Roots {
	return Roots{Bool: uuid.New(), Int: uuid.New(), Float: uuid.New(), String: uuid.New(), Trigram: uuid.New(), Sparse: uuid.New()}
}

func freshIndices(r Roots) Indices {
	return Indices{
		Bool: sparseindex.New(r.Bool), Int: sparseindex.New(r.Int), Float: sparseindex.New(r.Float),
		String: sparseindex.New(r.String), Trigram: sparseindex.New(r.Trigram), Sparse: sparseindex.New(r.Sparse),
	}
}

func TestMetadataWriterIndexesAndSchemaWidens(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)

	roots := freshRoots()
	w := NewWriter(bm, "tenant", roots, freshIndices(roots), Readers{}, 1<<20)

	doc := "the quick brown fox"
	require.NoError(t, w.ApplyLog([]model.MaterializedLogRecord{
		{
			OffsetID:       1,
			UserID:         "A",
			FinalOperation: model.AddNew,
			Document:       &doc,
			Metadata: model.Metadata{
				"active": model.BoolValue(true),
				"rank":   model.IntValue(7),
				"score":  model.FloatValue(0.5),
				"color":  model.StringValue("red"),
			},
		},
	}))

	require.Contains(t, w.Schema(), "active")
	require.Contains(t, w.Schema(), "color")

	flusher, err := w.Commit(ctx)
	require.NoError(t, err)
	_, err = flusher.Flush(ctx, rm, 4)
	require.NoError(t, err)

	idx := flusher.Indices()

	boolReader := blockfile.NewReader(bm, "tenant", compositekey.KindBool, idx.Bool)
	v, ok, err := boolReader.Get(ctx, "active", compositekey.BoolKey(true))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []uint32{1}, decodePosting(v))

	stringReader := blockfile.NewReader(bm, "tenant", compositekey.KindString, idx.String)
	v, ok, err = stringReader.Get(ctx, "color", compositekey.StringKey("red"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []uint32{1}, decodePosting(v))

	trigramReader := blockfile.NewReader(bm, "tenant", compositekey.KindString, idx.Trigram)
	v, ok, err = trigramReader.Get(ctx, "doc", compositekey.StringKey("qui"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []uint32{1}, decodePosting(v))
}

func TestMetadataWriterDeleteRemovesPostings(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)

	roots := freshRoots()
	w := NewWriter(bm, "tenant", roots, freshIndices(roots), Readers{}, 1<<20)
	require.NoError(t, w.ApplyLog([]model.MaterializedLogRecord{
		{OffsetID: 1, UserID: "A", FinalOperation: model.AddNew, Metadata: model.Metadata{"color": model.StringValue("red")}},
	}))
	flusher, err := w.Commit(ctx)
	require.NoError(t, err)
	_, err = flusher.Flush(ctx, rm, 4)
	require.NoError(t, err)
	idx := flusher.Indices()

	prev := Readers{String: blockfile.NewReader(bm, "tenant", compositekey.KindString, idx.String)}
	w2 := NewWriter(bm, "tenant", roots, idx, prev, 1<<20)
	require.NoError(t, w2.ApplyLog([]model.MaterializedLogRecord{
		{
			OffsetID:       1,
			UserID:         "A",
			FinalOperation: model.DeleteExisting,
			Existing:       &model.DataRecord{ID: "A", OffsetID: 1, Metadata: model.Metadata{"color": model.StringValue("red")}},
		},
	}))
	flusher2, err := w2.Commit(ctx)
	require.NoError(t, err)
	_, err = flusher2.Flush(ctx, rm, 4)
	require.NoError(t, err)
	idx2 := flusher2.Indices()

	reader := blockfile.NewReader(bm, "tenant", compositekey.KindString, idx2.String)
	_, ok, err := reader.Get(ctx, "color", compositekey.StringKey("red"))
	require.NoError(t, err)
	require.False(t, ok)
}
