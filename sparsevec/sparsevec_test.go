package sparsevec

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/materialize"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/sparseindex"
	"github.com/stretchr/testify/require"
)

func newWriter(t *testing.T) (*Writer, *blockstore.BlockManager, *blockstore.RootManager, uuid.UUID) {
	t.Helper()
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)
	rootID := uuid.New()
	w := NewWriter(bm, rootID, "tenant", 1<<20, sparseindex.New(rootID))
	return w, bm, rm, rootID
}

// Scenario C: WAND over a handful of sparse vectors matches brute
// force within 1e-5 for every returned offset.
func TestSearchMatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	w, bm, rm, _ := newWriter(t)

	vecs := map[uint32]map[uint32]float32{
		1: {10: 0.5, 20: 0.2, 30: 0.9},
		2: {10: 0.1, 30: 0.4},
		3: {20: 0.8, 40: 0.3},
		4: {10: 0.9, 20: 0.9, 30: 0.9, 40: 0.9},
	}
	for offset, v := range vecs {
		require.NoError(t, w.ReplaceVector("sv", offset, nil, v))
	}
	flusher, err := w.Commit(ctx)
	require.NoError(t, err)
	_, err = flusher.Flush(ctx, rm, 4)
	require.NoError(t, err)

	reader := NewReader(bm, "tenant", flusher.Index())
	query := map[uint32]float32{10: 1.0, 20: 0.5, 30: 0.25}

	brute, err := reader.BruteForce(ctx, "sv", query)
	require.NoError(t, err)

	hits, err := reader.Search(ctx, "sv", query, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	for _, h := range hits {
		want, ok := brute[h.OffsetID]
		require.True(t, ok)
		require.InDelta(t, want, h.Score, 1e-5)
	}

	// Top-k ordering must itself match the brute-force ranking.
	require.Equal(t, uint32(4), hits[0].OffsetID)
}

func TestSearchTopKRandomizedAgainstBruteForce(t *testing.T) {
	ctx := context.Background()
	w, bm, rm, _ := newWriter(t)

	rng := rand.New(rand.NewSource(42))
	for offset := uint32(1); offset <= 50; offset++ {
		vec := map[uint32]float32{}
		for dim := uint32(0); dim < 8; dim++ {
			if rng.Float32() < 0.4 {
				vec[dim] = rng.Float32()
			}
		}
		require.NoError(t, w.ReplaceVector("sv", offset, nil, vec))
	}
	flusher, err := w.Commit(ctx)
	require.NoError(t, err)
	_, err = flusher.Flush(ctx, rm, 4)
	require.NoError(t, err)

	reader := NewReader(bm, "tenant", flusher.Index())
	query := map[uint32]float32{1: 0.7, 3: 0.3, 5: 0.9}

	brute, err := reader.BruteForce(ctx, "sv", query)
	require.NoError(t, err)

	hits, err := reader.Search(ctx, "sv", query, 5)
	require.NoError(t, err)

	for _, h := range hits {
		require.InDelta(t, brute[h.OffsetID], h.Score, 1e-5)
	}
	for i := 1; i < len(hits); i++ {
		require.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestReplaceVectorRemovesStaleDims(t *testing.T) {
	ctx := context.Background()
	w, bm, rm, _ := newWriter(t)

	old := map[uint32]float32{1: 0.5, 2: 0.5}
	require.NoError(t, w.ReplaceVector("sv", 1, nil, old))
	updated := map[uint32]float32{2: 0.9, 3: 0.9}
	require.NoError(t, w.ReplaceVector("sv", 1, old, updated))

	flusher, err := w.Commit(ctx)
	require.NoError(t, err)
	_, err = flusher.Flush(ctx, rm, 4)
	require.NoError(t, err)

	reader := NewReader(bm, "tenant", flusher.Index())
	scores, err := reader.BruteForce(ctx, "sv", map[uint32]float32{1: 1, 2: 1, 3: 1})
	require.NoError(t, err)
	require.InDelta(t, 1.8, scores[1], 1e-6) // dim 1 gone, dims 2+3 present
}

func TestIDFFormula(t *testing.T) {
	n, nt := int64(100), int64(10)
	got := IDF(n, nt)
	want := math.Log((float64(n-nt)+0.5)/(float64(nt)+0.5) + 1)
	require.InDelta(t, want, got, 1e-9)
}

func TestApplyPostingDeltasFiltersByMetadataKey(t *testing.T) {
	nt := map[uint32]int64{1: 5}
	ApplyPostingDeltas(nt, "sv", []materialize.PostingDelta{
		{MetadataKey: "sv", Dimension: 1, Delta: 1},
		{MetadataKey: "other", Dimension: 1, Delta: 100},
	})
	require.Equal(t, int64(6), nt[1]) // +1 from the matching-key Add only
}
