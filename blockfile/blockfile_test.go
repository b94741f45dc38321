package blockfile

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/sparseindex"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *blockstore.BlockManager {
	t.Helper()
	bm, err := blockstore.NewBlockManager(objstore.NewMemory(), "", 0)
	require.NoError(t, err)
	return bm
}

// Scenario A (blockfile split): max_block_size=500, 100 ascending
// string keys "0001".."0100" -> "x", commit+flush; reader count()=100,
// get("p","0050")="x", and the root's block count is >= 2.
func TestOrderedWriterSplitScenarioA(t *testing.T) {
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)

	rootID := uuid.New()
	idx := sparseindex.New(rootID)

	w := NewOrderedWriter(bm, rootID, "tenant", compositekey.KindString, 500, idx)
	for i := 1; i <= 100; i++ {
		k := fmt.Sprintf("%04d", i)
		require.NoError(t, w.Set("p", compositekey.StringKey(k), []byte("x")))
	}
	flusher, err := w.Commit(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, flusher.Count(), 2)

	result, err := flusher.Flush(context.Background(), rm, 4)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.BlockPaths), 2)

	reader := NewReader(bm, "tenant", compositekey.KindString, flusher.Index())
	count, err := reader.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 100, count)

	v, ok, err := reader.Get(context.Background(), "p", compositekey.StringKey("0050"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("x"), v)
}

// Scenario E (ordered writer invariant): two sets to the same key
// between commits must fail.
func TestOrderedWriterDuplicateKeyFails(t *testing.T) {
	bm := newTestManager(t)
	rootID := uuid.New()
	idx := sparseindex.New(rootID)
	w := NewOrderedWriter(bm, rootID, "tenant", compositekey.KindString, 1<<20, idx)

	require.NoError(t, w.Set("p", compositekey.StringKey("k"), []byte("v1")))
	err := w.Set("p", compositekey.StringKey("k"), []byte("v2"))
	require.Error(t, err)
	require.Equal(t, hdberr.FailedPrecondition, hdberr.CodeOf(err))
}

func TestOrderedWriterOutOfOrderFails(t *testing.T) {
	bm := newTestManager(t)
	rootID := uuid.New()
	idx := sparseindex.New(rootID)
	w := NewOrderedWriter(bm, rootID, "tenant", compositekey.KindString, 1<<20, idx)

	require.NoError(t, w.Set("p", compositekey.StringKey("b"), []byte("v1")))
	err := w.Set("p", compositekey.StringKey("a"), []byte("v2"))
	require.Error(t, err)
}

func TestUnorderedWriterRoundTrip(t *testing.T) {
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)
	rootID := uuid.New()
	idx := sparseindex.New(rootID)

	w := NewUnorderedWriter(bm, rootID, "", compositekey.KindString, 1<<20, idx)
	require.NoError(t, w.Set("p", compositekey.StringKey("b"), []byte("2")))
	require.NoError(t, w.Set("p", compositekey.StringKey("a"), []byte("1")))
	require.NoError(t, w.Set("p", compositekey.StringKey("a"), []byte("1-overwritten")))

	flusher, err := w.Commit(context.Background())
	require.NoError(t, err)
	_, err = flusher.Flush(context.Background(), rm, 4)
	require.NoError(t, err)

	reader := NewReader(bm, "", compositekey.KindString, flusher.Index())
	v, ok, err := reader.Get(context.Background(), "p", compositekey.StringKey("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1-overwritten"), v)

	count, err := reader.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestUnorderedWriterSetThenDeleteAcrossCommits(t *testing.T) {
	store := objstore.NewMemory()
	bm, err := blockstore.NewBlockManager(store, "", 0)
	require.NoError(t, err)
	rm := blockstore.NewRootManager(store)
	rootID := uuid.New()
	idx := sparseindex.New(rootID)

	w := NewUnorderedWriter(bm, rootID, "", compositekey.KindString, 1<<20, idx)
	require.NoError(t, w.Set("p", compositekey.StringKey("a"), []byte("1")))
	flusher, err := w.Commit(context.Background())
	require.NoError(t, err)
	_, err = flusher.Flush(context.Background(), rm, 4)
	require.NoError(t, err)

	w2 := NewUnorderedWriter(bm, rootID, "", compositekey.KindString, 1<<20, flusher.Index())
	require.NoError(t, w2.Delete("p", compositekey.StringKey("a")))
	flusher2, err := w2.Commit(context.Background())
	require.NoError(t, err)
	_, err = flusher2.Flush(context.Background(), rm, 4)
	require.NoError(t, err)

	reader := NewReader(bm, "", compositekey.KindString, flusher2.Index())
	count, err := reader.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
