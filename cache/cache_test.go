package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type stringCodec struct{}

func (stringCodec) Marshal(v string) ([]byte, error)    { return []byte(v), nil }
func (stringCodec) Unmarshal(b []byte) (string, error)  { return string(b), nil }

func TestCacheInsertGet(t *testing.T) {
	c, err := New[string](Options[string]{Capacity: 1 << 20})
	require.NoError(t, err)

	require.NoError(t, c.Insert("a", "hello"))
	c.Wait()

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "hello", v)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestCacheRemove(t *testing.T) {
	c, err := New[string](Options[string]{Capacity: 1 << 20})
	require.NoError(t, err)

	require.NoError(t, c.Insert("a", "hello"))
	c.Wait()
	c.Remove("a")

	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestCacheFetchCoalescesLoads(t *testing.T) {
	c, err := New[string](Options[string]{Capacity: 1 << 20})
	require.NoError(t, err)

	var calls int32
	loader := func() (string, error) {
		atomic.AddInt32(&calls, 1)
		return "loaded", nil
	}

	v1, err1 := c.Fetch(context.Background(), "k", loader)
	require.NoError(t, err1)
	require.Equal(t, "loaded", v1)

	v2, err2 := c.Fetch(context.Background(), "k", loader)
	require.NoError(t, err2)
	require.Equal(t, "loaded", v2)

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCacheFetchPropagatesLoaderError(t *testing.T) {
	c, err := New[string](Options[string]{Capacity: 1 << 20})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = c.Fetch(context.Background(), "k", func() (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)

	_, ok := c.Get("k")
	require.False(t, ok, "a failed load must not populate the cache")
}

func TestCacheDiskTierSurvivesClear(t *testing.T) {
	dir := t.TempDir()
	c, err := New[string](Options[string]{
		Capacity:      1 << 20,
		DiskDir:       dir,
		Deterministic: true,
		Codec:         stringCodec{},
	})
	require.NoError(t, err)

	require.NoError(t, c.Insert("a", "hello"))
	c.Wait()
	c.Clear() // drops the memory tier only

	v, ok := c.Get("a")
	require.True(t, ok, "disk tier must recover a memory-tier miss")
	require.Equal(t, "hello", v)
}

func TestDiskTierNonDeterministicMissesAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first, err := newDiskTier(dir, false)
	require.NoError(t, err)
	require.NoError(t, first.Put("a", []byte("hello")))

	second, err := newDiskTier(dir, false)
	require.NoError(t, err)
	_, ok := second.Get("a")
	require.False(t, ok, "a fresh per-process salt must miss rather than risk a wrong read")
}

func TestDiskTierDeterministicRecoversAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first, err := newDiskTier(dir, true)
	require.NoError(t, err)
	require.NoError(t, first.Put("a", []byte("hello")))

	second, err := newDiskTier(dir, true)
	require.NoError(t, err)
	data, ok := second.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)
}
