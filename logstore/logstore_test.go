package logstore

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestShardAppendAndSerializeRoundTrip(t *testing.T) {
	s := NewShard(1, 0)
	p1 := s.Append([]byte("alpha"))
	p2 := s.Append([]byte("beta"))
	require.Equal(t, LogPosition(0), p1)
	require.Equal(t, LogPosition(1), p2)

	start, end, ok := s.Range()
	require.True(t, ok)
	require.Equal(t, LogPosition(0), start)
	require.Equal(t, LogPosition(1), end)

	data := s.Serialize()
	restored, err := DeserializeShard(1, data)
	require.NoError(t, err)
	require.Equal(t, s.Records(), restored.Records())
	require.Equal(t, s.Setsum(), restored.Setsum())
}

func TestManifestFragmentCovering(t *testing.T) {
	m := NewManifest()
	m.Register(ShardFragment{ShardID: 0, StartPos: 0, EndPos: 9, Path: "shard/0"})
	m.Register(ShardFragment{ShardID: 1, StartPos: 10, EndPos: 19, Path: "shard/1"})

	f, ok := m.FragmentCovering(15)
	require.True(t, ok)
	require.Equal(t, 1, f.ShardID)

	_, ok = m.FragmentCovering(25)
	require.False(t, ok)
}

func TestCursorStoreInitThenCASSave(t *testing.T) {
	cs := NewCursorStore()
	w1, err := cs.Init("dirty-log", Cursor{Position: 5, Writer: "node-a"})
	require.NoError(t, err)

	_, err = cs.Init("dirty-log", Cursor{Position: 6, Writer: "node-a"})
	require.Error(t, err) // already initialized

	_, err = cs.Save("dirty-log", Cursor{Position: 6, Writer: "node-a"}, "stale-witness")
	require.Error(t, err)

	w2, err := cs.Save("dirty-log", Cursor{Position: 6, Writer: "node-a"}, w1)
	require.NoError(t, err)
	require.NotEqual(t, w1, w2)

	cur, w3, ok := cs.Load("dirty-log")
	require.True(t, ok)
	require.Equal(t, LogPosition(6), cur.Position)
	require.Equal(t, w2, w3)
}

func encodeDirtyRecord(collID uuid.UUID, pos LogPosition) []byte {
	buf := make([]byte, 16+8)
	copy(buf, collID[:])
	binary.BigEndian.PutUint64(buf[16:], pos)
	return buf
}

func decodeDirtyRecord(payload []byte) (uuid.UUID, LogPosition, error) {
	var id uuid.UUID
	copy(id[:], payload[:16])
	return id, binary.BigEndian.Uint64(payload[16:]), nil
}

func TestHeapTenderRollUpCoalescesAndAdvancesCursor(t *testing.T) {
	collA := uuid.New()
	collB := uuid.New()

	shard := NewShard(0, 0)
	shard.Append(encodeDirtyRecord(collA, 100))
	shard.Append(encodeDirtyRecord(collB, 50))
	shard.Append(encodeDirtyRecord(collA, 103))

	cursors := NewCursorStore()
	tender := NewHeapTender("dirty-log", cursors, decodeDirtyRecord, "node-a")

	triggerables, err := tender.RollUp([]*Shard{shard})
	require.NoError(t, err)
	require.Len(t, triggerables, 2)

	byColl := make(map[uuid.UUID]LogPosition)
	for _, tr := range triggerables {
		byColl[tr.CollectionID] = tr.MaxPosition
	}
	require.Equal(t, LogPosition(103), byColl[collA])
	require.Equal(t, LogPosition(50), byColl[collB])

	cur, _, ok := cursors.Load("dirty-log")
	require.True(t, ok)
	require.Equal(t, LogPosition(2), cur.Position) // last shard record position

	// a second roll-up with no new records returns nothing new.
	triggerables2, err := tender.RollUp([]*Shard{shard})
	require.NoError(t, err)
	require.Empty(t, triggerables2)
}
