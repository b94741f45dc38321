package logstore

import (
	"sync"

	"github.com/hunddb/hunddb-core/hdberr"
)

// ShardFragment is one shard's published metadata: the position range
// it covers, its content hash, and where its bytes live.
type ShardFragment struct {
	ShardID        int
	StartPos, EndPos LogPosition
	Setsum         [32]byte
	Path           string
}

// Manifest aggregates every shard fragment published so far (spec.md
// section 4.12: "A Manifest aggregates shard fragments").
type Manifest struct {
	mu        sync.RWMutex
	fragments map[int]ShardFragment
}

func NewManifest() *Manifest {
	return &Manifest{fragments: make(map[int]ShardFragment)}
}

// Register publishes or replaces a shard's fragment metadata.
func (m *Manifest) Register(f ShardFragment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragments[f.ShardID] = f
}

// Fragments returns every registered fragment, unordered.
func (m *Manifest) Fragments() []ShardFragment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ShardFragment, 0, len(m.fragments))
	for _, f := range m.fragments {
		out = append(out, f)
	}
	return out
}

// FragmentCovering returns the fragment whose [StartPos, EndPos] range
// contains pos, if any shard has published one.
func (m *Manifest) FragmentCovering(pos LogPosition) (ShardFragment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.fragments {
		if pos >= f.StartPos && pos <= f.EndPos {
			return f, true
		}
	}
	return ShardFragment{}, false
}

// Get returns a specific shard's fragment, if known.
func (m *Manifest) Get(shardID int) (ShardFragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fragments[shardID]
	if !ok {
		return ShardFragment{}, hdberr.Newf(hdberr.NotFound, "logstore: shard %d not in manifest", shardID)
	}
	return f, nil
}
