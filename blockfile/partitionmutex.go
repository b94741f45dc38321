package blockfile

import (
	"sync"

	"github.com/google/uuid"
)

// PartitionedMutex serializes writers per IndexUuid while allowing
// parallelism across indices, the AsyncPartitionedMutex of spec.md
// section 5. It generalizes the teacher's lsm/block_manager
// getFileMutex: a sync.Map of per-key *sync.Mutex created lazily and
// never removed (removal would race a concurrent lazy-create).
type PartitionedMutex struct {
	mutexes sync.Map // uuid.UUID -> *sync.Mutex
}

func (p *PartitionedMutex) mutexFor(id uuid.UUID) *sync.Mutex {
	if m, ok := p.mutexes.Load(id); ok {
		return m.(*sync.Mutex)
	}
	m := &sync.Mutex{}
	actual, _ := p.mutexes.LoadOrStore(id, m)
	return actual.(*sync.Mutex)
}

// Lock acquires the per-index lock for id and returns an unlock func.
func (p *PartitionedMutex) Lock(id uuid.UUID) func() {
	m := p.mutexFor(id)
	m.Lock()
	return m.Unlock
}

// WithLock runs fn while holding id's partition lock.
func (p *PartitionedMutex) WithLock(id uuid.UUID, fn func() error) error {
	unlock := p.Lock(id)
	defer unlock()
	return fn()
}
