// Package gc implements the fork-tree garbage collector state machine
// of C12 (spec.md section 4.12): collections transition
// Alive -> SoftDeleted -> Deleted, versions are individually marked
// deleted, and files are reclaimed once no live version references
// them. It generalizes the teacher's LSM compaction (which only ever
// merges and deletes SSTables within one linear sequence) to a
// branching fork tree where deletion must account for descendant
// collections still in use.
package gc

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/model"
)

// State is a collection's lifecycle state (spec.md section 4.12).
type State int

const (
	Alive State = iota
	SoftDeleted
	Deleted
)

// VersionNode is one compaction generation's output for a collection,
// holding the files it references and whether GC has marked it deleted.
type VersionNode struct {
	Version int64
	Deleted bool
	Files   []model.FileRef
}

// Collection is one node in the fork tree.
type Collection struct {
	ID       uuid.UUID
	Parent   uuid.UUID // uuid.Nil for a root collection
	State    State
	Versions []*VersionNode // ascending by Version
}

// ForkTree holds every collection and the parent/child edges between
// them (a collection forked from another shares no file state with it
// beyond what IncrementVersion/Fork record explicitly; the tree only
// tracks topology and version-level file references).
type ForkTree struct {
	mu          sync.Mutex
	collections map[uuid.UUID]*Collection
	children    map[uuid.UUID][]uuid.UUID
}

func NewForkTree() *ForkTree {
	return &ForkTree{
		collections: make(map[uuid.UUID]*Collection),
		children:    make(map[uuid.UUID][]uuid.UUID),
	}
}

// CreateCollection registers a fresh Alive collection with no parent.
func (t *ForkTree) CreateCollection(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.collections[id]; exists {
		return hdberr.Newf(hdberr.AlreadyExists, "gc: collection %s already exists", id)
	}
	t.collections[id] = &Collection{ID: id, Parent: uuid.Nil, State: Alive}
	return nil
}

// Fork registers a new Alive collection as srcID's child in the tree.
func (t *ForkTree) Fork(srcID, newID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.collections[srcID]; !ok {
		return hdberr.Newf(hdberr.NotFound, "gc: source collection %s not found", srcID)
	}
	if _, exists := t.collections[newID]; exists {
		return hdberr.Newf(hdberr.AlreadyExists, "gc: collection %s already exists", newID)
	}
	t.collections[newID] = &Collection{ID: newID, Parent: srcID, State: Alive}
	t.children[srcID] = append(t.children[srcID], newID)
	return nil
}

// IncrementVersion appends a new version node to id, referencing files.
func (t *ForkTree) IncrementVersion(id uuid.UUID, version int64, files []model.FileRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.collections[id]
	if !ok {
		return hdberr.Newf(hdberr.NotFound, "gc: collection %s not found", id)
	}
	if c.State != Alive {
		return hdberr.Newf(hdberr.FailedPrecondition, "gc: collection %s is not alive", id)
	}
	c.Versions = append(c.Versions, &VersionNode{Version: version, Files: files})
	return nil
}

// DeleteCollection transitions Alive -> SoftDeleted (spec.md section
// 4.12). It is a no-op on an already SoftDeleted/Deleted collection.
func (t *ForkTree) DeleteCollection(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.collections[id]
	if !ok {
		return hdberr.Newf(hdberr.NotFound, "gc: collection %s not found", id)
	}
	if c.State == Alive {
		c.State = SoftDeleted
	}
	return nil
}

// State returns id's current lifecycle state.
func (t *ForkTree) State(id uuid.UUID) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.collections[id]
	if !ok {
		return 0, hdberr.Newf(hdberr.NotFound, "gc: collection %s not found", id)
	}
	return c.State, nil
}

func (t *ForkTree) descendants(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	var walk func(uuid.UUID)
	walk = func(cur uuid.UUID) {
		for _, child := range t.children[cur] {
			out = append(out, child)
			walk(child)
		}
	}
	walk(id)
	return out
}

// subtreeAllNonAlive reports whether id and every descendant of id is
// not Alive (spec.md section 4.12 step 1).
func (t *ForkTree) subtreeAllNonAlive(id uuid.UUID) bool {
	if t.collections[id].State == Alive {
		return false
	}
	for _, d := range t.descendants(id) {
		if t.collections[d].State == Alive {
			return false
		}
	}
	return true
}

// GarbageCollect runs the three-step sweep of spec.md section 4.12 and
// returns every file no longer referenced by a live, non-deleted
// version node of a non-Deleted collection. Callers are responsible
// for physically removing the returned files from object storage.
func (t *ForkTree) GarbageCollect(minVersionsToKeep int) ([]model.FileRef, error) {
	if minVersionsToKeep < 1 {
		return nil, hdberr.Newf(hdberr.InvalidArgument, "gc: min_versions_to_keep must be >= 1, got %d", minVersionsToKeep)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Step 1: SoftDeleted collections whose entire descendant subtree
	// is not Alive transition to Deleted, and every version is marked
	// version-deleted.
	for id, c := range t.collections {
		if c.State == SoftDeleted && t.subtreeAllNonAlive(id) {
			c.State = Deleted
			for _, v := range c.Versions {
				v.Deleted = true
			}
		}
	}

	// Step 2: every version of a (still) SoftDeleted collection is
	// marked deleted, independent of whether it was promoted in step 1.
	for _, c := range t.collections {
		if c.State == SoftDeleted {
			for _, v := range c.Versions {
				v.Deleted = true
			}
		}
	}

	// Step 3: per collection, keep only the top minVersionsToKeep
	// live versions by version number; mark the rest deleted.
	for _, c := range t.collections {
		live := make([]*VersionNode, 0, len(c.Versions))
		for _, v := range c.Versions {
			if !v.Deleted {
				live = append(live, v)
			}
		}
		sort.Slice(live, func(i, j int) bool { return live[i].Version > live[j].Version })
		for i, v := range live {
			if i >= minVersionsToKeep {
				v.Deleted = true
			}
		}
	}

	// File reference counting: a file is live iff at least one
	// non-deleted version node references it AND the owning collection
	// is not Deleted.
	refCount := make(map[string]int)
	for _, c := range t.collections {
		if c.State == Deleted {
			continue
		}
		for _, v := range c.Versions {
			if v.Deleted {
				continue
			}
			for _, f := range v.Files {
				refCount[f.Path]++
			}
		}
	}

	var reclaimable []model.FileRef
	seen := make(map[string]bool)
	for _, c := range t.collections {
		for _, v := range c.Versions {
			for _, f := range v.Files {
				if refCount[f.Path] == 0 && !seen[f.Path] {
					seen[f.Path] = true
					reclaimable = append(reclaimable, f)
				}
			}
		}
	}
	return reclaimable, nil
}
