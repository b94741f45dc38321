// Package sparseindex implements the ordered map from a SparseIndexDelimiter
// to a block id (spec.md section 4.3): C3 of the component table. A
// SparseIndex is owned by exactly one BlockfileWriter; forking clones it
// by value so siblings never share mutable state.
package sparseindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
)

// SparseIndex is (id, forward: Delimiter -> block id, reverse: block id
// -> Delimiter). Bijectivity between forward and reverse is an invariant
// checked by IsValid.
type SparseIndex struct {
	mu      sync.RWMutex
	id      uuid.UUID
	forward []entry // kept sorted by Delimiter; small enough per-writer that a slice beats a skip list here
	reverse map[uuid.UUID]Delimiter
}

type entry struct {
	delim Delimiter
	block uuid.UUID
}

// New creates an empty, not-yet-initialized SparseIndex. AddInitialBlock
// must be called before any other mutation.
func New(id uuid.UUID) *SparseIndex {
	return &SparseIndex{
		id:      id,
		forward: nil,
		reverse: make(map[uuid.UUID]Delimiter),
	}
}

func (s *SparseIndex) ID() uuid.UUID { return s.id }

// AddInitialBlock must be the very first mutation on a fresh SparseIndex;
// it inserts Start -> bid.
func (s *SparseIndex) AddInitialBlock(bid uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.forward) != 0 {
		return hdberr.New(hdberr.FailedPrecondition, "sparseindex: AddInitialBlock called on a non-empty index")
	}
	s.forward = append(s.forward, entry{delim: Start, block: bid})
	s.reverse[bid] = Start
	return nil
}

func (s *SparseIndex) search(d Delimiter) int {
	return sort.Search(len(s.forward), func(i int) bool { return !s.forward[i].delim.Less(d) })
}

// AddBlock inserts startKey -> bid, keeping delimiters strictly increasing.
func (s *SparseIndex) AddBlock(startKey compositekey.CompositeKey, bid uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := Key(startKey)
	i := s.search(d)
	if i < len(s.forward) && s.forward[i].delim.Equal(d) {
		return hdberr.Newf(hdberr.FailedPrecondition, "sparseindex: delimiter %s already present", d)
	}
	s.forward = append(s.forward, entry{})
	copy(s.forward[i+1:], s.forward[i:])
	s.forward[i] = entry{delim: d, block: bid}
	s.reverse[bid] = d
	return nil
}

// ReplaceBlock replaces the entry pointing at oldID with one pointing at
// newID under a (possibly new) delimiter, used by split/merge.
func (s *SparseIndex) ReplaceBlock(oldID, newID uuid.UUID, newStartKey compositekey.CompositeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldDelim, ok := s.reverse[oldID]
	if !ok {
		return hdberr.Newf(hdberr.NotFound, "sparseindex: block %s not present", oldID)
	}
	i := s.search(oldDelim)
	if i >= len(s.forward) || !s.forward[i].delim.Equal(oldDelim) {
		return hdberr.Newf(hdberr.Internal, "sparseindex: forward/reverse inconsistent for %s", oldID)
	}
	newDelim := oldDelim
	if !oldDelim.IsStart() {
		newDelim = Key(newStartKey)
	}
	s.forward[i] = entry{delim: newDelim, block: newID}
	delete(s.reverse, oldID)
	s.reverse[newID] = newDelim
	if !newDelim.Equal(oldDelim) {
		sort.Slice(s.forward, func(a, b int) bool { return s.forward[a].delim.Less(s.forward[b].delim) })
	}
	return nil
}

// GetTargetBlockID returns the block whose interval [curr, next) contains
// searchKey, with Start treated as -inf and the last delimiter's interval
// extending to +inf.
func (s *SparseIndex) GetTargetBlockID(searchKey compositekey.CompositeKey) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.forward) == 0 {
		return uuid.Nil, hdberr.New(hdberr.FailedPrecondition, "sparseindex: empty index has no target block")
	}
	d := Key(searchKey)
	i := s.search(d)
	// search returns the first index whose delimiter is >= d; the target
	// block is the one *before* that, i.e. i-1, unless d exactly matches
	// forward[i]'s delimiter in which case that block owns it.
	if i < len(s.forward) && s.forward[i].delim.Equal(d) {
		return s.forward[i].block, nil
	}
	if i == 0 {
		// d is smaller than every non-Start delimiter; Start owns it.
		return s.forward[0].block, nil
	}
	return s.forward[i-1].block, nil
}

// blockIDsWhere returns the block ids of forward[lo:hi] in delimiter
// order, clamping lo and hi to the index bounds. Callers hold s.mu.
func (s *SparseIndex) blockIDsWhere(lo, hi int) []uuid.UUID {
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.forward) {
		hi = len(s.forward)
	}
	ids := make([]uuid.UUID, 0, hi-lo)
	for i := lo; i < hi; i++ {
		ids = append(ids, s.forward[i].block)
	}
	return ids
}

// GetBlockIDsForPrefix returns every block whose interval may contain a
// row with the given prefix.
func (s *SparseIndex) GetBlockIDsForPrefix(prefix string) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo, hi := -1, -1
	for i, e := range s.forward {
		// forward[i] covers [its delimiter, the next delimiter); it may
		// hold rows of prefix unless it starts past prefix or ends before
		// it. The Start block starts at -inf.
		startsAfter := !e.delim.IsStart() && e.delim.CompositeKey().Prefix > prefix
		endsBefore := i+1 < len(s.forward) && s.forward[i+1].delim.CompositeKey().Prefix < prefix
		if !startsAfter && !endsBefore {
			if lo == -1 {
				lo = i
			}
			hi = i + 1
		}
	}
	if lo == -1 {
		return nil
	}
	return s.blockIDsWhere(lo, hi)
}

// GetBlockIDsGTE returns every block that may contain a row with
// CompositeKey >= key.
func (s *SparseIndex) GetBlockIDsGTE(key compositekey.CompositeKey) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := Key(key)
	i := s.search(d)
	lo := i
	if i > 0 && !(i < len(s.forward) && s.forward[i].delim.Equal(d)) {
		lo = i - 1
	}
	return s.blockIDsWhere(lo, len(s.forward))
}

// GetBlockIDsGT returns every block that may contain a row with
// CompositeKey > key.
func (s *SparseIndex) GetBlockIDsGT(key compositekey.CompositeKey) []uuid.UUID {
	return s.GetBlockIDsGTE(key)
}

// GetBlockIDsLTE returns every block that may contain a row with
// CompositeKey <= key.
func (s *SparseIndex) GetBlockIDsLTE(key compositekey.CompositeKey) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := Key(key)
	i := s.search(d)
	hi := i
	if i < len(s.forward) && s.forward[i].delim.Equal(d) {
		hi = i + 1
	}
	return s.blockIDsWhere(0, hi)
}

// GetBlockIDsLT returns every block that may contain a row with
// CompositeKey < key.
func (s *SparseIndex) GetBlockIDsLT(key compositekey.CompositeKey) []uuid.UUID {
	return s.GetBlockIDsLTE(key)
}

// AllBlockIDs returns every block id referenced by the index, in
// delimiter order.
func (s *SparseIndex) AllBlockIDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockIDsWhere(0, len(s.forward))
}

// Fork clones forward/reverse under a new id; the clone shares no
// mutable state with the source.
func (s *SparseIndex) Fork(newID uuid.UUID) *SparseIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &SparseIndex{
		id:      newID,
		forward: append([]entry(nil), s.forward...),
		reverse: make(map[uuid.UUID]Delimiter, len(s.reverse)),
	}
	for k, v := range s.reverse {
		clone.reverse[k] = v
	}
	return clone
}

// IsValid checks the invariants of spec.md section 4.3: first delimiter
// is Start, delimiters are strictly increasing, forward/reverse are
// mutually consistent.
func (s *SparseIndex) IsValid() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.forward) == 0 {
		return hdberr.New(hdberr.Internal, "sparseindex: empty index is never valid")
	}
	if !s.forward[0].delim.IsStart() {
		return hdberr.New(hdberr.Internal, "sparseindex: first delimiter is not Start")
	}
	for i := 1; i < len(s.forward); i++ {
		if !s.forward[i-1].delim.Less(s.forward[i].delim) {
			return hdberr.Newf(hdberr.Internal, "sparseindex: delimiters not strictly increasing at index %d", i)
		}
	}
	if len(s.reverse) != len(s.forward) {
		return hdberr.New(hdberr.Internal, "sparseindex: forward/reverse size mismatch")
	}
	for _, e := range s.forward {
		d, ok := s.reverse[e.block]
		if !ok || !d.Equal(e.delim) {
			return hdberr.Newf(hdberr.Internal, "sparseindex: reverse mapping inconsistent for block %s", e.block)
		}
	}
	return nil
}

// Len returns the number of blocks tracked.
func (s *SparseIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.forward)
}

func (s *SparseIndex) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("SparseIndex{id=%s, blocks=%d}", s.id, len(s.forward))
}
