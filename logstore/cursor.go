package logstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hunddb/hunddb-core/hdberr"
)

// Cursor is a named position in the log (spec.md section 3).
type Cursor struct {
	Position LogPosition
	EpochUS  uint64
	Writer   string
}

func encodeCursor(c Cursor) []byte {
	buf := make([]byte, 8+8+len(c.Writer))
	binary.BigEndian.PutUint64(buf[0:8], c.Position)
	binary.BigEndian.PutUint64(buf[8:16], c.EpochUS)
	copy(buf[16:], c.Writer)
	return buf
}

// witness is an opaque ETag-style version stamp over a Cursor's
// encoded bytes (spec.md section 3: "versioned by an opaque ETag-style
// witness"), reusing the same xxhash the disk cache uses for its key
// hashing rather than introducing a second hash function.
func witness(c Cursor) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(encodeCursor(c)))
}

type storedCursor struct {
	cursor  Cursor
	witness string
}

// CursorStore holds every named cursor with compare-and-set semantics
// on updates (spec.md section 4.12).
type CursorStore struct {
	mu      sync.Mutex
	entries map[string]storedCursor
}

func NewCursorStore() *CursorStore {
	return &CursorStore{entries: make(map[string]storedCursor)}
}

// Load returns name's current cursor and witness; ok is false if name
// has never been initialized.
func (cs *CursorStore) Load(name string) (Cursor, string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	e, ok := cs.entries[name]
	if !ok {
		return Cursor{}, "", false
	}
	return e.cursor, e.witness, true
}

// Init creates name's first cursor; it fails if a witness already
// exists for name (spec.md section 4.12: "init only when no witness
// exists").
func (cs *CursorStore) Init(name string, initial Cursor) (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.entries[name]; exists {
		return "", hdberr.Newf(hdberr.AlreadyExists, "logstore: cursor %q already initialized", name)
	}
	w := witness(initial)
	cs.entries[name] = storedCursor{cursor: initial, witness: w}
	return w, nil
}

// Save advances name's cursor, succeeding only if the stored witness
// still matches expectedWitness (compare-and-set, spec.md section
// 4.12).
func (cs *CursorStore) Save(name string, next Cursor, expectedWitness string) (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	e, ok := cs.entries[name]
	if !ok {
		return "", hdberr.Newf(hdberr.NotFound, "logstore: cursor %q not found", name)
	}
	if e.witness != expectedWitness {
		return "", hdberr.Newf(hdberr.FailedPrecondition, "logstore: stale witness for cursor %q", name)
	}
	w := witness(next)
	cs.entries[name] = storedCursor{cursor: next, witness: w}
	return w, nil
}
