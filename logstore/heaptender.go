package logstore

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Triggerable is one collection's pending-compaction signal: the
// highest dirty-log position seen for it in this roll-up window
// (spec.md section 4.12: "coalesces per-collection max log positions
// ... appends triggerables to the heap").
type Triggerable struct {
	CollectionID uuid.UUID
	MaxPosition  LogPosition
}

// DecodeFunc extracts the collection id and log position a dirty-log
// record payload carries. The dirty log's wire format is opaque to
// logstore; callers own the encoding.
type DecodeFunc func(payload []byte) (uuid.UUID, LogPosition, error)

// HeapTender rolls up a dirty log's new records since its last cursor
// into per-collection triggerables and advances the cursor
// (spec.md section 4.12, "the heap tender").
type HeapTender struct {
	cursorName string
	cursors    *CursorStore
	decode     DecodeFunc
	writer     string
}

func NewHeapTender(cursorName string, cursors *CursorStore, decode DecodeFunc, writer string) *HeapTender {
	return &HeapTender{cursorName: cursorName, cursors: cursors, decode: decode, writer: writer}
}

// RollUp reads every record across shards whose position is past the
// stored cursor, coalesces per-collection max positions, and advances
// the cursor via Save (or Init, if no witness exists yet). Triggerables
// are returned sorted by collection id for deterministic ordering.
func (h *HeapTender) RollUp(shards []*Shard) ([]Triggerable, error) {
	cur, w, hadCursor := h.cursors.Load(h.cursorName)
	var from LogPosition
	if hadCursor {
		from = cur.Position + 1
	}

	maxByCollection := make(map[uuid.UUID]LogPosition)
	var order []uuid.UUID
	var maxSeen LogPosition
	sawAny := false

	for _, shard := range shards {
		for _, rec := range shard.Records() {
			if rec.Position < from {
				continue
			}
			collID, pos, err := h.decode(rec.Payload)
			if err != nil {
				return nil, err
			}
			if _, seen := maxByCollection[collID]; !seen {
				order = append(order, collID)
			}
			if pos > maxByCollection[collID] {
				maxByCollection[collID] = pos
			}
			if !sawAny || rec.Position > maxSeen {
				maxSeen = rec.Position
				sawAny = true
			}
		}
	}

	out := make([]Triggerable, len(order))
	for i, id := range order {
		out[i] = Triggerable{CollectionID: id, MaxPosition: maxByCollection[id]}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectionID.String() < out[j].CollectionID.String() })

	if !sawAny {
		return out, nil // nothing new; cursor stays put
	}

	next := Cursor{Position: maxSeen, EpochUS: uint64(time.Now().UnixMicro()), Writer: h.writer}
	if !hadCursor {
		_, err := h.cursors.Init(h.cursorName, next)
		return out, err
	}
	_, err := h.cursors.Save(h.cursorName, next, w)
	return out, err
}
