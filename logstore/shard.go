// Package logstore implements the append-only log frame, manifest, and
// cursor machinery of C12 (spec.md section 4.12). It generalizes the
// teacher's lsm/wal (length-delimited fragments framed by a fixed
// header, written to numbered log files) into shard-partitioned,
// content-hashed records addressed by a monotone log position instead
// of a (log file, block) pair.
package logstore

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/hunddb/hunddb-core/hdberr"
)

// LogPosition is a monotone index into one shard's record sequence,
// the position a Cursor tracks (spec.md section 3: "Cursor").
type LogPosition = uint64

// Record is one length-delimited entry appended to a Shard.
type Record struct {
	Position LogPosition
	Payload  []byte
}

// Shard is one partition of a log frame: an append-only sequence of
// records plus the range of positions it covers, content-hashed as a
// whole the way Block computes a setsum over its rows (block.go).
type Shard struct {
	mu      sync.Mutex
	id      int
	records []Record
	nextPos LogPosition
}

// NewShard returns an empty shard starting its position counter at
// startPos (0 for a shard's first window).
func NewShard(id int, startPos LogPosition) *Shard {
	return &Shard{id: id, nextPos: startPos}
}

func (s *Shard) ID() int { return s.id }

// Append assigns payload the next position in this shard and returns it.
func (s *Shard) Append(payload []byte) LogPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.nextPos
	cp := append([]byte(nil), payload...)
	s.records = append(s.records, Record{Position: pos, Payload: cp})
	s.nextPos++
	return pos
}

// Records returns every record appended so far, in position order.
func (s *Shard) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Range reports the [start, end] inclusive position range this shard
// currently covers; ok is false for an empty shard.
func (s *Shard) Range() (start, end LogPosition, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return 0, 0, false
	}
	return s.records[0].Position, s.records[len(s.records)-1].Position, true
}

// encodeRecord frames one record as an 8-byte position, a 4-byte
// length, and the payload — the same position-ahead-of-length-ahead-
// of-payload shape as the teacher's WALHeader, minus the fragment-type
// byte this format has no use for (shards never split one record
// across a boundary).
func encodeRecord(r Record) []byte {
	buf := make([]byte, 8+4+len(r.Payload))
	binary.BigEndian.PutUint64(buf[0:8], r.Position)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.Payload)))
	copy(buf[12:], r.Payload)
	return buf
}

// Setsum is the content hash over every record's framed bytes, in
// position order, the same sha256-over-rows construction block.Block
// uses for its own setsum.
func (s *Shard) Setsum() [sha256.Size]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := sha256.New()
	for _, r := range s.records {
		h.Write(encodeRecord(r))
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Serialize frames the whole shard as a sequence of encoded records,
// for persistence as one object-store blob.
func (s *Shard) Serialize() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, r := range s.records {
		out = append(out, encodeRecord(r)...)
	}
	return out
}

// DeserializeShard rebuilds a shard from Serialize's output.
func DeserializeShard(id int, data []byte) (*Shard, error) {
	s := &Shard{id: id}
	off := 0
	for off < len(data) {
		if off+12 > len(data) {
			return nil, hdberr.New(hdberr.Internal, "logstore: truncated shard record header")
		}
		pos := binary.BigEndian.Uint64(data[off : off+8])
		length := binary.BigEndian.Uint32(data[off+8 : off+12])
		off += 12
		if off+int(length) > len(data) {
			return nil, hdberr.New(hdberr.Internal, "logstore: truncated shard record payload")
		}
		payload := append([]byte(nil), data[off:off+int(length)]...)
		s.records = append(s.records, Record{Position: pos, Payload: payload})
		off += int(length)
		if pos+1 > s.nextPos {
			s.nextPos = pos + 1
		}
	}
	return s, nil
}
