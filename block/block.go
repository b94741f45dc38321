// Package block implements C1 of the component table: an immutable,
// content-addressed Arrow record batch of (prefix, key, value) rows,
// sorted ascending by (prefix, key), with 64-byte-aligned buffers and a
// self-describing size. This generalizes the teacher's raw 4KB disk
// pages (lsm/block_manager) into the spec's variable-size, Arrow-backed
// content-addressed block.
package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
)

// Row is one decoded (prefix, key, value) triple.
type Row struct {
	Prefix string
	Key    compositekey.KeyWrapper
	Value  []byte
}

// Block is an immutable, content-addressed Arrow record batch.
type Block struct {
	id      uuid.UUID
	setsum  [sha256.Size]byte
	keyKind compositekey.KeyKind
	batch   arrow.Record
	size    uint64 // memoized sizeOfRecord(batch)
}

// FromRecordBatch wraps a sorted record batch as a Block, assigning it
// id and computing its content hash (setsum) over the logical row
// content (not the physical IPC bytes), so that two blocks with
// identical rows but different physical layouts hash identically.
func FromRecordBatch(id uuid.UUID, keyKind compositekey.KeyKind, batch arrow.Record) (*Block, error) {
	b := &Block{id: id, keyKind: keyKind, batch: batch, size: sizeOfRecord(batch)}
	setsum, err := b.computeSetsum()
	if err != nil {
		return nil, err
	}
	b.setsum = setsum
	return b, nil
}

func (b *Block) computeSetsum() ([sha256.Size]byte, error) {
	h := sha256.New()
	n := int(b.batch.NumRows())
	for i := 0; i < n; i++ {
		row, ok := b.GetAtIndex(i)
		if !ok {
			return [sha256.Size]byte{}, hdberr.Newf(hdberr.Internal, "block: row %d missing during setsum computation", i)
		}
		fmt.Fprintf(h, "%s\x00%s\x00", row.Prefix, row.Key.String())
		h.Write(row.Value)
		h.Write([]byte{0})
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (b *Block) ID() uuid.UUID                 { return b.id }
func (b *Block) Setsum() [sha256.Size]byte     { return b.setsum }
func (b *Block) KeyKind() compositekey.KeyKind { return b.keyKind }
func (b *Block) NumRows() int                  { return int(b.batch.NumRows()) }

// Size returns the single authoritative byte size: the sum, over every
// buffer of every column (including nested children and null bitmaps),
// of round_up(len, 64).
func (b *Block) Size() uint64 { return b.size }

// ToBytes serializes the block as an Arrow IPC file with a single
// record batch, embedding setsum and key-kind as schema metadata.
func (b *Block) ToBytes() ([]byte, error) {
	schema, err := Schema(b.keyKind, fmt.Sprintf("%x", b.setsum))
	if err != nil {
		return nil, err
	}
	// Re-tag the record's schema with our metadata without touching the
	// column data, then write it as a one-batch IPC file.
	tagged := array.NewRecord(schema, b.batch.Columns(), b.batch.NumRows())
	defer tagged.Release()

	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "block: creating ipc file writer", err)
	}
	if err := w.Write(tagged); err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "block: writing record batch", err)
	}
	if err := w.Close(); err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "block: closing ipc file writer", err)
	}
	return buf.Bytes(), nil
}

// FromBytes deserializes bytes previously produced by ToBytes, assigning
// it the given id (ids are never embedded in the wire format; the
// BlockManager derives them from the object-store key). strict controls
// whether buffer alignment is re-validated (spec.md section 4.1, 8.5).
func FromBytes(data []byte, id uuid.UUID, strict bool) (*Block, error) {
	r, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "block: opening ipc file reader", err)
	}
	defer r.Close()

	if r.NumRecords() != 1 {
		return nil, hdberr.Newf(hdberr.Internal, "block: expected exactly one record batch, got %d", r.NumRecords())
	}
	rec, err := r.Record(0)
	if err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "block: decoding record batch", err)
	}
	rec.Retain()

	if strict {
		if err := validateAlignment(rec); err != nil {
			return nil, err
		}
	}

	md := rec.Schema().Metadata()
	keyKindStr, ok := md.GetValue(metaKeyKeyKind)
	if !ok {
		return nil, hdberr.New(hdberr.Internal, "block: missing key-kind metadata")
	}
	keyKind, err := keyKindFromString(keyKindStr)
	if err != nil {
		return nil, err
	}

	b := &Block{id: id, keyKind: keyKind, batch: rec, size: sizeOfRecord(rec)}
	if setsumHex, ok := md.GetValue(metaKeySetsum); ok {
		if raw, err := hex.DecodeString(setsumHex); err == nil && len(raw) == sha256.Size {
			copy(b.setsum[:], raw)
		}
	}
	return b, nil
}

func (b *Block) keyAt(i int) compositekey.KeyWrapper {
	col := b.batch.Column(1)
	switch b.keyKind {
	case compositekey.KindString:
		return compositekey.StringKey(col.(*array.String).Value(i))
	case compositekey.KindFloat32:
		return compositekey.Float32Key(col.(*array.Float32).Value(i))
	case compositekey.KindBool:
		return compositekey.BoolKey(col.(*array.Boolean).Value(i))
	case compositekey.KindUint32:
		return compositekey.Uint32Key(col.(*array.Uint32).Value(i))
	default:
		return compositekey.KeyWrapper{}
	}
}

// GetAtIndex returns the i-th row, if in range.
func (b *Block) GetAtIndex(i int) (Row, bool) {
	if i < 0 || i >= b.NumRows() {
		return Row{}, false
	}
	prefixCol := b.batch.Column(0).(*array.String)
	valueCol := b.batch.Column(2).(*array.LargeBinary)
	return Row{
		Prefix: prefixCol.Value(i),
		Key:    b.keyAt(i),
		Value:  append([]byte(nil), valueCol.Value(i)...),
	}, true
}

func (b *Block) compareRowAt(i int, prefix string, key compositekey.KeyWrapper) int {
	ck := compositekey.New(prefix, key)
	row, _ := b.GetAtIndex(i)
	return compositekey.New(row.Prefix, row.Key).Compare(ck)
}

// Get performs a binary search for (prefix, key) since rows are sorted.
func (b *Block) Get(prefix string, key compositekey.KeyWrapper) ([]byte, bool) {
	n := b.NumRows()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if b.compareRowAt(mid, prefix, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && b.compareRowAt(lo, prefix, key) == 0 {
		row, _ := b.GetAtIndex(lo)
		return row.Value, true
	}
	return nil, false
}

// lowerBound returns the first index i such that row[i] >= (prefix, key).
func (b *Block) lowerBound(prefix string, key compositekey.KeyWrapper) int {
	n := b.NumRows()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if b.compareRowAt(mid, prefix, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (b *Block) collect(lo, hi int) []Row {
	if lo < 0 {
		lo = 0
	}
	if hi > b.NumRows() {
		hi = b.NumRows()
	}
	out := make([]Row, 0, hi-lo)
	for i := lo; i < hi; i++ {
		row, _ := b.GetAtIndex(i)
		out = append(out, row)
	}
	return out
}

// GetPrefix returns every row with the given prefix.
func (b *Block) GetPrefix(prefix string) []Row {
	n := b.NumRows()
	out := make([]Row, 0)
	for i := 0; i < n; i++ {
		row, _ := b.GetAtIndex(i)
		if row.Prefix == prefix {
			out = append(out, row)
		}
	}
	return out
}

// GetGTE returns every row with CompositeKey >= (prefix, key).
func (b *Block) GetGTE(prefix string, key compositekey.KeyWrapper) []Row {
	return b.collect(b.lowerBound(prefix, key), b.NumRows())
}

// GetGT returns every row with CompositeKey > (prefix, key).
func (b *Block) GetGT(prefix string, key compositekey.KeyWrapper) []Row {
	i := b.lowerBound(prefix, key)
	for i < b.NumRows() && b.compareRowAt(i, prefix, key) == 0 {
		i++
	}
	return b.collect(i, b.NumRows())
}

// GetLTE returns every row with CompositeKey <= (prefix, key).
func (b *Block) GetLTE(prefix string, key compositekey.KeyWrapper) []Row {
	i := b.lowerBound(prefix, key)
	for i < b.NumRows() && b.compareRowAt(i, prefix, key) == 0 {
		i++
	}
	return b.collect(0, i)
}

// GetLT returns every row with CompositeKey < (prefix, key).
func (b *Block) GetLT(prefix string, key compositekey.KeyWrapper) []Row {
	return b.collect(0, b.lowerBound(prefix, key))
}
