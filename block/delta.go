package block

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/internal/orderedmap"
)

// Delta is C2 of the component table: a mutable in-memory builder
// accumulating (prefix, key, value) writes, addressed by CompositeKey,
// supporting split by target byte size. It generalizes the teacher's
// memtable (structures/memtable) from a single string-keyed map into an
// ordered CompositeKey map feeding Arrow block construction.
type Delta struct {
	id      uuid.UUID
	keyKind compositekey.KeyKind
	rows    *orderedmap.SkipList[compositekey.CompositeKey, []byte]
}

func lessCompositeKey(a, b compositekey.CompositeKey) bool { return a.Less(b) }

// NewDelta creates an empty delta for the given key kind.
func NewDelta(id uuid.UUID, keyKind compositekey.KeyKind) *Delta {
	return &Delta{
		id:      id,
		keyKind: keyKind,
		rows:    orderedmap.New[compositekey.CompositeKey, []byte](lessCompositeKey),
	}
}

func (d *Delta) ID() uuid.UUID { return d.id }

// Add inserts or overwrites the value at (prefix, key).
func (d *Delta) Add(prefix string, key compositekey.KeyWrapper, value []byte) {
	d.rows.Set(compositekey.New(prefix, key), value)
}

// Delete removes (prefix, key) from the pending delta, if present.
func (d *Delta) Delete(prefix string, key compositekey.KeyWrapper) {
	d.rows.Delete(compositekey.New(prefix, key))
}

// Get returns the pending value at (prefix, key), if any.
func (d *Delta) Get(prefix string, key compositekey.KeyWrapper) ([]byte, bool) {
	return d.rows.Get(compositekey.New(prefix, key))
}

// Len returns the number of pending rows.
func (d *Delta) Len() int { return d.rows.Len() }

// IterInOrder calls fn for every pending row in ascending CompositeKey
// order, stopping early if fn returns false.
func (d *Delta) IterInOrder(fn func(ck compositekey.CompositeKey, value []byte) bool) {
	d.rows.Range(fn)
}

// perRowCost is the pre-materialization byte estimate for one row: a
// stand-in for what the row will cost once padded into Arrow buffers.
// It does not need to match Block.Size() exactly -- only closely enough
// that Split's slices land under max_bytes after the real Finish.
func perRowCost(ck compositekey.CompositeKey, value []byte) uint64 {
	keyCost := 4 // f32/u32/bool are fixed width
	if ck.Key.Kind == compositekey.KindString {
		keyCost = len(ck.Key.Str)
	}
	return uint64(len(ck.Prefix) + keyCost + len(value) + 16) // +16 for offset/validity overhead
}

// EstimatedSize sums perRowCost over all pending rows, rounded up to the
// 64-byte block-buffer granularity so callers can compare directly
// against max_block_size_bytes.
func (d *Delta) EstimatedSize() uint64 {
	var total uint64
	d.rows.Range(func(ck compositekey.CompositeKey, v []byte) bool {
		total += perRowCost(ck, v)
		return true
	})
	return roundUp64(int(total))
}

// Finish materializes the pending rows into a sorted Arrow record batch.
func (d *Delta) Finish() (arrow.Record, error) {
	mem := memory.DefaultAllocator
	prefixBuilder := array.NewStringBuilder(mem)
	defer prefixBuilder.Release()
	valueBuilder := array.NewLargeBinaryBuilder(mem, arrow.BinaryTypes.LargeBinary.(*arrow.LargeBinaryType))
	defer valueBuilder.Release()

	var keyBuilder array.Builder
	switch d.keyKind {
	case compositekey.KindString:
		keyBuilder = array.NewStringBuilder(mem)
	case compositekey.KindFloat32:
		keyBuilder = array.NewFloat32Builder(mem)
	case compositekey.KindBool:
		keyBuilder = array.NewBooleanBuilder(mem)
	case compositekey.KindUint32:
		keyBuilder = array.NewUint32Builder(mem)
	}
	defer keyBuilder.Release()

	n := 0
	d.rows.Range(func(ck compositekey.CompositeKey, v []byte) bool {
		prefixBuilder.Append(ck.Prefix)
		valueBuilder.Append(v)
		switch d.keyKind {
		case compositekey.KindString:
			keyBuilder.(*array.StringBuilder).Append(ck.Key.Str)
		case compositekey.KindFloat32:
			keyBuilder.(*array.Float32Builder).Append(ck.Key.F32)
		case compositekey.KindBool:
			keyBuilder.(*array.BooleanBuilder).Append(ck.Key.Bool)
		case compositekey.KindUint32:
			keyBuilder.(*array.Uint32Builder).Append(ck.Key.U32)
		}
		n++
		return true
	})

	schema, err := Schema(d.keyKind, "")
	if err != nil {
		return nil, err
	}
	prefixArr := prefixBuilder.NewArray()
	defer prefixArr.Release()
	keyArr := keyBuilder.NewArray()
	defer keyArr.Release()
	valueArr := valueBuilder.NewArray()
	defer valueArr.Release()

	rec := array.NewRecord(schema, []arrow.Array{prefixArr, keyArr, valueArr}, int64(n))
	return rec, nil
}

// Split partitions the delta into the minimum number of contiguous
// ordered slices whose summed perRowCost is each <= maxBytes; a row
// costing more than maxBytes on its own gets a slice to itself. The
// bound is on the unrounded sum, so a slice's EstimatedSize (rounded
// up to 64 bytes) can exceed maxBytes. The first slice keeps the
// original id; later slices receive fresh ids.
func (d *Delta) Split(maxBytes uint64) []*Delta {
	type kv struct {
		ck compositekey.CompositeKey
		v  []byte
	}
	all := make([]kv, 0, d.rows.Len())
	d.rows.Range(func(ck compositekey.CompositeKey, v []byte) bool {
		all = append(all, kv{ck, v})
		return true
	})
	if len(all) == 0 {
		return []*Delta{d}
	}

	var slices []*Delta
	cur := NewDelta(d.id, d.keyKind)
	var curSize uint64
	for _, e := range all {
		cost := perRowCost(e.ck, e.v)
		if curSize+cost > maxBytes && cur.Len() > 0 {
			slices = append(slices, cur)
			cur = NewDelta(uuid.New(), d.keyKind)
			curSize = 0
		}
		cur.Add(e.ck.Prefix, e.ck.Key, e.v)
		curSize += cost
	}
	slices = append(slices, cur)
	return slices
}
