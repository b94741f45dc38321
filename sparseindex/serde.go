package sparseindex

import (
	"sort"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
)

func sortDelimiters(idx *SparseIndex) {
	sort.Slice(idx.forward, func(a, b int) bool { return idx.forward[a].delim.Less(idx.forward[b].delim) })
}

// ToBlock serializes the index itself as a Block whose key schema
// matches keyKind and whose value is the UUID string of the pointed-to
// block (spec.md section 4.3, 9). The root row uses the sentinel prefix
// "START" with the zero value of the key kind.
func (s *SparseIndex) ToBlock(blockID uuid.UUID, keyKind compositekey.KeyKind) (*block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delta := block.NewDelta(blockID, keyKind)
	for _, e := range s.forward {
		prefix := compositekey.StartPrefix
		key := zeroKey(keyKind)
		if !e.delim.IsStart() {
			ck := e.delim.CompositeKey()
			prefix = ck.Prefix
			key = ck.Key
		}
		delta.Add(prefix, key, []byte(e.block.String()))
	}
	rec, err := delta.Finish()
	if err != nil {
		return nil, err
	}
	return block.FromRecordBatch(blockID, keyKind, rec)
}

func zeroKey(kind compositekey.KeyKind) compositekey.KeyWrapper {
	switch kind {
	case compositekey.KindString:
		return compositekey.StringKey("")
	case compositekey.KindFloat32:
		return compositekey.Float32Key(0)
	case compositekey.KindBool:
		return compositekey.BoolKey(false)
	case compositekey.KindUint32:
		return compositekey.Uint32Key(0)
	default:
		return compositekey.KeyWrapper{}
	}
}

// FromBlock deserializes a block previously produced by ToBlock back
// into a SparseIndex.
func FromBlock(b *block.Block, indexID uuid.UUID) (*SparseIndex, error) {
	idx := New(indexID)
	n := b.NumRows()
	if n == 0 {
		return nil, hdberr.New(hdberr.Internal, "sparseindex: cannot deserialize from an empty block")
	}
	for i := 0; i < n; i++ {
		row, _ := b.GetAtIndex(i)
		bid, err := uuid.Parse(string(row.Value))
		if err != nil {
			return nil, hdberr.Wrap(hdberr.Internal, "sparseindex: decoding block id", err)
		}
		if row.Prefix == compositekey.StartPrefix {
			idx.forward = append(idx.forward, entry{delim: Start, block: bid})
			idx.reverse[bid] = Start
			continue
		}
		ck := compositekey.New(row.Prefix, row.Key)
		d := Key(ck)
		idx.forward = append(idx.forward, entry{delim: d, block: bid})
		idx.reverse[bid] = d
	}
	// The block's rows are sorted by raw CompositeKey, which may not
	// place the sentinel "START" row first; re-sort by true Delimiter
	// order (Start < everything) to restore the forward-map invariant.
	sortDelimiters(idx)
	return idx, nil
}
