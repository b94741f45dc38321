package metadata

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hunddb/hunddb-core/hdberr"
)

// decodePosting deserializes a roaring-encoded offset-id set, the
// compact representation spec.md section 4.9's postings use (a metadata
// value's posting list can span a large fraction of a collection, which
// is exactly roaring's sweet spot).
func decodePosting(data []byte) []uint32 {
	bm := roaring.New()
	if _, err := bm.FromBuffer(data); err != nil {
		return nil
	}
	return bm.ToArray()
}

func encodePosting(ids []uint32) []byte {
	bm := roaring.New()
	bm.AddMany(ids)
	data, err := bm.ToBytes()
	if err != nil {
		panic(hdberr.Wrap(hdberr.Internal, "metadata segment: encoding posting bitmap", err))
	}
	return data
}

// applyPostingDiff folds adds/removes into base's posting set via
// roaring bitmap operations, returning the result as a sorted slice.
func applyPostingDiff(base []uint32, adds, removes map[uint32]struct{}) []uint32 {
	bm := roaring.New()
	bm.AddMany(base)
	for id := range removes {
		bm.Remove(id)
	}
	for id := range adds {
		bm.Add(id)
	}
	return bm.ToArray()
}
