package sparsevec

import (
	"math"

	"github.com/hunddb/hunddb-core/materialize"
)

// IDF computes ln((n - n_t + 0.5)/(n_t + 0.5) + 1) (spec.md section
// 4.10).
func IDF(n, nt int64) float64 {
	return math.Log((float64(n-nt)+0.5)/(float64(nt)+0.5) + 1)
}

// ApplyPostingDeltas folds the pending log's posting-count adjustments
// for metadataKey into nt, so a query issued mid-compaction-window sees
// n_t as it will be post-compaction rather than the last-flushed value
// (spec.md section 4.10: "must incorporate pending log deltas").
func ApplyPostingDeltas(nt map[uint32]int64, metadataKey string, deltas []materialize.PostingDelta) {
	for _, d := range deltas {
		if d.MetadataKey != metadataKey {
			continue
		}
		nt[d.Dimension] += int64(d.Delta)
	}
}

// ScaleQuery returns a copy of q with each dimension's weight
// multiplied by IDF(n, nt[dim]); dimensions absent from nt are treated
// as n_t=0.
func ScaleQuery(q map[uint32]float32, n int64, nt map[uint32]int64) map[uint32]float32 {
	out := make(map[uint32]float32, len(q))
	for dim, w := range q {
		out[dim] = w * float32(IDF(n, nt[dim]))
	}
	return out
}
