package sparsevec

import (
	"container/heap"
	"sort"
)

// topKHeap keeps the k highest-scoring Hits seen so far, as a min-heap
// on Score so threshold() (the score a new Hit must beat) is a O(1)
// peek.
type topKHeap struct {
	k    int
	hits hitHeap
}

func newTopKHeap(k int) *topKHeap {
	return &topKHeap{k: k}
}

// threshold returns the minimum score currently required to enter the
// top-k, or 0 if fewer than k hits have been seen.
func (t *topKHeap) threshold() float64 {
	if len(t.hits) < t.k {
		return 0
	}
	return t.hits[0].Score
}

func (t *topKHeap) push(h Hit) {
	if len(t.hits) < t.k {
		heap.Push(&t.hits, h)
		return
	}
	if h.Score > t.hits[0].Score {
		heap.Pop(&t.hits)
		heap.Push(&t.hits, h)
	}
}

// sorted returns the accumulated hits in descending-score order.
func (t *topKHeap) sorted() []Hit {
	out := append([]Hit(nil), t.hits...)
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
