package vector

import "encoding/json"

// FlatBackend is a brute-force Backend: useful for small collections
// and as the reference implementation Query checks an HNSW/SPANN
// backend's results against. It is the backend this module ships with
// since no ANN library is part of the wired dependency set (see
// DESIGN.md); a production deployment swaps in an HNSW- or
// SPANN-backed Backend behind the same interface.
type FlatBackend struct {
	vectors map[uint32][]float32
}

// NewFlatBackend returns an empty backend.
func NewFlatBackend() *FlatBackend {
	return &FlatBackend{vectors: make(map[uint32][]float32)}
}

func (b *FlatBackend) Upsert(offsetID uint32, embedding []float32) error {
	cp := append([]float32(nil), embedding...)
	b.vectors[offsetID] = cp
	return nil
}

func (b *FlatBackend) Remove(offsetID uint32) error {
	delete(b.vectors, offsetID)
	return nil
}

func (b *FlatBackend) Serialize() ([]byte, error) {
	return json.Marshal(b.vectors)
}

func (b *FlatBackend) Deserialize(data []byte) error {
	vectors := make(map[uint32][]float32)
	if err := json.Unmarshal(data, &vectors); err != nil {
		return err
	}
	b.vectors = vectors
	return nil
}

// Query returns the offset ids with the topK smallest squared euclidean
// distance to query.
func (b *FlatBackend) Query(query []float32, topK int) []uint32 {
	type scored struct {
		id   uint32
		dist float32
	}
	scores := make([]scored, 0, len(b.vectors))
	for id, v := range b.vectors {
		scores = append(scores, scored{id: id, dist: squaredDistance(query, v)})
	}
	// simple partial selection sort, adequate for the small collections
	// this backend targets
	for i := 0; i < topK && i < len(scores); i++ {
		min := i
		for j := i + 1; j < len(scores); j++ {
			if scores[j].dist < scores[min].dist {
				min = j
			}
		}
		scores[i], scores[min] = scores[min], scores[i]
	}
	if topK > len(scores) {
		topK = len(scores)
	}
	out := make([]uint32, topK)
	for i := 0; i < topK; i++ {
		out[i] = scores[i].id
	}
	return out
}

func squaredDistance(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
