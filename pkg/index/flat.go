package index

import (
	"container/heap"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Neighbor is one search hit: a row of the indexed matrix and its score.
type Neighbor struct {
	Row   int
	Score float64
}

// Flat is a brute-force exact cosine-similarity index over the rows of a
// matrix. The matrix is referenced, not copied, and must not change while
// the index is in use. Flat is safe for concurrent searches.
type Flat struct {
	data *mat.Dense
	inv  []float64 // inverse row norms
}

// NewFlat indexes the rows of m.
func NewFlat(m *mat.Dense) *Flat {
	raw := m.RawMatrix()
	inv := make([]float64, raw.Rows)
	for i := range inv {
		inv[i] = 1 / (floats.Norm(raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols], 2) + 1e-8)
	}
	return &Flat{data: m, inv: inv}
}

// Len returns the number of indexed rows
func (f *Flat) Len() int { return len(f.inv) }

// Scores writes the cosine similarity of query to every row into dst,
// allocating it when it is too small.
func (f *Flat) Scores(query []float64, dst []float64) ([]float64, error) {
	raw := f.data.RawMatrix()
	if len(query) != raw.Cols {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", raw.Cols, len(query))
	}
	if cap(dst) < raw.Rows {
		dst = make([]float64, raw.Rows)
	}
	dst = dst[:raw.Rows]

	qn := floats.Norm(query, 2) + 1e-8
	for i := range dst {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		dst[i] = floats.Dot(query, row) * f.inv[i] / qn
	}
	return dst, nil
}

// Search returns the k rows most similar to query, best first.
func (f *Flat) Search(query []float64, k int) ([]Neighbor, error) {
	scores, err := f.Scores(query, nil)
	if err != nil {
		return nil, err
	}
	return Rank(scores, k), nil
}

// Rank returns the k best entries of scores, best first. Ties go to the
// lower row.
func Rank(scores []float64, k int) []Neighbor {
	if k > len(scores) {
		k = len(scores)
	}
	if k <= 0 {
		return []Neighbor{}
	}

	// min-heap of the k best seen so far
	h := make(neighborHeap, 0, k)
	for i, s := range scores {
		if h.Len() < k {
			heap.Push(&h, Neighbor{Row: i, Score: s})
		} else if s > h[0].Score {
			h[0] = Neighbor{Row: i, Score: s}
			heap.Fix(&h, 0)
		}
	}

	out := []Neighbor(h)
	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].Row < out[b].Row
	})
	return out
}

type neighborHeap []Neighbor

func (h neighborHeap) Len() int { return len(h) }
func (h neighborHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Row > h[j].Row
}
func (h neighborHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x any) {
	*h = append(*h, x.(Neighbor))
}

func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
