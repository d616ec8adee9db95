// Package index provides the exact k-nearest-neighbor selection used by the
// RCSLS objective and by CSLS evaluation, and a brute-force cosine index for
// translation lookups.
//
// Selection is partial: the k best columns of a score row are moved to the
// front of an index buffer with quickselect, without ordering them. Callers
// only rely on the set of selected columns (or on their mean), never on the
// order inside it.
package index

import (
	"gonum.org/v1/gonum/mat"
)

// SelectTopK returns the indices of the k largest entries of scores, in
// unspecified order. idx is scratch space reused across calls; when it is
// too small a new buffer is allocated. The result aliases idx.
//
// If k >= len(scores) every index is returned; if k <= 0 none is.
func SelectTopK(scores []float64, k int, idx []int) []int {
	n := len(scores)
	if cap(idx) < n {
		idx = make([]int, n)
	}
	idx = idx[:n]
	if k <= 0 || n == 0 {
		return idx[:0]
	}
	for i := range idx {
		idx[i] = i
	}
	if k >= n {
		return idx
	}

	target := k - 1
	lo, hi := 0, n-1
	for lo < hi {
		lt, gt := partition(scores, idx, lo, hi)
		switch {
		case target < lt:
			hi = lt - 1
		case target > gt:
			lo = gt + 1
		default:
			return idx[:k]
		}
	}
	return idx[:k]
}

// MeanTopK returns the mean of the k largest entries of scores, or 0 when
// nothing is selected.
func MeanTopK(scores []float64, k int, idx []int) float64 {
	sel := SelectTopK(scores, k, idx)
	if len(sel) == 0 {
		return 0
	}
	var sum float64
	for _, j := range sel {
		sum += scores[j]
	}
	return sum / float64(len(sel))
}

// RowMeanTopK returns, for every row of m, the mean of its k largest entries.
func RowMeanTopK(m mat.RawMatrixer, k int) []float64 {
	raw := m.RawMatrix()
	out := make([]float64, raw.Rows)
	idx := make([]int, raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		out[i] = MeanTopK(row, k, idx)
	}
	return out
}

// ArgMax returns the index of the largest entry, or -1 for an empty slice.
// Ties resolve to the lowest index.
func ArgMax(scores []float64) int {
	best := -1
	for j, s := range scores {
		if best < 0 || s > scores[best] {
			best = j
		}
	}
	return best
}

// partition rearranges idx[lo..hi] around the score of its middle element,
// descending: [lo,lt) holds larger scores, [lt,gt] equal ones and (gt,hi]
// smaller ones. Grouping the equal scores keeps runs of ties from
// degrading the selection to quadratic time.
func partition(scores []float64, idx []int, lo, hi int) (int, int) {
	pivot := scores[idx[lo+(hi-lo)/2]]
	lt, i, gt := lo, lo, hi
	for i <= gt {
		s := scores[idx[i]]
		switch {
		case s > pivot:
			idx[lt], idx[i] = idx[i], idx[lt]
			lt++
			i++
		case s < pivot:
			idx[i], idx[gt] = idx[gt], idx[i]
			gt--
		default:
			i++
		}
	}
	return lt, gt
}
