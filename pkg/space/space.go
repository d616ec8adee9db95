// Package space holds embedding spaces and the lexicons that link two of them.
//
// A Space is an ordered list of tokens with one D-dimensional row vector per
// token. Row order is the file order, which for word vectors is usually
// frequency order; NegativePool relies on that by taking a prefix.
package space

import (
	"fmt"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// normEps keeps zero rows finite when normalising.
const normEps = 1e-8

// Space is an immutable token → vector table.
type Space struct {
	Words   []string
	Vectors *mat.Dense
	index   map[string]int
}

// New builds a Space over words and the matching rows of vectors. Tokens
// must be unique and the row count must equal len(words).
func New(words []string, vectors *mat.Dense) (*Space, error) {
	if len(words) == 0 || vectors == nil {
		return nil, core.Errorf("new_space", core.ErrDegenerate, "space has no vectors")
	}
	rows, _ := vectors.Dims()
	if rows != len(words) {
		return nil, core.Errorf("new_space", core.ErrDimensionMismatch,
			"%d words but %d vectors", len(words), rows)
	}

	index := make(map[string]int, len(words))
	for i, w := range words {
		if prev, dup := index[w]; dup {
			return nil, core.WrapError("new_space",
				fmt.Errorf("duplicate token %q at rows %d and %d", w, prev, i))
		}
		index[w] = i
	}

	return &Space{Words: words, Vectors: vectors, index: index}, nil
}

// Len returns the number of vectors.
func (s *Space) Len() int { return len(s.Words) }

// Dim returns the vector dimension.
func (s *Space) Dim() int {
	_, c := s.Vectors.Dims()
	return c
}

// Index returns the row of word.
func (s *Space) Index(word string) (int, bool) {
	i, ok := s.index[word]
	return i, ok
}

// Prefix returns a copy of the first min(n, Len) rows, or nil when n <= 0.
func (s *Space) Prefix(n int) *mat.Dense {
	if n > s.Len() {
		n = s.Len()
	}
	if n <= 0 {
		return nil
	}
	out := mat.NewDense(n, s.Dim(), nil)
	out.Copy(s.Vectors.Slice(0, n, 0, s.Dim()))
	return out
}

// WithVectors returns a Space sharing s's tokens but holding vectors,
// which must have the same row count. Used to wrap a transformed space.
func (s *Space) WithVectors(vectors *mat.Dense) (*Space, error) {
	rows, _ := vectors.Dims()
	if rows != s.Len() {
		return nil, core.Errorf("with_vectors", core.ErrDimensionMismatch,
			"space has %d rows, got %d", s.Len(), rows)
	}
	return &Space{Words: s.Words, Vectors: vectors, index: s.index}, nil
}

// NormalizeRows scales every row of m to unit L2 norm in place. Zero rows
// stay zero.
func NormalizeRows(m *mat.Dense) {
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		floats.Scale(1/(floats.Norm(row, 2)+normEps), row)
	}
}

// CenterRows subtracts the mean row from every row of m in place.
func CenterRows(m *mat.Dense) {
	raw := m.RawMatrix()
	if raw.Rows == 0 {
		return
	}
	mean := make([]float64, raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		floats.Add(mean, raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols])
	}
	floats.Scale(1/float64(raw.Rows), mean)
	for i := 0; i < raw.Rows; i++ {
		floats.Sub(raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols], mean)
	}
}
