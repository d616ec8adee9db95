// Package eval scores an alignment against a held-out lexicon.
//
// Both metrics work on cosine similarity: rows are compared after scaling to
// unit length, without modifying the caller's matrices. A source token
// counts as translated when the best-scoring target row is one of its gold
// targets.
package eval

import (
	"fmt"

	"github.com/liliang-cn/vecalign/pkg/core"
	"github.com/liliang-cn/vecalign/pkg/index"
	"github.com/liliang-cn/vecalign/pkg/space"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// rows scored per matrix product; bounds memory at batchRows × N floats
	batchRows = 256
	normEps   = 1e-8
)

// Score is the outcome of one evaluation.
type Score struct {
	Accuracy float64 `json:"accuracy"` // Matched / Seen
	Coverage float64 `json:"coverage"` // Seen / Total
	Matched  int     `json:"matched"`
	Seen     int     `json:"seen"`  // lexicon entries inside the loaded vocabulary
	Total    int     `json:"total"` // distinct source tokens in the lexicon file
}

// String formats the score the way progress lines print it
func (s Score) String() string {
	return fmt.Sprintf("acc=%.4f coverage=%.4f (%d/%d)", s.Accuracy, s.Coverage, s.Matched, s.Seen)
}

// NNAccuracy scores plain nearest-neighbor retrieval: each lexicon source
// row of xsrc (already mapped into the target frame) is matched to the
// target row of highest cosine similarity.
func NNAccuracy(xsrc, xtgt *mat.Dense, lex *space.Lexicon) (Score, error) {
	sources, err := prepare("nn_accuracy", xsrc, xtgt, lex)
	if err != nil {
		return Score{}, err
	}

	invSrc := inverseNorms(xsrc)
	invTgt := inverseNorms(xtgt)

	matched := 0
	for start := 0; start < len(sources); start += batchRows {
		end := min(start+batchRows, len(sources))
		rows := sources[start:end]

		sc := cosineScores(gatherRows(xsrc, rows), xtgt, pick(invSrc, rows), invTgt)
		raw := sc.RawMatrix()
		for i, src := range rows {
			best := index.ArgMax(raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols])
			if lex.Contains(src, best) {
				matched++
			}
		}
	}

	return newScore(matched, lex), nil
}

// CSLSAccuracy scores retrieval under cross-domain similarity local
// scaling: score(x, y) = 2·cos(x, y) − r_src(x) − r_tgt(y), where r_src(x)
// is the mean similarity of x to its k nearest target rows and r_tgt(y) the
// mean similarity of y to its k nearest source rows. Hub targets, close to
// everything, are pushed down.
func CSLSAccuracy(xsrc, xtgt *mat.Dense, lex *space.Lexicon, k int) (Score, error) {
	sources, err := prepare("csls_accuracy", xsrc, xtgt, lex)
	if err != nil {
		return Score{}, err
	}
	if k < 1 {
		return Score{}, core.Errorf("csls_accuracy", core.ErrInvalidConfig, "knn must be positive, got %d", k)
	}

	invSrc := inverseNorms(xsrc)
	invTgt := inverseNorms(xtgt)
	nt, _ := xtgt.Dims()
	rTgt := targetDensity(xsrc, xtgt, invSrc, invTgt, k)

	matched := 0
	idx := make([]int, nt)
	for start := 0; start < len(sources); start += batchRows {
		end := min(start+batchRows, len(sources))
		rows := sources[start:end]

		sc := cosineScores(gatherRows(xsrc, rows), xtgt, pick(invSrc, rows), invTgt)
		raw := sc.RawMatrix()
		for i, src := range rows {
			row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
			rSrc := index.MeanTopK(row, k, idx)
			for j := range row {
				row[j] = 2*row[j] - rSrc - rTgt[j]
			}
			if lex.Contains(src, index.ArgMax(row)) {
				matched++
			}
		}
	}

	return newScore(matched, lex), nil
}

// targetDensity returns r_tgt: for every target row the mean cosine
// similarity to its k nearest source rows.
func targetDensity(xsrc, xtgt *mat.Dense, invSrc, invTgt []float64, k int) []float64 {
	nt, d := xtgt.Dims()
	rTgt := make([]float64, nt)
	for start := 0; start < nt; start += batchRows {
		end := min(start+batchRows, nt)
		block := xtgt.Slice(start, end, 0, d)
		sc := cosineScores(block, xsrc, invTgt[start:end], invSrc)
		copy(rTgt[start:end], index.RowMeanTopK(sc, k))
	}
	return rTgt
}

func prepare(op string, xsrc, xtgt *mat.Dense, lex *space.Lexicon) ([]int, error) {
	if lex == nil || lex.Len() == 0 {
		return nil, core.Errorf(op, core.ErrUndefinedAccuracy, "no lexicon entry inside the vocabulary")
	}
	if xsrc == nil || xtgt == nil || xsrc.IsEmpty() || xtgt.IsEmpty() {
		return nil, core.Errorf(op, core.ErrDegenerate, "empty vector space")
	}
	ns, ds := xsrc.Dims()
	nt, dt := xtgt.Dims()
	if ds != dt {
		return nil, core.Errorf(op, core.ErrDimensionMismatch, "source has dimension %d, target %d", ds, dt)
	}

	sources := lex.Sources()
	for _, src := range sources {
		if src < 0 || src >= ns {
			return nil, core.WrapError(op, fmt.Errorf("lexicon source row %d outside %d source vectors", src, ns))
		}
		for tgt := range lex.Entries[src] {
			if tgt < 0 || tgt >= nt {
				return nil, core.WrapError(op, fmt.Errorf("lexicon target row %d outside %d target vectors", tgt, nt))
			}
		}
	}
	return sources, nil
}

func newScore(matched int, lex *space.Lexicon) Score {
	s := Score{
		Matched:  matched,
		Seen:     lex.Len(),
		Total:    max(lex.Size, lex.Len()),
		Accuracy: float64(matched) / float64(lex.Len()),
	}
	s.Coverage = float64(s.Seen) / float64(s.Total)
	return s
}

// cosineScores returns a·bᵗ with row i scaled by invA[i] and column j by invB[j].
func cosineScores(a, b mat.Matrix, invA, invB []float64) *mat.Dense {
	var sc mat.Dense
	sc.Mul(a, b.T())
	raw := sc.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		floats.Mul(row, invB)
		floats.Scale(invA[i], row)
	}
	return &sc
}

func inverseNorms(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	out := make([]float64, raw.Rows)
	for i := range out {
		out[i] = 1 / (floats.Norm(raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols], 2) + normEps)
	}
	return out
}

func gatherRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for k, i := range rows {
		out.SetRow(k, m.RawRowView(i))
	}
	return out
}

func pick(values []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for k, i := range rows {
		out[k] = values[i]
	}
	return out
}
