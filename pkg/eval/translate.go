package eval

import (
	"fmt"

	"github.com/liliang-cn/vecalign/pkg/core"
	"github.com/liliang-cn/vecalign/pkg/index"
	"gonum.org/v1/gonum/mat"
)

// Translate returns, for each listed source row, the k best target rows,
// best first. With csls > 0 candidates are ranked by CSLS using that
// neighborhood size; otherwise by cosine similarity.
func Translate(xsrc, xtgt *mat.Dense, rows []int, k, csls int) ([][]index.Neighbor, error) {
	if xsrc == nil || xtgt == nil || xsrc.IsEmpty() || xtgt.IsEmpty() {
		return nil, core.Errorf("translate", core.ErrDegenerate, "empty vector space")
	}
	ns, ds := xsrc.Dims()
	if _, dt := xtgt.Dims(); ds != dt {
		return nil, core.Errorf("translate", core.ErrDimensionMismatch, "source has dimension %d, target %d", ds, dt)
	}
	if k < 1 {
		return nil, core.Errorf("translate", core.ErrInvalidConfig, "k must be positive, got %d", k)
	}

	var rTgt []float64
	if csls > 0 {
		rTgt = targetDensity(xsrc, xtgt, inverseNorms(xsrc), inverseNorms(xtgt), csls)
	}

	flat := index.NewFlat(xtgt)
	out := make([][]index.Neighbor, len(rows))
	var scores []float64
	idx := make([]int, flat.Len())
	for i, r := range rows {
		if r < 0 || r >= ns {
			return nil, core.WrapError("translate", fmt.Errorf("source row %d outside %d vectors", r, ns))
		}
		query := xsrc.RawRowView(r)
		if rTgt == nil {
			hits, err := flat.Search(query, k)
			if err != nil {
				return nil, core.WrapError("translate", err)
			}
			out[i] = hits
			continue
		}

		var err error
		if scores, err = flat.Scores(query, scores); err != nil {
			return nil, core.WrapError("translate", err)
		}
		rSrc := index.MeanTopK(scores, csls, idx)
		for j := range scores {
			scores[j] = 2*scores[j] - rSrc - rTgt[j]
		}
		out[i] = index.Rank(scores, k)
	}
	return out, nil
}
