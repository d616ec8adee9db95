package align

import (
	"github.com/liliang-cn/vecalign/pkg/core"
	"github.com/liliang-cn/vecalign/pkg/index"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Objective is the RCSLS loss over a fixed set of matched pairs and two
// static negative pools.
//
// For a batch of n pairs and transformed sources X' = X·Rᵗ the loss is
//
//	−( 2·Σ X'⊙Y − knn(X'·Z_tgtᵗ) − knn(Y·(Z_src·Rᵗ)ᵗ) ) / n
//
// where knn sums, per row, the mean of the k largest scores.
type Objective struct {
	X, Y       *mat.Dense // matched pairs, n×d
	ZSrc, ZTgt *mat.Dense // negative pools, nil when empty
	K          int
}

// NewObjective validates shapes. Pools may be nil (or empty) to disable
// hard-negative mining on that side.
func NewObjective(x, y, zsrc, ztgt *mat.Dense, k int) (*Objective, error) {
	if err := checkPaired("new_objective", x, y); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, core.Errorf("new_objective", core.ErrInvalidConfig, "knn must be positive, got %d", k)
	}
	_, d := x.Dims()
	for _, z := range []*mat.Dense{zsrc, ztgt} {
		if z == nil || z.IsEmpty() {
			continue
		}
		if _, zc := z.Dims(); zc != d {
			return nil, core.Errorf("new_objective", core.ErrDimensionMismatch,
				"negative pool has dimension %d, pairs %d", zc, d)
		}
	}
	return &Objective{X: x, Y: y, ZSrc: nonEmpty(zsrc), ZTgt: nonEmpty(ztgt), K: k}, nil
}

// Len returns the number of matched pairs.
func (o *Objective) Len() int {
	r, _ := o.X.Dims()
	return r
}

// Dim returns the vector dimension.
func (o *Objective) Dim() int {
	_, c := o.X.Dims()
	return c
}

// Evaluate returns the loss and its gradient with respect to r, restricted
// to the pairs listed in batch (all pairs when batch is nil).
func (o *Objective) Evaluate(r *mat.Dense, batch []int) (float64, *mat.Dense) {
	xb, yb := o.X, o.Y
	if batch != nil {
		xb, yb = gatherRows(o.X, batch), gatherRows(o.Y, batch)
	}
	n, d := xb.Dims()

	var xt mat.Dense
	xt.Mul(xb, r.T())

	f := 2 * sumProduct(&xt, yb)
	grad := mat.NewDense(d, d, nil)
	grad.Mul(yb.T(), xb)
	grad.Scale(2, grad)

	if o.ZTgt != nil {
		var sc mat.Dense
		sc.Mul(&xt, o.ZTgt.T())
		fk, dfk := mineNeighbors(&sc, xb, o.ZTgt, o.K)
		f -= fk
		grad.Sub(grad, dfk)
	}

	if o.ZSrc != nil {
		var zt, sc mat.Dense
		zt.Mul(o.ZSrc, r.T())
		sc.Mul(yb, zt.T())
		fk, dfk := mineNeighbors(&sc, yb, o.ZSrc, o.K)
		f -= fk
		grad.Sub(grad, dfk.T())
	}

	scale := -1 / float64(n)
	grad.Scale(scale, grad)
	return f * scale, grad
}

// mineNeighbors selects, for every row i of scores, the k best pool columns
// and returns their summed mean score together with the gradient
// Σ_i mean_{j∈knn(i)} pool_jᵗ ⊗ x_i.
func mineNeighbors(scores *mat.Dense, x, pool *mat.Dense, k int) (float64, *mat.Dense) {
	raw := scores.RawMatrix()
	poolRaw := pool.RawMatrix()
	if k > raw.Cols {
		k = raw.Cols
	}

	_, d := x.Dims()
	neighborSum := mat.NewDense(raw.Rows, poolRaw.Cols, nil)
	idx := make([]int, raw.Cols)

	var f float64
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		acc := neighborSum.RawRowView(i)
		for _, j := range index.SelectTopK(row, k, idx) {
			f += row[j]
			floats.Add(acc, poolRaw.Data[j*poolRaw.Stride:j*poolRaw.Stride+poolRaw.Cols])
		}
	}

	grad := mat.NewDense(poolRaw.Cols, d, nil)
	grad.Mul(neighborSum.T(), x)

	kf := float64(k)
	grad.Scale(1/kf, grad)
	return f / kf, grad
}

func sumProduct(a, b *mat.Dense) float64 {
	ar, br := a.RawMatrix(), b.RawMatrix()
	var sum float64
	for i := 0; i < ar.Rows; i++ {
		sum += floats.Dot(
			ar.Data[i*ar.Stride:i*ar.Stride+ar.Cols],
			br.Data[i*br.Stride:i*br.Stride+br.Cols],
		)
	}
	return sum
}

func gatherRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for k, i := range rows {
		out.SetRow(k, m.RawRowView(i))
	}
	return out
}

func nonEmpty(m *mat.Dense) *mat.Dense {
	if m == nil || m.IsEmpty() {
		return nil
	}
	return m
}
