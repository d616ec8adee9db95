package align

import (
	"github.com/liliang-cn/vecalign/internal/encoding"
	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

// Procrustes returns the orthogonal R minimising ||X·Rᵗ − Y||_F for matched
// rows of x and y. With Yᵗ·X = U·Σ·Vᵗ the solution is U·Vᵗ.
//
// Rank-deficient input still yields an orthogonal matrix, but it is not
// unique; callers should supply at least D well-spread pairs.
func Procrustes(x, y *mat.Dense) (*mat.Dense, error) {
	if err := checkPaired("procrustes", x, y); err != nil {
		return nil, err
	}
	if err := encoding.ValidateMatrix(x); err != nil {
		return nil, core.Errorf("procrustes", core.ErrDegenerate, "source: %v", err)
	}
	if err := encoding.ValidateMatrix(y); err != nil {
		return nil, core.Errorf("procrustes", core.ErrDegenerate, "target: %v", err)
	}

	var cross mat.Dense
	cross.Mul(y.T(), x)

	var svd mat.SVD
	if ok := svd.Factorize(&cross, mat.SVDFull); !ok {
		return nil, core.Errorf("procrustes", core.ErrDegenerate, "SVD factorization failed")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	r := &mat.Dense{}
	r.Mul(&u, v.T())
	return r, nil
}

// checkPaired verifies x and y are non-empty with equal shapes.
func checkPaired(op string, x, y *mat.Dense) error {
	if x == nil || y == nil || x.IsEmpty() || y.IsEmpty() {
		return core.WrapError(op, core.ErrEmptyPairs)
	}
	xr, xc := x.Dims()
	yr, yc := y.Dims()
	if xc != yc {
		return core.Errorf(op, core.ErrDimensionMismatch, "source has dimension %d, target %d", xc, yc)
	}
	if xr != yr {
		return core.Errorf(op, core.ErrDimensionMismatch, "%d source rows but %d target rows", xr, yr)
	}
	return nil
}
