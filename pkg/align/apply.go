package align

import (
	"context"

	"github.com/liliang-cn/vecalign/pkg/core"
	"github.com/liliang-cn/vecalign/pkg/space"
	"gonum.org/v1/gonum/mat"
)

// Apply maps every row of x through r, returning x·rᵗ. With normalize set
// each mapped row is scaled to unit length, which is how aligned vector
// files are written.
func Apply(x, r *mat.Dense, normalize bool) (*mat.Dense, error) {
	_, xc := x.Dims()
	rr, rc := r.Dims()
	if rr != rc || rc != xc {
		return nil, core.Errorf("apply", core.ErrDimensionMismatch,
			"cannot map %d-dimensional vectors through a %dx%d matrix", xc, rr, rc)
	}

	out := &mat.Dense{}
	out.Mul(x, r.T())
	if normalize {
		space.NormalizeRows(out)
	}
	return out, nil
}

// ApplySpace maps a whole space through r, keeping its tokens.
func ApplySpace(s *space.Space, r *mat.Dense, normalize bool) (*space.Space, error) {
	mapped, err := Apply(s.Vectors, r, normalize)
	if err != nil {
		return nil, err
	}
	return s.WithVectors(mapped)
}

// AlignSpaces is the full supervised pipeline: select the training pairs,
// carve the negative pools, initialise with Procrustes and refine with
// RCSLS.
func AlignSpaces(ctx context.Context, src, tgt *space.Space, pairs space.Pairs, cfg Config, opts ...Option) (*Result, error) {
	x, y, err := space.SelectPairs(src, tgt, pairs)
	if err != nil {
		return nil, err
	}
	zsrc := space.NegativePool(src, cfg.MaxNeg)
	ztgt := space.NegativePool(tgt, cfg.MaxNeg)
	return Refine(ctx, x, y, zsrc, ztgt, cfg, opts...)
}
