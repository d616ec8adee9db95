package align

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

// Constraint selects the set the alignment matrix is projected onto after
// every gradient step.
type Constraint int

const (
	// ConstraintNone leaves R unconstrained
	ConstraintNone Constraint = iota
	// ConstraintSpectral clips the singular values of R into [0,1]
	ConstraintSpectral
)

// String returns the config spelling of the constraint
func (c Constraint) String() string {
	switch c {
	case ConstraintNone:
		return "none"
	case ConstraintSpectral:
		return "spectral"
	default:
		return fmt.Sprintf("Constraint(%d)", int(c))
	}
}

// ParseConstraint converts "none" or "spectral" (case-insensitive) to a Constraint.
func ParseConstraint(s string) (Constraint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ConstraintNone, nil
	case "spectral":
		return ConstraintSpectral, nil
	default:
		return ConstraintNone, core.Errorf("parse_constraint", core.ErrInvalidConfig,
			"unknown model %q, want none or spectral", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (c Constraint) MarshalText() ([]byte, error) {
	if c != ConstraintNone && c != ConstraintSpectral {
		return nil, core.Errorf("marshal_constraint", core.ErrInvalidConfig, "invalid constraint %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Constraint) UnmarshalText(text []byte) error {
	parsed, err := ParseConstraint(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Project maps r into the constraint set. ConstraintNone returns r itself.
func (c Constraint) Project(r *mat.Dense) (*mat.Dense, error) {
	switch c {
	case ConstraintSpectral:
		return ProjectSpectral(r)
	case ConstraintNone:
		return r, nil
	default:
		return nil, core.Errorf("project", core.ErrInvalidConfig, "invalid constraint %d", int(c))
	}
}

// ProjectSpectral returns U·diag(clip(σ, 0, 1))·Vᵗ for r = U·diag(σ)·Vᵗ,
// the nearest matrix (in Frobenius norm) with operator norm at most one.
func ProjectSpectral(r *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(r, mat.SVDFull); !ok {
		return nil, core.Errorf("project_spectral", core.ErrDegenerate, "SVD factorization failed")
	}

	s := svd.Values(nil)
	for i, v := range s {
		s[i] = clamp01(v)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// Thin product: U is m×m, V is n×n, only min(m,n) singular values exist.
	k := len(s)
	uk := u.Slice(0, u.RawMatrix().Rows, 0, k)
	vk := v.Slice(0, v.RawMatrix().Rows, 0, k)

	var us mat.Dense
	us.Mul(uk, mat.NewDiagDense(k, s))
	out := &mat.Dense{}
	out.Mul(&us, vk.T())
	return out, nil
}

func clamp01(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < 0:
		return 0
	default:
		return v
	}
}
