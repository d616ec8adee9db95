package align

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

func TestObjectiveWithoutPools(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	x := randomUnitRows(rng, 8, 4)
	y := randomUnitRows(rng, 8, 4)
	r := randomOrthogonal(rng, 4)

	obj, err := NewObjective(x, y, nil, &mat.Dense{}, 10)
	if err != nil {
		t.Fatalf("NewObjective failed: %v", err)
	}
	f, grad := obj.Evaluate(r, nil)

	xt := mapRows(x, r)
	var want float64
	for i := 0; i < 8; i++ {
		want += mat.Dot(xt.RowView(i), y.RowView(i))
	}
	want = -2 * want / 8
	if math.Abs(f-want) > 1e-12 {
		t.Errorf("Expected loss %f, got %f", want, f)
	}

	var wantGrad mat.Dense
	wantGrad.Mul(y.T(), x)
	wantGrad.Scale(-2.0/8, &wantGrad)
	if !mat.EqualApprox(grad, &wantGrad, 1e-12) {
		t.Error("Gradient without pools should be −2·YᵗX/n")
	}
}

func TestObjectiveGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	x := randomUnitRows(rng, 12, 5)
	y := randomUnitRows(rng, 12, 5)
	zsrc := randomUnitRows(rng, 30, 5)
	ztgt := randomUnitRows(rng, 30, 5)
	r := randomMatrix(rng, 5, 5)

	obj, err := NewObjective(x, y, zsrc, ztgt, 3)
	if err != nil {
		t.Fatal(err)
	}
	_, grad := obj.Evaluate(r, nil)

	// With the neighbor sets fixed the loss is linear in R, so a small
	// central difference reproduces the gradient almost exactly.
	const h = 1e-6
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			orig := r.At(i, j)
			r.Set(i, j, orig+h)
			fp, _ := obj.Evaluate(r, nil)
			r.Set(i, j, orig-h)
			fm, _ := obj.Evaluate(r, nil)
			r.Set(i, j, orig)

			numeric := (fp - fm) / (2 * h)
			if math.Abs(numeric-grad.At(i, j)) > 1e-5 {
				t.Errorf("grad[%d][%d]: analytic %f, numeric %f", i, j, grad.At(i, j), numeric)
			}
		}
	}
}

func TestObjectiveFullBatchEqualsNil(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	x := randomUnitRows(rng, 10, 4)
	y := randomUnitRows(rng, 10, 4)
	z := randomUnitRows(rng, 15, 4)
	r := randomOrthogonal(rng, 4)

	obj, err := NewObjective(x, y, z, z, 2)
	if err != nil {
		t.Fatal(err)
	}

	all := make([]int, 10)
	for i := range all {
		all[i] = i
	}
	f1, g1 := obj.Evaluate(r, nil)
	f2, g2 := obj.Evaluate(r, all)

	if math.Abs(f1-f2) > 1e-12 {
		t.Errorf("Loss differs: %f vs %f", f1, f2)
	}
	if !mat.EqualApprox(g1, g2, 1e-12) {
		t.Error("Gradient differs between nil batch and explicit full batch")
	}
}

func TestObjectiveKLargerThanPool(t *testing.T) {
	rng := rand.New(rand.NewSource(24))
	x := randomUnitRows(rng, 5, 3)
	y := randomUnitRows(rng, 5, 3)
	z := randomUnitRows(rng, 4, 3)
	r := randomOrthogonal(rng, 3)

	clamped, err := NewObjective(x, y, z, z, 4)
	if err != nil {
		t.Fatal(err)
	}
	big, err := NewObjective(x, y, z, z, 50)
	if err != nil {
		t.Fatal(err)
	}

	f1, g1 := clamped.Evaluate(r, nil)
	f2, g2 := big.Evaluate(r, nil)
	if math.Abs(f1-f2) > 1e-12 || !mat.EqualApprox(g1, g2, 1e-12) {
		t.Errorf("k beyond the pool size should behave like k = pool size: %f vs %f", f1, f2)
	}
}

func TestObjectiveZeroGradientAtPerfectAlignment(t *testing.T) {
	rng := rand.New(rand.NewSource(25))
	x := randomUnitRows(rng, 6, 4)
	r0 := randomOrthogonal(rng, 4)
	y := mapRows(x, r0)

	obj, err := NewObjective(x, y, x, y, 1)
	if err != nil {
		t.Fatal(err)
	}
	f, grad := obj.Evaluate(r0, nil)

	if math.Abs(f) > 1e-9 {
		t.Errorf("Expected zero loss, got %g", f)
	}
	if n := mat.Norm(grad, 2); n > 1e-9 {
		t.Errorf("Expected zero gradient, got norm %g", n)
	}
}

func TestNewObjectiveErrors(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 0, 0, 1})

	if _, err := NewObjective(nil, x, nil, nil, 1); !errors.Is(err, core.ErrEmptyPairs) {
		t.Errorf("Expected ErrEmptyPairs, got %v", err)
	}
	if _, err := NewObjective(x, x, mat.NewDense(3, 3, nil), nil, 1); !errors.Is(err, core.ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch for pool, got %v", err)
	}
	if _, err := NewObjective(x, x, nil, nil, 0); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for k=0, got %v", err)
	}
}
