package align

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

func singularValues(t *testing.T, m *mat.Dense) []float64 {
	t.Helper()
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		t.Fatal("SVD failed")
	}
	return svd.Values(nil)
}

func TestParseConstraint(t *testing.T) {
	tests := []struct {
		in      string
		want    Constraint
		wantErr bool
	}{
		{"none", ConstraintNone, false},
		{"", ConstraintNone, false},
		{"spectral", ConstraintSpectral, false},
		{" Spectral ", ConstraintSpectral, false},
		{"orthogonal", ConstraintNone, true},
	}

	for _, tt := range tests {
		got, err := ParseConstraint(tt.in)
		if tt.wantErr {
			if !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("ParseConstraint(%q): expected ErrInvalidConfig, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseConstraint(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestConstraintJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model = ConstraintSpectral

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var back Config
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Model != ConstraintSpectral {
		t.Errorf("Expected spectral after round trip, got %v (json %s)", back.Model, data)
	}

	if err := json.Unmarshal([]byte(`{"model":"bogus"}`), &back); err == nil {
		t.Error("Expected error for unknown model name")
	}
}

func TestProjectSpectral(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	scaled := randomMatrix(rng, 6, 6)
	scaled.Scale(5, scaled)

	tests := []struct {
		name string
		r    *mat.Dense
	}{
		{"large random", scaled},
		{"orthogonal", randomOrthogonal(rng, 4)},
		{"zero", mat.NewDense(3, 3, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ProjectSpectral(tt.r)
			if err != nil {
				t.Fatalf("ProjectSpectral failed: %v", err)
			}
			for i, s := range singularValues(t, p) {
				if s < -1e-9 || s > 1+1e-9 {
					t.Errorf("Singular value %d = %f outside [0,1]", i, s)
				}
			}
		})
	}
}

func TestProjectSpectralKeepsContractions(t *testing.T) {
	r := mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.25})

	p, err := ProjectSpectral(r)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(p, r, 1e-12) {
		t.Errorf("A matrix inside the unit ball should be a fixed point, got\n%v", mat.Formatted(p))
	}
}

func TestProjectNoneIsIdentity(t *testing.T) {
	r := mat.NewDense(2, 2, []float64{3, 0, 0, 3})
	p, err := ConstraintNone.Project(r)
	if err != nil {
		t.Fatal(err)
	}
	if p != r {
		t.Error("ConstraintNone should return its input unchanged")
	}

	if _, err := Constraint(7).Project(r); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for unknown constraint, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"no mining", func(c *Config) { c.MaxNeg = 0 }, true},
		{"zero iterations", func(c *Config) { c.NIter = 0 }, true},
		{"zero knn", func(c *Config) { c.KNN = 0 }, false},
		{"negative maxneg", func(c *Config) { c.MaxNeg = -1 }, false},
		{"zero lr", func(c *Config) { c.LR = 0 }, false},
		{"negative reg", func(c *Config) { c.Reg = -0.1 }, false},
		{"negative niter", func(c *Config) { c.NIter = -1 }, false},
		{"sgd without batch", func(c *Config) { c.SGD = true; c.BatchSize = 0 }, false},
		{"bad model", func(c *Config) { c.Model = Constraint(3) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
			if !tt.valid && !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
