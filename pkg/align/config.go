package align

import (
	"github.com/liliang-cn/vecalign/pkg/core"
)

// lrFloor stops the optimizer once backtracking has shrunk the step this far.
const lrFloor = 1e-4

// Config holds the refinement hyper-parameters of one alignment run.
type Config struct {
	KNN       int        `json:"knn" yaml:"knn"`               // Neighbors mined per row in RCSLS
	MaxNeg    int        `json:"maxneg" yaml:"maxneg"`         // Size cap of each negative pool
	Model     Constraint `json:"model" yaml:"model"`           // Projection applied after each step
	Reg       float64    `json:"reg" yaml:"reg"`               // Weight decay on R
	LR        float64    `json:"lr" yaml:"lr"`                 // Initial learning rate
	NIter     int        `json:"niter" yaml:"niter"`           // Maximum number of iterations
	SGD       bool       `json:"sgd" yaml:"sgd"`               // Mini-batch mode, disables backtracking
	BatchSize int        `json:"batchsize" yaml:"batchsize"`   // Mini-batch size when SGD is set
	Seed      uint64     `json:"seed" yaml:"seed"`             // Seed for mini-batch sampling
	EvalEvery int        `json:"eval_every" yaml:"eval_every"` // Progress callback period, 0 disables periodic calls
}

// DefaultConfig returns the standard RCSLS settings.
func DefaultConfig() Config {
	return Config{
		KNN:       10,
		MaxNeg:    200000,
		Model:     ConstraintNone,
		Reg:       0,
		LR:        1.0,
		NIter:     10,
		SGD:       false,
		BatchSize: 10000,
		Seed:      1,
		EvalEvery: 10,
	}
}

// Validate checks ranges. MaxNeg may be zero, which disables mining.
func (c Config) Validate() error {
	switch {
	case c.KNN < 1:
		return core.Errorf("validate_config", core.ErrInvalidConfig, "knn must be positive, got %d", c.KNN)
	case c.MaxNeg < 0:
		return core.Errorf("validate_config", core.ErrInvalidConfig, "maxneg must be non-negative, got %d", c.MaxNeg)
	case c.Model != ConstraintNone && c.Model != ConstraintSpectral:
		return core.Errorf("validate_config", core.ErrInvalidConfig, "invalid model %d", int(c.Model))
	case c.Reg < 0:
		return core.Errorf("validate_config", core.ErrInvalidConfig, "reg must be non-negative, got %g", c.Reg)
	case c.LR <= 0:
		return core.Errorf("validate_config", core.ErrInvalidConfig, "lr must be positive, got %g", c.LR)
	case c.NIter < 0:
		return core.Errorf("validate_config", core.ErrInvalidConfig, "niter must be non-negative, got %d", c.NIter)
	case c.SGD && c.BatchSize < 1:
		return core.Errorf("validate_config", core.ErrInvalidConfig, "batchsize must be positive, got %d", c.BatchSize)
	case c.EvalEvery < 0:
		return core.Errorf("validate_config", core.ErrInvalidConfig, "eval_every must be non-negative, got %d", c.EvalEvery)
	}
	return nil
}
