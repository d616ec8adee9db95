package align

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

// State is a phase of the optimizer's lifecycle.
type State int

const (
	// StateInit means R has not been initialised yet
	StateInit State = iota
	// StateIterating means refinement steps are being taken
	StateIterating
	// StateConverged means the iteration budget was exhausted
	StateConverged
	// StateStopped means the learning rate fell below the floor
	StateStopped
)

// String returns the lowercase name of the state
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further steps will be taken.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateStopped
}

// Step records one iteration of the refinement loop.
type Step struct {
	Iteration int     `json:"iteration"`
	Objective float64 `json:"objective"` // loss computed this iteration
	Best      float64 `json:"best"`      // recorded loss after the accept/reject decision
	LR        float64 `json:"lr"`        // learning rate after the decision
	Accepted  bool    `json:"accepted"`
}

// Progress is handed to the progress callback. R must not be modified.
type Progress struct {
	Iteration int
	Objective float64
	LR        float64
	R         *mat.Dense
	Final     bool
}

// ProgressFunc observes the optimizer; it cannot influence it.
type ProgressFunc func(Progress)

// Result is what a finished run hands back to its caller.
type Result struct {
	R          *mat.Dense
	Objective  float64
	Iterations int
	LR         float64
	State      State
	History    []Step
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the logger used for iteration traces.
func WithLogger(l core.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgress registers a callback invoked every EvalEvery iterations and
// on the last one.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Optimizer) { o.progress = fn }
}

// WithInitial starts from r instead of the Procrustes solution.
func WithInitial(r *mat.Dense) Option {
	return func(o *Optimizer) {
		if r != nil {
			o.initial = mat.DenseCopyOf(r)
		}
	}
}

// Optimizer refines an alignment matrix against an Objective. It owns R
// for the duration of Run and is not safe for concurrent use.
type Optimizer struct {
	obj      *Objective
	cfg      Config
	logger   core.Logger
	progress ProgressFunc
	initial  *mat.Dense
	rng      *rand.Rand
	perm     []int

	state   State
	r       *mat.Dense
	lr      float64
	bestF   float64
	bestR   *mat.Dense
	iter    int
	history []Step
}

// NewOptimizer validates cfg and prepares an optimizer in StateInit.
func NewOptimizer(obj *Objective, cfg Config, opts ...Option) (*Optimizer, error) {
	if obj == nil {
		return nil, core.WrapError("new_optimizer", core.ErrEmptyPairs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Optimizer{
		obj:    obj,
		cfg:    cfg,
		logger: core.NopLogger(),
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		state:  StateInit,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.initial != nil {
		r, c := o.initial.Dims()
		if r != obj.Dim() || c != obj.Dim() {
			return nil, core.Errorf("new_optimizer", core.ErrDimensionMismatch,
				"initial matrix is %dx%d, want %dx%d", r, c, obj.Dim(), obj.Dim())
		}
	}
	return o, nil
}

// State returns the current phase.
func (o *Optimizer) State() State { return o.state }

// Init moves INIT → ITERATING: R₀ comes from Procrustes (or WithInitial)
// and the recorded objective starts at +Inf.
func (o *Optimizer) Init() error {
	if o.state != StateInit {
		return nil
	}

	r := o.initial
	if r == nil {
		var err error
		if r, err = Procrustes(o.obj.X, o.obj.Y); err != nil {
			return err
		}
	}

	o.r = r
	o.bestR = mat.DenseCopyOf(r)
	o.bestF = math.Inf(1)
	o.lr = o.cfg.LR
	o.state = StateIterating
	if o.cfg.NIter == 0 {
		o.state = StateConverged
	}

	o.logger.Debug("optimizer initialised", "pairs", o.obj.Len(), "dim", o.obj.Dim(), "model", o.cfg.Model)
	return nil
}

// Step runs one iteration. It returns false once the optimizer reached a
// terminal state, in which case nothing was done.
func (o *Optimizer) Step() (bool, error) {
	if o.state == StateInit {
		if err := o.Init(); err != nil {
			return false, err
		}
	}
	if o.state.Terminal() {
		return false, nil
	}
	if o.lr < lrFloor {
		o.state = StateStopped
		o.logger.Debug("learning rate below floor", "iteration", o.iter, "lr", o.lr)
		return false, nil
	}

	o.iter++
	f, grad := o.obj.Evaluate(o.r, o.batch())

	if o.cfg.Reg > 0 {
		o.r.Scale(1-o.lr*o.cfg.Reg, o.r)
	}
	grad.Scale(o.lr, grad)
	o.r.Sub(o.r, grad)

	projected, err := o.cfg.Model.Project(o.r)
	if err != nil {
		return false, err
	}
	o.r = projected

	step := Step{Iteration: o.iter, Objective: f}
	if o.rejects(f) {
		o.reject()
	} else {
		o.accept(f)
		step.Accepted = true
	}
	step.Best = o.bestF
	step.LR = o.lr
	o.history = append(o.history, step)

	o.logger.Debug("iteration", "it", o.iter, "f", f, "lr", o.lr, "accepted", step.Accepted)

	last := o.iter >= o.cfg.NIter
	if last {
		o.state = StateConverged
	}
	if o.progress != nil && (last || (o.cfg.EvalEvery > 0 && o.iter%o.cfg.EvalEvery == 0)) {
		o.progress(Progress{Iteration: o.iter, Objective: o.bestF, LR: o.lr, R: o.r, Final: last})
	}
	return true, nil
}

// rejects is the backtracking test. It compares the loss of R before this
// iteration's step with the recorded loss, so it lags the step it rolls
// back by one iteration. Mini-batch losses are not comparable and are
// always accepted.
func (o *Optimizer) rejects(f float64) bool {
	return !o.cfg.SGD && o.iter > 1 && f > o.bestF
}

// reject halves the learning rate and restores the recorded (f, R).
func (o *Optimizer) reject() {
	o.lr /= 2
	o.r = mat.DenseCopyOf(o.bestR)
}

// accept records (f, R) as the new rollback point.
func (o *Optimizer) accept(f float64) {
	o.bestF = f
	o.bestR.Copy(o.r)
}

// batch returns nil for full-batch mode, otherwise a fresh uniform sample
// without replacement. Batches larger than the pair set use every pair.
func (o *Optimizer) batch() []int {
	n := o.obj.Len()
	if !o.cfg.SGD || o.cfg.BatchSize >= n {
		return nil
	}
	if o.perm == nil {
		o.perm = make([]int, n)
		for i := range o.perm {
			o.perm[i] = i
		}
	}
	// partial Fisher-Yates over the persistent permutation
	for i := 0; i < o.cfg.BatchSize; i++ {
		j := i + o.rng.IntN(n-i)
		o.perm[i], o.perm[j] = o.perm[j], o.perm[i]
	}
	out := make([]int, o.cfg.BatchSize)
	copy(out, o.perm[:o.cfg.BatchSize])
	return out
}

// Run iterates until a terminal state. ctx is checked between iterations;
// on cancellation the partial result is returned with ctx's error.
func (o *Optimizer) Run(ctx context.Context) (*Result, error) {
	if err := o.Init(); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return o.Result(), err
		}
		more, err := o.Step()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	res := o.Result()
	o.logger.Info("alignment finished", "state", res.State, "iterations", res.Iterations, "f", res.Objective, "lr", res.LR)
	return res, nil
}

// Result snapshots the current best R and the run's history.
func (o *Optimizer) Result() *Result {
	res := &Result{
		Objective:  o.bestF,
		Iterations: o.iter,
		LR:         o.lr,
		State:      o.state,
		History:    append([]Step(nil), o.history...),
	}
	if o.bestR != nil {
		res.R = mat.DenseCopyOf(o.bestR)
	}
	return res
}

// Refine runs Procrustes initialisation and RCSLS refinement over the given
// matched pairs and pools.
func Refine(ctx context.Context, x, y, zsrc, ztgt *mat.Dense, cfg Config, opts ...Option) (*Result, error) {
	obj, err := NewObjective(x, y, zsrc, ztgt, cfg.KNN)
	if err != nil {
		return nil, err
	}
	opt, err := NewOptimizer(obj, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return opt.Run(ctx)
}
