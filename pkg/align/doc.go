// Package align learns a linear map between two embedding spaces.
//
// A run starts from the orthogonal Procrustes solution over the matched
// training pairs and refines it with the RCSLS objective, which rewards
// matched pairs and penalises each vector's hard negatives mined from a
// fixed pool of frequent vectors on both sides. After every gradient step the
// matrix can be projected onto the spectral-norm unit ball
// (ConstraintSpectral), a convex relaxation of orthogonality.
//
// The refinement loop is an explicit state machine:
//
//	INIT ──Procrustes──▶ ITERATING ──niter exhausted──▶ CONVERGED
//	                         │
//	                         └──lr < 1e-4──────────────▶ STOPPED
//
// In full-batch mode an iteration whose loss is worse than the recorded one
// is rejected: the learning rate halves and R returns to the recorded
// matrix. Both terminal states return the recorded matrix.
//
//	res, err := align.AlignSpaces(ctx, src, tgt, pairs, align.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	mapped, _ := align.ApplySpace(src, res.R, true)
package align
