// Package core holds the pieces shared by every vecalign package: the
// structured Logger and the error types.
//
// Errors returned by vecalign operations are *AlignError values that wrap
// one of the sentinels declared here, so callers can branch with errors.Is:
//
//	if errors.Is(err, core.ErrDimensionMismatch) {
//	    // source and target spaces disagree on D
//	}
package core
