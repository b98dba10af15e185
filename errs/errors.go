// Package errs defines the sentinel error values shared across the
// density-surface-model packages.
//
// Every failure the engine can surface is a local, recoverable condition:
// a failed fit simply yields no fitted model and the caller may retry with
// an adjusted specification. Call sites wrap these sentinels with
// fmt.Errorf("%w: ...") and attach the offending term, segment or covariate
// so the caller can correct the input. Use errors.Is to classify.
package errs

import "errors"

var (
	// ErrFitFailure indicates the detection-function optimizer did not
	// converge, or truncation removed every observation.
	ErrFitFailure = errors.New("detection function fit failed")

	// ErrInputMismatch indicates a referential-integrity violation between
	// the observation and segment tables.
	ErrInputMismatch = errors.New("observation references unknown segment")

	// ErrBoundaryViolation indicates an invalid or insufficiently covering
	// boundary/knot configuration for a boundary-constrained smooth term.
	ErrBoundaryViolation = errors.New("boundary constraint violated")

	// ErrNonConvergence indicates the count-model optimizer exceeded its
	// iteration budget.
	ErrNonConvergence = errors.New("count model did not converge")

	// ErrRankDeficiency indicates the combined term basis is collinear or
	// under-determined given the available segments.
	ErrRankDeficiency = errors.New("model basis is rank deficient")

	// ErrSchemaMismatch indicates the prediction grid lacks a covariate
	// required by one of the model terms.
	ErrSchemaMismatch = errors.New("prediction grid missing required covariate")

	// ErrMethodNotApplicable indicates joint variance propagation was
	// requested without a qualifying segment-level detection covariate.
	ErrMethodNotApplicable = errors.New("variance method not applicable")

	// ErrInvalidConfig indicates a malformed fit or term specification.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCorruptSnapshot indicates a model snapshot failed checksum or
	// structural validation during decoding.
	ErrCorruptSnapshot = errors.New("corrupt model snapshot")
)
