// Package gam fits the density surface model: a penalized generalized
// additive regression of the per-segment response on smooth terms plus a
// log effort offset, under a configurable count family.
//
// Smoothing parameters are selected by restricted maximum likelihood
// (REML) rather than generalized cross-validation: REML gives materially
// more stable smoothness selection under overdispersed count data, which
// is why this family of models favors it. The inner loop is penalized
// iteratively reweighted least squares (PIRLS); the outer loop is a
// bounded coordinate-descent search over per-term log smoothing
// parameters scoring each candidate by the Laplace-approximate REML
// criterion. Families whose extra parameter is left free (Tweedie power,
// negative-binomial dispersion) are profiled over a candidate grid using
// the same score.
//
// A fitted Model is immutable and safe for concurrent use by any number
// of Predict and variance computations.
package gam
