// Package smooth constructs the basis and penalty matrices of the count
// model's smooth terms.
//
// Two basis kinds are available. The ordinary basis places Gaussian bump
// functions on a knot set chosen from the data (quantile knots for one
// variable, spread-out data locations for an isotropic bivariate term)
// and penalizes roughness with a squared-difference penalty over
// neighbouring knots. The soap-film basis is the boundary-constrained
// variant for non-convex survey regions: knots outside the boundary
// polygon are discarded, every basis function is tapered to zero at the
// boundary, and two knots are only treated as penalty neighbours when
// the straight path between them stays inside the region, so smoothness
// never leaks across land or other excluded areas.
//
// All boundary/knot validation happens at construction and fails with
// errs.ErrBoundaryViolation, naming the offending knot or data point,
// rather than silently dropping data.
//
// A built Term is immutable. Its Design method evaluates the basis on
// fitting data or on a prediction grid; columns are centered with the
// means recorded at build time so the term is identifiable next to the
// model intercept.
package smooth
