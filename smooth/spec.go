package smooth

import (
	"strings"

	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// BasisKind identifies the basis construction of a smooth term.
type BasisKind int

const (
	// BasisOrdinary is the unconstrained isotropic basis.
	BasisOrdinary BasisKind = iota
	// BasisSoapFilm is the boundary-constrained basis for non-convex
	// survey regions.
	BasisSoapFilm
)

// basisKindNames maps BasisKind to their string representations.
var basisKindNames = map[BasisKind]string{
	BasisOrdinary: "ordinary",
	BasisSoapFilm: "soap-film",
}

// String returns the string representation of the basis kind.
func (b BasisKind) String() string {
	if name, exists := basisKindNames[b]; exists {
		return name
	}

	return "unknown"
}

// TermSpec specifies one smooth term of the count model.
type TermSpec struct {
	// Variables names the covariates the term smooths over: one name
	// for a univariate term, two for an isotropic bivariate term. The
	// reserved names "x" and "y" resolve to coordinates.
	Variables []string
	// Basis selects the basis construction. Soap-film terms must be
	// bivariate and carry a Boundary and a Knots grid.
	Basis BasisKind
	// K is the target complexity: the maximum basis dimension. The
	// ordinary basis degrades gracefully when the data support fewer
	// distinct knots than requested.
	K int
	// Boundary is the survey-region polygon of a soap-film term.
	Boundary *survey.Boundary
	// Knots is the candidate knot grid of a soap-film term, or an
	// optional explicit knot set for an ordinary bivariate term.
	Knots []survey.Point
}

// Label returns the mgcv-style label of the term, e.g. "s(x,y)".
func (s TermSpec) Label() string {
	return "s(" + strings.Join(s.Variables, ",") + ")"
}

// CovariateSource supplies aligned covariate vectors by name. Both
// *survey.SegmentTable and *survey.PredictionGrid implement it.
type CovariateSource interface {
	Len() int
	Covariate(name string) ([]float64, bool)
}
