package smooth

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// minSoapKnots is the smallest interior knot count a soap-film surface
// can be built from.
const minSoapKnots = 3

// pathSamples is the number of interior points checked when deciding
// whether two soap-film knots may be penalty neighbours.
const pathSamples = 8

// Term is a built smooth term: a basis evaluator plus its roughness
// penalty. Immutable once built.
type Term struct {
	spec       TermSpec
	univariate bool
	knots      []survey.Point // univariate terms use only X
	bandwidth  float64
	colMeans   []float64
	penalty    *mat.SymDense
}

// Build constructs the term for spec against the fitting data. Knot and
// boundary validation failures are reported as errs.ErrBoundaryViolation;
// malformed specs as errs.ErrInvalidConfig.
func Build(spec TermSpec, data CovariateSource) (*Term, error) {
	if len(spec.Variables) == 0 || len(spec.Variables) > 2 {
		return nil, fmt.Errorf("%w: term %s must smooth over one or two variables",
			errs.ErrInvalidConfig, spec.Label())
	}
	if spec.K < 2 {
		return nil, fmt.Errorf("%w: term %s requested complexity %d, need at least 2",
			errs.ErrInvalidConfig, spec.Label(), spec.K)
	}
	if spec.Basis == BasisSoapFilm && len(spec.Variables) != 2 {
		return nil, fmt.Errorf("%w: soap-film term %s must be bivariate",
			errs.ErrInvalidConfig, spec.Label())
	}

	xs, ys, err := termCovariates(spec, data)
	if err != nil {
		return nil, err
	}

	term := &Term{spec: spec, univariate: len(spec.Variables) == 1}

	switch {
	case term.univariate:
		term.buildUnivariate(xs)
	case spec.Basis == BasisSoapFilm:
		if err := term.buildSoapFilm(xs, ys); err != nil {
			return nil, err
		}
	default:
		term.buildBivariate(xs, ys)
	}

	raw := term.rawDesign(xs, ys)
	term.colMeans = columnMeans(raw)

	return term, nil
}

// Dim returns the number of basis columns.
func (t *Term) Dim() int {
	return len(t.knots)
}

// Spec returns the originating specification.
func (t *Term) Spec() TermSpec {
	return t.spec
}

// Label returns the term's label, e.g. "s(x,y)".
func (t *Term) Label() string {
	return t.spec.Label()
}

// Penalty returns the roughness penalty matrix (Dim x Dim). The matrix
// is positive semi-definite by construction.
func (t *Term) Penalty() *mat.SymDense {
	return t.penalty
}

// Design evaluates the centered basis on data. Reports
// errs.ErrSchemaMismatch when data lacks one of the term's covariates.
func (t *Term) Design(data CovariateSource) (*mat.Dense, error) {
	xs, ys, err := termCovariates(t.spec, data)
	if err != nil {
		return nil, err
	}

	design := t.rawDesign(xs, ys)
	rows, cols := design.Dims()
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			design.Set(i, j, design.At(i, j)-t.colMeans[j])
		}
	}

	return design, nil
}

// termCovariates fetches the term's covariate vectors. ys is nil for
// univariate terms.
func termCovariates(spec TermSpec, data CovariateSource) (xs, ys []float64, err error) {
	xs, ok := data.Covariate(spec.Variables[0])
	if !ok {
		return nil, nil, fmt.Errorf("%w: term %s needs covariate %q",
			errs.ErrSchemaMismatch, spec.Label(), spec.Variables[0])
	}
	if len(spec.Variables) == 2 {
		ys, ok = data.Covariate(spec.Variables[1])
		if !ok {
			return nil, nil, fmt.Errorf("%w: term %s needs covariate %q",
				errs.ErrSchemaMismatch, spec.Label(), spec.Variables[1])
		}
	}

	return xs, ys, nil
}

// buildUnivariate places quantile knots over the observed values and a
// squared-difference penalty over adjacent knots. The basis degrades to
// the number of distinct values when the data support fewer knots than
// requested.
func (t *Term) buildUnivariate(xs []float64) {
	distinct := uniqueSorted(xs)
	k := t.spec.K
	if k > len(distinct) {
		k = len(distinct)
	}

	knots := make([]survey.Point, k)
	for j := 0; j < k; j++ {
		q := 0.0
		if k > 1 {
			q = float64(j) / float64(k-1)
		}
		idx := int(math.Round(q * float64(len(distinct)-1)))
		knots[j] = survey.Point{X: distinct[idx]}
	}
	t.knots = knots
	t.bandwidth = meanAdjacentSpacing(knots)
	t.penalty = differencePenalty(k)
}

// buildBivariate chooses up to K well-spread knots (from the supplied
// grid, or from the data locations) and a neighbour-difference penalty.
func (t *Term) buildBivariate(xs, ys []float64) {
	candidates := t.spec.Knots
	if len(candidates) == 0 {
		candidates = make([]survey.Point, len(xs))
		for i := range xs {
			candidates[i] = survey.Point{X: xs[i], Y: ys[i]}
		}
	}

	t.knots = spreadKnots(candidates, t.spec.K)
	t.bandwidth = medianNearestSpacing(t.knots)
	t.penalty = neighbourPenalty(t.knots, 2*t.bandwidth, nil)
}

// buildSoapFilm validates the boundary/knot configuration, keeps only
// interior knots, and cuts penalty adjacency across the boundary.
func (t *Term) buildSoapFilm(xs, ys []float64) error {
	spec := t.spec
	if spec.Boundary == nil {
		return fmt.Errorf("%w: soap-film term %s has no boundary polygon",
			errs.ErrBoundaryViolation, spec.Label())
	}
	if len(spec.Knots) == 0 {
		return fmt.Errorf("%w: soap-film term %s has no knot grid",
			errs.ErrBoundaryViolation, spec.Label())
	}

	var interior []survey.Point
	for _, knot := range spec.Knots {
		if spec.Boundary.Contains(knot.X, knot.Y) {
			interior = append(interior, knot)
		}
	}
	if len(interior) == 0 {
		return fmt.Errorf("%w: term %s: no knots remain inside the boundary (%d supplied)",
			errs.ErrBoundaryViolation, spec.Label(), len(spec.Knots))
	}
	need := spec.K
	if need < minSoapKnots {
		need = minSoapKnots
	}
	if len(interior) < need {
		return fmt.Errorf("%w: term %s: %d interior knots remain inside the boundary, need %d for complexity %d",
			errs.ErrBoundaryViolation, spec.Label(), len(interior), need, spec.K)
	}

	for i := range xs {
		if !spec.Boundary.Contains(xs[i], ys[i]) {
			return fmt.Errorf("%w: term %s: data point %d at (%g, %g) lies outside the boundary; filter it before fitting",
				errs.ErrBoundaryViolation, spec.Label(), i, xs[i], ys[i])
		}
	}

	t.knots = spreadKnots(interior, spec.K)
	t.bandwidth = medianNearestSpacing(t.knots)
	t.penalty = neighbourPenalty(t.knots, 2*t.bandwidth, func(a, b survey.Point) bool {
		return spec.Boundary.ContainsPath(a, b, pathSamples)
	})

	return nil
}

// rawDesign evaluates the uncentered basis.
func (t *Term) rawDesign(xs, ys []float64) *mat.Dense {
	n := len(xs)
	k := len(t.knots)
	design := mat.NewDense(n, k, nil)
	h2 := 2 * t.bandwidth * t.bandwidth

	for i := 0; i < n; i++ {
		taper := 1.0
		if t.spec.Basis == BasisSoapFilm {
			if !t.spec.Boundary.Contains(xs[i], ys[i]) {
				// No basis support outside the film.
				continue
			}
			taper = 1 - math.Exp(-t.spec.Boundary.EdgeDistance(xs[i], ys[i])/t.bandwidth)
		}

		for j, knot := range t.knots {
			var d2 float64
			if t.univariate {
				d := xs[i] - knot.X
				d2 = d * d
			} else {
				dx, dy := xs[i]-knot.X, ys[i]-knot.Y
				d2 = dx*dx + dy*dy
			}
			design.Set(i, j, taper*math.Exp(-d2/h2))
		}
	}

	return design
}

// differencePenalty returns the squared second-difference penalty DᵀD
// over k ordered coefficients (first differences when k == 2).
func differencePenalty(k int) *mat.SymDense {
	penalty := mat.NewSymDense(k, nil)
	if k < 2 {
		return penalty
	}

	order := 2
	if k == 2 {
		order = 1
	}

	rows := k - order
	d := mat.NewDense(rows, k, nil)
	for i := 0; i < rows; i++ {
		if order == 1 {
			d.Set(i, i, -1)
			d.Set(i, i+1, 1)
		} else {
			d.Set(i, i, 1)
			d.Set(i, i+1, -2)
			d.Set(i, i+2, 1)
		}
	}

	var dtd mat.Dense
	dtd.Mul(d.T(), d)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			penalty.SetSym(i, j, dtd.At(i, j))
		}
	}

	return penalty
}

// neighbourPenalty builds a graph-Laplacian penalty: knots within radius
// are neighbours, optionally subject to an extra admissibility check
// (soap-film terms require the connecting path to stay in the region).
func neighbourPenalty(knots []survey.Point, radius float64, admissible func(a, b survey.Point) bool) *mat.SymDense {
	k := len(knots)
	penalty := mat.NewSymDense(k, nil)

	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if pointDistance(knots[i], knots[j]) > radius {
				continue
			}
			if admissible != nil && !admissible(knots[i], knots[j]) {
				continue
			}
			penalty.SetSym(i, i, penalty.At(i, i)+1)
			penalty.SetSym(j, j, penalty.At(j, j)+1)
			penalty.SetSym(i, j, penalty.At(i, j)-1)
		}
	}

	return penalty
}

// spreadKnots picks up to k well-separated points by farthest-point
// sampling, starting from the point nearest the centroid. Deterministic.
func spreadKnots(candidates []survey.Point, k int) []survey.Point {
	if len(candidates) <= k {
		return append([]survey.Point(nil), candidates...)
	}

	var cx, cy float64
	for _, p := range candidates {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(candidates))
	cy /= float64(len(candidates))

	first, best := 0, math.Inf(1)
	for i, p := range candidates {
		d := math.Hypot(p.X-cx, p.Y-cy)
		if d < best {
			first, best = i, d
		}
	}

	chosen := []survey.Point{candidates[first]}
	minDist := make([]float64, len(candidates))
	for i, p := range candidates {
		minDist[i] = pointDistance(p, candidates[first])
	}

	for len(chosen) < k {
		next, far := 0, -1.0
		for i, d := range minDist {
			if d > far {
				next, far = i, d
			}
		}
		if far <= 0 {
			break // all remaining candidates coincide with chosen knots
		}
		chosen = append(chosen, candidates[next])
		for i, p := range candidates {
			if d := pointDistance(p, candidates[next]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}

	return chosen
}

func pointDistance(a, b survey.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// medianNearestSpacing returns the median nearest-neighbour distance of
// the knot set, used as the basis bandwidth.
func medianNearestSpacing(knots []survey.Point) float64 {
	if len(knots) < 2 {
		return 1
	}

	nearest := make([]float64, len(knots))
	for i := range knots {
		best := math.Inf(1)
		for j := range knots {
			if i == j {
				continue
			}
			if d := pointDistance(knots[i], knots[j]); d < best {
				best = d
			}
		}
		nearest[i] = best
	}
	sort.Float64s(nearest)

	mid := nearest[len(nearest)/2]
	if mid <= 0 || math.IsInf(mid, 0) {
		return 1
	}

	return mid
}

// meanAdjacentSpacing returns the mean gap between consecutive
// univariate knots.
func meanAdjacentSpacing(knots []survey.Point) float64 {
	if len(knots) < 2 {
		return 1
	}

	total := 0.0
	for i := 1; i < len(knots); i++ {
		total += math.Abs(knots[i].X - knots[i-1].X)
	}
	spacing := total / float64(len(knots)-1)
	if spacing <= 0 {
		return 1
	}

	return spacing
}

func uniqueSorted(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}

	return out
}

func columnMeans(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	means := make([]float64, cols)
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += m.At(i, j)
		}
		means[j] = sum / float64(rows)
	}

	return means
}
