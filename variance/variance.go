// Package variance implements uncertainty estimation for predicted
// abundance surfaces. Two interchangeable delta-method algorithms are
// provided: an independent combination that adds the squared
// coefficients of variation of the count model and the detection
// function, and a joint propagation that carries a combined parameter
// vector and block covariance through the prediction functional.
//
// Both consume a fitted count model's coefficient covariance; joint
// propagation additionally requires a detection function with at least
// one covariate that actually varies across the fitted segments, since
// without one the two error sources are independent and the simpler
// method is exact to first order.
package variance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/distanceexamples/dsm-line-dolphins/detection"
	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/gam"
	"github.com/distanceexamples/dsm-line-dolphins/smooth"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// Method selects the variance-propagation algorithm.
type Method int

const (
	// MethodIndependent sums the squared CVs of the spatial model and
	// the detection function, assuming zero covariance between them.
	MethodIndependent Method = iota
	// MethodJointPropagation folds the detection parameters into a
	// joint parameter vector and propagates the joint covariance
	// through the total-abundance gradient.
	MethodJointPropagation
)

// methodNames maps Method to their string representations.
var methodNames = map[Method]string{
	MethodIndependent:      "independent",
	MethodJointPropagation: "joint-propagation",
}

// String returns the string representation of the method.
func (m Method) String() string {
	if name, exists := methodNames[m]; exists {
		return name
	}

	return "unknown"
}

// Result holds per-cell and aggregate uncertainty, aligned one-to-one
// with the prediction grid it was computed from. A Result is derived
// data: recompute it whenever the underlying models change, never
// mutate it in place.
type Result struct {
	// Method records which algorithm produced the result.
	Method Method
	// PerCell is the abundance variance per grid cell.
	PerCell []float64
	// CV is sqrt(variance)/prediction per cell, zero where the
	// prediction itself is zero.
	CV []float64
	// Total is the grid-total abundance estimate.
	Total float64
	// TotalVariance is the variance of the grid total. Cell predictions
	// share coefficients, so this is not the sum of PerCell.
	TotalVariance float64
	// TotalCV is sqrt(TotalVariance)/Total, zero for a zero total.
	TotalCV float64
}

// Estimate computes prediction uncertainty on grid for a fitted count
// model and its detection function. segments is the covariate data the
// count model was fit to; joint propagation reads the detection
// covariates from it, the independent method ignores it (nil is fine).
//
// A nil detection model (or one fitted without a covariance matrix) is
// accepted by MethodIndependent and contributes no detection
// uncertainty; this covers raw-count workflows where detectability
// never entered the response.
//
// Returns errs.ErrMethodNotApplicable when joint propagation is
// requested but the detection function has no covariate varying across
// the segments, and errs.ErrInvalidConfig when the count model is not
// fitted.
func Estimate(count *gam.Model, det *detection.Model, segments smooth.CovariateSource, grid *survey.PredictionGrid, method Method) (*Result, error) {
	if count == nil || count.State() != gam.StateFitted {
		return nil, fmt.Errorf("%w: variance needs a fitted count model", errs.ErrInvalidConfig)
	}

	predictions, err := count.Predict(grid)
	if err != nil {
		return nil, err
	}
	design, err := count.Design(grid)
	if err != nil {
		return nil, err
	}

	switch method {
	case MethodIndependent:
		return independent(count, det, design, predictions)
	case MethodJointPropagation:
		return jointPropagation(count, det, segments, grid, design, predictions)
	default:
		return nil, fmt.Errorf("%w: unknown variance method %d", errs.ErrInvalidConfig, method)
	}
}

// independent adds the detection function's squared CV of mean
// detectability to every cell's spatial squared CV.
func independent(count *gam.Model, det *detection.Model, design *mat.Dense, predictions []float64) (*Result, error) {
	cvp2 := 0.0
	if det != nil && det.Covariance != nil {
		grad := logMeanPGradient(det)
		cvp2 = quadSym(det.Covariance, grad)
	}

	result := newResult(MethodIndependent, len(predictions))
	n := len(predictions)
	_, p := design.Dims()

	a := make([]float64, p)
	for i := 0; i < n; i++ {
		mu := predictions[i]
		row := rowOf(design, i, p)
		spatial := quadSym(count.Covariance, row)
		result.PerCell[i] = mu * mu * (spatial + cvp2)
		result.fillCell(i, mu)
		for j := 0; j < p; j++ {
			a[j] += mu * row[j]
		}
		result.Total += mu
	}

	result.TotalVariance = quadSym(count.Covariance, a) + result.Total*result.Total*cvp2
	result.fillTotal()

	return result, nil
}

// jointPropagation refits the count model's information matrix with the
// detection parameters folded into the linear predictor and propagates
// the resulting joint covariance, cross block included, through the
// per-cell and total abundance gradients. When the grid carries every
// detection covariate the detection gradient is evaluated at each
// cell's own covariate values; otherwise the survey-aggregated gradient
// is used everywhere.
func jointPropagation(count *gam.Model, det *detection.Model, segments smooth.CovariateSource, grid *survey.PredictionGrid, design *mat.Dense, predictions []float64) (*Result, error) {
	if det == nil || len(det.Covariates) == 0 {
		return nil, fmt.Errorf("%w: joint propagation needs a detection function with a segment-level covariate",
			errs.ErrMethodNotApplicable)
	}
	if det.Covariance == nil {
		return nil, fmt.Errorf("%w: detection model carries no coefficient covariance", errs.ErrInvalidConfig)
	}
	if segments == nil {
		return nil, fmt.Errorf("%w: joint propagation needs the segment covariates the count model was fit to",
			errs.ErrMethodNotApplicable)
	}

	deriv, err := segmentDerivatives(det, segments)
	if err != nil {
		return nil, err
	}

	joint, err := count.JointCovariance(deriv, det.Covariance)
	if err != nil {
		return nil, err
	}

	cellCovs, perCell := detectionCovariates(det, grid)
	aggGrad := logMeanPGradient(det)

	result := newResult(MethodJointPropagation, len(predictions))
	n := len(predictions)
	_, p := design.Dims()
	q := det.NParams()

	// Per-cell prediction gradient in the joint parameter space: the
	// design row for the coefficients, −∂log p̄/∂θ for the detection
	// parameters. Signs matter here because the cross block is nonzero.
	u := make([]float64, p+q)
	total := make([]float64, p+q)
	for i := 0; i < n; i++ {
		mu := predictions[i]
		copy(u, rowOf(design, i, p))

		grad := aggGrad
		if perCell {
			grad = logPGradient(det, cellCovs[i])
		}
		for k := 0; k < q; k++ {
			u[p+k] = -grad[k]
		}

		result.PerCell[i] = mu * mu * quadSym(joint, u)
		result.fillCell(i, mu)

		for j := range u {
			total[j] += mu * u[j]
		}
		result.Total += mu
	}

	result.TotalVariance = quadSym(joint, total)
	result.fillTotal()

	return result, nil
}

// segmentDerivatives builds the per-segment sensitivity of the linear
// predictor to the detection parameters, −∂log p̄(z_i; θ)/∂θ. Reports
// errs.ErrMethodNotApplicable when segments lacks a detection covariate
// or no covariate varies, since a flat detectability surface leaves the
// two fits uncoupled.
func segmentDerivatives(det *detection.Model, segments smooth.CovariateSource) (*mat.Dense, error) {
	columns := make([][]float64, len(det.Covariates))
	varies := false
	for j, name := range det.Covariates {
		values, ok := segments.Covariate(name)
		if !ok {
			return nil, fmt.Errorf("%w: segment data lacks detection covariate %q",
				errs.ErrMethodNotApplicable, name)
		}
		columns[j] = values
		for i := 1; i < len(values); i++ {
			if values[i] != values[0] {
				varies = true
			}
		}
	}
	if !varies {
		return nil, fmt.Errorf("%w: detection covariates are constant across segments; use the independent method",
			errs.ErrMethodNotApplicable)
	}

	n := segments.Len()
	q := det.NParams()
	deriv := mat.NewDense(n, q, nil)
	covs := make(map[string]float64, len(det.Covariates))
	for i := 0; i < n; i++ {
		for j, name := range det.Covariates {
			covs[name] = columns[j][i]
		}
		grad := logPGradient(det, covs)
		for k := 0; k < q; k++ {
			deriv.Set(i, k, -grad[k])
		}
	}

	return deriv, nil
}

// detectionCovariates gathers each cell's detection-covariate values.
// Reports false when any detection covariate is absent from the grid,
// in which case callers fall back to the survey-aggregated gradient.
func detectionCovariates(det *detection.Model, grid *survey.PredictionGrid) ([]map[string]float64, bool) {
	columns := make([][]float64, len(det.Covariates))
	for j, name := range det.Covariates {
		values, ok := grid.Covariate(name)
		if !ok {
			return nil, false
		}
		columns[j] = values
	}

	cells := make([]map[string]float64, grid.Len())
	for i := range cells {
		covs := make(map[string]float64, len(det.Covariates))
		for j, name := range det.Covariates {
			covs[name] = columns[j][i]
		}
		cells[i] = covs
	}

	return cells, true
}

// logMeanPGradient is the numerical gradient of log effective mean
// detection probability with respect to the detection parameters.
func logMeanPGradient(det *detection.Model) []float64 {
	return numericLogGradient(det, func(m *detection.Model) float64 {
		return m.EffectiveMeanP(m.Truncation)
	})
}

// logPGradient is the numerical gradient of log strip-average detection
// probability at one covariate point.
func logPGradient(det *detection.Model, covs map[string]float64) []float64 {
	return numericLogGradient(det, func(m *detection.Model) float64 {
		return m.AverageP(covs)
	})
}

func numericLogGradient(det *detection.Model, eval func(*detection.Model) float64) []float64 {
	coeffs := append([]float64(nil), det.Coefficients...)
	grad := make([]float64, len(coeffs))
	for k := range coeffs {
		h := 1e-5 * (1 + math.Abs(coeffs[k]))
		coeffs[k] += h
		up := eval(det.WithCoefficients(coeffs))
		coeffs[k] -= 2 * h
		down := eval(det.WithCoefficients(coeffs))
		coeffs[k] += h
		grad[k] = (math.Log(up) - math.Log(down)) / (2 * h)
	}

	return grad
}

func newResult(method Method, n int) *Result {
	return &Result{
		Method:  method,
		PerCell: make([]float64, n),
		CV:      make([]float64, n),
	}
}

// fillCell derives the cell CV once its variance is in place.
func (r *Result) fillCell(i int, mu float64) {
	if mu > 0 {
		r.CV[i] = math.Sqrt(r.PerCell[i]) / mu
	}
}

func (r *Result) fillTotal() {
	if r.Total > 0 {
		r.TotalCV = math.Sqrt(r.TotalVariance) / r.Total
	}
}

func quadSym(s *mat.SymDense, v []float64) float64 {
	n := len(v)
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			total += v[i] * s.At(i, j) * v[j]
		}
	}

	return total
}

func rowOf(design *mat.Dense, i, p int) []float64 {
	row := make([]float64, p)
	for j := 0; j < p; j++ {
		row[j] = design.At(i, j)
	}

	return row
}
