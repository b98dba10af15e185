// Package detection fits parametric detection functions to perpendicular
// sighting distances from line-transect surveys.
//
// A detection function models the probability that an animal at a given
// perpendicular distance from the transect line is detected. The scale
// parameter may depend on per-observation covariates (for example
// sighting condition) through a log-linear predictor. Fitting is by
// maximum likelihood over the truncated distance distribution; the
// parameter covariance is the inverse observed information, which the
// variance package propagates into abundance uncertainty.
package detection

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/internal/options"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// quadratureIntervals is the (even) number of Simpson intervals used to
// integrate the key function over the truncation strip.
const quadratureIntervals = 64

// Config specifies a detection-function fit.
type Config struct {
	// Key selects the key-function family.
	Key KeyFunction
	// Truncation is the perpendicular distance beyond which observations
	// are discarded. Must be positive.
	Truncation float64
	// Covariates names the observation covariates entering the log-scale
	// linear predictor. Empty for a plain key function.
	Covariates []string

	maxIterations int
	tolerance     float64
}

// Option is a functional option for Config.
type Option = options.Option[*Config]

// WithMaxIterations overrides the optimizer iteration budget.
func WithMaxIterations(n int) Option {
	return options.NoError(func(cfg *Config) {
		cfg.maxIterations = n
	})
}

// WithTolerance overrides the optimizer convergence tolerance.
func WithTolerance(tol float64) Option {
	return options.NoError(func(cfg *Config) {
		cfg.tolerance = tol
	})
}

// Fit estimates a detection function from the observations by maximum
// likelihood. Observations beyond the truncation distance are discarded;
// if none remain, or the optimizer fails to converge, Fit reports
// errs.ErrFitFailure. The fit is a pure function of its inputs.
func Fit(observations []survey.Observation, cfg Config, opts ...Option) (*Model, error) {
	if cfg.Truncation <= 0 {
		return nil, fmt.Errorf("%w: truncation distance must be positive, got %g",
			errs.ErrInvalidConfig, cfg.Truncation)
	}
	cfg.maxIterations = 500
	cfg.tolerance = 1e-9
	if err := options.Apply(&cfg, opts...); err != nil {
		return nil, err
	}

	distances, covRows := truncate(observations, cfg)
	if len(distances) == 0 {
		return nil, fmt.Errorf("%w: truncation at %g removed all %d observations",
			errs.ErrFitFailure, cfg.Truncation, len(observations))
	}

	nll := negLogLik(cfg, distances, covRows)
	x0 := initialParams(cfg, distances)

	result, err := optimize.Minimize(
		optimize.Problem{Func: nll},
		x0,
		&optimize.Settings{
			Converger: &optimize.FunctionConverge{
				Absolute:   cfg.tolerance,
				Iterations: 100,
			},
			MajorIterations: cfg.maxIterations,
		},
		&optimize.NelderMead{},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: optimizer error: %v", errs.ErrFitFailure, err)
	}
	if result.Status == optimize.IterationLimit {
		return nil, fmt.Errorf("%w: optimizer exceeded %d iterations", errs.ErrFitFailure, cfg.maxIterations)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, fmt.Errorf("%w: likelihood is not finite at optimum", errs.ErrFitFailure)
	}

	cov, err := observedInformationInverse(nll, result.X)
	if err != nil {
		return nil, err
	}

	nParams := len(result.X)
	model := &Model{
		Key:          cfg.Key,
		Truncation:   cfg.Truncation,
		Covariates:   append([]string(nil), cfg.Covariates...),
		Coefficients: append([]float64(nil), result.X...),
		Covariance:   cov,
		LogLik:       -result.F,
		AIC:          2*float64(nParams) + 2*result.F,
		sampleCovs:   covRows,
	}

	return model, nil
}

// truncate drops observations past the truncation distance and extracts
// the covariate rows in coefficient order.
func truncate(observations []survey.Observation, cfg Config) ([]float64, [][]float64) {
	var distances []float64
	var covRows [][]float64

	for _, obs := range observations {
		if obs.Distance > cfg.Truncation {
			continue
		}
		distances = append(distances, obs.Distance)
		if len(cfg.Covariates) == 0 {
			covRows = append(covRows, nil)
			continue
		}
		row := make([]float64, len(cfg.Covariates))
		for i, name := range cfg.Covariates {
			row[i] = obs.Covariates[name]
		}
		covRows = append(covRows, row)
	}

	return distances, covRows
}

// negLogLik builds the negative log-likelihood of the truncated
// perpendicular-distance sample. Each observation contributes
// log μ_i - log g(x_i), where μ_i = ∫₀ʷ g(x; σ_i) dx.
func negLogLik(cfg Config, distances []float64, covRows [][]float64) func(params []float64) float64 {
	return func(params []float64) float64 {
		shape := 0.0
		if cfg.Key.hasShape() {
			shape = math.Exp(params[len(params)-1])
		}

		total := 0.0
		for i, x := range distances {
			eta := params[0]
			for j, v := range covRows[i] {
				eta += params[1+j] * v
			}
			sigma := math.Exp(eta)

			g := cfg.Key.evaluate(x, sigma, shape)
			mu := simpson(func(d float64) float64 {
				return cfg.Key.evaluate(d, sigma, shape)
			}, 0, cfg.Truncation, quadratureIntervals)

			if g <= 0 || mu <= 0 {
				return math.Inf(1)
			}
			total += math.Log(mu) - math.Log(g)
		}

		return total
	}
}

// initialParams seeds the optimizer: the half-normal moment estimator
// for the scale intercept, zero covariate effects, and shape 2 for the
// hazard-rate key.
func initialParams(cfg Config, distances []float64) []float64 {
	sumSq := 0.0
	for _, x := range distances {
		sumSq += x * x
	}
	sigma0 := math.Sqrt(sumSq / float64(len(distances)))
	if sigma0 <= 0 {
		sigma0 = cfg.Truncation / 2
	}

	n := 1 + len(cfg.Covariates)
	if cfg.Key.hasShape() {
		n++
	}
	params := make([]float64, n)
	params[0] = math.Log(sigma0)
	if cfg.Key.hasShape() {
		params[n-1] = math.Log(2)
	}

	return params
}

// observedInformationInverse inverts the numerical Hessian of the
// negative log-likelihood at the optimum. A small ridge is added when
// the Hessian is not numerically positive definite.
func observedInformationInverse(nll func([]float64) float64, x []float64) (*mat.SymDense, error) {
	n := len(x)
	hess := mat.NewSymDense(n, nil)
	fd.Hessian(hess, nll, x, nil)

	ridge := 0.0
	for attempt := 0; attempt < 6; attempt++ {
		work := mat.NewSymDense(n, nil)
		work.CopySym(hess)
		for i := 0; i < n; i++ {
			work.SetSym(i, i, work.At(i, i)+ridge)
		}

		var chol mat.Cholesky
		if chol.Factorize(work) {
			inv := mat.NewSymDense(n, nil)
			if err := chol.InverseTo(inv); err == nil {
				return inv, nil
			}
		}

		if ridge == 0 {
			ridge = 1e-8
		} else {
			ridge *= 100
		}
	}

	return nil, fmt.Errorf("%w: observed information is not positive definite", errs.ErrFitFailure)
}

// simpson integrates f over [a, b] with n (even) intervals using
// composite Simpson's rule.
func simpson(f func(float64) float64, a, b float64, n int) float64 {
	if n%2 != 0 {
		n++
	}
	h := (b - a) / float64(n)
	sum := f(a) + f(b)
	for i := 1; i < n; i++ {
		x := a + float64(i)*h
		if i%2 == 1 {
			sum += 4 * f(x)
		} else {
			sum += 2 * f(x)
		}
	}

	return sum * h / 3
}
