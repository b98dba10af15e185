package detection

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Model is a fitted detection function. It is immutable once fitted and
// safe to share read-only across any number of count-model fits and
// variance computations.
//
// The parameter vector layout is:
//
//	[0]            intercept of the log-scale linear predictor
//	[1..c]         one coefficient per entry of Covariates, in order
//	[c+1]          log shape (hazard-rate key only)
type Model struct {
	// Key is the key-function family.
	Key KeyFunction
	// Truncation is the perpendicular distance beyond which observations
	// were discarded at fit time.
	Truncation float64
	// Covariates names the detection covariates of the log-scale linear
	// predictor, in coefficient order. Empty for a plain key function.
	Covariates []string
	// Coefficients is the fitted parameter vector.
	Coefficients []float64
	// Covariance is the parameter covariance matrix (inverse observed
	// information).
	Covariance *mat.SymDense
	// LogLik is the maximized log-likelihood.
	LogLik float64
	// AIC is Akaike's information criterion, 2k - 2·LogLik.
	AIC float64

	// covariate rows of the fitting sample, retained so effective
	// detection probability can be aggregated over the observed
	// covariate distribution.
	sampleCovs [][]float64
}

// NParams returns the length of the parameter vector.
func (m *Model) NParams() int {
	return len(m.Coefficients)
}

// scale returns sigma for one covariate row (aligned with Covariates).
func (m *Model) scale(covs []float64) float64 {
	eta := m.Coefficients[0]
	for i, v := range covs {
		eta += m.Coefficients[1+i] * v
	}

	return math.Exp(eta)
}

// shape returns the hazard-rate shape parameter, 0 for keys without one.
func (m *Model) shape() float64 {
	if !m.Key.hasShape() {
		return 0
	}

	return math.Exp(m.Coefficients[len(m.Coefficients)-1])
}

// covariateRow extracts the model's covariates from a name→value map in
// coefficient order. Missing names default to zero.
func (m *Model) covariateRow(covs map[string]float64) []float64 {
	if len(m.Covariates) == 0 {
		return nil
	}
	row := make([]float64, len(m.Covariates))
	for i, name := range m.Covariates {
		row[i] = covs[name]
	}

	return row
}

// Probability returns the detection probability g(distance) for an
// animal with the given covariate values. The result lies in (0, 1].
func (m *Model) Probability(distance float64, covs map[string]float64) float64 {
	row := m.covariateRow(covs)

	return m.Key.evaluate(distance, m.scale(row), m.shape())
}

// AverageP returns the detection probability averaged over perpendicular
// distance within the truncation strip for the given covariate values:
// (1/w) ∫₀ʷ g(x) dx. This is the per-observation probability used by the
// Horvitz-Thompson response.
func (m *Model) AverageP(covs map[string]float64) float64 {
	return m.averagePRow(m.covariateRow(covs), m.Truncation)
}

func (m *Model) averagePRow(row []float64, truncation float64) float64 {
	sigma := m.scale(row)
	shape := m.shape()

	return simpson(func(x float64) float64 {
		return m.Key.evaluate(x, sigma, shape)
	}, 0, truncation, quadratureIntervals) / truncation
}

// EffectiveMeanP returns the detection probability within the given
// truncation distance aggregated over the observed covariate
// distribution of the fitting sample. With no detection covariates this
// is simply the average detection probability of the strip.
func (m *Model) EffectiveMeanP(truncation float64) float64 {
	if len(m.sampleCovs) == 0 {
		return m.averagePRow(nil, truncation)
	}

	sum := 0.0
	for _, row := range m.sampleCovs {
		sum += m.averagePRow(row, truncation)
	}

	return sum / float64(len(m.sampleCovs))
}

// WithCoefficients returns a copy of the model carrying a replacement
// parameter vector. The fitted model itself is never mutated; variance
// propagation uses perturbed copies to form numerical gradients.
func (m *Model) WithCoefficients(coeffs []float64) *Model {
	clone := *m
	clone.Coefficients = append([]float64(nil), coeffs...)

	return &clone
}

// String returns a one-line fit summary.
func (m *Model) String() string {
	return fmt.Sprintf("DetectionModel{Key: %s, Truncation: %g, Covariates: %v, LogLik: %.4f, AIC: %.4f}",
		m.Key, m.Truncation, m.Covariates, m.LogLik, m.AIC)
}
