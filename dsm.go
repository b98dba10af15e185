// Package dsm implements a density-surface-model abundance-estimation
// engine for line-transect distance-sampling surveys.
//
// The engine turns per-segment counts and per-observation detection
// distances into a predicted abundance surface with uncertainty: a
// parametric detection function corrects counts for imperfect
// detectability, a penalized generalized additive model smooths the
// corrected counts over space and environment, and two delta-method
// variance estimators propagate the fitted covariances onto a
// prediction grid.
//
// # Core Features
//
//   - Half-normal and hazard-rate detection functions, optionally with
//     covariates on the log scale parameter
//   - Raw-count and Horvitz-Thompson response definitions
//   - Ordinary radial smooths in one or two variables plus a
//     boundary-respecting soap-film smooth for non-convex regions
//   - Quasi-Poisson, Tweedie, and negative-binomial count families with
//     REML smoothing-parameter selection
//   - Independent-combination and joint-propagation variance estimators
//   - Compact binary snapshots of fitted models (see the snapshot
//     package)
//
// # Basic Usage
//
// Estimating abundance over a prediction grid:
//
//	import "github.com/distanceexamples/dsm-line-dolphins"
//
//	result, err := dsm.EstimateAbundance(table, observations, grid, dsm.Spec{
//	    Detection: detection.Config{Key: detection.KeyHalfNormal, Truncation: 2.0},
//	    Terms: []smooth.TermSpec{
//	        {Variables: []string{"x", "y"}, Basis: smooth.BasisOrdinary, K: 20},
//	    },
//	    Family:   family.Config{Name: family.Tweedie},
//	    Response: response.KindHorvitzThompson,
//	    Variance: variance.MethodIndependent,
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("Nhat=%.0f CV=%.2f\n", result.Total, result.Uncertainty.TotalCV)
//
// # Package Structure
//
// This package provides a convenience wrapper over the pipeline. For
// fine-grained control — reusing one detection function across several
// count models, comparing response definitions, or picking smoothing
// details — use the detection, response, smooth, gam, and variance
// packages directly.
package dsm

import (
	"github.com/distanceexamples/dsm-line-dolphins/detection"
	"github.com/distanceexamples/dsm-line-dolphins/family"
	"github.com/distanceexamples/dsm-line-dolphins/gam"
	"github.com/distanceexamples/dsm-line-dolphins/response"
	"github.com/distanceexamples/dsm-line-dolphins/smooth"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
	"github.com/distanceexamples/dsm-line-dolphins/variance"
)

// Spec configures one end-to-end abundance estimation.
type Spec struct {
	// Detection configures the detection-function fit.
	Detection detection.Config
	// Terms lists the smooth terms of the count model.
	Terms []smooth.TermSpec
	// Family selects the count distribution.
	Family family.Config
	// Response selects the response definition.
	Response response.Kind
	// Variance selects the uncertainty algorithm.
	Variance variance.Method
}

// Abundance bundles the outputs of one full pipeline run.
type Abundance struct {
	// Detection is the fitted detection function, reusable across
	// further count-model fits.
	Detection *detection.Model
	// Count is the fitted density surface model.
	Count *gam.Model
	// Predictions is the expected abundance per grid cell, aligned with
	// the grid.
	Predictions []float64
	// Total is the grid-total abundance estimate.
	Total float64
	// Uncertainty holds per-cell and total variance/CV.
	Uncertainty *variance.Result
}

// EstimateAbundance runs the full pipeline: detection-function fit,
// response construction, count-model fit, grid prediction, and variance
// estimation. Inputs are read-only and may be shared across concurrent
// calls.
func EstimateAbundance(table *survey.SegmentTable, observations []survey.Observation, grid *survey.PredictionGrid, spec Spec) (*Abundance, error) {
	det, err := detection.Fit(observations, spec.Detection)
	if err != nil {
		return nil, err
	}

	resp, err := response.Build(table, observations, det, spec.Response)
	if err != nil {
		return nil, err
	}

	count, err := gam.Fit(resp, table, gam.Config{
		Terms:        spec.Terms,
		Family:       spec.Family,
		ResponseKind: spec.Response,
	})
	if err != nil {
		return nil, err
	}

	predictions, err := count.Predict(grid)
	if err != nil {
		return nil, err
	}

	uncertainty, err := variance.Estimate(count, det, table, grid, spec.Variance)
	if err != nil {
		return nil, err
	}

	return &Abundance{
		Detection:   det,
		Count:       count,
		Predictions: predictions,
		Total:       gam.Total(predictions),
		Uncertainty: uncertainty,
	}, nil
}
