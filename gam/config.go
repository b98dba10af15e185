package gam

import (
	"github.com/distanceexamples/dsm-line-dolphins/family"
	"github.com/distanceexamples/dsm-line-dolphins/internal/options"
	"github.com/distanceexamples/dsm-line-dolphins/response"
	"github.com/distanceexamples/dsm-line-dolphins/smooth"
)

// Config specifies a count-model fit. It is passed once at fit time and
// never mutated; the smoothing-selection method is always REML.
type Config struct {
	// Terms lists the smooth terms of the linear predictor, in order.
	Terms []smooth.TermSpec
	// Family selects the response distribution.
	Family family.Config
	// ResponseKind records which response definition produced the input;
	// carried on the fitted model for reporting.
	ResponseKind response.Kind

	maxIterations   int
	tolerance       float64
	smoothingSweeps int
}

// Option is a functional option for Config.
type Option = options.Option[*Config]

// WithMaxIterations overrides the PIRLS iteration budget.
func WithMaxIterations(n int) Option {
	return options.NoError(func(cfg *Config) {
		cfg.maxIterations = n
	})
}

// WithTolerance overrides the PIRLS deviance-convergence tolerance.
func WithTolerance(tol float64) Option {
	return options.NoError(func(cfg *Config) {
		cfg.tolerance = tol
	})
}

// WithSmoothingSweeps overrides the number of coordinate-descent sweeps
// of the REML smoothing-parameter search.
func WithSmoothingSweeps(n int) Option {
	return options.NoError(func(cfg *Config) {
		cfg.smoothingSweeps = n
	})
}

func (cfg *Config) setDefaults() {
	if cfg.maxIterations == 0 {
		cfg.maxIterations = 200
	}
	if cfg.tolerance == 0 {
		cfg.tolerance = 1e-8
	}
	if cfg.smoothingSweeps == 0 {
		cfg.smoothingSweeps = 3
	}
}
