package gam

import (
	"fmt"
	"math"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// Predict evaluates the fitted surface on a prediction grid and returns
// the expected count per cell: exp(linear predictor) scaled by the
// cell's area offset. Cells with zero offset predict exactly zero.
//
// Prediction never mutates the model; repeated calls with the same grid
// return identical results.
//
// Parameters:
//   - grid: the prediction grid; every covariate referenced by the
//     model's terms must be present.
//
// Returns:
//   - []float64: per-cell expected counts, aligned with the grid.
//   - error: errs.ErrInvalidConfig when the model is not fitted, or
//     errs.ErrSchemaMismatch when the grid lacks a required covariate.
func (m *Model) Predict(grid *survey.PredictionGrid) ([]float64, error) {
	if m.state != StateFitted {
		return nil, fmt.Errorf("%w: cannot predict from a %s model", errs.ErrInvalidConfig, m.state)
	}

	design, err := m.Design(grid)
	if err != nil {
		return nil, err
	}

	offsets := grid.Offsets()
	predictions := make([]float64, grid.Len())
	for i := range predictions {
		if offsets[i] <= 0 {
			continue
		}
		lp := 0.0
		for j := 0; j < m.NCoefficients(); j++ {
			lp += design.At(i, j) * m.Coefficients[j]
		}
		predictions[i] = math.Exp(clamp(lp, -linkClamp, linkClamp)) * offsets[i]
	}

	return predictions, nil
}

// Total sums per-cell predictions into a study-area abundance estimate.
func Total(predictions []float64) float64 {
	total := 0.0
	for _, p := range predictions {
		total += p
	}

	return total
}
