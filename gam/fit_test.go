package gam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/family"
	"github.com/distanceexamples/dsm-line-dolphins/response"
	"github.com/distanceexamples/dsm-line-dolphins/smooth"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// lineTable builds n unit-length segments spaced along the x axis.
func lineTable(t *testing.T, n int) *survey.SegmentTable {
	t.Helper()

	segments := make([]survey.Segment, n)
	for i := range segments {
		segments[i] = survey.Segment{
			ID:       string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Transect: "t1",
			X:        float64(i),
			Y:        0,
			Length:   1,
		}
	}
	table, err := survey.NewSegmentTable(segments)
	require.NoError(t, err)

	return table
}

// lineResponse pairs a table with explicit response values and a
// constant offset.
func lineResponse(table *survey.SegmentTable, values []float64, offset float64) *response.Response {
	ids := make([]string, table.Len())
	offsets := make([]float64, table.Len())
	for i := range ids {
		ids[i] = table.Segment(i).ID
		offsets[i] = offset
	}

	return &response.Response{
		SegmentIDs: ids,
		Values:     values,
		Offsets:    offsets,
		Kind:       response.KindRawCount,
	}
}

func lineGrid(xs []float64, offset float64) *survey.PredictionGrid {
	cells := make([]survey.GridCell, len(xs))
	for i, x := range xs {
		cells[i] = survey.GridCell{X: x, Y: 0, Offset: offset}
	}

	return &survey.PredictionGrid{Cells: cells}
}

func sx(k int) smooth.TermSpec {
	return smooth.TermSpec{Variables: []string{"x"}, Basis: smooth.BasisOrdinary, K: k}
}

func TestFitConstantRate(t *testing.T) {
	const (
		n      = 8
		offset = 4.0
		rate   = 2.0
	)
	table := lineTable(t, n)
	values := make([]float64, n)
	for i := range values {
		values[i] = rate * offset
	}
	resp := lineResponse(table, values, offset)

	model, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(4)},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.NoError(t, err)
	require.Equal(t, StateFitted, model.State())
	require.Len(t, model.Smoothing, 1)
	require.Len(t, model.EDF, 1)

	// Constant data lies in the intercept's span, so predictions at the
	// segment locations reproduce the rate exactly.
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	predictions, err := model.Predict(lineGrid(xs, offset))
	require.NoError(t, err)
	for _, p := range predictions {
		require.InDelta(t, rate*offset, p, 1e-3)
	}
}

func TestFitAllZeroCounts(t *testing.T) {
	const n = 6
	table := lineTable(t, n)
	resp := lineResponse(table, make([]float64, n), 4.0)

	model, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(3)},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.NoError(t, err)
	require.Equal(t, StateFitted, model.State())
	require.Zero(t, model.DevianceExplained)

	predictions, err := model.Predict(lineGrid([]float64{0.5, 2.5, 4.5}, 4.0))
	require.NoError(t, err)
	for _, p := range predictions {
		require.Less(t, p, 1e-6)
		require.InDelta(t, predictions[0], p, 1e-9)
	}
	require.Less(t, Total(predictions), 1e-6)
}

func TestFitSmoothSignalRecovery(t *testing.T) {
	const (
		n      = 24
		offset = 5.0
	)
	table := lineTable(t, n)
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Exp(1+math.Sin(float64(i)/3)) * offset
	}
	resp := lineResponse(table, values, offset)

	model, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(8)},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.NoError(t, err)
	require.Equal(t, StateFitted, model.State())
	require.Greater(t, model.DevianceExplained, 0.8)

	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	predictions, err := model.Predict(lineGrid(xs, offset))
	require.NoError(t, err)
	for i, p := range predictions {
		require.InEpsilon(t, values[i], p, 0.3)
	}
}

func TestFitNegativeBinomialProfiled(t *testing.T) {
	const n = 10
	table := lineTable(t, n)
	values := make([]float64, n)
	for i := range values {
		values[i] = 6 + 2*float64(i%3)
	}
	resp := lineResponse(table, values, 3.0)

	// Theta left zero: Fit profiles a grid of candidates.
	model, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(4)},
		Family: family.Config{Name: family.NegativeBinomial},
	})
	require.NoError(t, err)
	require.Equal(t, StateFitted, model.State())
	require.Equal(t, family.NegativeBinomial, model.Family().Name())
	require.Greater(t, model.Family().Parameter(), 0.0)
	require.Equal(t, 1.0, model.Scale)
}

func TestFitTweedieFixedPower(t *testing.T) {
	const n = 9
	table := lineTable(t, n)
	values := []float64{0, 3, 0, 8, 2, 0, 5, 1, 4}
	resp := lineResponse(table, values, 2.5)

	model, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(4)},
		Family: family.Config{Name: family.Tweedie, TweediePower: 1.4},
	})
	require.NoError(t, err)
	require.Equal(t, StateFitted, model.State())
	require.InDelta(t, 1.4, model.Family().Parameter(), 1e-12)
	require.Greater(t, model.Scale, 0.0)
}

func TestFitRankDeficiency(t *testing.T) {
	table := lineTable(t, 4)
	resp := lineResponse(table, []float64{1, 2, 3, 4}, 2.0)

	_, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(10)},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.ErrorIs(t, err, errs.ErrRankDeficiency)
}

func TestFitNonConvergence(t *testing.T) {
	const (
		n      = 24
		offset = 5.0
	)
	table := lineTable(t, n)
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Exp(1+math.Sin(float64(i)/3)) * offset
	}
	resp := lineResponse(table, values, offset)

	// One PIRLS iteration cannot reach the deviance tolerance on a
	// response this far from the starting values.
	_, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(8)},
		Family: family.Config{Name: family.QuasiPoisson},
	}, WithMaxIterations(1))
	require.ErrorIs(t, err, errs.ErrNonConvergence)
}

func TestFitCovarianceIsPositive(t *testing.T) {
	const n = 12
	table := lineTable(t, n)
	values := make([]float64, n)
	for i := range values {
		values[i] = 4 + float64(i%4)
	}
	resp := lineResponse(table, values, 3.0)

	model, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(5)},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.NoError(t, err)

	cov := model.Covariance
	require.NotNil(t, cov)
	for i := 0; i < model.NCoefficients(); i++ {
		require.Greater(t, cov.At(i, i), 0.0)
	}
}

func TestFitZeroOffsetSegmentsExcluded(t *testing.T) {
	const n = 8
	table := lineTable(t, n)
	resp := lineResponse(table, []float64{4, 4, 4, 4, 4, 4, 0, 0}, 2.0)
	// The last two segments were not surveyed.
	resp.Offsets[6] = 0
	resp.Offsets[7] = 0

	model, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(3)},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.NoError(t, err)
	require.Equal(t, StateFitted, model.State())

	predictions, err := model.Predict(lineGrid([]float64{1, 3}, 2.0))
	require.NoError(t, err)
	for _, p := range predictions {
		require.InDelta(t, 4.0, p, 0.5)
	}
}

func TestFitConfigErrors(t *testing.T) {
	table := lineTable(t, 4)
	resp := lineResponse(table, []float64{1, 2, 3, 4}, 2.0)

	_, err := Fit(resp, table, Config{Family: family.Config{Name: family.QuasiPoisson}})
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	short := lineResponse(lineTable(t, 3), []float64{1, 2, 3}, 2.0)
	_, err = Fit(short, table, Config{
		Terms:  []smooth.TermSpec{sx(3)},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(3)},
		Family: family.Config{Name: family.Tweedie, TweediePower: 2.5},
	})
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestPredictErrors(t *testing.T) {
	var unfit Model
	_, err := unfit.Predict(lineGrid([]float64{0}, 1))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	table := lineTable(t, 6)
	segments := make([]survey.Segment, table.Len())
	for i := range segments {
		s := table.Segment(i)
		s.Covariates = map[string]float64{"depth": float64(10 + i)}
		segments[i] = s
	}
	covTable, err := survey.NewSegmentTable(segments)
	require.NoError(t, err)

	resp := lineResponse(covTable, []float64{2, 3, 2, 4, 3, 2}, 2.0)
	model, err := Fit(resp, covTable, Config{
		Terms:  []smooth.TermSpec{{Variables: []string{"depth"}, Basis: smooth.BasisOrdinary, K: 3}},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.NoError(t, err)

	// Grid without the depth covariate.
	_, err = model.Predict(lineGrid([]float64{1, 2}, 2.0))
	require.ErrorIs(t, err, errs.ErrSchemaMismatch)
}

func TestPredictIdempotentAndZeroOffset(t *testing.T) {
	const n = 8
	table := lineTable(t, n)
	values := make([]float64, n)
	for i := range values {
		values[i] = 5
	}
	resp := lineResponse(table, values, 2.0)

	model, err := Fit(resp, table, Config{
		Terms:  []smooth.TermSpec{sx(4)},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.NoError(t, err)

	grid := lineGrid([]float64{0, 2, 4}, 2.0)
	grid.Cells[1].Offset = 0

	first, err := model.Predict(grid)
	require.NoError(t, err)
	second, err := model.Predict(grid)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.Zero(t, first[1])
	require.InDelta(t, first[0]+first[2], Total(first), 1e-12)
}
