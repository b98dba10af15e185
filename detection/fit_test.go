package detection

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// halfNormalSample draws n perpendicular distances |N(0, sigma²)| with a
// fixed seed so tests are deterministic.
func halfNormalSample(n int, sigma float64, seed int64) []survey.Observation {
	rng := rand.New(rand.NewSource(seed))
	obs := make([]survey.Observation, n)
	for i := range obs {
		obs[i] = survey.Observation{
			SegmentID:   "s1",
			Distance:    math.Abs(rng.NormFloat64()) * sigma,
			ClusterSize: 1,
		}
	}

	return obs
}

func TestFitHalfNormal(t *testing.T) {
	obs := halfNormalSample(300, 1.0, 42)

	model, err := Fit(obs, Config{Key: KeyHalfNormal, Truncation: 2.5})
	require.NoError(t, err)
	require.Equal(t, KeyHalfNormal, model.Key)
	require.Len(t, model.Coefficients, 1)

	// The log-scale intercept should recover log(sigma) = 0.
	sigma := math.Exp(model.Coefficients[0])
	require.InDelta(t, 1.0, sigma, 0.2)

	// Covariance is positive definite, so the diagonal is positive.
	require.Greater(t, model.Covariance.At(0, 0), 0.0)

	require.True(t, model.LogLik < 0)
	require.InDelta(t, model.AIC, 2-2*model.LogLik, 1e-9)
}

func TestFitHazardRateSmoke(t *testing.T) {
	obs := halfNormalSample(300, 1.0, 7)

	model, err := Fit(obs, Config{Key: KeyHazardRate, Truncation: 2.5})
	require.NoError(t, err)
	require.Len(t, model.Coefficients, 2)

	p := model.AverageP(nil)
	require.Greater(t, p, 0.0)
	require.LessOrEqual(t, p, 1.0)
}

func TestFitWithCovariate(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var obs []survey.Observation
	for i := 0; i < 400; i++ {
		// Beaufort "good" conditions (z=0) have sigma 1, poor (z=1) sigma 1.5.
		z := float64(i % 2)
		sigma := 1.0
		if z == 1 {
			sigma = 1.5
		}
		obs = append(obs, survey.Observation{
			SegmentID:   "s1",
			Distance:    math.Abs(rng.NormFloat64()) * sigma,
			ClusterSize: 1,
			Covariates:  map[string]float64{"beaufort": z},
		})
	}

	model, err := Fit(obs, Config{
		Key:        KeyHalfNormal,
		Truncation: 4,
		Covariates: []string{"beaufort"},
	})
	require.NoError(t, err)
	require.Len(t, model.Coefficients, 2)
	require.Greater(t, model.Coefficients[1], 0.0, "larger sigma group should get a positive effect")

	p0 := model.AverageP(map[string]float64{"beaufort": 0})
	p1 := model.AverageP(map[string]float64{"beaufort": 1})
	require.Greater(t, p1, p0, "wider detection function should average a higher strip probability")
}

func TestProbabilityBounds(t *testing.T) {
	obs := halfNormalSample(200, 1.0, 3)
	model, err := Fit(obs, Config{Key: KeyHalfNormal, Truncation: 3})
	require.NoError(t, err)

	require.InDelta(t, 1.0, model.Probability(0, nil), 1e-12)
	last := 1.1
	for _, d := range []float64{0, 0.5, 1, 1.5, 2, 2.5, 3} {
		p := model.Probability(d, nil)
		require.Greater(t, p, 0.0)
		require.LessOrEqual(t, p, 1.0)
		require.Less(t, p, last, "half-normal key must decrease with distance")
		last = p
	}
}

func TestEffectiveMeanP(t *testing.T) {
	obs := halfNormalSample(400, 1.0, 21)
	model, err := Fit(obs, Config{Key: KeyHalfNormal, Truncation: 2.5})
	require.NoError(t, err)

	// Analytic value for sigma=1, w=2.5: sqrt(pi/2)·erf(w/sqrt(2))/w.
	want := math.Sqrt(math.Pi/2) * math.Erf(2.5/math.Sqrt2) / 2.5
	require.InDelta(t, want, model.EffectiveMeanP(2.5), 0.1)

	// A narrower strip concentrates effort where detection is high.
	require.Greater(t, model.EffectiveMeanP(1.0), model.EffectiveMeanP(2.5))
}

func TestFitTruncationRemovesEverything(t *testing.T) {
	obs := []survey.Observation{
		{SegmentID: "s1", Distance: 5, ClusterSize: 1},
		{SegmentID: "s1", Distance: 7, ClusterSize: 1},
	}

	_, err := Fit(obs, Config{Key: KeyHalfNormal, Truncation: 1})
	require.ErrorIs(t, err, errs.ErrFitFailure)
}

func TestFitRejectsBadTruncation(t *testing.T) {
	_, err := Fit(nil, Config{Key: KeyHalfNormal, Truncation: 0})
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestKeyFunctionNames(t *testing.T) {
	tests := []struct {
		name string
		key  KeyFunction
	}{
		{"half-normal", KeyHalfNormal},
		{"hazard-rate", KeyHazardRate},
	}
	for _, tt := range tests {
		require.Equal(t, tt.name, tt.key.String())
		require.Equal(t, tt.key, KeyFunctionFromString(tt.name))
	}

	require.Equal(t, KeyFunction(-1), KeyFunctionFromString("uniform"))
	require.Equal(t, "unknown", KeyFunction(99).String())
}

func TestWithCoefficientsDoesNotMutate(t *testing.T) {
	obs := halfNormalSample(150, 1.0, 5)
	model, err := Fit(obs, Config{Key: KeyHalfNormal, Truncation: 3})
	require.NoError(t, err)

	orig := model.Coefficients[0]
	clone := model.WithCoefficients([]float64{orig + 0.1})
	require.InDelta(t, orig, model.Coefficients[0], 0)
	require.InDelta(t, orig+0.1, clone.Coefficients[0], 0)
	require.NotEqual(t, model.AverageP(nil), clone.AverageP(nil))
}
