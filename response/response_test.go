package response

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distanceexamples/dsm-line-dolphins/detection"
	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// narrowDetection returns a half-normal detection model with sigma 1 and
// truncation 2, so strip-average detection probability is well below 1.
func narrowDetection() *detection.Model {
	return &detection.Model{
		Key:          detection.KeyHalfNormal,
		Truncation:   2,
		Coefficients: []float64{0}, // log sigma = 0
	}
}

func buildTable(t *testing.T) *survey.SegmentTable {
	t.Helper()
	table, err := survey.NewSegmentTable([]survey.Segment{
		{ID: "a", Length: 10, Count: 3},
		{ID: "b", Length: 10, Count: 0},
		{ID: "c", Length: 5, Count: 2},
	})
	require.NoError(t, err)

	return table
}

func TestBuildRawCount(t *testing.T) {
	table := buildTable(t)
	det := narrowDetection()

	resp, err := Build(table, nil, det, KindRawCount)
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b", "c"}, resp.SegmentIDs)
	require.Equal(t, []float64{3, 0, 2}, resp.Values)
	require.Equal(t, []float64{40, 40, 20}, resp.Offsets) // length * 2 * truncation

	// The raw-count path reproduces the summed observed counts exactly.
	sum := 0.0
	for _, v := range resp.Values {
		sum += v
	}
	require.InDelta(t, 5, sum, 0)
}

func TestBuildRawCountChecksObservations(t *testing.T) {
	table := buildTable(t)
	det := narrowDetection()

	obs := []survey.Observation{
		{SegmentID: "ghost", Distance: 0.5, ClusterSize: 1},
	}

	_, err := Build(table, obs, det, KindRawCount)
	require.ErrorIs(t, err, errs.ErrInputMismatch)
	require.Contains(t, err.Error(), "ghost")
}

func TestBuildHorvitzThompson(t *testing.T) {
	table := buildTable(t)
	det := narrowDetection()

	obs := []survey.Observation{
		{SegmentID: "a", Distance: 0.5, ClusterSize: 2},
		{SegmentID: "a", Distance: 1.5, ClusterSize: 1},
		{SegmentID: "c", Distance: 0.2, ClusterSize: 2},
	}

	resp, err := Build(table, obs, det, KindHorvitzThompson)
	require.NoError(t, err)

	p := det.AverageP(nil)
	require.Less(t, p, 1.0)

	require.InDelta(t, 3/p, resp.Values[0], 1e-9)
	require.InDelta(t, 0, resp.Values[1], 0)
	require.InDelta(t, 2/p, resp.Values[2], 1e-9)

	// With every detection probability below one, the Horvitz-Thompson
	// response strictly exceeds the raw count on observed segments.
	require.Greater(t, resp.Values[0], 3.0)
	require.Greater(t, resp.Values[2], 2.0)

	// Zero-observation segments keep their full effort offset.
	require.InDelta(t, 40, resp.Offsets[1], 0)
}

func TestBuildHorvitzThompsonDropsTruncated(t *testing.T) {
	table := buildTable(t)
	det := narrowDetection()

	obs := []survey.Observation{
		{SegmentID: "a", Distance: 0.5, ClusterSize: 1},
		{SegmentID: "a", Distance: 5.0, ClusterSize: 4}, // beyond truncation
	}

	resp, err := Build(table, obs, det, KindHorvitzThompson)
	require.NoError(t, err)
	require.InDelta(t, 1/det.AverageP(nil), resp.Values[0], 1e-9)
}

func TestBuildReportsUnknownSegment(t *testing.T) {
	table := buildTable(t)
	det := narrowDetection()

	obs := []survey.Observation{
		{SegmentID: "ghost", Distance: 0.5, ClusterSize: 1},
	}

	_, err := Build(table, obs, det, KindHorvitzThompson)
	require.ErrorIs(t, err, errs.ErrInputMismatch)
	require.Contains(t, err.Error(), "ghost")
}

func TestCovariateDetectionInflatesUnevenly(t *testing.T) {
	table := buildTable(t)
	det := &detection.Model{
		Key:          detection.KeyHalfNormal,
		Truncation:   2,
		Covariates:   []string{"beaufort"},
		Coefficients: []float64{0, -0.5}, // poor conditions shrink sigma
	}

	obs := []survey.Observation{
		{SegmentID: "a", Distance: 0.5, ClusterSize: 1, Covariates: map[string]float64{"beaufort": 0}},
		{SegmentID: "c", Distance: 0.5, ClusterSize: 1, Covariates: map[string]float64{"beaufort": 3}},
	}

	resp, err := Build(table, obs, det, KindHorvitzThompson)
	require.NoError(t, err)

	// The poor-conditions cluster is harder to detect, so it is inflated more.
	require.Greater(t, resp.Values[2], resp.Values[0])
	require.False(t, math.IsInf(resp.Values[2], 0))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "raw-count", KindRawCount.String())
	require.Equal(t, "horvitz-thompson", KindHorvitzThompson.String())
	require.Equal(t, "unknown", Kind(9).String())
}
