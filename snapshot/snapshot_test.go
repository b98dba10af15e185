package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/distanceexamples/dsm-line-dolphins/detection"
	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/family"
	"github.com/distanceexamples/dsm-line-dolphins/gam"
	"github.com/distanceexamples/dsm-line-dolphins/response"
	"github.com/distanceexamples/dsm-line-dolphins/smooth"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

func detectionFixture() *detection.Model {
	return &detection.Model{
		Key:          detection.KeyHazardRate,
		Truncation:   2.5,
		Covariates:   []string{"beaufort", "size"},
		Coefficients: []float64{0.4, -0.12, 0.03, 0.8},
		Covariance: mat.NewSymDense(4, []float64{
			0.02, 0.001, 0, 0,
			0.001, 0.005, 0, 0,
			0, 0, 0.003, 0,
			0, 0, 0, 0.04,
		}),
		LogLik: -412.7,
		AIC:    833.4,
	}
}

func TestDetectionRoundTrip(t *testing.T) {
	original := detectionFixture()

	for _, codec := range []CodecType{CodecNone, CodecS2, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			data, err := EncodeDetection(original, codec)
			require.NoError(t, err)

			decoded, err := DecodeDetection(data)
			require.NoError(t, err)
			require.Equal(t, original.Key, decoded.Key)
			require.Equal(t, original.Truncation, decoded.Truncation)
			require.Equal(t, original.Covariates, decoded.Covariates)
			require.Equal(t, original.Coefficients, decoded.Coefficients)
			require.Equal(t, original.LogLik, decoded.LogLik)
			require.Equal(t, original.AIC, decoded.AIC)
			require.True(t, mat.Equal(original.Covariance, decoded.Covariance))

			// The decoded model must be directly usable.
			p := decoded.Probability(1.0, map[string]float64{"beaufort": 2, "size": 3})
			require.Greater(t, p, 0.0)
			require.LessOrEqual(t, p, 1.0)
		})
	}
}

func TestCountRecordRoundTrip(t *testing.T) {
	const n = 8
	segments := make([]survey.Segment, n)
	ids := make([]string, n)
	values := make([]float64, n)
	offsets := make([]float64, n)
	for i := range segments {
		id := string(rune('a' + i))
		segments[i] = survey.Segment{ID: id, Transect: "t1", X: float64(i), Length: 1}
		ids[i] = id
		values[i] = 6
		offsets[i] = 3
	}
	table, err := survey.NewSegmentTable(segments)
	require.NoError(t, err)

	resp := &response.Response{SegmentIDs: ids, Values: values, Offsets: offsets, Kind: response.KindHorvitzThompson}
	model, err := gam.Fit(resp, table, gam.Config{
		Terms:  []smooth.TermSpec{{Variables: []string{"x"}, Basis: smooth.BasisOrdinary, K: 4}},
		Family: family.Config{Name: family.QuasiPoisson},
	})
	require.NoError(t, err)

	record, err := NewCountRecord(model)
	require.NoError(t, err)

	data, err := EncodeCount(record, CodecZstd)
	require.NoError(t, err)

	decoded, err := DecodeCount(data)
	require.NoError(t, err)
	require.Equal(t, record.Family, decoded.Family)
	require.Equal(t, record.Parameter, decoded.Parameter)
	require.Equal(t, record.ResponseKind, decoded.ResponseKind)
	require.Equal(t, record.Coefficients, decoded.Coefficients)
	require.Equal(t, record.Smoothing, decoded.Smoothing)
	require.Equal(t, record.EDF, decoded.EDF)
	require.Equal(t, record.Scale, decoded.Scale)
	require.Equal(t, record.DevianceExplained, decoded.DevianceExplained)
	require.True(t, mat.Equal(record.Covariance, decoded.Covariance))
}

func TestNewCountRecordRejectsUnfitted(t *testing.T) {
	_, err := NewCountRecord(nil)
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	var unfit gam.Model
	_, err = NewCountRecord(&unfit)
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestDecodeRejectsCorruption(t *testing.T) {
	data, err := EncodeDetection(detectionFixture(), CodecS2)
	require.NoError(t, err)

	t.Run("short input", func(t *testing.T) {
		_, err := DecodeDetection(data[:10])
		require.ErrorIs(t, err, errs.ErrCorruptSnapshot)
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] = 'X'
		_, err := DecodeDetection(bad)
		require.ErrorIs(t, err, errs.ErrCorruptSnapshot)
	})

	t.Run("unsupported version", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[4] = 99
		_, err := DecodeDetection(bad)
		require.ErrorIs(t, err, errs.ErrCorruptSnapshot)
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := DecodeCount(data)
		require.ErrorIs(t, err, errs.ErrCorruptSnapshot)
	})

	t.Run("flipped payload byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)/2] ^= 0xff
		_, err := DecodeDetection(bad)
		require.ErrorIs(t, err, errs.ErrCorruptSnapshot)
	})

	t.Run("truncated tail", func(t *testing.T) {
		_, err := DecodeDetection(data[:len(data)-3])
		require.ErrorIs(t, err, errs.ErrCorruptSnapshot)
	})
}

func TestEncodeUnknownCodec(t *testing.T) {
	_, err := EncodeDetection(detectionFixture(), CodecType(42))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}
