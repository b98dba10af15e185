// Package response converts per-segment raw counts and per-observation
// detection probabilities into the regression response and effort offset
// consumed by the count model.
//
// Two response definitions are supported. When the detection function
// has no per-observation covariates, the response is the raw segment
// count and detectability is absorbed by the offset downstream. When
// detection covariates vary by observation, the response is a per-segment
// Horvitz-Thompson abundance estimate: each observed cluster is inflated
// by the inverse of its estimated detection probability, so the response
// already corrects for unequal detectability.
//
// In both cases the effort offset is the strip area
// length × 2 × truncation distance. Segments with no observations keep
// their full effort offset and contribute a response of zero.
package response

import (
	"fmt"

	"github.com/distanceexamples/dsm-line-dolphins/detection"
	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/survey"
)

// Kind selects the response definition.
type Kind int

const (
	// KindRawCount uses the observed segment count directly.
	KindRawCount Kind = iota
	// KindHorvitzThompson uses the per-segment Horvitz-Thompson
	// abundance estimate, sum over observations of size/probability.
	KindHorvitzThompson
)

// String returns the string representation of the response kind.
func (k Kind) String() string {
	switch k {
	case KindRawCount:
		return "raw-count"
	case KindHorvitzThompson:
		return "horvitz-thompson"
	default:
		return "unknown"
	}
}

// Response is the per-segment regression input, aligned with the
// segment table order.
type Response struct {
	// SegmentIDs lists the segments in table order.
	SegmentIDs []string
	// Values is the regression response per segment.
	Values []float64
	// Offsets is the strip-area effort offset per segment.
	Offsets []float64
	// Kind records which response definition produced Values.
	Kind Kind
}

// Build computes the response and offset for every segment in the table.
//
// The raw-count path ignores observations entirely and reproduces the
// segment counts. The Horvitz-Thompson path groups observations by
// segment and sums cluster size over detection probability; it reports
// errs.ErrInputMismatch if an observation references a segment absent
// from the table.
func Build(table *survey.SegmentTable, observations []survey.Observation, det *detection.Model, kind Kind) (*Response, error) {
	n := table.Len()
	resp := &Response{
		SegmentIDs: make([]string, n),
		Values:     make([]float64, n),
		Offsets:    make([]float64, n),
		Kind:       kind,
	}

	for i := 0; i < n; i++ {
		seg := table.Segment(i)
		resp.SegmentIDs[i] = seg.ID
		resp.Offsets[i] = seg.Length * 2 * det.Truncation
		if kind == KindRawCount {
			resp.Values[i] = seg.Count
		}
	}

	// Referential integrity is a precondition of every response kind,
	// even though the raw-count path never reads the observations.
	if err := table.CheckObservations(observations); err != nil {
		return nil, err
	}

	if kind == KindRawCount {
		return resp, nil
	}

	position := make(map[string]int, n)
	for i := 0; i < n; i++ {
		position[table.Segment(i).ID] = i
	}

	for j, obs := range observations {
		if obs.Distance > det.Truncation {
			continue
		}
		p := det.AverageP(obs.Covariates)
		if p <= 0 {
			return nil, fmt.Errorf("%w: observation %d on segment %q has detection probability %g",
				errs.ErrInputMismatch, j, obs.SegmentID, p)
		}
		resp.Values[position[obs.SegmentID]] += obs.ClusterSize / p
	}

	return resp, nil
}
