package survey

import (
	"fmt"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
)

// Reserved covariate names resolving to segment/grid coordinates rather
// than entries of the Covariates map.
const (
	CoordX = "x"
	CoordY = "y"
)

// Segment is one fixed-length portion of a survey transect, the spatial
// unit of analysis. Immutable once loaded.
type Segment struct {
	// ID uniquely identifies the segment within its survey.
	ID string
	// Transect is the label of the parent transect.
	Transect string
	// X, Y are the segment midpoint coordinates in the common planar unit.
	X, Y float64
	// Length is the physical along-transect length of the segment.
	Length float64
	// Covariates holds environmental covariate values by name.
	Covariates map[string]float64
	// Count is the raw number of individuals observed on the segment.
	Count float64
}

// Observation is a single detection event attached to a segment.
// Immutable once loaded.
type Observation struct {
	// SegmentID references the parent segment.
	SegmentID string
	// Distance is the perpendicular sighting distance.
	Distance float64
	// ClusterSize is the number of individuals in the detected cluster.
	ClusterSize float64
	// Covariates holds detection covariate values by name (e.g. sighting
	// condition). May be nil when the detection function has none.
	Covariates map[string]float64
}

// SegmentTable is a read-only, ID-indexed collection of segments.
type SegmentTable struct {
	segments []Segment
	index    map[string]int
}

// NewSegmentTable builds an indexed table from segments.
// Duplicate segment IDs are rejected.
func NewSegmentTable(segments []Segment) (*SegmentTable, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: segment table is empty", errs.ErrInvalidConfig)
	}

	index := make(map[string]int, len(segments))
	for i, seg := range segments {
		if seg.ID == "" {
			return nil, fmt.Errorf("%w: segment at position %d has empty ID", errs.ErrInvalidConfig, i)
		}
		if _, exists := index[seg.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate segment ID %q", errs.ErrInvalidConfig, seg.ID)
		}
		index[seg.ID] = i
	}

	return &SegmentTable{segments: segments, index: index}, nil
}

// Len returns the number of segments.
func (t *SegmentTable) Len() int {
	return len(t.segments)
}

// Segment returns the segment at position i.
func (t *SegmentTable) Segment(i int) Segment {
	return t.segments[i]
}

// Lookup returns the segment with the given ID.
func (t *SegmentTable) Lookup(id string) (Segment, bool) {
	i, ok := t.index[id]
	if !ok {
		return Segment{}, false
	}

	return t.segments[i], true
}

// CheckObservations verifies that every observation references a segment
// present in the table. The first violation is reported with the
// offending segment ID and observation position.
func (t *SegmentTable) CheckObservations(observations []Observation) error {
	for i, obs := range observations {
		if _, ok := t.index[obs.SegmentID]; !ok {
			return fmt.Errorf("%w: observation %d references segment %q",
				errs.ErrInputMismatch, i, obs.SegmentID)
		}
	}

	return nil
}

// Covariate returns the named covariate for every segment in table order.
// The reserved names "x" and "y" resolve to the segment coordinates.
// Returns false if any segment lacks the covariate.
func (t *SegmentTable) Covariate(name string) ([]float64, bool) {
	values := make([]float64, len(t.segments))

	switch name {
	case CoordX:
		for i, seg := range t.segments {
			values[i] = seg.X
		}
	case CoordY:
		for i, seg := range t.segments {
			values[i] = seg.Y
		}
	default:
		for i, seg := range t.segments {
			v, ok := seg.Covariates[name]
			if !ok {
				return nil, false
			}
			values[i] = v
		}
	}

	return values, true
}
