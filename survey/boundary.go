package survey

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
)

// Point is a planar coordinate pair in the survey's common linear unit.
type Point struct {
	X, Y float64
}

// Boundary is a validated survey-region polygon: a closed,
// non-self-intersecting planar ring. Smoothing must not leak across it.
type Boundary struct {
	ring orb.Ring
}

// NewBoundary validates points as a boundary ring and returns the
// Boundary. The ring must be explicitly closed (first point repeated as
// the last), enclose a non-degenerate area, and must not self-intersect.
// Violations are reported as errs.ErrBoundaryViolation.
func NewBoundary(points []Point) (*Boundary, error) {
	if len(points) < 4 {
		return nil, fmt.Errorf("%w: boundary needs at least 4 points (closed triangle), got %d",
			errs.ErrBoundaryViolation, len(points))
	}

	ring := make(orb.Ring, len(points))
	for i, p := range points {
		ring[i] = orb.Point{p.X, p.Y}
	}

	if !ring.Closed() {
		return nil, fmt.Errorf("%w: boundary ring is not closed (first point %v, last point %v)",
			errs.ErrBoundaryViolation, ring[0], ring[len(ring)-1])
	}

	// A self-intersecting ring can have cancelling signed area, so this
	// scan must run before the area check.
	if i, j, ok := selfIntersection(ring); ok {
		return nil, fmt.Errorf("%w: boundary edges %d and %d intersect", errs.ErrBoundaryViolation, i, j)
	}

	if math.Abs(planar.Area(ring)) == 0 {
		return nil, fmt.Errorf("%w: boundary ring encloses zero area", errs.ErrBoundaryViolation)
	}

	return &Boundary{ring: ring}, nil
}

// Contains reports whether the point (x, y) lies inside or on the
// boundary ring.
func (b *Boundary) Contains(x, y float64) bool {
	return planar.RingContains(b.ring, orb.Point{x, y})
}

// ContainsPath reports whether the straight segment from p to q stays
// inside the boundary, checked at samples evenly spaced interior points.
// Used to decide whether two knots may be treated as neighbours without
// smoothing across an excluded region.
func (b *Boundary) ContainsPath(p, q Point, samples int) bool {
	if samples < 1 {
		samples = 1
	}
	for i := 1; i <= samples; i++ {
		t := float64(i) / float64(samples+1)
		if !b.Contains(p.X+t*(q.X-p.X), p.Y+t*(q.Y-p.Y)) {
			return false
		}
	}

	return true
}

// EdgeDistance returns the shortest distance from (x, y) to the boundary
// ring.
func (b *Boundary) EdgeDistance(x, y float64) float64 {
	best := math.Inf(1)
	for i := 0; i+1 < len(b.ring); i++ {
		d := pointSegmentDistance(x, y, b.ring[i], b.ring[i+1])
		if d < best {
			best = d
		}
	}

	return best
}

// pointSegmentDistance returns the distance from (x, y) to the segment ab.
func pointSegmentDistance(x, y float64, a, b orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = ((x-a[0])*dx + (y-a[1])*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	px, py := a[0]+t*dx, a[1]+t*dy

	return math.Hypot(x-px, y-py)
}

// selfIntersection scans all non-adjacent edge pairs for a proper
// crossing and returns the first pair found. O(n^2) in the ring size,
// which is fine for survey boundaries.
func selfIntersection(ring orb.Ring) (int, int, bool) {
	n := len(ring) - 1 // edges; last point repeats the first
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			// Skip the adjacent pair that wraps around the ring start.
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsCross(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return i, j, true
			}
		}
	}

	return 0, 0, false
}

// segmentsCross reports whether segments ab and cd properly intersect.
func segmentsCross(a, b, c, d orb.Point) bool {
	o1 := orientation(a, b, c)
	o2 := orientation(a, b, d)
	o3 := orientation(c, d, a)
	o4 := orientation(c, d, b)

	return o1*o2 < 0 && o3*o4 < 0
}

// orientation returns the sign of the cross product (b-a) x (c-a):
// positive for counter-clockwise, negative for clockwise, zero for
// collinear.
func orientation(a, b, c orb.Point) float64 {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
