// Package survey defines the tabular inputs of the abundance engine:
// the segment and observation tables produced by the data-ingestion
// collaborator, the prediction grid, and the survey-region boundary
// polygon used by boundary-constrained smooth terms.
//
// All types are plain read-only values once constructed. The ingestion
// collaborator guarantees that coordinates are already projected to a
// planar system and that every length, distance and area shares one
// common linear unit; this package never converts units.
//
// # Tables
//
// A SegmentTable indexes segments by identifier and validates
// referential integrity when observations are attached:
//
//	table, err := survey.NewSegmentTable(segments)
//	if err != nil {
//	    return err
//	}
//	if err := table.CheckObservations(observations); err != nil {
//	    return err // errs.ErrInputMismatch, names the segment
//	}
//
// # Boundary polygons
//
// A Boundary wraps a closed, non-self-intersecting planar ring. It is
// validated at construction, so a non-nil Boundary is always usable for
// containment queries:
//
//	boundary, err := survey.NewBoundary(points)
//	if err != nil {
//	    return err // errs.ErrBoundaryViolation
//	}
//	inside := boundary.Contains(x, y)
package survey
