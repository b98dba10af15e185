package survey

// GridCell is one cell of a prediction grid: a location, the covariate
// values the fitted model requires, and the cell's effective surveyed
// area entered as the prediction offset.
type GridCell struct {
	X, Y       float64
	Covariates map[string]float64
	// Offset is the effective area of the cell in the common squared
	// linear unit. Cells with zero offset predict zero abundance.
	Offset float64
}

// PredictionGrid is an ordered, read-only sequence of cells. Predictions
// and variance results align one-to-one with Cells.
type PredictionGrid struct {
	Cells []GridCell
}

// Len returns the number of cells.
func (g *PredictionGrid) Len() int {
	return len(g.Cells)
}

// Covariate returns the named covariate for every cell in grid order.
// The reserved names "x" and "y" resolve to the cell coordinates.
// Returns false if any cell lacks the covariate.
func (g *PredictionGrid) Covariate(name string) ([]float64, bool) {
	values := make([]float64, len(g.Cells))

	switch name {
	case CoordX:
		for i, cell := range g.Cells {
			values[i] = cell.X
		}
	case CoordY:
		for i, cell := range g.Cells {
			values[i] = cell.Y
		}
	default:
		for i, cell := range g.Cells {
			v, ok := cell.Covariates[name]
			if !ok {
				return nil, false
			}
			values[i] = v
		}
	}

	return values, true
}

// Offsets returns the per-cell offsets in grid order.
func (g *PredictionGrid) Offsets() []float64 {
	offsets := make([]float64, len(g.Cells))
	for i, cell := range g.Cells {
		offsets[i] = cell.Offset
	}

	return offsets
}
