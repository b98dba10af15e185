package gam

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/distanceexamples/dsm-line-dolphins/family"
	"github.com/distanceexamples/dsm-line-dolphins/response"
	"github.com/distanceexamples/dsm-line-dolphins/smooth"
)

// State is the lifecycle state of a count model.
type State int

const (
	// StateUnfit is the initial state.
	StateUnfit State = iota
	// StateFitting marks a fit in progress.
	StateFitting
	// StateFitted is terminal: the model is immutable and usable.
	StateFitted
	// StateFailed is terminal: the fit did not produce a usable model.
	StateFailed
)

// stateNames maps State to their string representations.
var stateNames = map[State]string{
	StateUnfit:   "unfit",
	StateFitting: "fitting",
	StateFitted:  "fitted",
	StateFailed:  "failed",
}

// String returns the string representation of the state.
func (s State) String() string {
	if name, exists := stateNames[s]; exists {
		return name
	}

	return "unknown"
}

// Model is a fitted density surface model. All fields are populated by
// Fit; the model is immutable afterwards and safe for concurrent use.
type Model struct {
	state        State
	terms        []*smooth.Term
	fam          *family.Family
	responseKind response.Kind

	// Retained fit quantities backing JointCovariance: the design rows
	// that entered the fit, their final IRLS weights, the assembled
	// penalty S_λ, and the original row indices of the usable segments.
	design     *mat.Dense
	weights    []float64
	penaltyMat *mat.SymDense
	kept       []int

	// Coefficients is the fitted coefficient vector: intercept first,
	// then one block per term in specification order.
	Coefficients []float64
	// Covariance is the Bayesian posterior covariance of the
	// coefficients, (XᵀWX + S_λ)⁻¹ φ. Positive semi-definite.
	Covariance *mat.SymDense
	// Smoothing holds the REML-selected smoothing parameter per term.
	// Always non-negative.
	Smoothing []float64
	// EDF is the effective degrees of freedom per term.
	EDF []float64
	// Scale is the estimated scale parameter φ (1 for the negative
	// binomial).
	Scale float64
	// DevianceExplained is 1 - residual deviance / null deviance,
	// reported as a fraction in [0, 1].
	//
	// The null-deviance baseline depends on the response definition, so
	// values fit to a raw-count response and to a Horvitz-Thompson
	// response are only approximately comparable across models; they are
	// reported as-is, never renormalized.
	DevianceExplained float64
}

// State returns the model's lifecycle state.
func (m *Model) State() State {
	return m.state
}

// Family returns the fitted response family (with any profiled
// parameter resolved).
func (m *Model) Family() *family.Family {
	return m.fam
}

// ResponseKind returns the response definition the model was fit to.
func (m *Model) ResponseKind() response.Kind {
	return m.responseKind
}

// Terms returns the built smooth terms in specification order.
func (m *Model) Terms() []*smooth.Term {
	return m.terms
}

// NCoefficients returns the length of the coefficient vector.
func (m *Model) NCoefficients() int {
	return len(m.Coefficients)
}

// Design assembles the full model matrix (intercept column followed by
// each term's centered basis) for data. Reports errs.ErrSchemaMismatch
// when data lacks a covariate required by any term.
func (m *Model) Design(data smooth.CovariateSource) (*mat.Dense, error) {
	return assembleDesign(m.terms, data)
}

// String returns a short fit summary.
func (m *Model) String() string {
	labels := make([]string, len(m.terms))
	for i, term := range m.terms {
		labels[i] = fmt.Sprintf("%s(edf=%.2f)", term.Label(), m.EDF[i])
	}

	return fmt.Sprintf("CountModel{State: %s, Family: %s, Terms: [%s], DevExpl: %.3f, Scale: %.3f}",
		m.state, m.fam, strings.Join(labels, ", "), m.DevianceExplained, m.Scale)
}

// assembleDesign builds [1 | T₁ | T₂ | ...] for the given data.
func assembleDesign(terms []*smooth.Term, data smooth.CovariateSource) (*mat.Dense, error) {
	n := data.Len()
	p := 1
	blocks := make([]*mat.Dense, len(terms))
	for i, term := range terms {
		block, err := term.Design(data)
		if err != nil {
			return nil, err
		}
		blocks[i] = block
		p += term.Dim()
	}

	design := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		design.Set(i, 0, 1)
	}
	col := 1
	for _, block := range blocks {
		_, k := block.Dims()
		for j := 0; j < k; j++ {
			for i := 0; i < n; i++ {
				design.Set(i, col, block.At(i, j))
			}
			col++
		}
	}

	return design, nil
}
