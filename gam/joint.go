package gam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
)

// JointCovariance returns the joint posterior covariance of the count
// model coefficients and an external parameter vector θ whose
// uncertainty entered the fit through the linear predictor (for a
// density surface model, the detection function parameters acting
// through the effective-area offset).
//
// deriv has one row per segment of the data the model was fit to, in
// the same order, and one column per external parameter; row i holds
// ∂η_i/∂θ. Rows of zero-effort segments are ignored. prior is the
// external parameters' own covariance V_θ. The result is the inverse of
// the augmented penalized information
//
//	[ XᵀWX + S_λ   XᵀWD          ]
//	[ DᵀWX         DᵀWD + φV_θ⁻¹ ]
//
// scaled by the dispersion φ, with the model coefficients first and θ
// last. The off-diagonal block carries the dependence between the
// spatial fit and θ; it vanishes only when deriv is zero.
func (m *Model) JointCovariance(deriv *mat.Dense, prior *mat.SymDense) (*mat.SymDense, error) {
	if m.state != StateFitted {
		return nil, fmt.Errorf("%w: joint covariance requires a fitted model (state %s)",
			errs.ErrInvalidConfig, m.state)
	}

	rows, q := deriv.Dims()
	if pr, _ := prior.Dims(); pr != q {
		return nil, fmt.Errorf("%w: %d derivative columns but a %d-dimensional prior covariance",
			errs.ErrInputMismatch, q, pr)
	}
	for _, i := range m.kept {
		if i >= rows {
			return nil, fmt.Errorf("%w: derivative matrix has %d rows, segment row %d needed",
				errs.ErrInputMismatch, rows, i)
		}
	}

	n, p := m.design.Dims()

	// φV_θ⁻¹ via the prior's Cholesky factor.
	var priorChol mat.Cholesky
	if !priorChol.Factorize(prior) {
		return nil, fmt.Errorf("%w: parameter prior covariance is not positive definite",
			errs.ErrInvalidConfig)
	}
	priorInv := mat.NewSymDense(q, nil)
	if err := priorChol.InverseTo(priorInv); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidConfig, err)
	}

	// Augmented design [X | D] over the usable rows.
	dim := p + q
	aug := mat.NewDense(n, dim, nil)
	for r := 0; r < n; r++ {
		for j := 0; j < p; j++ {
			aug.Set(r, j, m.design.At(r, j))
		}
		for j := 0; j < q; j++ {
			aug.Set(r, p+j, deriv.At(m.kept[r], j))
		}
	}

	info := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			sum := 0.0
			for r := 0; r < n; r++ {
				sum += m.weights[r] * aug.At(r, i) * aug.At(r, j)
			}
			info.SetSym(i, j, sum)
		}
	}
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			info.SetSym(i, j, info.At(i, j)+m.penaltyMat.At(i, j))
		}
	}
	for i := 0; i < q; i++ {
		for j := i; j < q; j++ {
			info.SetSym(p+i, p+j, info.At(p+i, p+j)+m.Scale*priorInv.At(i, j))
		}
	}

	maxDiag := 0.0
	for i := 0; i < dim; i++ {
		if d := info.At(i, i); d > maxDiag {
			maxDiag = d
		}
	}
	ridge := 1e-9 * (1 + maxDiag)
	for i := 0; i < dim; i++ {
		info.SetSym(i, i, info.At(i, i)+ridge)
	}

	var chol mat.Cholesky
	if !chol.Factorize(info) {
		return nil, fmt.Errorf("%w: augmented information matrix is singular (%d coefficients, %d parameters)",
			errs.ErrRankDeficiency, p, q)
	}
	cov := mat.NewSymDense(dim, nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRankDeficiency, err)
	}
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			cov.SetSym(i, j, cov.At(i, j)*m.Scale)
		}
	}

	return cov, nil
}
