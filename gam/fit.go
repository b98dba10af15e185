package gam

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/family"
	"github.com/distanceexamples/dsm-line-dolphins/internal/options"
	"github.com/distanceexamples/dsm-line-dolphins/response"
	"github.com/distanceexamples/dsm-line-dolphins/smooth"
)

const (
	// linkClamp bounds the total linear predictor so exp never overflows.
	linkClamp = 30.0
	// logLambdaLo, logLambdaHi bound the natural-log smoothing search.
	logLambdaLo = -12.0
	logLambdaHi = 12.0
	// goldenIters is the per-coordinate golden-section budget.
	goldenIters = 25
)

// Fit estimates the density surface model from the response/offset pair
// and the covariate data backing the smooth terms. Segments with zero
// effort offset carry no information and are excluded from the fit.
//
// Fails with errs.ErrRankDeficiency when the combined basis has more
// coefficients than usable segments (or is numerically collinear) and
// with errs.ErrNonConvergence when PIRLS exhausts its iteration budget.
func Fit(resp *response.Response, data smooth.CovariateSource, cfg Config, opts ...Option) (*Model, error) {
	cfg.setDefaults()
	if err := options.Apply(&cfg, opts...); err != nil {
		return nil, err
	}
	if len(cfg.Terms) == 0 {
		return nil, fmt.Errorf("%w: count model needs at least one smooth term", errs.ErrInvalidConfig)
	}
	if data.Len() != len(resp.Values) {
		return nil, fmt.Errorf("%w: response has %d segments but covariate data has %d rows",
			errs.ErrInvalidConfig, len(resp.Values), data.Len())
	}

	fam, err := family.New(cfg.Family)
	if err != nil {
		return nil, err
	}

	terms := make([]*smooth.Term, len(cfg.Terms))
	for i, spec := range cfg.Terms {
		term, err := smooth.Build(spec, data)
		if err != nil {
			return nil, err
		}
		terms[i] = term
	}

	design, err := assembleDesign(terms, data)
	if err != nil {
		return nil, err
	}

	model := &Model{
		state:        StateFitting,
		terms:        terms,
		responseKind: resp.Kind,
	}

	fitter, err := newFitter(design, resp, terms, cfg)
	if err != nil {
		model.state = StateFailed
		return nil, err
	}

	result, fitted, err := fitter.run(fam, cfg)
	if err != nil {
		model.state = StateFailed
		return nil, err
	}

	if err := fitter.finalize(model, result, fitted); err != nil {
		model.state = StateFailed
		return nil, err
	}
	model.state = StateFitted

	return model, nil
}

// penaltyBlock locates one term's penalty inside the coefficient vector.
type penaltyBlock struct {
	start int
	dim   int
	s     *mat.SymDense
	rank  float64
}

// fitter holds the fixed quantities of one fit: the usable rows of the
// design, response and log offsets, and the per-term penalty blocks.
type fitter struct {
	x       *mat.Dense
	y       []float64
	logOff  []float64
	blocks  []penaltyBlock
	keep    []int
	n, p    int
	maxIter int
	tol     float64
	sweeps  int
}

func newFitter(design *mat.Dense, resp *response.Response, terms []*smooth.Term, cfg Config) (*fitter, error) {
	nAll, p := design.Dims()

	// Drop zero-effort segments: they contribute no information and
	// their log offset is undefined.
	var keep []int
	for i := 0; i < nAll; i++ {
		if resp.Offsets[i] > 0 {
			keep = append(keep, i)
		}
	}
	n := len(keep)
	if p > n {
		return nil, fmt.Errorf("%w: %d coefficients but only %d usable segments; reduce term complexity",
			errs.ErrRankDeficiency, p, n)
	}

	x := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	logOff := make([]float64, n)
	for r, i := range keep {
		for j := 0; j < p; j++ {
			x.Set(r, j, design.At(i, j))
		}
		y[r] = resp.Values[i]
		logOff[r] = math.Log(resp.Offsets[i])
	}

	blocks := make([]penaltyBlock, len(terms))
	col := 1
	for i, term := range terms {
		s := term.Penalty()
		blocks[i] = penaltyBlock{start: col, dim: term.Dim(), s: s, rank: penaltyRank(s)}
		col += term.Dim()
	}

	return &fitter{
		x: x, y: y, logOff: logOff, blocks: blocks, keep: keep,
		n: n, p: p,
		maxIter: cfg.maxIterations, tol: cfg.tolerance, sweeps: cfg.smoothingSweeps,
	}, nil
}

// penaltyRank counts the numerically nonzero eigenvalues of a penalty.
func penaltyRank(s *mat.SymDense) float64 {
	k, _ := s.Dims()
	if k == 0 {
		return 0
	}

	var eig mat.EigenSym
	if !eig.Factorize(s, false) {
		return float64(k)
	}
	values := eig.Values(nil)

	maxVal := 0.0
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal == 0 {
		return 0
	}

	rank := 0.0
	for _, v := range values {
		if v > 1e-10*maxVal {
			rank++
		}
	}

	return rank
}

// pirlsResult captures one converged inner fit.
type pirlsResult struct {
	lambda  []float64
	beta    []float64
	mu      []float64
	dev     float64
	penTerm float64
	chol    *mat.Cholesky
	xtwx    *mat.SymDense
}

// run performs the outer REML search, profiling the family's extra
// parameter when it was left free, and returns the winning fit.
func (f *fitter) run(fam *family.Family, cfg Config) (*pirlsResult, *family.Family, error) {
	candidates := []float64{fam.Parameter()}
	if fam.NeedsProfile(cfg.Family) {
		candidates = fam.ProfileCandidates()
	}

	var best *pirlsResult
	var bestFam *family.Family
	bestScore := math.Inf(1)
	var lastErr error

	for _, par := range candidates {
		trial := fam
		if len(candidates) > 1 || par != fam.Parameter() {
			trial = fam.WithParameter(par)
		}

		result, score, err := f.remlSearch(trial)
		if err != nil {
			lastErr = err
			continue
		}
		if score < bestScore {
			best, bestFam, bestScore = result, trial, score
		}
	}

	if best == nil {
		return nil, nil, lastErr
	}

	return best, bestFam, nil
}

// remlSearch runs bounded coordinate descent over the per-term log
// smoothing parameters, scoring each candidate by the REML criterion.
func (f *fitter) remlSearch(fam *family.Family) (*pirlsResult, float64, error) {
	logLambda := make([]float64, len(f.blocks))

	score := func() float64 {
		result, err := f.pirls(fam, expAll(logLambda))
		if err != nil {
			return math.Inf(1)
		}

		return f.remlScore(fam, result)
	}

	for sweep := 0; sweep < f.sweeps; sweep++ {
		for j := range logLambda {
			logLambda[j] = goldenMin(func(v float64) float64 {
				logLambda[j] = v
				return score()
			}, logLambdaLo, logLambdaHi, goldenIters)
		}
	}

	result, err := f.pirls(fam, expAll(logLambda))
	if err != nil {
		return nil, 0, err
	}

	return result, f.remlScore(fam, result), nil
}

// pirls runs penalized iteratively reweighted least squares at fixed
// smoothing parameters.
func (f *fitter) pirls(fam *family.Family, lambda []float64) (*pirlsResult, error) {
	n, p := f.n, f.p

	// Penalty matrix S_λ embedded into coefficient space, plus a tiny
	// ridge to keep the normal matrix factorizable.
	penalty := f.assemblePenalty(lambda)

	beta := make([]float64, p)
	mu := make([]float64, n)
	etaTot := make([]float64, n)

	sumY := 0.0
	for _, v := range f.y {
		sumY += v
	}
	ybar := sumY / float64(n)
	// An essentially zero deviance means an exact fit (all-zero counts
	// included); below this floor further iterations only chase the
	// link clamp.
	devFloor := 1e-7 * (1 + sumY)
	for i := range mu {
		mu[i] = f.y[i] + 0.1*ybar + 0.1
		etaTot[i] = math.Log(mu[i])
	}

	dev := fam.Deviance(f.y, mu)
	var chol mat.Cholesky
	xtwx := mat.NewSymDense(p, nil)

	for iter := 1; iter <= f.maxIter; iter++ {
		// Log link: dμ/dη = μ, so w = μ²/V(μ) and
		// z = (η − log offset) + (y − μ)/μ.
		sqw := mat.NewDense(n, p, nil)
		zw := make([]float64, n)
		for i := 0; i < n; i++ {
			w := mu[i] * mu[i] / fam.Variance(mu[i])
			sw := math.Sqrt(w)
			z := (etaTot[i] - f.logOff[i]) + (f.y[i]-mu[i])/mu[i]
			zw[i] = sw * z
			for j := 0; j < p; j++ {
				sqw.Set(i, j, sw*f.x.At(i, j))
			}
		}

		var xtwxDense mat.Dense
		xtwxDense.Mul(sqw.T(), sqw)
		maxDiag := 0.0
		for i := 0; i < p; i++ {
			for j := i; j < p; j++ {
				xtwx.SetSym(i, j, xtwxDense.At(i, j))
			}
			if d := xtwxDense.At(i, i); d > maxDiag {
				maxDiag = d
			}
		}

		a := mat.NewSymDense(p, nil)
		a.AddSym(xtwx, penalty)
		ridge := 1e-9 * (1 + maxDiag)
		for i := 0; i < p; i++ {
			a.SetSym(i, i, a.At(i, i)+ridge)
		}

		if !chol.Factorize(a) {
			return nil, fmt.Errorf("%w: penalized normal matrix is singular (%d coefficients, %d segments)",
				errs.ErrRankDeficiency, p, n)
		}

		rhs := mat.NewVecDense(p, nil)
		rhs.MulVec(sqw.T(), mat.NewVecDense(n, zw))

		betaVec := mat.NewVecDense(p, nil)
		if err := chol.SolveVecTo(betaVec, rhs); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrRankDeficiency, err)
		}
		copy(beta, betaVec.RawVector().Data)

		for i := 0; i < n; i++ {
			eta := f.logOff[i]
			for j := 0; j < p; j++ {
				eta += f.x.At(i, j) * beta[j]
			}
			etaTot[i] = clamp(eta, -linkClamp, linkClamp)
			mu[i] = math.Exp(etaTot[i])
		}

		newDev := fam.Deviance(f.y, mu)
		converged := math.Abs(newDev-dev) < f.tol*(0.1+math.Abs(newDev)) || newDev < devFloor
		dev = newDev
		if converged {
			return &pirlsResult{
				lambda:  lambda,
				beta:    beta,
				mu:      mu,
				dev:     dev,
				penTerm: quadForm(penalty, beta),
				chol:    &chol,
				xtwx:    xtwx,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: PIRLS exceeded %d iterations (deviance %.6g)",
		errs.ErrNonConvergence, f.maxIter, dev)
}

// remlScore computes the Laplace-approximate restricted likelihood
// criterion (negated, lower is better) of a converged inner fit.
func (f *fitter) remlScore(fam *family.Family, result *pirlsResult) float64 {
	phi := f.scale(fam, result)

	logDetA := result.chol.LogDet()
	logDetS := 0.0
	for bi, block := range f.blocks {
		if block.rank > 0 && result.lambda[bi] > 0 {
			logDetS += block.rank * math.Log(result.lambda[bi])
		}
	}

	return (result.dev+result.penTerm)/(2*phi) +
		0.5*(logDetA-logDetS) +
		0.5*float64(f.n)*math.Log(2*math.Pi*phi)
}

// scale estimates φ: the Pearson statistic over residual degrees of
// freedom for quasi-Poisson and Tweedie, fixed at 1 for the negative
// binomial.
func (f *fitter) scale(fam *family.Family, result *pirlsResult) float64 {
	if fam.Name() == family.NegativeBinomial {
		return 1
	}

	pearson := 0.0
	for i, m := range result.mu {
		r := f.y[i] - m
		pearson += r * r / fam.Variance(m)
	}

	edf := f.totalEDF(result)
	denom := float64(f.n) - edf
	if denom < 1 {
		denom = 1
	}
	phi := pearson / denom
	if phi < 1e-8 {
		phi = 1e-8
	}

	return phi
}

// totalEDF is trace((XᵀWX + S_λ)⁻¹ XᵀWX).
func (f *fitter) totalEDF(result *pirlsResult) float64 {
	var influence mat.Dense
	if err := result.chol.SolveTo(&influence, result.xtwx); err != nil {
		return float64(f.p)
	}

	return trace(&influence)
}

// assemblePenalty embeds each term's penalty, scaled by its smoothing
// parameter, into coefficient space.
func (f *fitter) assemblePenalty(lambda []float64) *mat.SymDense {
	penalty := mat.NewSymDense(f.p, nil)
	for bi, block := range f.blocks {
		for i := 0; i < block.dim; i++ {
			for j := i; j < block.dim; j++ {
				penalty.SetSym(block.start+i, block.start+j,
					penalty.At(block.start+i, block.start+j)+lambda[bi]*block.s.At(i, j))
			}
		}
	}

	return penalty
}

// finalize fills the fitted model from the winning inner fit.
func (f *fitter) finalize(model *Model, result *pirlsResult, fam *family.Family) error {
	model.fam = fam
	model.Coefficients = append([]float64(nil), result.beta...)
	model.Smoothing = append([]float64(nil), result.lambda...)
	model.Scale = f.scale(fam, result)

	// Per-term effective degrees of freedom from the influence matrix.
	model.EDF = make([]float64, len(f.blocks))
	var influence mat.Dense
	if err := result.chol.SolveTo(&influence, result.xtwx); err != nil {
		return fmt.Errorf("%w: penalized system became singular while extracting degrees of freedom: %v",
			errs.ErrRankDeficiency, err)
	}
	for bi, block := range f.blocks {
		edf := 0.0
		for j := block.start; j < block.start+block.dim; j++ {
			edf += influence.At(j, j)
		}
		model.EDF[bi] = edf
	}

	// Posterior coefficient covariance (XᵀWX + S_λ)⁻¹ φ.
	cov := mat.NewSymDense(f.p, nil)
	if err := result.chol.InverseTo(cov); err != nil {
		return fmt.Errorf("%w: penalized system became singular while inverting for the coefficient covariance: %v",
			errs.ErrRankDeficiency, err)
	}
	for i := 0; i < f.p; i++ {
		for j := i; j < f.p; j++ {
			cov.SetSym(i, j, cov.At(i, j)*model.Scale)
		}
	}
	model.Covariance = cov

	model.DevianceExplained = f.devianceExplained(fam, result)

	// Retained for joint variance propagation: the usable design rows,
	// the converged IRLS weights w = μ²/V(μ), the assembled penalty and
	// the original row indices.
	model.design = f.x
	model.kept = append([]int(nil), f.keep...)
	model.penaltyMat = f.assemblePenalty(result.lambda)
	model.weights = make([]float64, f.n)
	for i, m := range result.mu {
		model.weights[i] = m * m / fam.Variance(m)
	}

	return nil
}

// devianceExplained compares the fitted deviance with the offset-only
// null model, exp(β₀)·offset with β₀ matching the total response.
func (f *fitter) devianceExplained(fam *family.Family, result *pirlsResult) float64 {
	sumY, sumOff := 0.0, 0.0
	for i := range f.y {
		sumY += f.y[i]
		sumOff += math.Exp(f.logOff[i])
	}
	if sumY <= 0 {
		return 0
	}

	rate := sumY / sumOff
	nullMu := make([]float64, f.n)
	for i := range nullMu {
		nullMu[i] = rate * math.Exp(f.logOff[i])
	}
	nullDev := fam.Deviance(f.y, nullMu)
	if nullDev <= 1e-12 {
		return 0
	}

	return clamp(1-result.dev/nullDev, 0, 1)
}

// goldenMin minimizes f over [lo, hi] by golden-section search and
// returns the argmin.
func goldenMin(f func(float64) float64, lo, hi float64, iters int) float64 {
	const ratio = 0.6180339887498949

	a, b := lo, hi
	c := b - ratio*(b-a)
	d := a + ratio*(b-a)
	fc, fd := f(c), f(d)

	for i := 0; i < iters; i++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - ratio*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + ratio*(b-a)
			fd = f(d)
		}
	}

	if fc < fd {
		return c
	}

	return d
}

func expAll(logValues []float64) []float64 {
	out := make([]float64, len(logValues))
	for i, v := range logValues {
		out[i] = math.Exp(v)
	}

	return out
}

func quadForm(s *mat.SymDense, v []float64) float64 {
	n := len(v)
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			total += v[i] * s.At(i, j) * v[j]
		}
	}

	return total
}

func trace(m *mat.Dense) float64 {
	r, _ := m.Dims()
	total := 0.0
	for i := 0; i < r; i++ {
		total += m.At(i, i)
	}

	return total
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
