// Package family defines the response-distribution families of the
// count model: quasi-Poisson, Tweedie, and negative binomial. All three
// use the log link, so the effort offset enters the linear predictor as
// log(area).
//
// A Family exposes the variance function and unit deviance the PIRLS
// loop needs. The Tweedie power and negative-binomial dispersion may be
// fixed by the caller or profiled by the fitting core over a candidate
// grid (see NeedsProfile and ProfileCandidates).
package family

import (
	"fmt"
	"math"
	"strings"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
)

// Name identifies the response-distribution family.
type Name int

const (
	// QuasiPoisson has variance φ·μ with the scale φ estimated from the
	// Pearson statistic.
	QuasiPoisson Name = iota
	// Tweedie has variance φ·μ^p with power p in (1, 2), bridging
	// Poisson and gamma behaviour and tolerating exact zeros.
	Tweedie
	// NegativeBinomial has variance μ + μ²/θ with dispersion θ.
	NegativeBinomial
)

// familyNames maps Name to their string representations.
var familyNames = map[Name]string{
	QuasiPoisson:     "quasi-poisson",
	Tweedie:          "tweedie",
	NegativeBinomial: "negative-binomial",
}

// String returns the string representation of the family name.
func (n Name) String() string {
	if name, exists := familyNames[n]; exists {
		return name
	}

	return "unknown"
}

// familyFromString maps string names to Name.
var familyFromString = map[string]Name{
	"quasi-poisson":     QuasiPoisson,
	"quasipoisson":      QuasiPoisson,
	"tweedie":           Tweedie,
	"negative-binomial": NegativeBinomial,
	"negbin":            NegativeBinomial,
}

// FromString returns the Name for a given string. Returns Name(-1) for
// unknown names.
func FromString(name string) Name {
	if n, exists := familyFromString[strings.ToLower(name)]; exists {
		return n
	}

	return Name(-1)
}

// Config specifies a family choice and its parameters.
type Config struct {
	// Name selects the family.
	Name Name
	// TweediePower is the Tweedie variance power in (1, 2). Zero means
	// the power is profiled during fitting.
	TweediePower float64
	// Theta is the negative-binomial dispersion. Zero means the
	// dispersion is profiled during fitting.
	Theta float64
}

// Family is a concrete, fully parameterized response distribution.
type Family struct {
	name  Name
	power float64
	theta float64
}

// New validates cfg and returns the Family. Profiled parameters start at
// a mid-grid default and are replaced by the fitting core.
func New(cfg Config) (*Family, error) {
	switch cfg.Name {
	case QuasiPoisson:
		return &Family{name: QuasiPoisson}, nil
	case Tweedie:
		power := cfg.TweediePower
		if power == 0 {
			power = 1.5
		}
		if power <= 1 || power >= 2 {
			return nil, fmt.Errorf("%w: tweedie power must lie in (1, 2), got %g",
				errs.ErrInvalidConfig, power)
		}

		return &Family{name: Tweedie, power: power}, nil
	case NegativeBinomial:
		theta := cfg.Theta
		if theta == 0 {
			theta = 5
		}
		if theta < 0 {
			return nil, fmt.Errorf("%w: negative-binomial dispersion must be positive, got %g",
				errs.ErrInvalidConfig, theta)
		}

		return &Family{name: NegativeBinomial, theta: theta}, nil
	default:
		return nil, fmt.Errorf("%w: unknown family %d", errs.ErrInvalidConfig, cfg.Name)
	}
}

// Name returns the family name.
func (f *Family) Name() Name {
	return f.name
}

// Parameter returns the family's extra parameter: the Tweedie power, the
// negative-binomial dispersion, or 0 for quasi-Poisson.
func (f *Family) Parameter() float64 {
	switch f.name {
	case Tweedie:
		return f.power
	case NegativeBinomial:
		return f.theta
	default:
		return 0
	}
}

// WithParameter returns a copy of the family carrying a replacement extra
// parameter. Used by the fitting core when profiling.
func (f *Family) WithParameter(v float64) *Family {
	clone := *f
	switch f.name {
	case Tweedie:
		clone.power = v
	case NegativeBinomial:
		clone.theta = v
	}

	return &clone
}

// Variance returns the variance function V(μ) without the scale factor.
func (f *Family) Variance(mu float64) float64 {
	switch f.name {
	case QuasiPoisson:
		return mu
	case Tweedie:
		return math.Pow(mu, f.power)
	case NegativeBinomial:
		return mu + mu*mu/f.theta
	default:
		return math.NaN()
	}
}

// UnitDeviance returns the deviance contribution of one response value.
func (f *Family) UnitDeviance(y, mu float64) float64 {
	switch f.name {
	case QuasiPoisson:
		if y == 0 {
			return 2 * mu
		}

		return 2 * (y*math.Log(y/mu) - (y - mu))
	case Tweedie:
		p := f.power
		term := mu * math.Pow(mu, 1-p) / (2 - p) // mu^(2-p)/(2-p)
		if y == 0 {
			return 2 * term
		}

		return 2 * (math.Pow(y, 2-p)/((1-p)*(2-p)) - y*math.Pow(mu, 1-p)/(1-p) + term)
	case NegativeBinomial:
		th := f.theta
		d := -(y + th) * math.Log((y+th)/(mu+th))
		if y > 0 {
			d += y * math.Log(y/mu)
		}

		return 2 * d
	default:
		return math.NaN()
	}
}

// Deviance sums the unit deviances of aligned response/mean vectors.
func (f *Family) Deviance(y, mu []float64) float64 {
	total := 0.0
	for i := range y {
		total += f.UnitDeviance(y[i], mu[i])
	}

	return total
}

// NeedsProfile reports whether the family's extra parameter was left for
// the fitting core to estimate.
func (f *Family) NeedsProfile(cfg Config) bool {
	switch f.name {
	case Tweedie:
		return cfg.TweediePower == 0
	case NegativeBinomial:
		return cfg.Theta == 0
	default:
		return false
	}
}

// ProfileCandidates returns the candidate grid the fitting core scans
// when the extra parameter is profiled.
func (f *Family) ProfileCandidates() []float64 {
	switch f.name {
	case Tweedie:
		return []float64{1.1, 1.2, 1.3, 1.4, 1.5, 1.6, 1.7, 1.8, 1.9}
	case NegativeBinomial:
		return []float64{0.5, 1, 2, 5, 10, 20, 50}
	default:
		return nil
	}
}

// String returns a short description of the family.
func (f *Family) String() string {
	switch f.name {
	case Tweedie:
		return fmt.Sprintf("%s(p=%.2f)", f.name, f.power)
	case NegativeBinomial:
		return fmt.Sprintf("%s(theta=%.2f)", f.name, f.theta)
	default:
		return f.name.String()
	}
}
