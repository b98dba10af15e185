package detection

import (
	"math"
	"strings"
)

// KeyFunction identifies the parametric key-function family of a
// detection model.
type KeyFunction int

const (
	// KeyHalfNormal is the half-normal key: g(x) = exp(-x² / (2σ²)).
	KeyHalfNormal KeyFunction = iota
	// KeyHazardRate is the hazard-rate key: g(x) = 1 - exp(-(x/σ)^-b).
	KeyHazardRate
)

// keyFunctionNames maps KeyFunction to their string representations.
var keyFunctionNames = map[KeyFunction]string{
	KeyHalfNormal: "half-normal",
	KeyHazardRate: "hazard-rate",
}

// String returns the string representation of the key function.
func (k KeyFunction) String() string {
	if name, exists := keyFunctionNames[k]; exists {
		return name
	}

	return "unknown"
}

// keyFunctionFromString maps string names to KeyFunction.
var keyFunctionFromString = map[string]KeyFunction{
	"half-normal": KeyHalfNormal,
	"halfnormal":  KeyHalfNormal,
	"hazard-rate": KeyHazardRate,
	"hazardrate":  KeyHazardRate,
}

// KeyFunctionFromString returns the KeyFunction for a given string name.
// Returns KeyFunction(-1) for unknown names.
func KeyFunctionFromString(name string) KeyFunction {
	if key, exists := keyFunctionFromString[strings.ToLower(name)]; exists {
		return key
	}

	return KeyFunction(-1)
}

// evaluate computes the key function at perpendicular distance x for the
// given scale sigma and (hazard-rate only) shape b. Values lie in (0, 1]
// for x >= 0.
func (k KeyFunction) evaluate(x, sigma, shape float64) float64 {
	switch k {
	case KeyHalfNormal:
		return math.Exp(-x * x / (2 * sigma * sigma))
	case KeyHazardRate:
		if x == 0 {
			return 1
		}

		return 1 - math.Exp(-math.Pow(x/sigma, -shape))
	default:
		return math.NaN()
	}
}

// hasShape reports whether the key function carries a shape parameter in
// addition to the scale.
func (k KeyFunction) hasShape() bool {
	return k == KeyHazardRate
}
