package analysis

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/interp"
)

// integrateSpline integrates a cubic spline over [x[0], x[len-1]]. Two point
// Gauss-Legendre per knot interval is exact for cubic pieces.
func integrateSpline(s *interp.NaturalCubic, x []float64) float64 {
	var sum float64
	for i := 0; i+1 < len(x); i++ {
		sum += quad.Fixed(s.Predict, x[i], x[i+1], 2, quad.Legendre{}, 0)
	}
	return sum
}

// fitSpline interpolates y over x, returning nil when x is not strictly
// increasing or holds fewer than 3 points
func fitSpline(x, y []float64) *interp.NaturalCubic {
	if len(x) < 3 || len(x) != len(y) {
		return nil
	}
	for i := 1; i < len(x); i++ {
		if !(x[i] > x[i-1]) {
			return nil
		}
	}
	var s interp.NaturalCubic
	if err := s.Fit(x, y); err != nil {
		return nil
	}
	return &s
}

// Invariant computes the scattering invariant ∫ I q² dq of a profile with
// variances errs. The curve is extended to q = 0, interpolated and
// integrated up to the last q, then a Porod tail C4/qmax is added when a
// Porod window of porodPoints can be fitted. Both results are NaN when the
// curve cannot be integrated.
func Invariant(q, intensity, errs []float64, porodPoints int) (value, variance float64) {
	if len(q) == 0 || len(q) != len(intensity) || (errs != nil && len(errs) != len(q)) {
		return math.NaN(), math.NaN()
	}

	shift := 0
	if q[0] > 0 {
		shift = 1
	}
	n := len(q) + shift
	axis := make([]float64, n)
	data := make([]float64, n)
	vars := make([]float64, n)
	for i, v := range q {
		axis[i+shift] = v
		data[i+shift] = intensity[i] * v * v
		if errs != nil {
			vars[i+shift] = errs[i] * math.Pow(v, 4)
		}
	}

	s := fitSpline(axis, data)
	if s == nil {
		return math.NaN(), math.NaN()
	}
	qMax := axis[n-1]
	value = integrateSpline(s, axis)

	for i := range axis {
		lo := max(0, i-1)
		hi := min(n-1, i+1)
		d := axis[hi] - axis[lo]
		variance += d * d * vars[i] / 4
	}

	if porod, err := PorodFit(q, intensity, porodPoints); err == nil {
		value += porod.C4 / qMax
		variance += math.Pow(porod.C4Err/qMax, 2)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return math.NaN(), math.NaN()
	}
	return value, variance
}
