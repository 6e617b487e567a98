package analysis

import (
	"math"
)

// DegreeOfOrientation measures the anisotropy of an azimuthal profile.
// angles are in degrees and must increase. The degree is
// √((⟨cos²⟩-⟨sin²⟩)² + 4⟨sin cos⟩²), between 0 for an isotropic pattern and
// 1 for a fully aligned one. The orientation angle is in degrees within
// [0, 180). Both are NaN when the profile cannot be integrated.
func DegreeOfOrientation(angles, intensity []float64) (degree, angle float64) {
	if len(angles) != len(intensity) {
		return math.NaN(), math.NaN()
	}
	n := len(angles)
	rad := make([]float64, n)
	cos2 := make([]float64, n)
	sin2 := make([]float64, n)
	sincos := make([]float64, n)
	for i, a := range angles {
		rad[i] = a * math.Pi / 180
		c2 := math.Cos(2 * rad[i])
		s2 := math.Sin(2 * rad[i])
		cos2[i] = (1 + c2) * intensity[i] / 2
		sin2[i] = (1 - c2) * intensity[i] / 2
		sincos[i] = s2 * intensity[i] / 2
	}

	splines := make([]float64, 4)
	for k, y := range [][]float64{intensity, cos2, sin2, sincos} {
		s := fitSpline(rad, y)
		if s == nil {
			return math.NaN(), math.NaN()
		}
		splines[k] = integrateSpline(s, rad)
	}
	norm := splines[0]
	if norm == 0 {
		return math.NaN(), math.NaN()
	}
	c, s, sc := splines[1]/norm, splines[2]/norm, splines[3]/norm

	degree = math.Sqrt((c-s)*(c-s) + 4*sc*sc)
	phi := math.Mod(math.Atan2(2*sc, c-s)/2, math.Pi)
	if phi < 0 {
		phi += math.Pi
	}
	return degree, phi * 180 / math.Pi
}
