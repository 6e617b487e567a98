// Package calibration derives the pixel to q calibration from indexed
// diffraction peaks and the absolute intensity scale from a reference
// standard.
package calibration

import (
	"math"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/combin"
)

// ErrNoFeasibleReflection is returned when fewer reflections can scatter at
// the beam wavelength than there are peaks to index
var ErrNoFeasibleReflection = perr.New(perr.CodeConfig, "not enough reflections reachable at this wavelength")

// PeakCalibrator indexes observed peaks against candidate reflections and
// fits a linear pixel to q calibration
type PeakCalibrator struct {
	// Wavelength of the beam in nm
	Wavelength float64

	// PixelSize of the detector in mm
	PixelSize float64

	Log *zerolog.Logger
}

// PeakResult is the outcome of a peak calibration
type PeakResult struct {
	// Gradient is the q gradient in nm⁻¹ per mm
	Gradient float64

	// Intercept is the q offset in nm⁻¹
	Intercept float64

	// SSE is the sum of squared residuals of the final fit
	SSE float64

	// CameraLength and its standard deviation, in mm
	CameraLength    float64
	CameraLengthStd float64

	IndexedPeaks []models.CalibrationPeak
}

type reflection struct {
	hkl      models.HKL
	twoTheta float64
}

// twoThetaAngles returns the reflections that can scatter at the configured
// wavelength, in input order
func (c *PeakCalibrator) twoThetaAngles(reflections []models.HKL) []reflection {
	log := c.logger()
	var out []reflection
	for _, hkl := range reflections {
		if hkl.D <= 0 {
			log.Warn().Stringer("reflection", hkl).Msg("non-positive d-spacing, skipping")
			continue
		}
		x := c.Wavelength / (2 * hkl.D)
		if x > 1 {
			log.Debug().Stringer("reflection", hkl).Msg("reflection beyond 90 degrees, skipping")
			continue
		}
		out = append(out, reflection{hkl: hkl, twoTheta: 2 * math.Asin(x)})
	}
	return out
}

// Calibrate assigns each peak position, in pixels, to one reflection so that
// position against q = 2π/d is as close to a line through the origin as
// possible. The winning assignment is then refitted, with an intercept when
// intercept is set, and camera lengths are estimated from every pair of
// indexed peaks. A single peak is indexed against the origin.
func (c *PeakCalibrator) Calibrate(peaks []float64, reflections []models.HKL, intercept bool) (*PeakResult, error) {
	if c.Wavelength <= 0 {
		return nil, perr.Configf("calibration.wavelength", "wavelength must be positive, got %g", c.Wavelength)
	}
	if c.PixelSize <= 0 {
		return nil, perr.Configf("calibration.pixelSize", "pixel size must be positive, got %g", c.PixelSize)
	}
	if len(peaks) == 0 {
		return nil, perr.Configf("peaks", "no peak positions given")
	}

	feasible := c.twoThetaAngles(reflections)
	if len(feasible) < len(peaks) {
		return nil, perr.Wrapf(ErrNoFeasibleReflection, perr.CodeConfig, "%d peaks, %d usable reflections", len(peaks), len(feasible))
	}

	log := c.logger()
	log.Debug().
		Int("peaks", len(peaks)).
		Int("reflections", len(feasible)).
		Int("combinations", combin.Binomial(len(feasible), len(peaks))).
		Msg("indexing peaks")

	q := make([]float64, len(peaks))
	best := make([]int, len(peaks))
	minSSE := math.Inf(1)

	gen := combin.NewCombinationGenerator(len(feasible), len(peaks))
	comb := make([]int, len(peaks))
	for gen.Next() {
		gen.Combination(comb)
		for i, k := range comb {
			q[i] = 2 * math.Pi / feasible[k].hkl.D
		}
		_, _, sse := fit(peaks, q, false)
		if sse < minSSE {
			minSSE = sse
			copy(best, comb)
		}
	}

	res := &PeakResult{IndexedPeaks: make([]models.CalibrationPeak, len(peaks))}
	for i, k := range best {
		q[i] = 2 * math.Pi / feasible[k].hkl.D
		res.IndexedPeaks[i] = models.NewCalibrationPeak(peaks[i], feasible[k].twoTheta, feasible[k].hkl)
	}

	alpha, beta, sse := fit(peaks, q, intercept)
	res.Gradient = beta / c.PixelSize
	res.Intercept = alpha
	res.SSE = sse
	res.CameraLength, res.CameraLengthStd = c.cameraLength(res.IndexedPeaks)

	log.Info().
		Float64("gradient", res.Gradient).
		Float64("intercept", res.Intercept).
		Float64("cameraLength", res.CameraLength).
		Msg("peak calibration")
	return res, nil
}

// fit regresses q on position. With an intercept the origin is added as an
// extra observation so the line stays anchored near zero.
func fit(pos, q []float64, intercept bool) (alpha, beta, sse float64) {
	x, y := pos, q
	if intercept {
		x = append([]float64{0}, pos...)
		y = append([]float64{0}, q...)
	}
	alpha, beta = stat.LinearRegression(x, y, nil, !intercept)
	for i := range x {
		r := y[i] - (alpha + beta*x[i])
		sse += r * r
	}
	return alpha, beta, sse
}

// cameraLength estimates the sample to detector distance in mm from every
// unordered pair of indexed peaks, or from each peak against the beam centre
// when there is no pair
func (c *PeakCalibrator) cameraLength(peaks []models.CalibrationPeak) (mean, std float64) {
	var lengths []float64
	for i := 0; i < len(peaks); i++ {
		for j := i + 1; j < len(peaks); j++ {
			p1, p2 := peaks[i], peaks[j]
			q1 := 2 * math.Pi / p1.DSpacing()
			q2 := 2 * math.Pi / p2.DSpacing()
			if q1 == q2 {
				continue
			}
			l := (p2.PeakPos() - p1.PeakPos()) * c.PixelSize * 2 * math.Pi / ((q2 - q1) * c.Wavelength)
			lengths = append(lengths, l)
		}
	}
	if len(lengths) == 0 {
		for _, p := range peaks {
			q := 2 * math.Pi / p.DSpacing()
			lengths = append(lengths, p.PeakPos()*c.PixelSize*2*math.Pi/(q*c.Wavelength))
		}
	}
	switch len(lengths) {
	case 0:
		return math.NaN(), math.NaN()
	case 1:
		return lengths[0], 0
	}
	return stat.MeanStdDev(lengths, nil)
}

func (c *PeakCalibrator) logger() *zerolog.Logger {
	if c.Log == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return c.Log
}
