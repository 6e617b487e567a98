package calibration

import (
	"saxsreduce/internal/perr"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// ErrInvalidRange is returned when the reference and sample q ranges do not
// overlap
var ErrInvalidRange = perr.New(perr.CodeRange, "reference and sample q ranges do not overlap")

// Unit is the unit of a q axis
type Unit int

const (
	// InverseNanometre is the native q unit
	InverseNanometre Unit = iota
	InverseAngstrom
)

// toNm converts q values to nm⁻¹
func (u Unit) toNm(q []float64) []float64 {
	out := append([]float64(nil), q...)
	if u == InverseAngstrom {
		floats.Scale(10, out)
	}
	return out
}

// AbsoluteCalibrator derives an absolute intensity scale by comparing a
// background subtracted sample curve with a reference standard. Set both
// curves, then call Calibrate.
type AbsoluteCalibrator struct {
	absQ, absI []float64
	spline     *interp.NaturalCubic

	dataQ, dataI []float64

	absScale    float64
	absScaleStd float64
	calibratedI []float64

	Log *zerolog.Logger
}

// SetAbsoluteData interpolates the reference curve with a natural cubic
// spline. q must be strictly increasing.
func (a *AbsoluteCalibrator) SetAbsoluteData(q, intensity []float64, unit Unit) error {
	if len(q) != len(intensity) {
		return perr.Shapef("reference q has %d points, intensity has %d", len(q), len(intensity))
	}
	if len(q) < 3 {
		return perr.Configf("reference", "need at least 3 reference points, got %d", len(q))
	}
	qs := unit.toNm(q)
	for i := 1; i < len(qs); i++ {
		if qs[i] <= qs[i-1] {
			return perr.Configf("reference", "q values must be strictly increasing at index %d", i)
		}
	}

	var nc interp.NaturalCubic
	if err := nc.Fit(qs, intensity); err != nil {
		return perr.Wrap(err, perr.CodeConfig, "reference spline")
	}
	a.absQ = qs
	a.absI = append([]float64(nil), intensity...)
	a.spline = &nc
	return nil
}

// SetData stores the sample curve as sample minus empty cell intensity
func (a *AbsoluteCalibrator) SetData(q, sample, empty []float64, unit Unit) error {
	if len(q) != len(sample) || len(q) != len(empty) {
		return perr.Shapef("sample curve lengths differ: q %d, sample %d, empty %d", len(q), len(sample), len(empty))
	}
	if len(q) == 0 {
		return perr.Configf("data", "sample curve is empty")
	}
	a.dataQ = unit.toNm(q)
	a.dataI = make([]float64, len(sample))
	floats.SubTo(a.dataI, sample, empty)
	return nil
}

// Calibrate computes the scale as the mean ratio of reference to sample
// intensity over the overlapping q range. Sample points with zero intensity
// are skipped.
func (a *AbsoluteCalibrator) Calibrate() error {
	if a.spline == nil {
		return perr.Configf("reference", "reference curve not set")
	}
	if a.dataQ == nil {
		return perr.Configf("data", "sample curve not set")
	}
	log := a.Log
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	qMin := max(a.absQ[0], floats.Min(a.dataQ))
	qMax := min(a.absQ[len(a.absQ)-1], floats.Max(a.dataQ))
	if qMin >= qMax {
		return perr.Wrapf(ErrInvalidRange, perr.CodeRange, "q range [%g, %g]", qMin, qMax)
	}

	var ratios []float64
	for i, q := range a.dataQ {
		if q < qMin || q > qMax {
			continue
		}
		if a.dataI[i] == 0 {
			log.Warn().Int("index", i).Float64("q", q).Msg("zero sample intensity, point skipped")
			continue
		}
		ratios = append(ratios, a.spline.Predict(q)/a.dataI[i])
	}
	if len(ratios) == 0 {
		return perr.Wrapf(ErrInvalidRange, perr.CodeRange, "no usable sample points in [%g, %g]", qMin, qMax)
	}

	if len(ratios) == 1 {
		a.absScale, a.absScaleStd = ratios[0], 0
	} else {
		a.absScale, a.absScaleStd = stat.MeanStdDev(ratios, nil)
	}
	a.calibratedI = make([]float64, len(a.dataI))
	floats.ScaleTo(a.calibratedI, a.absScale, a.dataI)

	log.Info().
		Float64("absScale", a.absScale).
		Float64("absScaleStd", a.absScaleStd).
		Int("points", len(ratios)).
		Msg("absolute calibration")
	return nil
}

// AbsScale returns the absolute intensity scale factor
func (a *AbsoluteCalibrator) AbsScale() float64 { return a.absScale }

// AbsScaleStdDev returns the standard deviation of the scale factor
func (a *AbsoluteCalibrator) AbsScaleStdDev() float64 { return a.absScaleStd }

// CalibratedI returns the sample intensity multiplied by the scale
func (a *AbsoluteCalibrator) CalibratedI() []float64 {
	return append([]float64(nil), a.calibratedI...)
}

// DataQ returns the sample q axis in nm⁻¹
func (a *AbsoluteCalibrator) DataQ() []float64 {
	return append([]float64(nil), a.dataQ...)
}
