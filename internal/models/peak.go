package models

import "fmt"

// HKL is a crystallographic reflection with its d-spacing in nm
type HKL struct {
	H, K, L int
	D       float64
}

func (h HKL) String() string {
	return fmt.Sprintf("(%d%d%d) d=%.4gnm", h.H, h.K, h.L, h.D)
}

// CalibrationPeak is an observed peak assigned to a reflection. Values are
// fixed at construction.
type CalibrationPeak struct {
	peakPos    float64
	twoTheta   float64
	reflection HKL
}

// NewCalibrationPeak builds a peak at pixel position pos with a two-theta
// angle in radians
func NewCalibrationPeak(pos, twoTheta float64, reflection HKL) CalibrationPeak {
	return CalibrationPeak{peakPos: pos, twoTheta: twoTheta, reflection: reflection}
}

// PeakPos returns the observed pixel position
func (p CalibrationPeak) PeakPos() float64 { return p.peakPos }

// TwoTheta returns the Bragg angle 2θ in radians
func (p CalibrationPeak) TwoTheta() float64 { return p.twoTheta }

// DSpacing returns the reflection's d-spacing in nm
func (p CalibrationPeak) DSpacing() float64 { return p.reflection.D }

// Reflection returns the assigned reflection
func (p CalibrationPeak) Reflection() HKL { return p.reflection }
