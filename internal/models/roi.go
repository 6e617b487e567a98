package models

import (
	"math"
	"strings"
)

// Symmetry selects how a sector ROI is combined with its mirror image
type Symmetry int

const (
	SymmetryNone Symmetry = iota
	SymmetryFull
	SymmetryXReflect
	SymmetryYReflect
	SymmetryCNinety
	SymmetryACNinety
	SymmetryInvert
)

// symmetryNames maps the user-facing names to codes. Built once, never mutated.
var symmetryNames = map[string]Symmetry{
	"none":                     SymmetryNone,
	"full":                     SymmetryFull,
	"reflect in x":             SymmetryXReflect,
	"reflect in y":             SymmetryYReflect,
	"rotate 90 clockwise":      SymmetryCNinety,
	"rotate 90 anti-clockwise": SymmetryACNinety,
	"invert":                   SymmetryInvert,
}

// SymmetryByName resolves a symmetry name case-insensitively. Unknown names
// resolve to SymmetryNone and ok=false.
func SymmetryByName(name string) (Symmetry, bool) {
	s, ok := symmetryNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return SymmetryNone, false
	}
	return s, true
}

func (s Symmetry) String() string {
	for name, code := range symmetryNames {
		if code == s {
			return name
		}
	}
	return "none"
}

// SectorROI is an annular sector on the detector image. Angles are in
// radians, measured from the +x (column) axis towards +y (row).
type SectorROI struct {
	CentreX, CentreY float64
	InnerRadius      float64
	OuterRadius      float64
	StartAngle       float64
	EndAngle         float64
	Symmetry         Symmetry
}

// AngularSpan returns the sector span, 2π when the symmetry is full
func (r SectorROI) AngularSpan() float64 {
	if r.Symmetry == SymmetryFull {
		return 2 * math.Pi
	}
	span := r.EndAngle - r.StartAngle
	for span <= 0 {
		span += 2 * math.Pi
	}
	return span
}

// Profile is a 1D curve such as a radial profile or a reference standard
type Profile struct {
	Q      []float64
	I      []float64
	Errors []float64
}
