// Package analysis holds the SAXS curve analyses applied to reduced
// profiles: plot transforms, Porod and Guinier fits, the scattering
// invariant and the degree of orientation.
package analysis

import (
	"math"
	"strings"

	"saxsreduce/internal/models"
)

// Plot is one of the standard SAXS plot transforms. Errors are standard
// deviations; a NaN error means it cannot be propagated.
type Plot struct {
	Key    string
	Name   string
	XLabel string
	YLabel string

	value    func(q, i float64) float64
	axis     func(q float64) float64
	valueErr func(q, i, qErr, iErr float64) float64
	axisErr  func(q, qErr float64) float64
}

var (
	LogNorm = &Plot{
		Key: "lognorm", Name: "Log/Norm Plot", XLabel: "q", YLabel: "log₁₀(I)",
		value:    func(_, i float64) float64 { return math.Log10(i) },
		axis:     func(q float64) float64 { return q },
		valueErr: func(_, i, _, e float64) float64 { return e / i },
		axisErr:  func(_, e float64) float64 { return e },
	}
	LogLog = &Plot{
		Key: "loglog", Name: "Log/Log Plot", XLabel: "log₁₀(q)", YLabel: "log₁₀(I)",
		value:    func(_, i float64) float64 { return math.Log10(i) },
		axis:     math.Log10,
		valueErr: func(_, i, _, e float64) float64 { return e / i },
		axisErr:  func(q, e float64) float64 { return e / q },
	}
	Guinier = &Plot{
		Key: "guinier", Name: "Guinier Plot", XLabel: "q²", YLabel: "ln(I)",
		value:    func(_, i float64) float64 { return math.Log(i) },
		axis:     func(q float64) float64 { return q * q },
		valueErr: func(_, i, _, e float64) float64 { return e / i },
		axisErr:  func(q, e float64) float64 { return 2 * q * e },
	}
	Porod = &Plot{
		Key: "porod", Name: "Porod Plot", XLabel: "q", YLabel: "Iq⁴",
		value: func(q, i float64) float64 { return math.Pow(q, 4) * i },
		axis:  func(q float64) float64 { return q },
		valueErr: func(q, i, qe, e float64) float64 {
			return math.Hypot(4*math.Pow(q, 3)*i*qe, math.Pow(q, 4)*e)
		},
		axisErr: func(_, e float64) float64 { return e },
	}
	Kratky = &Plot{
		Key: "kratky", Name: "Kratky Plot", XLabel: "q", YLabel: "Iq²",
		value: func(q, i float64) float64 { return q * q * i },
		axis:  func(q float64) float64 { return q },
		valueErr: func(q, i, qe, e float64) float64 {
			return math.Hypot(2*q*i*qe, q*q*e)
		},
		axisErr: func(_, e float64) float64 { return e },
	}
	Zimm = &Plot{
		Key: "zimm", Name: "Zimm Plot", XLabel: "q²", YLabel: "1/I",
		value:    func(_, i float64) float64 { return 1 / i },
		axis:     func(q float64) float64 { return q * q },
		valueErr: func(_, i, _, e float64) float64 { return e / (i * i) },
		axisErr:  func(q, e float64) float64 { return 2 * q * e },
	}
	DebyeBueche = &Plot{
		Key: "debyebueche", Name: "Debye-Bueche Plot", XLabel: "q²", YLabel: "1/√I",
		value:    func(_, i float64) float64 { return math.Pow(i, -0.5) },
		axis:     func(q float64) float64 { return q * q },
		valueErr: func(_, i, _, e float64) float64 { return math.Pow(i, -1.5) * e / 2 },
		axisErr:  func(q, e float64) float64 { return 2 * q * e },
	}
)

// Plots lists every plot type in display order
var Plots = []*Plot{LogNorm, LogLog, Guinier, Porod, Kratky, Zimm, DebyeBueche}

// PlotByName finds a plot by key or display name, ignoring case
func PlotByName(name string) (*Plot, bool) {
	for _, p := range Plots {
		if strings.EqualFold(p.Key, name) || strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return nil, false
}

// Transform maps a curve into plot coordinates. The axis error is taken as
// zero since reduced q axes carry none. The input is not modified.
func (p *Plot) Transform(c models.Profile) models.Profile {
	out := models.Profile{
		Q: make([]float64, len(c.Q)),
		I: make([]float64, len(c.I)),
	}
	for k, q := range c.Q {
		out.Q[k] = p.axis(q)
	}
	for k, v := range c.I {
		out.I[k] = p.value(c.Q[k], v)
	}
	if c.Errors != nil {
		out.Errors = make([]float64, len(c.Errors))
		for k, e := range c.Errors {
			out.Errors[k] = p.valueErr(c.Q[k], c.I[k], 0, e)
		}
	}
	return out
}

// AxisError propagates an error on q into plot coordinates
func (p *Plot) AxisError(q, qErr float64) float64 { return p.axisErr(q, qErr) }

// ValueError propagates errors on q and I into plot coordinates
func (p *Plot) ValueError(q, i, qErr, iErr float64) float64 {
	return p.valueErr(q, i, qErr, iErr)
}

func (p *Plot) String() string { return p.Name }
