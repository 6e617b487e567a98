package analysis

import (
	"math"

	"saxsreduce/internal/perr"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultFitPoints is the smallest window used by the Porod and Guinier fits
const DefaultFitPoints = 50

// ErrTooFewPoints is returned when a curve is shorter than the fit window
var ErrTooFewPoints = perr.New(perr.CodeRange, "not enough points for fit window")

// Line is a least squares straight line with parameter errors
type Line struct {
	Slope, Intercept       float64
	SlopeErr, InterceptErr float64
	R                      float64
}

// lineFit solves the straight line least squares problem by QR
// factorisation. Parameter errors come from the residual variance and the
// inverse normal matrix.
func lineFit(x, y []float64) (Line, error) {
	n := len(x)
	if n < 3 {
		return Line{}, perr.Wrapf(ErrTooFewPoints, perr.CodeRange, "line fit needs 3 points, got %d", n)
	}
	a := mat.NewDense(n, 2, nil)
	for i, v := range x {
		a.Set(i, 0, 1)
		a.Set(i, 1, v)
	}

	var qr mat.QR
	qr.Factorize(a)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
		return Line{}, perr.Wrap(err, perr.CodeRange, "singular line fit")
	}
	l := Line{Intercept: beta.AtVec(0), Slope: beta.AtVec(1)}

	var sse float64
	for i, v := range x {
		r := y[i] - (l.Intercept + l.Slope*v)
		sse += r * r
	}
	mse := sse / float64(n-2)

	var ata, inv mat.Dense
	ata.Mul(a.T(), a)
	if err := inv.Inverse(&ata); err != nil {
		return Line{}, perr.Wrap(err, perr.CodeRange, "singular normal matrix")
	}
	l.InterceptErr = math.Sqrt(mse * inv.At(0, 0))
	l.SlopeErr = math.Sqrt(mse * inv.At(1, 1))
	l.R = stat.Correlation(x, y, nil)
	return l, nil
}

// scanWindows calls fn for windows [lo, hi) of at least minPoints points.
// Window starts and lengths advance in strides of a quarter window.
func scanWindows(n, minPoints int, fn func(lo, hi int)) {
	stride := max(1, minPoints/4)
	for lo := 0; lo+minPoints <= n; lo += stride {
		for hi := lo + minPoints; hi <= n; hi += stride {
			fn(lo, hi)
		}
	}
}

func checkCurve(q, intensity []float64, minPoints int) error {
	if len(q) != len(intensity) {
		return perr.Shapef("q has %d points, intensity has %d", len(q), len(intensity))
	}
	if minPoints < 3 {
		return perr.Configf("minPoints", "fit window must hold at least 3 points, got %d", minPoints)
	}
	if len(q) < minPoints {
		return perr.Wrapf(ErrTooFewPoints, perr.CodeRange, "%d points, window %d", len(q), minPoints)
	}
	return nil
}

// PorodResult is the Porod constant fitted over the flattest Iq⁴ window
type PorodResult struct {
	C4, C4Err  float64
	Start, End int
	Line       Line
}

// PorodFit finds the window of the Porod plot with the smallest absolute
// slope. The Porod constant C4 is the intercept of the line fitted there.
func PorodFit(q, intensity []float64, minPoints int) (*PorodResult, error) {
	if err := checkCurve(q, intensity, minPoints); err != nil {
		return nil, err
	}
	y := make([]float64, len(q))
	for i := range q {
		y[i] = Porod.value(q[i], intensity[i])
	}

	best, bestLo, bestHi := math.Inf(1), -1, -1
	scanWindows(len(q), minPoints, func(lo, hi int) {
		_, slope := stat.LinearRegression(q[lo:hi], y[lo:hi], nil, false)
		if s := math.Abs(slope); s < best {
			best, bestLo, bestHi = s, lo, hi
		}
	})
	if bestLo < 0 {
		return nil, perr.New(perr.CodeRange, "no finite Porod window")
	}

	line, err := lineFit(q[bestLo:bestHi], y[bestLo:bestHi])
	if err != nil {
		return nil, err
	}
	return &PorodResult{C4: line.Intercept, C4Err: line.InterceptErr, Start: bestLo, End: bestHi, Line: line}, nil
}

// GuinierResult holds the forward scattering and radius of gyration
type GuinierResult struct {
	I0, Rg     float64
	Start, End int
	Line       Line
}

// GuinierFit finds the window of the Guinier plot that is closest to a
// falling straight line and derives I0 = exp(intercept) and Rg = √(-3 slope).
// Of equally linear windows the lowest q one wins.
func GuinierFit(q, intensity []float64, minPoints int) (*GuinierResult, error) {
	if err := checkCurve(q, intensity, minPoints); err != nil {
		return nil, err
	}
	x := make([]float64, len(q))
	y := make([]float64, len(q))
	for i := range q {
		x[i] = Guinier.axis(q[i])
		y[i] = Guinier.value(q[i], intensity[i])
	}

	best, bestLo, bestHi := math.Inf(1), -1, -1
	scanWindows(len(q), minPoints, func(lo, hi int) {
		_, slope := stat.LinearRegression(x[lo:hi], y[lo:hi], nil, false)
		if !(slope < 0) {
			return
		}
		if r := stat.Correlation(x[lo:hi], y[lo:hi], nil); r < best {
			best, bestLo, bestHi = r, lo, hi
		}
	})
	if bestLo < 0 {
		return nil, perr.New(perr.CodeRange, "no decreasing Guinier window")
	}

	line, err := lineFit(x[bestLo:bestHi], y[bestLo:bestHi])
	if err != nil {
		return nil, err
	}
	return &GuinierResult{
		I0:    math.Exp(line.Intercept),
		Rg:    math.Sqrt(-3 * line.Slope),
		Start: bestLo,
		End:   bestHi,
		Line:  line,
	}, nil
}
