package calibration

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
)

const (
	testWavelength   = 0.1   // nm
	testPixelSize    = 0.172 // mm
	testCameraLength = 1000  // mm
)

// peakPosition places a reflection on the detector using the small-angle
// relation q = 2π r / (λ L)
func peakPosition(d float64) float64 {
	q := 2 * math.Pi / d
	return q * testWavelength * testCameraLength / (2 * math.Pi) / testPixelSize
}

func TestPeakCalibration(t *testing.T) {
	agbe, ok := Standard("Silver Behenate")
	if !ok {
		t.Fatal("silver behenate standard missing")
	}
	candidates := agbe[:6]
	observed := []models.HKL{agbe[1], agbe[2], agbe[4]}
	peaks := make([]float64, len(observed))
	for i, h := range observed {
		peaks[i] = peakPosition(h.D)
	}

	c := &PeakCalibrator{Wavelength: testWavelength, PixelSize: testPixelSize}
	res, err := c.Calibrate(peaks, candidates, false)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	for i, p := range res.IndexedPeaks {
		if p.Reflection() != observed[i] {
			t.Errorf("peak %d: expected %v, got %v", i, observed[i], p.Reflection())
		}
		if p.PeakPos() != peaks[i] {
			t.Errorf("peak %d: position %g, expected %g", i, p.PeakPos(), peaks[i])
		}
		expectedTwoTheta := 2 * math.Asin(testWavelength/(2*observed[i].D))
		if math.Abs(p.TwoTheta()-expectedTwoTheta) > 1e-12 {
			t.Errorf("peak %d: two theta %g, expected %g", i, p.TwoTheta(), expectedTwoTheta)
		}
	}

	expectedGradient := 2 * math.Pi / (testWavelength * testCameraLength)
	if math.Abs(res.Gradient-expectedGradient) > 1e-9 {
		t.Errorf("gradient: expected %g, got %g", expectedGradient, res.Gradient)
	}
	if res.Intercept != 0 {
		t.Errorf("fit through the origin should have zero intercept, got %g", res.Intercept)
	}
	if math.Abs(res.CameraLength-testCameraLength) > 1e-6 {
		t.Errorf("camera length: expected %d, got %g", testCameraLength, res.CameraLength)
	}
	if res.CameraLengthStd > 1e-6 {
		t.Errorf("camera length spread should vanish, got %g", res.CameraLengthStd)
	}
}

func TestPeakCalibrationSinglePeak(t *testing.T) {
	agbe, _ := Standard("silver behenate")
	peaks := []float64{peakPosition(agbe[0].D)}

	testCases := []struct {
		name      string
		intercept bool
	}{
		{"through origin", false},
		{"with intercept", true},
	}

	for _, tc := range testCases {
		c := &PeakCalibrator{Wavelength: testWavelength, PixelSize: testPixelSize}
		res, err := c.Calibrate(peaks, agbe[:4], tc.intercept)
		if err != nil {
			t.Fatalf("%s: Calibrate failed: %v", tc.name, err)
		}
		if len(res.IndexedPeaks) != 1 || res.IndexedPeaks[0].Reflection() != agbe[0] {
			t.Errorf("%s: expected peak indexed as %v, got %v", tc.name, agbe[0], res.IndexedPeaks)
		}
		expectedGradient := 2 * math.Pi / (testWavelength * testCameraLength)
		if math.Abs(res.Gradient-expectedGradient) > 1e-9 {
			t.Errorf("%s: gradient: expected %g, got %g", tc.name, expectedGradient, res.Gradient)
		}
		if math.Abs(res.CameraLength-testCameraLength) > 1e-6 {
			t.Errorf("%s: camera length: expected %d, got %g", tc.name, testCameraLength, res.CameraLength)
		}
		if res.CameraLengthStd != 0 {
			t.Errorf("%s: expected zero camera length spread, got %g", tc.name, res.CameraLengthStd)
		}
	}
}

func TestPeakCalibrationDeterministic(t *testing.T) {
	agbe, _ := Standard("silver behenate")
	peaks := []float64{peakPosition(agbe[0].D) + 0.7, peakPosition(agbe[1].D) - 0.4, peakPosition(agbe[3].D) + 1.1}

	c := &PeakCalibrator{Wavelength: testWavelength, PixelSize: testPixelSize}
	first, err := c.Calibrate(peaks, agbe[:8], true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, err := c.Calibrate(peaks, agbe[:8], true)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs from the first run", i)
		}
	}
}

func TestPeakCalibrationTieKeepsFirst(t *testing.T) {
	a := models.HKL{H: 1, D: 4}
	b := models.HKL{K: 1, D: 4}
	c2 := models.HKL{L: 1, D: 2}
	peaks := []float64{peakPosition(4), peakPosition(2)}

	c := &PeakCalibrator{Wavelength: testWavelength, PixelSize: testPixelSize}
	res, err := c.Calibrate(peaks, []models.HKL{a, b, c2}, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.IndexedPeaks[0].Reflection() != a {
		t.Errorf("equal residuals should keep the first combination, got %v", res.IndexedPeaks[0].Reflection())
	}
}

func TestPeakCalibrationErrors(t *testing.T) {
	hkls := []models.HKL{{L: 1, D: 0.01}, {L: 2, D: 0.005}, {L: 3, D: 5}}

	testCases := []struct {
		name  string
		c     *PeakCalibrator
		peaks []float64
		is    error
		code  perr.Code
	}{
		{"too few feasible", &PeakCalibrator{Wavelength: 0.1, PixelSize: 0.1}, []float64{10, 20}, ErrNoFeasibleReflection, perr.CodeConfig},
		{"no peaks", &PeakCalibrator{Wavelength: 0.1, PixelSize: 0.1}, nil, nil, perr.CodeConfig},
		{"no wavelength", &PeakCalibrator{PixelSize: 0.1}, []float64{10, 20}, nil, perr.CodeConfig},
		{"no pixel size", &PeakCalibrator{Wavelength: 0.1}, []float64{10, 20}, nil, perr.CodeConfig},
	}

	for _, tc := range testCases {
		_, err := tc.c.Calibrate(tc.peaks, hkls, false)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if tc.is != nil && !errors.Is(err, tc.is) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.is, err)
		}
		if perr.CodeOf(err) != tc.code {
			t.Errorf("%s: expected code %v, got %v", tc.name, tc.code, perr.CodeOf(err))
		}
	}
}

func referenceCurve() (q, i []float64) {
	for k := 0; k <= 40; k++ {
		x := 0.1 + 0.05*float64(k)
		q = append(q, x)
		i = append(i, 100*math.Exp(-x))
	}
	return q, i
}

func TestAbsoluteCalibration(t *testing.T) {
	refQ, refI := referenceCurve()

	var dataQ, sample, empty []float64
	for k := 0; k < 30; k++ {
		x := 0.3 + 0.05*float64(k)
		dataQ = append(dataQ, x)
		// sample minus empty is the reference divided by 4
		sample = append(sample, 25*math.Exp(-x)+3)
		empty = append(empty, 3)
	}

	a := &AbsoluteCalibrator{}
	if err := a.SetAbsoluteData(refQ, refI, InverseNanometre); err != nil {
		t.Fatal(err)
	}
	if err := a.SetData(dataQ, sample, empty, InverseNanometre); err != nil {
		t.Fatal(err)
	}
	if err := a.Calibrate(); err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	if math.Abs(a.AbsScale()-4) > 1e-3 {
		t.Errorf("expected scale near 4, got %g", a.AbsScale())
	}
	if a.AbsScaleStdDev() > 1e-3 {
		t.Errorf("expected small spread, got %g", a.AbsScaleStdDev())
	}

	cal := a.CalibratedI()
	for k := range cal {
		if cal[k] != (sample[k]-empty[k])*a.AbsScale() {
			t.Errorf("point %d: calibrated intensity must equal data times scale", k)
		}
	}

	scale := a.AbsScale()
	if err := a.Calibrate(); err != nil || a.AbsScale() != scale {
		t.Errorf("recalibrating unchanged data should be idempotent")
	}
}

func TestAbsoluteCalibrationSkipsZeros(t *testing.T) {
	refQ, refI := referenceCurve()
	dataQ := []float64{0.5, 0.6, 0.7, 0.8}
	sample := []float64{2 * 100 * math.Exp(-0.5), 0, 2 * 100 * math.Exp(-0.7), 2 * 100 * math.Exp(-0.8)}

	a := &AbsoluteCalibrator{}
	_ = a.SetAbsoluteData(refQ, refI, InverseNanometre)
	_ = a.SetData(dataQ, sample, make([]float64, 4), InverseNanometre)
	if err := a.Calibrate(); err != nil {
		t.Fatal(err)
	}
	if math.Abs(a.AbsScale()-0.5) > 1e-3 {
		t.Errorf("expected scale near 0.5, got %g", a.AbsScale())
	}
	if a.CalibratedI()[1] != 0 {
		t.Errorf("zero point should stay zero after scaling")
	}
}

func TestAbsoluteCalibrationErrors(t *testing.T) {
	refQ, refI := referenceCurve()

	a := &AbsoluteCalibrator{}
	if err := a.Calibrate(); err == nil {
		t.Errorf("expected error before data is set")
	}

	_ = a.SetAbsoluteData(refQ, refI, InverseNanometre)
	_ = a.SetData([]float64{3, 4, 5}, []float64{1, 1, 1}, []float64{0, 0, 0}, InverseNanometre)
	err := a.Calibrate()
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("disjoint ranges: expected ErrInvalidRange, got %v", err)
	}
	if !perr.IsCode(err, perr.CodeRange) {
		t.Errorf("expected range code, got %v", perr.CodeOf(err))
	}

	if err := a.SetAbsoluteData([]float64{1, 1, 2}, []float64{1, 2, 3}, InverseNanometre); err == nil {
		t.Errorf("expected error for repeated q values")
	}
	if err := a.SetAbsoluteData([]float64{1, 2}, []float64{1}, InverseNanometre); err == nil {
		t.Errorf("expected error for mismatched lengths")
	}
	if err := a.SetData([]float64{1, 2}, []float64{1, 2}, []float64{1}, InverseNanometre); err == nil {
		t.Errorf("expected error for mismatched sample lengths")
	}
}

func TestUnitConversion(t *testing.T) {
	refQ, refI := referenceCurve()
	angstrom := make([]float64, len(refQ))
	for k, q := range refQ {
		angstrom[k] = q / 10
	}

	a := &AbsoluteCalibrator{}
	if err := a.SetAbsoluteData(angstrom, refI, InverseAngstrom); err != nil {
		t.Fatal(err)
	}
	_ = a.SetData([]float64{0.5, 1.0}, []float64{100 * math.Exp(-0.5), 100 * math.Exp(-1.0)}, []float64{0, 0}, InverseNanometre)
	if err := a.Calibrate(); err != nil {
		t.Fatal(err)
	}
	if math.Abs(a.AbsScale()-1) > 1e-3 {
		t.Errorf("expected unit scale after conversion, got %g", a.AbsScale())
	}
}

func TestResultsRoundTrip(t *testing.T) {
	agbe, _ := Standard("silver behenate")
	peaks := []float64{peakPosition(agbe[0].D), peakPosition(agbe[1].D), peakPosition(agbe[2].D)}
	c := &PeakCalibrator{Wavelength: testWavelength, PixelSize: testPixelSize}
	res, err := c.Calibrate(peaks, agbe[:4], false)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "calibration.yaml")
	if err := SaveResults(NewResults(res, testWavelength, testPixelSize), path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadResults(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded.IndexedPeaks(), res.IndexedPeaks) {
		t.Errorf("indexed peaks not restored")
	}

	q := loaded.Q(peaks[1])
	if math.Abs(q-2*math.Pi/agbe[1].D) > 1e-9 {
		t.Errorf("Q at second peak: expected %g, got %g", 2*math.Pi/agbe[1].D, q)
	}
	axis := loaded.QAxis([]float64{0, peaks[0]})
	if axis[0] != 0 || math.Abs(axis[1]-2*math.Pi/agbe[0].D) > 1e-9 {
		t.Errorf("unexpected q axis %v", axis)
	}
}

func TestStandards(t *testing.T) {
	names := StandardNames()
	if !reflect.DeepEqual(names, []string{"collagen dry", "collagen wet", "silver behenate"}) {
		t.Errorf("unexpected standards %v", names)
	}
	agbe, _ := Standard("silver behenate")
	agbe[0].D = -1
	again, _ := Standard("silver behenate")
	if again[0].D != 5.838 {
		t.Errorf("standards must not be mutable through returned slices")
	}
	if _, ok := Standard("unobtainium"); ok {
		t.Errorf("unknown standard should not resolve")
	}
}
