package integration

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
)

func constImage(rows, cols int, v float32) []float32 {
	img := make([]float32, rows*cols)
	for i := range img {
		img[i] = v
	}
	return img
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

// pixelsWithin counts pixels of a rows x cols grid whose distance from
// (cx, cy) lies in [r0, r1)
func pixelsWithin(rows, cols int, cx, cy, r0, r1 float64) int {
	n := 0
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			r := math.Hypot(float64(x)-cx, float64(y)-cy)
			if r >= r0 && r < r1 {
				n++
			}
		}
	}
	return n
}

func TestSectorProfileFullCircle(t *testing.T) {
	rows, cols := 21, 21
	roi := models.SectorROI{CentreX: 10, CentreY: 10, InnerRadius: 2, OuterRadius: 10, Symmetry: models.SymmetryFull}

	rad, az, err := SectorProfile(constImage(rows, cols, 1), nil, rows, cols, roi, nil, true, true)
	if err != nil {
		t.Fatal(err)
	}

	expected := float64(pixelsWithin(rows, cols, 10, 10, 2, 10))
	if got := sum(rad.Values); got != expected {
		t.Errorf("radial total: expected %g, got %g", expected, got)
	}
	if got := sum(az.Values); got != expected {
		t.Errorf("azimuthal total: expected %g, got %g", expected, got)
	}
	if len(rad.Values) != 8 {
		t.Errorf("expected 8 radial bins, got %d", len(rad.Values))
	}
	if len(az.Values) != 360 {
		t.Errorf("expected 360 azimuthal bins, got %d", len(az.Values))
	}
	if !reflect.DeepEqual(rad.Values, rad.Area) {
		t.Errorf("a unit image should have bin sums equal to pixel counts")
	}
	if !reflect.DeepEqual(rad.Values, rad.Variances) {
		t.Errorf("counting statistics: variances should equal values")
	}
}

func TestSectorProfileSymmetry(t *testing.T) {
	// a half-pixel centre keeps every pixel off the axes, so each mirror
	// transform maps the pixel grid onto itself
	rows, cols := 30, 30
	img := constImage(rows, cols, 1)
	base := models.SectorROI{CentreX: 14.5, CentreY: 14.5, InnerRadius: 0, OuterRadius: 14, StartAngle: 0, EndAngle: math.Pi / 2}

	plain, _, err := SectorProfile(img, nil, rows, cols, base, nil, true, false)
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name     string
		sym      models.Symmetry
		expected float64
	}{
		{"none", models.SymmetryNone, 1},
		{"invert", models.SymmetryInvert, 2},
		{"reflect in x", models.SymmetryXReflect, 2},
		{"reflect in y", models.SymmetryYReflect, 2},
		{"rotate 90 clockwise", models.SymmetryCNinety, 2},
		{"rotate 90 anti-clockwise", models.SymmetryACNinety, 2},
		{"full", models.SymmetryFull, 4},
	}

	for _, tc := range testCases {
		roi := base
		roi.Symmetry = tc.sym
		rad, _, err := SectorProfile(img, nil, rows, cols, roi, nil, true, false)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got := sum(rad.Values); got != tc.expected*sum(plain.Values) {
			t.Errorf("%s: expected %g pixels, got %g", tc.name, tc.expected*sum(plain.Values), got)
		}
	}
}

func TestSectorProfileMask(t *testing.T) {
	rows, cols := 11, 11
	roi := models.SectorROI{CentreX: 5, CentreY: 5, OuterRadius: 6, Symmetry: models.SymmetryFull}

	include := make([]float32, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 6; x < cols; x++ {
			include[y*cols+x] = 1
		}
	}
	mask := NewMask(models.NewFloat32Buffer(include), []int{rows, cols})

	rad, _, err := SectorProfile(constImage(rows, cols, 1), nil, rows, cols, roi, mask, true, false)
	if err != nil {
		t.Fatal(err)
	}
	full := pixelsWithin(rows, cols, 5, 5, 0, 6)
	if got := sum(rad.Values); got >= float64(full)/2 {
		t.Errorf("right-half mask should keep fewer than half the pixels, got %g of %d", got, full)
	}

	bad := &Mask{Include: make([]bool, 5), Dims: []int{5}}
	if _, _, err := SectorProfile(constImage(rows, cols, 1), nil, rows, cols, roi, bad, true, false); !errors.Is(err, ErrMaskRank) {
		t.Errorf("expected ErrMaskRank, got %v", err)
	}
}

func TestIntegratorDropsIncompatibleMask(t *testing.T) {
	rows, cols, frames := 9, 9, 3
	roi := models.SectorROI{CentreX: 4, CentreY: 4, InnerRadius: 1, OuterRadius: 4, StartAngle: 0, EndAngle: math.Pi}

	stack := &models.Frame{Dims: []int{frames, rows, cols}}
	for f := 0; f < frames; f++ {
		stack.Data = append(stack.Data, constImage(rows, cols, float32(f+1))...)
	}

	integ := NewIntegrator(roi)
	bad := &Mask{Include: make([]bool, rows), Dims: []int{rows}}
	azMasked, radMasked, err := integ.Process(stack, frames, bad)
	if err != nil {
		t.Fatalf("rank mismatch must not abort: %v", err)
	}
	az, rad, err := integ.Process(stack, frames, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(radMasked, rad) || !reflect.DeepEqual(azMasked, az) {
		t.Errorf("dropping the mask should match a maskless run")
	}

	if !reflect.DeepEqual(rad.Dims, []int{frames, RadialBins(roi)}) {
		t.Errorf("radial dims: expected [%d %d], got %v", frames, RadialBins(roi), rad.Dims)
	}
	if !reflect.DeepEqual(az.Dims, []int{frames, 180}) {
		t.Errorf("azimuthal dims: expected [%d 180], got %v", frames, az.Dims)
	}

	n := RadialBins(roi)
	for k := 0; k < n; k++ {
		if rad.Data[2*n+k] != 3*rad.Data[k] {
			t.Errorf("bin %d: frame 2 should be three times frame 0, got %g vs %g", k, rad.Data[2*n+k], rad.Data[k])
		}
	}
}

func TestIntegratorInvalidROI(t *testing.T) {
	rows, cols := 9, 9
	stack := &models.Frame{Data: constImage(rows, cols, 1), Dims: []int{1, rows, cols}}
	valid := models.SectorROI{CentreX: 4, CentreY: 4, InnerRadius: 1, OuterRadius: 4, Symmetry: models.SymmetryFull}

	testCases := []struct {
		name  string
		edit  func(r *models.SectorROI)
		field string
	}{
		{"equal radii", func(r *models.SectorROI) { r.InnerRadius, r.OuterRadius = 5, 5 }, "sector.outerRadius"},
		{"inverted radii", func(r *models.SectorROI) { r.InnerRadius, r.OuterRadius = 6, 2 }, "sector.outerRadius"},
		{"negative inner radius", func(r *models.SectorROI) { r.InnerRadius = -1 }, "sector.innerRadius"},
		{"infinite outer radius", func(r *models.SectorROI) { r.OuterRadius = math.Inf(1) }, "sector.outerRadius"},
		{"NaN inner radius", func(r *models.SectorROI) { r.InnerRadius = math.NaN() }, "sector.innerRadius"},
		{"infinite end angle", func(r *models.SectorROI) { r.Symmetry, r.EndAngle = models.SymmetryNone, math.Inf(-1) }, "sector.endAngle"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			roi := valid
			tc.edit(&roi)

			_, _, err := NewIntegrator(roi).Process(stack, 1, nil)
			if !perr.IsCode(err, perr.CodeConfig) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if e, _ := perr.As(err); e.Field() != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, e.Field())
			}

			_, _, err = SectorProfile(stack.Data, nil, rows, cols, roi, nil, true, true)
			if !perr.IsCode(err, perr.CodeConfig) {
				t.Errorf("SectorProfile: expected configuration error, got %v", err)
			}
		})
	}
}

func TestIntegratorFlagsAndArea(t *testing.T) {
	rows, cols := 15, 15
	roi := models.SectorROI{CentreX: 7, CentreY: 7, InnerRadius: 0, OuterRadius: 7, Symmetry: models.SymmetryFull}
	stack := &models.Frame{Data: constImage(rows, cols, 5), Dims: []int{1, rows, cols}}

	integ := &Integrator{ROI: roi, Radial: true, AreaNormalisation: true}
	az, rad, err := integ.Process(stack, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if az != nil {
		t.Errorf("azimuthal profile disabled, expected nil")
	}
	for k, v := range rad.Data {
		if v != 5 {
			t.Errorf("bin %d: area normalised constant image should give 5, got %g", k, v)
		}
	}

	if _, _, err := integ.Process(&models.Frame{Data: make([]float32, 4), Dims: []int{4}}, 1, nil); err == nil {
		t.Errorf("expected shape error for 1D stack")
	}
}

func TestAxes(t *testing.T) {
	roi := models.SectorROI{InnerRadius: 10, OuterRadius: 14, StartAngle: math.Pi / 2, EndAngle: math.Pi}
	if got := RadialAxis(roi); !reflect.DeepEqual(got, []float64{10.5, 11.5, 12.5, 13.5}) {
		t.Errorf("radial axis: got %v", got)
	}
	az := AzimuthalAxis(roi)
	if len(az) != 90 || math.Abs(az[0]-90.5) > 1e-9 {
		t.Errorf("azimuthal axis should start at 90.5 degrees with 90 bins, got %d bins from %g", len(az), az[0])
	}
}
