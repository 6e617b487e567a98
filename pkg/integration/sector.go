// Package integration reduces 2D detector images to radial and azimuthal
// profiles over a sector region of interest.
package integration

import (
	"math"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"go-hep.org/x/hep/hbook"
)

// ErrMaskRank is returned when a mask cannot be applied to an image
var ErrMaskRank = perr.New(perr.CodeShape, "mask and image have incompatible rank")

// Mask selects the pixels that take part in integration. Include is laid
// out row-major with Dims [rows, cols].
type Mask struct {
	Include []bool
	Dims    []int
}

// NewMask builds a mask from a numeric buffer; nonzero values are included
func NewMask(buf models.Buffer, dims []int) *Mask {
	vals := buf.Float32()
	m := &Mask{Include: make([]bool, len(vals)), Dims: append([]int(nil), dims...)}
	for i, v := range vals {
		m.Include[i] = v != 0
	}
	return m
}

// check reports whether the mask fits an image of rows x cols
func (m *Mask) check(rows, cols int) error {
	d := squeezeDims(m.Dims)
	if len(d) != 2 {
		return perr.Wrapf(ErrMaskRank, perr.CodeShape, "mask rank %d, image rank 2", len(d))
	}
	if d[0] != rows || d[1] != cols || len(m.Include) != rows*cols {
		return perr.Wrapf(ErrMaskRank, perr.CodeShape, "mask shape %v, image shape [%d %d]", d, rows, cols)
	}
	return nil
}

// Profile is one binned 1D profile with per-bin variances and pixel counts
type Profile struct {
	Values    []float64
	Variances []float64
	Area      []float64
}

// RadialBins returns the number of one-pixel-wide radial bins of roi
func RadialBins(roi models.SectorROI) int {
	return max(1, int(math.Ceil(roi.OuterRadius-roi.InnerRadius)))
}

// AzimuthalBins returns the number of one-degree azimuthal bins of roi
func AzimuthalBins(roi models.SectorROI) int {
	return max(1, int(math.Ceil(roi.AngularSpan()*180/math.Pi-1e-9)))
}

// RadialAxis returns the bin centres of the radial profile in pixels
func RadialAxis(roi models.SectorROI) []float64 {
	n := RadialBins(roi)
	w := (roi.OuterRadius - roi.InnerRadius) / float64(n)
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = roi.InnerRadius + (float64(i)+0.5)*w
	}
	return axis
}

// AzimuthalAxis returns the bin centres of the azimuthal profile in degrees
func AzimuthalAxis(roi models.SectorROI) []float64 {
	n := AzimuthalBins(roi)
	span := roi.AngularSpan()
	start := roi.StartAngle
	if roi.Symmetry == models.SymmetryFull {
		start = 0
	}
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = (start + (float64(i)+0.5)*span/float64(n)) * 180 / math.Pi
	}
	return axis
}

// CheckROI reports a configuration error for a sector that cannot be binned
func CheckROI(roi models.SectorROI) error {
	for _, v := range []struct {
		field string
		value float64
	}{
		{"sector.innerRadius", roi.InnerRadius},
		{"sector.outerRadius", roi.OuterRadius},
		{"sector.startAngle", roi.StartAngle},
		{"sector.endAngle", roi.EndAngle},
		{"sector.centreX", roi.CentreX},
		{"sector.centreY", roi.CentreY},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return perr.Configf(v.field, "must be finite, got %g", v.value)
		}
	}
	if roi.InnerRadius < 0 {
		return perr.Configf("sector.innerRadius", "must not be negative, got %g", roi.InnerRadius)
	}
	if roi.OuterRadius <= roi.InnerRadius {
		return perr.Configf("sector.outerRadius", "outer radius %g must exceed inner radius %g", roi.OuterRadius, roi.InnerRadius)
	}
	return nil
}

// SectorProfile bins one rows x cols image inside roi. Pixels of the mirror
// region selected by the ROI symmetry are folded back onto the sector. A nil
// mask includes every pixel.
func SectorProfile(img []float32, vars []float64, rows, cols int, roi models.SectorROI, mask *Mask, radial, azimuthal bool) (rad, az Profile, err error) {
	if err := CheckROI(roi); err != nil {
		return rad, az, err
	}
	if len(img) != rows*cols {
		return rad, az, perr.Shapef("image holds %d values, expected %d x %d", len(img), rows, cols)
	}
	if mask != nil {
		if err := mask.check(rows, cols); err != nil {
			return rad, az, err
		}
	}

	span := roi.AngularSpan()
	start := roi.StartAngle
	if roi.Symmetry == models.SymmetryFull {
		start = 0
	}
	nr, na := RadialBins(roi), AzimuthalBins(roi)

	radH := hbook.NewH1D(nr, roi.InnerRadius, roi.OuterRadius)
	radV := hbook.NewH1D(nr, roi.InnerRadius, roi.OuterRadius)
	azH := hbook.NewH1D(na, 0, span)
	azV := hbook.NewH1D(na, 0, span)

	for y := 0; y < rows; y++ {
		dy := float64(y) - roi.CentreY
		for x := 0; x < cols; x++ {
			k := y*cols + x
			if mask != nil && !mask.Include[k] {
				continue
			}
			dx := float64(x) - roi.CentreX
			r := math.Hypot(dx, dy)
			if r < roi.InnerRadius || r >= roi.OuterRadius {
				continue
			}
			rel, ok := sectorAngle(math.Atan2(dy, dx), start, span, roi.Symmetry)
			if !ok {
				continue
			}
			v := float64(img[k])
			variance := v
			if vars != nil {
				variance = vars[k]
			}
			if radial {
				radH.Fill(r, v)
				radV.Fill(r, variance)
			}
			if azimuthal {
				azH.Fill(rel, v)
				azV.Fill(rel, variance)
			}
		}
	}

	if radial {
		rad = collect(radH, radV)
	}
	if azimuthal {
		az = collect(azH, azV)
	}
	return rad, az, nil
}

// sectorAngle maps a pixel angle to its offset from the sector start,
// folding mirror pixels back through the inverse symmetry transform
func sectorAngle(phi, start, span float64, sym models.Symmetry) (float64, bool) {
	if sym == models.SymmetryFull {
		return wrap(phi), true
	}
	if d := wrap(phi - start); d < span {
		return d, true
	}

	var back float64
	switch sym {
	case models.SymmetryXReflect:
		back = -phi
	case models.SymmetryYReflect:
		back = math.Pi - phi
	case models.SymmetryCNinety:
		back = phi + math.Pi/2
	case models.SymmetryACNinety:
		back = phi - math.Pi/2
	case models.SymmetryInvert:
		back = phi + math.Pi
	default:
		return 0, false
	}
	if d := wrap(back - start); d < span {
		return d, true
	}
	return 0, false
}

// wrap maps an angle into [0, 2π)
func wrap(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

func collect(h, v *hbook.H1D) Profile {
	n := len(h.Binning.Bins)
	p := Profile{
		Values:    make([]float64, n),
		Variances: make([]float64, n),
		Area:      make([]float64, n),
	}
	for i := range h.Binning.Bins {
		p.Values[i] = h.Binning.Bins[i].SumW()
		p.Variances[i] = v.Binning.Bins[i].SumW()
		p.Area[i] = float64(h.Binning.Bins[i].Entries())
	}
	return p
}

func squeezeDims(dims []int) []int {
	var out []int
	for _, d := range dims {
		if d != 1 {
			out = append(out, d)
		}
	}
	return out
}
