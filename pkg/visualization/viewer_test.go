package visualization

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"saxsreduce/internal/models"
	"saxsreduce/pkg/analysis"
)

// testStack builds frames of rows x cols where every pixel holds its frame
// index plus the column
func testStack(frames, rows, cols int) []float32 {
	data := make([]float32, frames*rows*cols)
	for f := 0; f < frames; f++ {
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				data[f*rows*cols+y*cols+x] = float32(f + x)
			}
		}
	}
	return data
}

func TestNewViewer(t *testing.T) {
	v, err := NewViewer(testStack(3, 4, 5), 3, 4, 5, false)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if v.Frames() != 3 {
		t.Errorf("Expected 3 frames, got %d", v.Frames())
	}
	if v.lo != 0 || v.hi != 6 {
		t.Errorf("Expected range [0, 6], got [%v, %v]", v.lo, v.hi)
	}

	if _, err := NewViewer(make([]float32, 10), 3, 4, 5, false); err == nil {
		t.Error("Expected error for a short stack")
	}
}

func TestExtractFrame(t *testing.T) {
	v, err := NewViewer(testStack(3, 4, 5), 3, 4, 5, false)
	if err != nil {
		t.Fatal(err)
	}

	img, err := v.ExtractFrame(2)
	if err != nil {
		t.Fatalf("ExtractFrame failed: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 5, 4) {
		t.Errorf("Expected bounds 5x4, got %v", img.Bounds())
	}
	gray := img.(*image.Gray16)
	// frame 2, column 4 is the stack maximum
	if got := gray.Gray16At(4, 0).Y; got != 65535 {
		t.Errorf("Expected white at the maximum, got %d", got)
	}
	if got := gray.Gray16At(1, 3).Y; got != 32767 {
		t.Errorf("Expected mid grey 32767, got %d", got)
	}

	for _, index := range []int{-1, 3} {
		if _, err := v.ExtractFrame(index); err == nil {
			t.Errorf("Expected error for frame %d", index)
		}
	}
}

func TestLogScaleAndNonFinite(t *testing.T) {
	data := []float32{0, float32(math.E - 1), float32(math.NaN()), -5}
	v, err := NewViewer(data, 1, 2, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v.hi-1) > 1e-6 || v.lo != 0 {
		t.Errorf("Expected log range [0, 1], got [%v, %v]", v.lo, v.hi)
	}
	if got := v.level(float32(math.NaN())); got != 0 {
		t.Errorf("Expected NaN to render black, got %d", got)
	}
	if got := v.level(-5); got != 0 {
		t.Errorf("Expected negative intensity to clamp to black, got %d", got)
	}
}

func TestExtractRegion(t *testing.T) {
	v, err := NewViewer(testStack(2, 4, 5), 2, 4, 5, false)
	if err != nil {
		t.Fatal(err)
	}

	region, err := v.ExtractRegion(1, 1, 2, 2, 3)
	if err != nil {
		t.Fatalf("ExtractRegion failed: %v", err)
	}
	expected := []float32{3, 4, 5, 3, 4, 5}
	if len(region) != len(expected) {
		t.Fatalf("Expected %d values, got %d", len(expected), len(region))
	}
	for i := range expected {
		if region[i] != expected[i] {
			t.Errorf("Region value %d: expected %v, got %v", i, expected[i], region[i])
		}
	}

	testCases := []struct {
		name                         string
		index, row, col, rows, cols int
	}{
		{"bad frame", 2, 0, 0, 1, 1},
		{"negative origin", 0, -1, 0, 1, 1},
		{"empty region", 0, 0, 0, 0, 1},
		{"beyond frame", 0, 3, 3, 2, 3},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.ExtractRegion(tc.index, tc.row, tc.col, tc.rows, tc.cols); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestSaveFrameSequence(t *testing.T) {
	v, err := NewViewer(testStack(3, 4, 5), 3, 4, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "frames")

	files, err := v.SaveFrameSequence(dir, "radial")
	if err != nil {
		t.Fatalf("SaveFrameSequence failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(files))
	}
	if filepath.Base(files[1]) != "radial_001.png" {
		t.Errorf("Expected radial_001.png, got %s", filepath.Base(files[1]))
	}

	f, err := os.Open(files[2])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode saved frame: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 5 || img.Bounds().Dy() != 4 {
		t.Errorf("Unexpected saved frame %s %v", format, img.Bounds())
	}
}

func TestCurvePoints(t *testing.T) {
	c := models.Profile{
		Q:      []float64{0.1, 0.2, 0.3},
		I:      []float64{10, 0, 1},
		Errors: []float64{1, 1, 0.1},
	}
	pts, errs := CurvePoints(analysis.LogNorm, c)
	if len(pts) != 2 || len(errs) != 2 {
		t.Fatalf("Expected the zero intensity point dropped, got %d points %d errors", len(pts), len(errs))
	}
	if pts[0].Y != 1 || pts[1].Y != 0 {
		t.Errorf("Expected log10 intensities [1 0], got [%v %v]", pts[0].Y, pts[1].Y)
	}
	if math.Abs(errs[0].Low-0.1) > 1e-12 || errs[0].Low != errs[0].High {
		t.Errorf("Expected symmetric error 0.1, got %+v", errs[0])
	}

	_, errs = CurvePoints(analysis.Kratky, models.Profile{Q: c.Q, I: c.I})
	if errs != nil {
		t.Errorf("Expected no error bars without errors, got %v", errs)
	}
}

func TestSavePlot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping plot rendering in short mode")
	}
	c := models.Profile{Q: make([]float64, 20), I: make([]float64, 20), Errors: make([]float64, 20)}
	for i := range c.Q {
		c.Q[i] = 0.05 * float64(i+1)
		c.I[i] = math.Exp(-c.Q[i] * c.Q[i])
		c.Errors[i] = 0.01
	}

	for _, kind := range analysis.Plots {
		t.Run(kind.Key, func(t *testing.T) {
			filename := filepath.Join(t.TempDir(), kind.Key+".png")
			if err := SavePlot(kind, c, "", filename); err != nil {
				t.Fatalf("SavePlot failed: %v", err)
			}
			if info, err := os.Stat(filename); err != nil || info.Size() == 0 {
				t.Errorf("Expected a non-empty plot file, got %v", err)
			}
		})
	}

	if err := SavePlot(analysis.LogLog, models.Profile{Q: []float64{1}, I: []float64{-1}}, "", filepath.Join(t.TempDir(), "x.png")); err == nil {
		t.Error("Expected error for a curve with no finite points")
	}
}
