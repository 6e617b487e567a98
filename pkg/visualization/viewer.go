// Package visualization renders reduced data: detector frames as 16-bit
// grayscale images and 1D curves as plots.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
)

// Viewer renders the frames of a stack of 2D detector images
type Viewer struct {
	// data holds the frames row-major, [frames, rows, cols]
	data []float32

	frames int
	rows   int
	cols   int

	// logScale maps intensities through log1p before scaling
	logScale bool

	lo, hi float64
}

// NewViewer creates a viewer over frames images of rows x cols. Grey levels
// span the intensity range of the whole stack, so frames are comparable.
func NewViewer(data []float32, frames, rows, cols int, logScale bool) (*Viewer, error) {
	if frames < 0 || rows <= 0 || cols <= 0 || len(data) != frames*rows*cols {
		return nil, fmt.Errorf("stack of %d values does not hold %d frames of %dx%d", len(data), frames, rows, cols)
	}
	v := &Viewer{
		data:     data,
		frames:   frames,
		rows:     rows,
		cols:     cols,
		logScale: logScale,
		lo:       math.Inf(1),
		hi:       math.Inf(-1),
	}
	for _, x := range data {
		y := v.scale(float64(x))
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		v.lo = math.Min(v.lo, y)
		v.hi = math.Max(v.hi, y)
	}
	return v, nil
}

// Frames returns the number of frames in the stack
func (v *Viewer) Frames() int { return v.frames }

func (v *Viewer) scale(x float64) float64 {
	if v.logScale {
		return math.Log1p(math.Max(x, 0))
	}
	return x
}

// level maps an intensity to a grey level. Non-finite values are black.
func (v *Viewer) level(x float32) uint16 {
	y := v.scale(float64(x))
	if math.IsNaN(y) || math.IsInf(y, 0) || v.hi <= v.lo {
		return 0
	}
	return uint16(math.Max(0, math.Min(65535, (y-v.lo)/(v.hi-v.lo)*65535)))
}

// ExtractFrame renders one frame; image x runs along columns
func (v *Viewer) ExtractFrame(index int) (image.Image, error) {
	if index < 0 || index >= v.frames {
		return nil, fmt.Errorf("frame %d outside stack of %d frames", index, v.frames)
	}

	img := image.NewGray16(image.Rect(0, 0, v.cols, v.rows))
	off := index * v.rows * v.cols
	for y := 0; y < v.rows; y++ {
		for x := 0; x < v.cols; x++ {
			img.SetGray16(x, y, color.Gray16{Y: v.level(v.data[off+y*v.cols+x])})
		}
	}
	return img, nil
}

// ExtractRegion returns a rectangular region of one frame
func (v *Viewer) ExtractRegion(index, row, col, rows, cols int) ([]float32, error) {
	if index < 0 || index >= v.frames {
		return nil, fmt.Errorf("frame %d outside stack of %d frames", index, v.frames)
	}
	if row < 0 || col < 0 {
		return nil, fmt.Errorf("region origin must be non-negative")
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("region size must be positive")
	}
	if row+rows > v.rows || col+cols > v.cols {
		return nil, fmt.Errorf("region extends beyond the %dx%d frame", v.rows, v.cols)
	}

	region := make([]float32, 0, rows*cols)
	off := index * v.rows * v.cols
	for y := row; y < row+rows; y++ {
		start := off + y*v.cols + col
		region = append(region, v.data[start:start+cols]...)
	}
	return region, nil
}

// SaveFrame saves a rendered frame as a 16-bit PNG
func (v *Viewer) SaveFrame(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveFrameSequence renders every frame into outputDir as
// <prefix>_NNN.png and returns the file names written
func (v *Viewer) SaveFrameSequence(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	files := make([]string, 0, v.frames)
	for i := 0; i < v.frames; i++ {
		img, err := v.ExtractFrame(i)
		if err != nil {
			return files, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%03d.png", prefix, i))
		if err := v.SaveFrame(img, filename); err != nil {
			return files, err
		}
		files = append(files, filename)
	}
	return files, nil
}
