package correction

import (
	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"github.com/rs/zerolog"
)

// BackgroundSubtraction subtracts a scaled reference background frame
type BackgroundSubtraction struct {
	bg      []float32
	bgVar   []float64
	bgDims  []int
	scaling float64

	Log *zerolog.Logger
}

// NewBackgroundSubtraction snapshots the background and its variances. A nil
// variance buffer assumes counting statistics.
func NewBackgroundSubtraction(bg models.Buffer, variances []float64, dims []int, scaling float64) (*BackgroundSubtraction, error) {
	if bg.Len() != models.Size(dims) {
		return nil, perr.Wrapf(ErrShape, perr.CodeShape, "background holds %d values, dimensions %v need %d", bg.Len(), dims, models.Size(dims))
	}
	if variances != nil && len(variances) != bg.Len() {
		return nil, perr.Wrapf(ErrShape, perr.CodeShape, "background variances hold %d values, data holds %d", len(variances), bg.Len())
	}
	if scaling <= 0 {
		return nil, perr.Configf("background.scaling", "background scaling must be positive, got %g", scaling)
	}

	b := &BackgroundSubtraction{
		bg:      bg.Float32(),
		bgDims:  append([]int(nil), dims...),
		scaling: scaling,
	}
	if variances != nil {
		b.bgVar = append([]float64(nil), variances...)
	} else {
		b.bgVar = make([]float64, len(b.bg))
		for i, v := range b.bg {
			b.bgVar[i] = float64(v)
		}
	}
	return b, nil
}

// Dims returns the background dimensions
func (b *BackgroundSubtraction) Dims() []int { return append([]int(nil), b.bgDims...) }

// Process subtracts the background from buf. A background of the same size
// is subtracted elementwise. A smaller image-only background is broadcast
// over every frame, and a background with frame axes of its own is first
// averaged down to one image. When the data size is not a multiple of the
// background size the data is returned unchanged and the mismatch is logged.
func (b *BackgroundSubtraction) Process(buf models.Buffer, variances []float64, dims []int) (*models.Frame, error) {
	data, vars, err := widen(buf, variances, dims)
	if err != nil {
		return nil, perr.WithOp(err, "background")
	}
	log := logOrNop(b.Log)
	out := &models.Frame{
		Data:   data,
		Errors: vars,
		Dims:   append([]int(nil), dims...),
	}

	s := b.scaling
	if len(b.bg) == len(data) {
		for i := range data {
			out.Data[i] = data[i] - float32(s*float64(b.bg[i]))
			out.Errors[i] = vars[i] + s*s*b.bgVar[i]
		}
		return out, nil
	}

	bg, bgVar := b.bg, b.bgVar
	imageSize := models.Size(dims[1:])
	if len(b.bgDims) >= len(dims) && len(b.bg) != imageSize {
		if len(b.bg)%imageSize != 0 {
			log.Error().Ints("background", b.bgDims).Ints("data", dims).Msg("background frames do not match image size, data left unchanged")
			return out, nil
		}
		log.Warn().Ints("background", b.bgDims).Ints("data", dims).Msg("averaging background to fit data")
		bg, bgVar = meanImage(b.bg, b.bgVar, imageSize)
	}

	if len(data)%len(bg) != 0 {
		log.Error().Int("backgroundSize", len(bg)).Int("dataSize", len(data)).Msg("background and data sizes incompatible, data left unchanged")
		return out, nil
	}
	for i := range data {
		k := i % len(bg)
		out.Data[i] = data[i] - float32(s*float64(bg[k]))
		out.Errors[i] = vars[i] + s*s*bgVar[k]
	}
	return out, nil
}

// meanImage averages a stack of images of imageSize pixels into one image
func meanImage(data []float32, vars []float64, imageSize int) ([]float32, []float64) {
	n := float64(len(data) / imageSize)
	sum := make([]float64, imageSize)
	sumVar := make([]float64, imageSize)
	for i, v := range data {
		sum[i%imageSize] += float64(v)
		sumVar[i%imageSize] += vars[i]
	}
	img := make([]float32, imageSize)
	imgVar := make([]float64, imageSize)
	for k := range sum {
		img[k] = float32(sum[k] / n)
		imgVar[k] = sumVar[k] / (n * n)
	}
	return img, imgVar
}
