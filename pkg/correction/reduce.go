package correction

import (
	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"gonum.org/v1/gonum/floats"
)

// Average collapses the frame axis into its mean image
type Average struct{}

// Process returns the mean over the leading axis with image-only dimensions
func (Average) Process(buf models.Buffer, variances []float64, dims []int) (*models.Frame, error) {
	data, vars, err := widen(buf, variances, dims)
	if err != nil {
		return nil, perr.WithOp(err, "average")
	}
	acc := NewAccumulator(dims[1:])
	if err := acc.Add(data, vars); err != nil {
		return nil, err
	}
	return acc.Mean(), nil
}

// Accumulator sums images across batches so that a mean can be formed over
// more frames than fit in one read
type Accumulator struct {
	dims   []int
	sum    []float64
	sumVar []float64
	frames int
}

// NewAccumulator creates an accumulator for images of the given dimensions
func NewAccumulator(imageDims []int) *Accumulator {
	n := models.Size(imageDims)
	return &Accumulator{
		dims:   append([]int(nil), imageDims...),
		sum:    make([]float64, n),
		sumVar: make([]float64, n),
	}
}

// Add accumulates a stack of whole images
func (a *Accumulator) Add(data []float32, vars []float64) error {
	n := len(a.sum)
	if n == 0 || len(data)%n != 0 || len(vars) != len(data) {
		return perr.Wrapf(ErrShape, perr.CodeShape, "cannot add %d values to images of %d pixels", len(data), n)
	}
	for i, v := range data {
		a.sum[i%n] += float64(v)
		a.sumVar[i%n] += vars[i]
	}
	a.frames += len(data) / n
	return nil
}

// Frames returns the number of images accumulated so far
func (a *Accumulator) Frames() int { return a.frames }

// Mean returns the mean image; its variance is the summed variance over the
// square of the frame count
func (a *Accumulator) Mean() *models.Frame {
	out := &models.Frame{
		Data:   make([]float32, len(a.sum)),
		Errors: make([]float64, len(a.sum)),
		Dims:   append([]int(nil), a.dims...),
	}
	if a.frames == 0 {
		return out
	}
	n := float64(a.frames)
	for k := range a.sum {
		out.Data[k] = float32(a.sum[k] / n)
	}
	floats.ScaleTo(out.Errors, 1/(n*n), a.sumVar)
	return out
}

// Invariant sums every image to a single value per frame
type Invariant struct{}

// Process returns one total intensity per leading-axis index
func (Invariant) Process(buf models.Buffer, variances []float64, dims []int) (*models.Frame, error) {
	data, vars, err := widen(buf, variances, dims)
	if err != nil {
		return nil, perr.WithOp(err, "invariant")
	}
	imageSize := models.Size(dims[1:])

	out := &models.Frame{
		Data:   make([]float32, dims[0]),
		Errors: make([]float64, dims[0]),
		Dims:   []int{dims[0]},
	}
	for i := 0; i < dims[0]; i++ {
		var sum float64
		for _, v := range data[i*imageSize : (i+1)*imageSize] {
			sum += float64(v)
		}
		out.Data[i] = float32(sum)
		out.Errors[i] = floats.Sum(vars[i*imageSize : (i+1)*imageSize])
	}
	return out, nil
}
