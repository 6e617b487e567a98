package correction

import (
	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"github.com/rs/zerolog"
)

// DetectorResponse multiplies every image by a per-pixel response map
type DetectorResponse struct {
	resp     []float32
	respDims []int

	Log *zerolog.Logger
}

// NewDetectorResponse snapshots the response map. Unit axes are squeezed.
func NewDetectorResponse(resp models.Buffer, dims []int) (*DetectorResponse, error) {
	if resp.Len() != models.Size(dims) {
		return nil, perr.Wrapf(ErrShape, perr.CodeShape, "response holds %d values, dimensions %v need %d", resp.Len(), dims, models.Size(dims))
	}
	return &DetectorResponse{
		resp:     resp.Float32(),
		respDims: squeeze(dims),
	}, nil
}

// Dims returns the squeezed response dimensions
func (d *DetectorResponse) Dims() []int { return append([]int(nil), d.respDims...) }

// Process applies the response to the first frames frames of buf. A response
// whose shape differs from the image is logged and applied as far as it
// reaches; pixels past its end are left unscaled.
func (d *DetectorResponse) Process(buf models.Buffer, variances []float64, frames int, dims []int) (*models.Frame, error) {
	data, vars, err := widen(buf, variances, dims)
	if err != nil {
		return nil, perr.WithOp(err, "detector response")
	}
	if err := checkFrames(frames, dims); err != nil {
		return nil, err
	}

	imageSize := models.Size(dims[1:])
	if !sameDims(squeeze(dims[1:]), d.respDims) {
		logOrNop(d.Log).Error().
			Ints("response", d.respDims).
			Ints("image", dims[1:]).
			Msg("detector response dataset and image dimensions do not match")
	}
	n := min(imageSize, len(d.resp))

	out := &models.Frame{
		Data:   data,
		Errors: vars,
		Dims:   append([]int(nil), dims...),
	}
	for i := 0; i < frames; i++ {
		base := i * imageSize
		for j := 0; j < n; j++ {
			r := float64(d.resp[j])
			out.Data[base+j] = float32(r * float64(data[base+j]))
			out.Errors[base+j] = r * r * vars[base+j]
		}
	}
	return out, nil
}
