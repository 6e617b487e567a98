// Package correction implements the per-frame correction stages of the
// reduction pipeline. Every stage widens its raw input to float32 once on
// entry, carries a float64 variance buffer alongside the data, and never
// mutates the reference arrays it was built with.
//
// Dimensions follow the [frames, image...] convention: the leading axis
// counts frames and the remaining axes form one detector image.
package correction

import (
	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"github.com/rs/zerolog"
)

// ErrShape is returned when a buffer does not match its dimensions
var ErrShape = perr.New(perr.CodeShape, "incompatible shapes")

var nop = zerolog.Nop()

func logOrNop(l *zerolog.Logger) *zerolog.Logger {
	if l == nil {
		return &nop
	}
	return l
}

// widen converts the raw buffer and resolves its variances. Without a
// variance buffer the data itself is used, assuming counting statistics.
func widen(buf models.Buffer, variances []float64, dims []int) ([]float32, []float64, error) {
	if len(dims) < 2 {
		return nil, nil, perr.Wrapf(ErrShape, perr.CodeShape, "need [frames, image...] dimensions, got %v", dims)
	}
	if buf.Len() != models.Size(dims) {
		return nil, nil, perr.Wrapf(ErrShape, perr.CodeShape, "buffer holds %d values, dimensions %v need %d", buf.Len(), dims, models.Size(dims))
	}
	if variances != nil && len(variances) != buf.Len() {
		return nil, nil, perr.Wrapf(ErrShape, perr.CodeShape, "variance buffer holds %d values, data holds %d", len(variances), buf.Len())
	}

	data := buf.Float32()
	if variances != nil {
		return data, append([]float64(nil), variances...), nil
	}
	vars := make([]float64, len(data))
	for i, v := range data {
		vars[i] = float64(v)
	}
	return data, vars, nil
}

// checkFrames validates the frame count against the leading dimension
func checkFrames(frames int, dims []int) error {
	if frames < 0 || frames > dims[0] {
		return perr.Configf("frames", "frame count %d outside leading dimension %d", frames, dims[0])
	}
	return nil
}

// squeeze drops unit axes
func squeeze(dims []int) []int {
	var out []int
	for _, d := range dims {
		if d != 1 {
			out = append(out, d)
		}
	}
	return out
}

func sameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
