package correction

import (
	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"github.com/rs/zerolog"
)

// Normalisation scales every frame by NormValue over its monitor reading
type Normalisation struct {
	// Channel selects the monitor channel of the calibration buffer
	Channel int

	// NormValue is the absolute scale applied to all frames
	NormValue float64

	Log *zerolog.Logger
}

// Process normalises the first frames frames of buf. calib holds one reading
// per frame and channel laid out as calibDims, the last axis being the
// channel. A zero reading is replaced by 1, leaving that frame scaled by
// NormValue only.
func (n *Normalisation) Process(buf models.Buffer, variances []float64, calib models.Buffer, frames int, dims, calibDims []int) (*models.Frame, error) {
	data, vars, err := widen(buf, variances, dims)
	if err != nil {
		return nil, perr.WithOp(err, "normalisation")
	}
	if err := checkFrames(frames, dims); err != nil {
		return nil, err
	}
	if len(calibDims) == 0 {
		return nil, perr.Wrapf(ErrShape, perr.CodeShape, "calibration dimensions are empty")
	}
	channels := calibDims[len(calibDims)-1]
	if n.Channel < 0 || n.Channel >= channels {
		return nil, perr.Configf("normalisation.channel", "channel %d outside %d calibration channels", n.Channel, channels)
	}
	if calib.Len() < frames*channels {
		return nil, perr.Wrapf(ErrShape, perr.CodeShape, "calibration holds %d readings, need %d", calib.Len(), frames*channels)
	}

	log := logOrNop(n.Log)
	readings := calib.Float32()
	imageSize := models.Size(dims[1:])

	out := &models.Frame{
		Data:   data,
		Errors: vars,
		Dims:   append([]int(nil), dims...),
	}
	for i := 0; i < frames; i++ {
		reading := readings[i*channels+n.Channel]
		if reading == 0 {
			log.Warn().Int("frame", i).Int("channel", n.Channel).Msg("zero monitor reading, treating as 1")
			reading = 1
		}
		factor := n.NormValue / float64(reading)
		for j := i * imageSize; j < (i+1)*imageSize; j++ {
			out.Data[j] = float32(factor * float64(data[j]))
			out.Errors[j] = factor * factor * vars[j]
		}
	}
	return out, nil
}
