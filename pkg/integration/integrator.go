package integration

import (
	"errors"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"github.com/rs/zerolog"
)

// Integrator reduces every frame of a stack to azimuthal and radial profiles
type Integrator struct {
	ROI models.SectorROI

	// Radial and Azimuthal select which profiles are produced
	Radial    bool
	Azimuthal bool

	// AreaNormalisation divides each bin by its pixel count
	AreaNormalisation bool

	Log *zerolog.Logger
}

// NewIntegrator returns an integrator producing both profiles
func NewIntegrator(roi models.SectorROI) *Integrator {
	return &Integrator{ROI: roi, Radial: true, Azimuthal: true}
}

// Process integrates the first frames images of stack, whose dimensions are
// [frames, rows, cols]. The returned frames have dimensions [frames, bins]
// and are nil for a disabled profile. A mask that does not fit the images is
// dropped with a warning and the frame is integrated without it.
func (s *Integrator) Process(stack *models.Frame, frames int, mask *Mask) (az, rad *models.Frame, err error) {
	if len(stack.Dims) != 3 {
		return nil, nil, perr.Shapef("sector integration needs [frames, rows, cols], got %v", stack.Dims)
	}
	if err := CheckROI(s.ROI); err != nil {
		return nil, nil, err
	}
	if frames < 0 || frames > stack.Dims[0] {
		return nil, nil, perr.Configf("frames", "frame count %d outside leading dimension %d", frames, stack.Dims[0])
	}
	if stack.Errors != nil && len(stack.Errors) != len(stack.Data) {
		return nil, nil, perr.Shapef("variance buffer holds %d values, data holds %d", len(stack.Errors), len(stack.Data))
	}
	log := s.Log
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	rows, cols := stack.Dims[1], stack.Dims[2]
	size := rows * cols
	for i := 0; i < frames; i++ {
		img := stack.Data[i*size : (i+1)*size]
		var vars []float64
		if stack.Errors != nil {
			vars = stack.Errors[i*size : (i+1)*size]
		}

		radP, azP, err := SectorProfile(img, vars, rows, cols, s.ROI, mask, s.Radial, s.Azimuthal)
		if errors.Is(err, ErrMaskRank) {
			log.Warn().Err(err).Int("frame", i).Msg("mask and dataset incompatible, integrating without mask")
			mask = nil
			radP, azP, err = SectorProfile(img, vars, rows, cols, s.ROI, nil, s.Radial, s.Azimuthal)
		}
		if err != nil {
			return nil, nil, err
		}

		if s.Radial {
			rad = s.store(rad, radP, i, frames)
		}
		if s.Azimuthal {
			az = s.store(az, azP, i, frames)
		}
	}
	return az, rad, nil
}

// store writes profile p into row i of acc, allocating acc on first use
func (s *Integrator) store(acc *models.Frame, p Profile, i, frames int) *models.Frame {
	n := len(p.Values)
	if acc == nil {
		acc = &models.Frame{
			Data:   make([]float32, frames*n),
			Errors: make([]float64, frames*n),
			Dims:   []int{frames, n},
		}
	}
	for k := 0; k < n; k++ {
		v, variance := p.Values[k], p.Variances[k]
		if s.AreaNormalisation {
			v, variance = dividez(v, p.Area[k]), dividez(variance, p.Area[k]*p.Area[k])
		}
		acc.Data[i*n+k] = float32(v)
		acc.Errors[i*n+k] = variance
	}
	return acc
}

// dividez divides a by b, returning 0 where b is 0
func dividez(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
