// Package reduction runs the data reduction over input files. A Pipeline
// streams the detector frames of one file batch by batch through the enabled
// stages and writes every stage result to an output store; a Runner reduces
// many files in parallel.
package reduction

import (
	"context"
	"slices"
	"time"

	"saxsreduce/internal/logger"
	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
	"saxsreduce/pkg/analysis"
	"saxsreduce/pkg/config"
	"saxsreduce/pkg/correction"
	"saxsreduce/pkg/integration"
	"saxsreduce/pkg/slicing"
	"saxsreduce/pkg/store"

	"github.com/rs/zerolog"
)

// Output dataset names. Each data dataset has its variances next to it, see
// store.ErrorsName.
const (
	SelectionPath        = "/entry1/Selection/data"
	SelectionMonitorPath = "/entry1/Selection/monitor"
	NormalisationPath    = "/entry1/Normalisation/data"
	BackgroundPath       = "/entry1/BackgroundSubtraction/data"
	ResponsePath         = "/entry1/DetectorResponse/data"
	InvariantPath        = "/entry1/Invariant/data"
	RadialPath           = "/entry1/Radial/data"
	RadiusAxisPath       = "/entry1/Radial/radius"
	QAxisPath            = "/entry1/Radial/q"
	AzimuthalPath        = "/entry1/Azimuthal/data"
	AngleAxisPath        = "/entry1/Azimuthal/angle"
	OrientationPath      = "/entry1/Orientation/data"
	SaxsInvariantPath    = "/entry1/SaxsInvariant/data"
	AveragePath          = "/entry1/Average/data"
)

// Result summarises the reduction of one file
type Result struct {
	RunID    string
	Input    string
	Output   string
	Frames   int
	Batches  int
	Datasets []string
	// Curves lists the datasets holding profiles along the radial axis and
	// Images the averaged 2D detector images
	Curves   []string
	Images   []string
	Duration time.Duration
	Err      error
}

// Pipeline reduces one file with a fixed configuration and references
type Pipeline struct {
	cfg  *config.Config
	refs *References
	log  *zerolog.Logger
}

// NewPipeline creates a pipeline. refs may be nil when no reference stage
// is enabled.
func NewPipeline(cfg *config.Config, refs *References, log *zerolog.Logger) *Pipeline {
	if refs == nil {
		refs = &References{}
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Pipeline{cfg: cfg, refs: refs, log: log}
}

// run is the state of one Process call
type run struct {
	*Pipeline
	ctx context.Context
	log *zerolog.Logger
	in  store.Store
	out store.Store
	res *Result

	dim      int
	gridRank int
	shape    []int

	sinks map[string]*sink
	// last names the most recent full resolution dataset, the average input
	last *sink
}

// Process reduces the detector frames of in and writes every stage to out.
// Cancellation is checked between batches; a cancelled run leaves the
// datasets written so far in out.
func (p *Pipeline) Process(ctx context.Context, in, out store.Store) (*Result, error) {
	started := time.Now()
	r := &run{
		Pipeline: p,
		ctx:      ctx,
		log:      logger.C(ctx, p.log),
		in:       in,
		out:      out,
		res:      &Result{RunID: logger.RunID(ctx)},
		dim:      p.cfg.Processing.DetectorDim,
		sinks:    make(map[string]*sink),
	}
	err := r.process()
	r.res.Duration = time.Since(started)
	if err != nil {
		return r.res, err
	}
	r.log.Info().
		Int("frames", r.res.Frames).
		Int("batches", r.res.Batches).
		Dur("duration", r.res.Duration).
		Msg("reduction complete")
	return r.res, nil
}

func (r *run) process() error {
	// Step 1: open the detector frames and their variances
	src, err := r.in.Open(r.cfg.Processing.DataPath)
	if err != nil {
		return err
	}
	srcErrs := openErrors(r.in, src)
	r.shape = src.Shape()
	if len(r.shape) < r.dim+1 {
		return perr.WithField(perr.Shapef("dataset shape %v has no frame axis for %dD images", r.shape, r.dim), r.cfg.Processing.DataPath)
	}
	r.gridRank = len(r.shape) - r.dim
	r.log.Info().Ints("shape", r.shape).Int("gridRank", r.gridRank).Msg("reducing detector data")

	var monitor store.Dataset
	if r.cfg.Flags.Normalisation {
		if monitor, err = r.in.Open(r.cfg.Normalisation.Dataset); err != nil {
			return err
		}
		ms := monitor.Shape()
		if len(ms) != r.gridRank+1 || !slices.Equal(ms[:r.gridRank], r.shape[:r.gridRank]) {
			return perr.WithField(perr.Shapef("monitor shape %v does not match frame grid %v", ms, r.shape[:r.gridRank]), r.cfg.Normalisation.Dataset)
		}
	}

	// Step 2: frame selection
	if format := r.cfg.Processing.FrameSelection; format != "" {
		lists, err := slicing.ParseSelection(format, r.shape[:r.gridRank])
		if err != nil {
			return perr.WithField(err, "processing.frameSelection")
		}
		sel, err := r.selectDataset(src, srcErrs, lists, SelectionPath)
		if err != nil {
			return err
		}
		src, srcErrs = sel.data, sel.errs
		if monitor != nil {
			m, err := r.selectDataset(monitor, nil, lists, SelectionMonitorPath)
			if err != nil {
				return err
			}
			monitor = m.data
		}
		r.shape = src.Shape()
		r.log.Info().Ints("shape", r.shape).Msg("frames selected")
	}
	r.last = &sink{name: r.cfg.Processing.DataPath, data: src, errs: srcErrs}

	// Step 3: stream batches through the corrections and integration
	grid, err := slicing.FromSpec(models.SliceSpec{
		Shape:     r.shape,
		Axis:      r.gridRank - 1,
		BatchSize: r.cfg.Processing.BatchSize,
	})
	if err != nil {
		return err
	}
	for _, h := range grid.Batches() {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		if err := r.batch(src, srcErrs, monitor, h); err != nil {
			return perr.WithOp(err, "batch "+h.String())
		}
		r.res.Batches++
	}
	if err := r.writeAxes(); err != nil {
		return err
	}

	// Step 4: average over grid axes
	if r.cfg.Flags.Average {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		if err := r.average(); err != nil {
			return err
		}
	}
	return nil
}

// batch runs every enabled stage over one hyperslab of frames
func (r *run) batch(src, srcErrs, monitor store.Dataset, h slicing.Hyperslab) error {
	buf, err := store.Read(src, h)
	if err != nil {
		return err
	}
	var vars []float64
	if srcErrs != nil {
		eb, err := store.Read(srcErrs, h)
		if err != nil {
			return err
		}
		vars = eb.Float64()
	}
	dims := slicing.FrameDims(h.Block, r.dim)
	frames := dims[0]
	r.res.Frames += frames
	r.log.Debug().Stringer("hyperslab", h).Int("frames", frames).Msg("batch")

	var frame *models.Frame
	next := func(f *models.Frame, name string) error {
		frame = f
		buf, vars = models.NewFloat32Buffer(f.Data), f.Errors
		s, err := r.sink(name, r.shape)
		if err != nil {
			return err
		}
		r.last = s
		return s.write(h.Start, h.Block, f)
	}

	if r.cfg.Flags.Normalisation {
		channels := monitor.Shape()[r.gridRank]
		start := append(slices.Clone(h.Start[:r.gridRank]), 0)
		block := append(slices.Clone(h.Block[:r.gridRank]), channels)
		calib, err := monitor.ReadHyperslab(start, block)
		if err != nil {
			return err
		}
		n := &correction.Normalisation{Channel: r.cfg.Normalisation.Channel, NormValue: r.cfg.NormValue(), Log: r.log}
		f, err := n.Process(buf, vars, calib, frames, dims, []int{frames, channels})
		if err != nil {
			return err
		}
		if err := next(f, NormalisationPath); err != nil {
			return err
		}
	}

	if r.cfg.Flags.Background && r.refs.Background != nil {
		f, err := r.refs.Background.Process(buf, vars, dims)
		if err != nil {
			return err
		}
		if err := next(f, BackgroundPath); err != nil {
			return err
		}
	}

	if r.cfg.Flags.DetectorResponse && r.refs.Response != nil {
		f, err := r.refs.Response.Process(buf, vars, frames, dims)
		if err != nil {
			return err
		}
		if err := next(f, ResponsePath); err != nil {
			return err
		}
	}

	if frame == nil {
		frame = &models.Frame{Data: buf.Float32(), Errors: vars, Dims: dims}
	}

	if r.cfg.Flags.Invariant {
		f, err := correction.Invariant{}.Process(buf, vars, dims)
		if err != nil {
			return err
		}
		s, err := r.sink(InvariantPath, r.shape[:r.gridRank])
		if err != nil {
			return err
		}
		if err := s.write(h.Start[:r.gridRank], h.Block[:r.gridRank], f); err != nil {
			return err
		}
	}

	if r.cfg.Flags.Sector {
		if err := r.sector(frame, frames, h); err != nil {
			return err
		}
	}
	return nil
}

// sector integrates the batch and derives the profile analyses
func (r *run) sector(frame *models.Frame, frames int, h slicing.Hyperslab) error {
	if frame.Errors == nil {
		frame = &models.Frame{Data: frame.Data, Errors: poisson(frame.Data), Dims: frame.Dims}
	}
	in := &integration.Integrator{
		ROI:               r.cfg.ROI(),
		Radial:            r.cfg.Flags.Radial,
		Azimuthal:         r.cfg.Flags.Azimuthal,
		AreaNormalisation: r.cfg.Sector.AreaNormalisation,
		Log:               r.log,
	}
	az, rad, err := in.Process(frame, frames, r.refs.Mask)
	if err != nil {
		return err
	}

	grid := h.Start[:r.gridRank]
	block := h.Block[:r.gridRank]
	profileSlab := func(bins int) (start, blk, shape []int) {
		start = append(slices.Clone(grid), 0)
		blk = append(slices.Clone(block), bins)
		shape = append(slices.Clone(r.shape[:r.gridRank]), bins)
		return start, blk, shape
	}

	if rad != nil {
		bins := rad.Dims[1]
		start, blk, shape := profileSlab(bins)
		s, err := r.sink(RadialPath, shape)
		if err != nil {
			return err
		}
		if err := s.write(start, blk, rad); err != nil {
			return err
		}
		r.last = s

		if r.cfg.Flags.Invariant && r.refs.Calibration != nil {
			if err := r.saxsInvariant(rad, grid, block); err != nil {
				return err
			}
		}
	}

	if az != nil {
		bins := az.Dims[1]
		start, blk, shape := profileSlab(bins)
		s, err := r.sink(AzimuthalPath, shape)
		if err != nil {
			return err
		}
		if err := s.write(start, blk, az); err != nil {
			return err
		}
		if err := r.orientation(az, grid, block); err != nil {
			return err
		}
	}
	return nil
}

// saxsInvariant integrates every radial profile of the batch on the q axis
func (r *run) saxsInvariant(rad *models.Frame, grid, block []int) error {
	q := r.refs.Calibration.QAxis(integration.RadialAxis(r.cfg.ROI()))
	frames, bins := rad.Dims[0], rad.Dims[1]
	out := &models.Frame{
		Data:   make([]float32, frames),
		Errors: make([]float64, frames),
		Dims:   []int{frames},
	}
	intensity := make([]float64, bins)
	for i := 0; i < frames; i++ {
		for k := range intensity {
			intensity[k] = float64(rad.Data[i*bins+k])
		}
		v, e := analysis.Invariant(q, intensity, rad.Errors[i*bins:(i+1)*bins], analysis.DefaultFitPoints)
		out.Data[i], out.Errors[i] = float32(v), e
	}
	s, err := r.sink(SaxsInvariantPath, r.shape[:r.gridRank])
	if err != nil {
		return err
	}
	return s.write(grid, block, out)
}

// orientation stores the degree and angle of orientation of every
// azimuthal profile of the batch
func (r *run) orientation(az *models.Frame, grid, block []int) error {
	angles := integration.AzimuthalAxis(r.cfg.ROI())
	frames, bins := az.Dims[0], az.Dims[1]
	out := &models.Frame{Data: make([]float32, frames*2), Dims: []int{frames, 2}}
	intensity := make([]float64, bins)
	for i := 0; i < frames; i++ {
		for k := range intensity {
			intensity[k] = float64(az.Data[i*bins+k])
		}
		degree, angle := analysis.DegreeOfOrientation(angles, intensity)
		out.Data[2*i], out.Data[2*i+1] = float32(degree), float32(angle)
	}
	shape := append(slices.Clone(r.shape[:r.gridRank]), 2)
	s, err := r.sink(OrientationPath, shape)
	if err != nil {
		return err
	}
	return s.write(append(slices.Clone(grid), 0), append(slices.Clone(block), 2), out)
}

// writeAxes stores the profile axes once every batch is integrated
func (r *run) writeAxes() error {
	roi := r.cfg.ROI()
	write := func(name string, values []float64) error {
		ds, err := r.out.Create(name, models.Float64, []int{len(values)})
		if err != nil {
			return err
		}
		r.res.Datasets = append(r.res.Datasets, name)
		return ds.WriteHyperslab([]int{0}, []int{len(values)}, models.NewFloat64Buffer(values))
	}
	if _, ok := r.sinks[RadialPath]; ok {
		r.res.Curves = append(r.res.Curves, RadialPath)
		radii := integration.RadialAxis(roi)
		if err := write(RadiusAxisPath, radii); err != nil {
			return err
		}
		if r.refs.Calibration != nil {
			if err := write(QAxisPath, r.refs.Calibration.QAxis(radii)); err != nil {
				return err
			}
		}
	}
	if _, ok := r.sinks[AzimuthalPath]; ok {
		if err := write(AngleAxisPath, integration.AzimuthalAxis(roi)); err != nil {
			return err
		}
	}
	return nil
}

// openErrors returns the variance dataset stored next to ds, or nil
func openErrors(s store.Store, ds store.Dataset) store.Dataset {
	es, err := s.Open(store.ErrorsName(ds.Name()))
	if err != nil || !slices.Equal(es.Shape(), ds.Shape()) {
		return nil
	}
	return es
}

// poisson returns counting statistics variances for data
func poisson(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
