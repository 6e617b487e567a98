package reduction

import (
	"slices"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
	"saxsreduce/pkg/correction"
	"saxsreduce/pkg/slicing"
	"saxsreduce/pkg/store"
)

// sink is an output dataset with its variances. The variance dataset is
// created on the first write that carries errors.
type sink struct {
	out   store.Store
	name  string
	shape []int
	data  store.Dataset
	errs  store.Dataset
}

// sink returns the output dataset name, creating it on first use
func (r *run) sink(name string, shape []int) (*sink, error) {
	if s, ok := r.sinks[name]; ok {
		return s, nil
	}
	data, err := r.out.Create(name, models.Float32, shape)
	if err != nil {
		return nil, err
	}
	s := &sink{out: r.out, name: name, shape: slices.Clone(shape), data: data}
	r.sinks[name] = s
	r.res.Datasets = append(r.res.Datasets, name)
	return s, nil
}

func (s *sink) write(start, block []int, f *models.Frame) error {
	if err := s.data.WriteHyperslab(start, block, models.NewFloat32Buffer(f.Data)); err != nil {
		return err
	}
	if f.Errors == nil {
		return nil
	}
	if s.errs == nil {
		errs, err := s.out.Create(store.ErrorsName(s.name), models.Float64, s.shape)
		if err != nil {
			return err
		}
		s.errs = errs
	}
	return s.errs.WriteHyperslab(start, block, models.NewFloat64Buffer(f.Errors))
}

// selectDataset copies the frames named by lists into a new dataset whose
// grid shape is the length of each list
func (r *run) selectDataset(ds, errs store.Dataset, lists [][]int, name string) (*sink, error) {
	shape := ds.Shape()
	if len(shape) < r.gridRank {
		return nil, perr.WithField(perr.Shapef("rank %d below grid rank %d", len(shape), r.gridRank), ds.Name())
	}
	tail := shape[r.gridRank:]

	outShape := make([]int, 0, len(shape))
	counters := make([][]int, len(lists))
	for i, l := range lists {
		outShape = append(outShape, len(l))
		counters[i] = indexRange(len(l))
	}
	outShape = append(outShape, tail...)
	s, err := r.sink(name, outShape)
	if err != nil {
		return nil, err
	}

	block := append(ones(r.gridRank), tail...)
	positions := slicing.Combine(counters)
	for k, idx := range slicing.Combine(lists) {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}
		f, err := readFrame(ds, errs, idx, block, false)
		if err != nil {
			return nil, err
		}
		if err := s.write(padZeros(positions[k], len(tail)), block, f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// average collapses the selected grid axes of the most recent full
// resolution dataset into their mean. Axes are numbered from 1; the last
// grid axis is averaged when none are configured.
func (r *run) average() error {
	target := r.last
	shape := target.data.Shape()
	grid := shape[:r.gridRank]
	tail := shape[r.gridRank:]

	axes := []int{r.gridRank}
	if format := r.cfg.Processing.GridAverage; format != "" {
		var err error
		if axes, err = slicing.GridAxesList(format, r.gridRank+1); err != nil {
			return perr.WithField(err, "processing.gridAverage")
		}
	}
	averaged := make([]bool, r.gridRank)
	for _, a := range axes {
		averaged[a-1] = true
	}

	outShape := slices.Clone(shape)
	outer := make([][]int, r.gridRank)
	for i, n := range grid {
		if averaged[i] {
			outShape[i] = 1
			outer[i] = []int{0}
		} else {
			outer[i] = indexRange(n)
		}
	}
	s, err := r.sink(AveragePath, outShape)
	if err != nil {
		return err
	}
	switch {
	case target.name == RadialPath:
		r.res.Curves = append(r.res.Curves, AveragePath)
	case r.dim == 2:
		r.res.Images = append(r.res.Images, AveragePath)
	}
	r.log.Info().Str("input", target.name).Ints("axes", axes).Ints("shape", outShape).Msg("averaging")

	block := append(ones(r.gridRank), tail...)
	inner := make([][]int, r.gridRank)
	for _, pos := range slicing.Combine(outer) {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		for i := range inner {
			if averaged[i] {
				inner[i] = indexRange(grid[i])
			} else {
				inner[i] = []int{pos[i]}
			}
		}

		acc := correction.NewAccumulator(tail)
		for _, idx := range slicing.Combine(inner) {
			f, err := readFrame(target.data, target.errs, idx, block, true)
			if err != nil {
				return err
			}
			if err := acc.Add(f.Data, f.Errors); err != nil {
				return err
			}
		}
		if err := s.write(padZeros(pos, len(tail)), block, acc.Mean()); err != nil {
			return err
		}
	}
	return nil
}

// readFrame reads one grid position of ds. With withErrors set, missing
// variances are replaced by counting statistics.
func readFrame(ds, errs store.Dataset, idx, block []int, withErrors bool) (*models.Frame, error) {
	start := padZeros(idx, len(block)-len(idx))
	buf, err := ds.ReadHyperslab(start, block)
	if err != nil {
		return nil, err
	}
	f := &models.Frame{Data: buf.Float32(), Dims: slices.Clone(block)}
	switch {
	case errs != nil:
		eb, err := errs.ReadHyperslab(start, block)
		if err != nil {
			return nil, err
		}
		f.Errors = eb.Float64()
	case withErrors:
		f.Errors = poisson(f.Data)
	}
	return f, nil
}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// padZeros appends n zeros to a copy of idx
func padZeros(idx []int, n int) []int {
	return append(slices.Clone(idx), make([]int, n)...)
}
