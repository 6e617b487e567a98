package reduction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"saxsreduce/internal/logger"
	"saxsreduce/internal/models"
	"saxsreduce/pkg/analysis"
	"saxsreduce/pkg/config"
	"saxsreduce/pkg/export"
	"saxsreduce/pkg/store"
	"saxsreduce/pkg/visualization"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runner reduces many input files in parallel, one Pipeline per file
type Runner struct {
	Config     *config.Config
	References *References

	// OpenInput opens an input file; CreateOutput creates the reduced file
	OpenInput    Opener
	CreateOutput func(path string) (store.Store, error)

	Log *zerolog.Logger
}

// OutputPath returns the reduced file written for input
func (r *Runner) OutputPath(input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(r.Config.Output.Dir, base+"_reduced.nxs")
}

// ProcessFiles reduces files with at most Config.Processing.Workers files in
// flight. Every file gets a result, in input order; the returned error joins
// the failures. A failing file does not stop the others.
func (r *Runner) ProcessFiles(ctx context.Context, files []string) ([]*Result, error) {
	log := r.Log
	if log == nil {
		log = logger.Get()
	}
	if err := os.MkdirAll(r.Config.Output.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	workers := max(1, r.Config.Processing.Workers)

	type fileResult struct {
		idx int
		res *Result
	}
	resultChan := make(chan fileResult)
	sem := make(chan struct{}, workers)

	for i, file := range files {
		go func(idx int, input string) {
			sem <- struct{}{}
			defer func() { <-sem }()
			resultChan <- fileResult{idx: idx, res: r.processFile(ctx, input, log)}
		}(i, file)
	}

	results := make([]*Result, len(files))
	var errs []error
	for completed := 1; completed <= len(files); completed++ {
		fr := <-resultChan
		results[fr.idx] = fr.res
		if fr.res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", fr.res.Input, fr.res.Err))
			log.Error().Err(fr.res.Err).Str("file", fr.res.Input).Str("run_id", fr.res.RunID).Msg("reduction failed")
		}
		log.Info().
			Int("completed", completed).
			Int("total", len(files)).
			Float64("progress", float64(completed)/float64(len(files))*100).
			Msg("files reduced")
	}
	return results, errors.Join(errs...)
}

// processFile reduces one input file under its own run id
func (r *Runner) processFile(ctx context.Context, input string, base *zerolog.Logger) *Result {
	started := time.Now()
	id := uuid.NewString()
	ctx = logger.WithRun(ctx, id)
	log := logger.C(ctx, base)
	output := r.OutputPath(input)
	log.Info().Str("input", input).Str("output", output).Msg("reducing file")

	fail := func(res *Result, err error) *Result {
		if res == nil {
			res = &Result{}
		}
		res.RunID, res.Input, res.Output = id, input, output
		res.Duration = time.Since(started)
		res.Err = err
		return res
	}

	in, err := r.OpenInput(input)
	if err != nil {
		return fail(nil, fmt.Errorf("failed to open input: %w", err))
	}
	defer in.Close()

	out, err := r.CreateOutput(output)
	if err != nil {
		return fail(nil, fmt.Errorf("failed to create output: %w", err))
	}

	res, err := NewPipeline(r.Config, r.References, log).Process(ctx, in, out)
	if err == nil {
		err = r.export(out, output, res, log)
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	return fail(res, err)
}

// export writes the text curves, plots and images requested by the output
// configuration next to the reduced file
func (r *Runner) export(s store.Store, output string, res *Result, log *zerolog.Logger) error {
	cfg := r.Config.Output
	if !cfg.ASCII && len(cfg.Plots) == 0 {
		return nil
	}
	stem := strings.TrimSuffix(output, filepath.Ext(output))

	if len(res.Curves) > 0 {
		axis, axisName, err := readAxis(s)
		if err != nil {
			return err
		}
		for _, name := range res.Curves {
			files, err := r.exportCurves(s, name, stem, axis, axisName, res, log)
			if err != nil {
				return fmt.Errorf("failed to export %s: %w", name, err)
			}
			log.Info().Str("dataset", name).Int("files", files).Msg("curves exported")
		}
	}

	if len(cfg.Plots) > 0 {
		for _, name := range res.Images {
			files, err := exportImages(s, name, stem)
			if err != nil {
				return fmt.Errorf("failed to export %s: %w", name, err)
			}
			log.Info().Str("dataset", name).Int("files", len(files)).Msg("images exported")
		}
	}
	return nil
}

// readAxis returns the q axis when the run was calibrated and the radius
// axis otherwise
func readAxis(s store.Store) ([]float64, string, error) {
	for _, name := range []string{QAxisPath, RadiusAxisPath} {
		ds, err := s.Open(name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		buf, err := store.ReadAll(ds)
		if err != nil {
			return nil, "", err
		}
		return buf.Float64(), path.Base(name), nil
	}
	return nil, "", fmt.Errorf("no radial axis in output")
}

// exportCurves writes every profile of a [grid..., bins] dataset. A plot
// that has nothing to draw is skipped with a warning.
func (r *Runner) exportCurves(s store.Store, name, stem string, axis []float64, axisName string, res *Result, log *zerolog.Logger) (int, error) {
	ds, err := s.Open(name)
	if err != nil {
		return 0, err
	}
	buf, err := store.ReadAll(ds)
	if err != nil {
		return 0, err
	}
	data := buf.Float64()
	var stddev []float64
	if es := openErrors(s, ds); es != nil {
		eb, err := store.ReadAll(es)
		if err != nil {
			return 0, err
		}
		stddev = export.StdDev(eb.Float64())
	}

	bins := len(axis)
	if bins == 0 || len(data)%bins != 0 {
		return 0, fmt.Errorf("dataset of %d values does not hold profiles of %d bins", len(data), bins)
	}
	stage := strings.ToLower(path.Base(path.Dir(name)))
	files := 0
	for k := 0; k < len(data)/bins; k++ {
		c := models.Profile{Q: axis, I: data[k*bins : (k+1)*bins]}
		if stddev != nil {
			c.Errors = stddev[k*bins : (k+1)*bins]
		}
		curveStem := fmt.Sprintf("%s_%s_%03d", stem, stage, k)

		if r.Config.Output.ASCII {
			var header export.Header
			header.Add("input", res.Input)
			header.Add("run_id", res.RunID)
			header.Add("dataset", name)
			header.Add("profile", fmt.Sprint(k))
			header.Add("axis", axisName)
			if err := export.SaveCurve(curveStem+".dat", header, c); err != nil {
				return files, err
			}
			files++
		}
		for _, key := range r.Config.Output.Plots {
			kind, ok := analysis.PlotByName(key)
			if !ok {
				return files, fmt.Errorf("unknown plot type %q", key)
			}
			title := fmt.Sprintf("%s %s %d", filepath.Base(stem), stage, k)
			if err := visualization.SavePlot(kind, c, title, curveStem+"_"+kind.Key+".png"); err != nil {
				log.Warn().Err(err).Str("plot", kind.Key).Int("profile", k).Msg("plot skipped")
				continue
			}
			files++
		}
	}
	return files, nil
}

// exportImages renders every image of a [grid..., rows, cols] dataset
func exportImages(s store.Store, name, stem string) ([]string, error) {
	ds, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	shape := ds.Shape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("dataset shape %v holds no images", shape)
	}
	buf, err := store.ReadAll(ds)
	if err != nil {
		return nil, err
	}
	rows, cols := shape[len(shape)-2], shape[len(shape)-1]
	frames := models.Size(shape[:len(shape)-2])

	v, err := visualization.NewViewer(buf.Float32(), frames, rows, cols, true)
	if err != nil {
		return nil, err
	}
	return v.SaveFrameSequence(filepath.Dir(stem), filepath.Base(stem)+"_"+strings.ToLower(path.Base(path.Dir(name))))
}
