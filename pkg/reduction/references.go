package reduction

import (
	"fmt"
	"slices"

	"saxsreduce/internal/models"
	"saxsreduce/pkg/calibration"
	"saxsreduce/pkg/config"
	"saxsreduce/pkg/correction"
	"saxsreduce/pkg/integration"
	"saxsreduce/pkg/slicing"
	"saxsreduce/pkg/store"

	"github.com/rs/zerolog"
)

// Opener opens a reference file as a store
type Opener func(path string) (store.Store, error)

// References holds the reference frames shared by every file of a run. They
// are read once and snapshotted, so later changes to the files do not
// affect a run in progress.
type References struct {
	Background  *correction.BackgroundSubtraction
	Response    *correction.DetectorResponse
	Mask        *integration.Mask
	Calibration *calibration.Results
}

// LoadReferences reads the references enabled in cfg
func LoadReferences(cfg *config.Config, open Opener, log *zerolog.Logger) (*References, error) {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	refs := &References{}
	dim := cfg.Processing.DetectorDim

	if cfg.Flags.Background {
		buf, vars, dims, err := readReference(open, cfg.Background.File, cfg.Background.Dataset)
		if err != nil {
			return nil, fmt.Errorf("failed to load background: %w", err)
		}
		if sel := cfg.Background.Selection; sel != "" {
			buf, vars, dims, err = selectFrames(buf, vars, dims, dim, sel)
			if err != nil {
				return nil, fmt.Errorf("failed to select background frames: %w", err)
			}
		}
		refs.Background, err = correction.NewBackgroundSubtraction(buf, vars, dims, cfg.Background.Scaling)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare background: %w", err)
		}
		refs.Background.Log = log
		log.Info().Str("file", cfg.Background.File).Ints("dims", dims).Msg("background loaded")
	}

	if cfg.Flags.DetectorResponse {
		buf, _, dims, err := readReference(open, cfg.DetectorResponse.File, cfg.DetectorResponse.Dataset)
		if err != nil {
			return nil, fmt.Errorf("failed to load detector response: %w", err)
		}
		refs.Response, err = correction.NewDetectorResponse(buf, dims)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare detector response: %w", err)
		}
		refs.Response.Log = log
		log.Info().Str("file", cfg.DetectorResponse.File).Ints("dims", refs.Response.Dims()).Msg("detector response loaded")
	}

	if cfg.Flags.Mask {
		buf, _, dims, err := readReference(open, cfg.Mask.File, cfg.Mask.Dataset)
		if err != nil {
			return nil, fmt.Errorf("failed to load mask: %w", err)
		}
		refs.Mask = integration.NewMask(buf, imageDims(dims, dim))
		log.Info().Str("file", cfg.Mask.File).Ints("dims", refs.Mask.Dims).Msg("mask loaded")
	}

	if path := cfg.Calibration.ResultsFile; path != "" {
		res, err := calibration.LoadResults(path)
		if err != nil {
			return nil, err
		}
		refs.Calibration = res
		log.Info().Str("file", path).Float64("gradient", res.Gradient).Msg("q calibration loaded")
	}
	return refs, nil
}

// readReference reads a whole dataset and its variances when stored
func readReference(open Opener, path, name string) (models.Buffer, []float64, []int, error) {
	s, err := open(path)
	if err != nil {
		return models.Buffer{}, nil, nil, err
	}
	defer s.Close()

	ds, err := s.Open(name)
	if err != nil {
		return models.Buffer{}, nil, nil, err
	}
	buf, err := store.ReadAll(ds)
	if err != nil {
		return models.Buffer{}, nil, nil, err
	}

	var vars []float64
	if es, err := s.Open(store.ErrorsName(name)); err == nil && slices.Equal(es.Shape(), ds.Shape()) {
		eb, err := store.ReadAll(es)
		if err != nil {
			return models.Buffer{}, nil, nil, err
		}
		vars = eb.Float64()
	}
	return buf, vars, ds.Shape(), nil
}

// selectFrames keeps the frames of a whole dataset named by a selection
// over its grid axes
func selectFrames(buf models.Buffer, vars []float64, dims []int, dim int, format string) (models.Buffer, []float64, []int, error) {
	if len(dims) <= dim {
		return buf, vars, dims, nil
	}
	grid := dims[:len(dims)-dim]
	lists, err := slicing.ParseSelection(format, grid)
	if err != nil {
		return models.Buffer{}, nil, nil, err
	}

	data := buf.Float32()
	imageSize := models.Size(dims[len(dims)-dim:])
	strides := make([]int, len(grid))
	acc := imageSize
	for i := len(grid) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= grid[i]
	}

	var outData []float32
	var outVars []float64
	for _, idx := range slicing.Combine(lists) {
		off := 0
		for i, v := range idx {
			off += v * strides[i]
		}
		outData = append(outData, data[off:off+imageSize]...)
		if vars != nil {
			outVars = append(outVars, vars[off:off+imageSize]...)
		}
	}

	outDims := make([]int, 0, len(dims))
	for _, l := range lists {
		outDims = append(outDims, len(l))
	}
	outDims = append(outDims, dims[len(dims)-dim:]...)
	return models.NewFloat32Buffer(outData), outVars, outDims, nil
}

// imageDims returns the trailing dim axes of dims
func imageDims(dims []int, dim int) []int {
	if len(dims) <= dim {
		return append([]int(nil), dims...)
	}
	return append([]int(nil), dims[len(dims)-dim:]...)
}
