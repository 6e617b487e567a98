package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"saxsreduce/internal/logger"
	"saxsreduce/internal/models"
	"saxsreduce/pkg/analysis"
	"saxsreduce/pkg/calibration"
	"saxsreduce/pkg/config"
	"saxsreduce/pkg/export"
	"saxsreduce/pkg/reduction"
	"saxsreduce/pkg/store"
	"saxsreduce/pkg/store/nexus"
	"saxsreduce/pkg/visualization"
)

const usage = `usage: saxsreduce <command> [flags] [files]

commands:
  reduce      reduce Nexus files with a YAML configuration
  calibrate   index peak positions against a calibration standard
  absolute    derive the absolute intensity scale from a reference curve
  analyse     fit and plot an exported curve
  config      write a default configuration file
  standards   list the calibration standards
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "reduce":
		err = runReduce(args)
	case "calibrate":
		err = runCalibrate(args)
	case "absolute":
		err = runAbsolute(args)
	case "analyse", "analyze":
		err = runAnalyse(args)
	case "config":
		err = runConfig(args)
	case "standards":
		for _, name := range calibration.StandardNames() {
			fmt.Println(name)
		}
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Get().Fatal().Err(err).Msg(os.Args[1] + " failed")
	}
}

// loadConfig loads, validates and applies the logging section of a config
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Component: "saxsreduce"})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

func runReduce(args []string) error {
	fs := flag.NewFlagSet("reduce", flag.ExitOnError)
	configPath := fs.String("config", "saxsreduce.yaml", "YAML configuration file")
	outputDir := fs.String("output", "", "Output directory (overrides output.dir)")
	workers := fs.Int("workers", 0, "Files reduced in parallel (overrides processing.workers)")
	fs.Parse(args)

	files := fs.Args()
	if len(files) == 0 {
		fs.Usage()
		return fmt.Errorf("no input files")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *workers > 0 {
		cfg.Processing.Workers = *workers
	}
	log := logger.Named("reduce")

	refs, err := reduction.LoadReferences(cfg, openReadOnly, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &reduction.Runner{
		Config:       cfg,
		References:   refs,
		OpenInput:    openReadOnly,
		CreateOutput: func(path string) (store.Store, error) { return nexus.Create(path) },
		Log:          log,
	}

	startTime := time.Now()
	results, err := runner.ProcessFiles(ctx, files)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		if cfg.Output.Verbose {
			fmt.Printf("%s -> %s (%d frames, %d datasets, %.2fs)\n",
				res.Input, res.Output, res.Frames, len(res.Datasets), res.Duration.Seconds())
		}
	}
	fmt.Printf("\nReduced %d of %d files in %.2f seconds using %d workers\n",
		len(results)-failed, len(files), time.Since(startTime).Seconds(), cfg.Processing.Workers)
	return err
}

func openReadOnly(path string) (store.Store, error) {
	return nexus.Open(path, false)
}

func runCalibrate(args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	configPath := fs.String("config", "saxsreduce.yaml", "YAML configuration file")
	peaksFlag := fs.String("peaks", "", "Comma separated peak positions in pixels")
	standard := fs.String("standard", "silver behenate", "Calibration standard")
	intercept := fs.Bool("intercept", false, "Fit a q intercept")
	output := fs.String("output", "calibration.yaml", "Calibration results file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	peaks, err := parseFloats(*peaksFlag)
	if err != nil {
		return fmt.Errorf("invalid peaks: %w", err)
	}
	reflections, ok := calibration.Standard(*standard)
	if !ok {
		return fmt.Errorf("unknown standard %q, known: %s", *standard, strings.Join(calibration.StandardNames(), ", "))
	}

	c := &calibration.PeakCalibrator{
		Wavelength: cfg.Wavelength(),
		PixelSize:  cfg.Calibration.PixelSize,
		Log:        logger.Named("calibrate"),
	}
	res, err := c.Calibrate(peaks, reflections, *intercept)
	if err != nil {
		return err
	}

	fmt.Printf("Gradient:      %.6f nm⁻¹/mm\n", res.Gradient)
	fmt.Printf("Intercept:     %.6f nm⁻¹\n", res.Intercept)
	fmt.Printf("Camera length: %.2f ± %.2f mm\n", res.CameraLength, res.CameraLengthStd)
	for _, p := range res.IndexedPeaks {
		fmt.Printf("  peak %8.2f px -> %s (2θ %.4f°)\n", p.PeakPos(), p.Reflection(), p.TwoTheta()*180/math.Pi)
	}

	if err := calibration.SaveResults(calibration.NewResults(res, cfg.Wavelength(), cfg.Calibration.PixelSize), *output); err != nil {
		return err
	}
	fmt.Printf("Calibration saved to: %s\n", *output)
	return nil
}

func runAbsolute(args []string) error {
	fs := flag.NewFlagSet("absolute", flag.ExitOnError)
	configPath := fs.String("config", "saxsreduce.yaml", "YAML configuration file")
	reference := fs.String("reference", "", "Reference standard curve (q I)")
	sample := fs.String("sample", "", "Sample curve exported by reduce")
	empty := fs.String("empty", "", "Empty cell curve exported by reduce")
	angstrom := fs.Bool("angstrom", false, "Curve q values are in Å⁻¹")
	output := fs.String("output", "", "Write the calibrated sample curve to this file")
	fs.Parse(args)

	if _, err := loadConfig(*configPath); err != nil {
		return err
	}
	if *reference == "" || *sample == "" || *empty == "" {
		fs.Usage()
		return fmt.Errorf("reference, sample and empty curves are required")
	}
	unit := calibration.InverseNanometre
	if *angstrom {
		unit = calibration.InverseAngstrom
	}

	ref, err := export.LoadCurve(*reference)
	if err != nil {
		return err
	}
	smp, err := export.LoadCurve(*sample)
	if err != nil {
		return err
	}
	emp, err := export.LoadCurve(*empty)
	if err != nil {
		return err
	}

	a := &calibration.AbsoluteCalibrator{Log: logger.Named("absolute")}
	if err := a.SetAbsoluteData(ref.Q, ref.I, unit); err != nil {
		return err
	}
	if err := a.SetData(smp.Q, smp.I, emp.I, unit); err != nil {
		return err
	}
	if err := a.Calibrate(); err != nil {
		return err
	}

	scale := a.AbsScale()
	fmt.Printf("Absolute scale: %.6g ± %.6g\n", scale, a.AbsScaleStdDev())
	fmt.Println("Set normalisation.absScaling to this value to reduce on an absolute scale;")
	fmt.Println("normalisation.sampleThickness is applied on top when enabled.")

	if *output != "" {
		var header export.Header
		header.Add("sample", *sample)
		header.Add("empty", *empty)
		header.Add("reference", *reference)
		header.Add("absScale", strconv.FormatFloat(scale, 'g', -1, 64))
		curve := models.Profile{Q: a.DataQ(), I: a.CalibratedI()}
		if err := export.SaveCurve(*output, header, curve); err != nil {
			return err
		}
		fmt.Printf("Calibrated curve saved to: %s\n", *output)
	}
	return nil
}

func runAnalyse(args []string) error {
	fs := flag.NewFlagSet("analyse", flag.ExitOnError)
	points := fs.Int("points", analysis.DefaultFitPoints, "Smallest fit window")
	plots := fs.String("plots", "", "Comma separated plot types to render next to the curve")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no curve files")
	}
	for _, path := range fs.Args() {
		c, err := export.LoadCurve(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d points)\n", path, len(c.Q))

		if g, err := analysis.GuinierFit(c.Q, c.I, *points); err == nil {
			fmt.Printf("  Guinier: I0 = %.6g, Rg = %.6g (q %d-%d)\n", g.I0, g.Rg, g.Start, g.End)
		} else {
			fmt.Printf("  Guinier: %v\n", err)
		}
		if p, err := analysis.PorodFit(c.Q, c.I, *points); err == nil {
			fmt.Printf("  Porod:   C4 = %.6g ± %.2g (q %d-%d)\n", p.C4, p.C4Err, p.Start, p.End)
		} else {
			fmt.Printf("  Porod:   %v\n", err)
		}
		var variances []float64
		if c.Errors != nil {
			variances = make([]float64, len(c.Errors))
			for i, e := range c.Errors {
				variances[i] = e * e
			}
		}
		inv, invVar := analysis.Invariant(c.Q, c.I, variances, *points)
		fmt.Printf("  Invariant: %.6g ± %.2g\n", inv, math.Sqrt(invVar))
		if spec := analysis.MagnitudeSpectrum(c.I); len(spec) > 1 {
			peak := 1
			for k := 2; k < len(spec); k++ {
				if spec[k] > spec[peak] {
					peak = k
				}
			}
			fmt.Printf("  Spectrum: strongest component %d of %d (|F| = %.4g)\n", peak, len(spec)-1, spec[peak])
		}

		if *plots == "" {
			continue
		}
		stem := strings.TrimSuffix(path, ".dat")
		for _, key := range strings.Split(*plots, ",") {
			kind, ok := analysis.PlotByName(strings.TrimSpace(key))
			if !ok {
				return fmt.Errorf("unknown plot type %q", key)
			}
			filename := stem + "_" + kind.Key + ".png"
			if err := visualization.SavePlot(kind, c, "", filename); err != nil {
				return err
			}
			fmt.Printf("  %s saved to: %s\n", kind.Name, filename)
		}
	}
	return nil
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	output := fs.String("output", "saxsreduce.yaml", "Configuration file to write")
	fs.Parse(args)

	if err := config.CreateDefaultConfigFile(*output); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to: %s\n", *output)
	return nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
