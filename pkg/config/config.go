// Package config provides configuration loading and management for saxsreduce.
// It handles loading the reduction context from YAML files, default values and
// validation.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"saxsreduce/internal/models"

	"gopkg.in/yaml.v3"
)

// HC is hc in keV·nm, converting photon energy to wavelength
const HC = 1.2398419843320026

// Config represents the reduction context loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers is the number of files reduced in parallel
		Workers int `yaml:"workers" validate:"min=1"`

		// BatchSize bounds the number of frames read per batch along the slicing axis
		BatchSize int `yaml:"batchSize" validate:"min=1"`

		// DetectorDim is the rank of one detector image (1 for linear, 2 for area detectors)
		DetectorDim int `yaml:"detectorDim" validate:"oneof=1 2"`

		// DataPath is the dataset path of the detector frames inside each input file
		DataPath string `yaml:"dataPath" validate:"required"`

		// FrameSelection restricts the frames reduced, in selection grammar
		FrameSelection string `yaml:"frameSelection" validate:"selection"`

		// GridAverage lists the grid axes averaged by the average stage ("" = all)
		GridAverage string `yaml:"gridAverage" validate:"selection"`
	} `yaml:"processing"`

	// Flags enable individual pipeline stages
	Flags struct {
		Normalisation    bool `yaml:"enableNormalisation"`
		Background       bool `yaml:"enableBackground"`
		DetectorResponse bool `yaml:"enableDetectorResponse"`
		Sector           bool `yaml:"enableSector"`
		Radial           bool `yaml:"enableRadial"`
		Azimuthal        bool `yaml:"enableAzimuthal"`
		Invariant        bool `yaml:"enableInvariant"`
		Average          bool `yaml:"enableAverage"`
		Mask             bool `yaml:"enableMask"`
	} `yaml:"flags"`

	// Normalisation parameters
	Normalisation struct {
		// Dataset is the monitor/calibration dataset path in the input file
		Dataset string `yaml:"dataset"`

		// Channel selects the monitor channel used for each frame
		Channel int `yaml:"channel" validate:"min=0"`

		// AbsScaling is the absolute intensity scale applied to every frame
		AbsScaling float64 `yaml:"absScaling" validate:"gt=0"`

		// SampleThickness in mm, used when UseSampleThickness is set
		SampleThickness float64 `yaml:"sampleThickness" validate:"min=0"`

		UseSampleThickness bool `yaml:"useSampleThickness"`
	} `yaml:"normalisation"`

	// Background subtraction parameters
	Background struct {
		File      string  `yaml:"file"`
		Dataset   string  `yaml:"dataset"`
		Scaling   float64 `yaml:"scaling" validate:"gt=0"`
		Selection string  `yaml:"selection" validate:"selection"`
	} `yaml:"background"`

	// DetectorResponse is the per-pixel response map
	DetectorResponse struct {
		File    string `yaml:"file"`
		Dataset string `yaml:"dataset"`
	} `yaml:"detectorResponse"`

	// Sector ROI parameters; angles in degrees, lengths in pixels
	Sector struct {
		CentreX           float64 `yaml:"centreX"`
		CentreY           float64 `yaml:"centreY"`
		InnerRadius       float64 `yaml:"innerRadius" validate:"min=0"`
		OuterRadius       float64 `yaml:"outerRadius" validate:"gtfield=InnerRadius"`
		StartAngle        float64 `yaml:"startAngle"`
		EndAngle          float64 `yaml:"endAngle"`
		Symmetry          string  `yaml:"symmetry" validate:"symmetry"`
		AreaNormalisation bool    `yaml:"areaNormalisation"`
	} `yaml:"sector"`

	// Mask is a boolean pixel mask, nonzero pixels are included
	Mask struct {
		File    string `yaml:"file"`
		Dataset string `yaml:"dataset"`
	} `yaml:"mask"`

	// Calibration parameters
	Calibration struct {
		// Energy is the beam energy in keV
		Energy float64 `yaml:"energy" validate:"min=0"`

		// Wavelength in nm; derived from Energy when zero
		Wavelength float64 `yaml:"wavelength" validate:"min=0"`

		// PixelSize is the detector pixel size in mm
		PixelSize float64 `yaml:"pixelSize" validate:"gt=0"`

		// ResultsFile holds a saved peak calibration (gradient, intercept)
		ResultsFile string `yaml:"resultsFile"`
	} `yaml:"calibration"`

	// Output parameters
	Output struct {
		// Dir is the directory reduced files, curves and plots are written to
		Dir string `yaml:"dir" validate:"required"`

		// ASCII enables text export of reduced 1D curves
		ASCII bool `yaml:"ascii"`

		// Plots lists plot types rendered for each reduced curve
		Plots []string `yaml:"plots" validate:"dive,oneof=lognorm loglog guinier porod kratky zimm debyebueche"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error off disabled"`
		Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.BatchSize = 50
	cfg.Processing.DetectorDim = 2
	cfg.Processing.DataPath = "/entry1/detector/data"

	cfg.Flags.Normalisation = true
	cfg.Flags.Sector = true
	cfg.Flags.Radial = true
	cfg.Flags.Azimuthal = true

	cfg.Normalisation.Dataset = "/entry1/monitor/data"
	cfg.Normalisation.AbsScaling = 1.0

	cfg.Background.Dataset = "/entry1/detector/data"
	cfg.Background.Scaling = 1.0

	cfg.DetectorResponse.Dataset = "/entry1/instrument/detector/response"
	cfg.Mask.Dataset = "/entry1/mask"

	cfg.Sector.OuterRadius = 100
	cfg.Sector.EndAngle = 360
	cfg.Sector.Symmetry = "none"

	cfg.Calibration.PixelSize = 0.172

	cfg.Output.Dir = "results"
	cfg.Output.ASCII = true
	cfg.Output.Verbose = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Wavelength returns the beam wavelength in nm, derived from the energy
// when no wavelength is set. Zero means unknown.
func (c *Config) Wavelength() float64 {
	if c.Calibration.Wavelength > 0 {
		return c.Calibration.Wavelength
	}
	if c.Calibration.Energy > 0 {
		return HC / c.Calibration.Energy
	}
	return 0
}

// NormValue returns the scale applied by normalisation, divided by the
// sample thickness when requested
func (c *Config) NormValue() float64 {
	v := c.Normalisation.AbsScaling
	if c.Normalisation.UseSampleThickness && c.Normalisation.SampleThickness > 0 {
		v /= c.Normalisation.SampleThickness
	}
	return v
}

// ROI converts the sector section to a SectorROI with angles in radians
func (c *Config) ROI() models.SectorROI {
	sym, _ := models.SymmetryByName(c.Sector.Symmetry)
	return models.SectorROI{
		CentreX:     c.Sector.CentreX,
		CentreY:     c.Sector.CentreY,
		InnerRadius: c.Sector.InnerRadius,
		OuterRadius: c.Sector.OuterRadius,
		StartAngle:  c.Sector.StartAngle * math.Pi / 180,
		EndAngle:    c.Sector.EndAngle * math.Pi / 180,
		Symmetry:    sym,
	}
}
