package calibration

import (
	"fmt"
	"os"
	"path/filepath"

	"saxsreduce/internal/models"

	"gopkg.in/yaml.v3"
)

// Results is a saved peak calibration used to put reduced profiles on a q axis
type Results struct {
	Gradient        float64      `yaml:"gradient"`
	Intercept       float64      `yaml:"intercept"`
	CameraLength    float64      `yaml:"cameraLength"`
	CameraLengthStd float64      `yaml:"cameraLengthStd"`
	Wavelength      float64      `yaml:"wavelength"`
	PixelSize       float64      `yaml:"pixelSize"`
	Peaks           []PeakRecord `yaml:"peaks,omitempty"`
}

// PeakRecord is the persisted form of an indexed peak
type PeakRecord struct {
	Position float64 `yaml:"position"`
	TwoTheta float64 `yaml:"twoTheta"`
	H        int     `yaml:"h"`
	K        int     `yaml:"k"`
	L        int     `yaml:"l"`
	D        float64 `yaml:"d"`
}

// NewResults captures a peak calibration together with its beam geometry
func NewResults(r *PeakResult, wavelength, pixelSize float64) *Results {
	out := &Results{
		Gradient:        r.Gradient,
		Intercept:       r.Intercept,
		CameraLength:    r.CameraLength,
		CameraLengthStd: r.CameraLengthStd,
		Wavelength:      wavelength,
		PixelSize:       pixelSize,
	}
	for _, p := range r.IndexedPeaks {
		h := p.Reflection()
		out.Peaks = append(out.Peaks, PeakRecord{
			Position: p.PeakPos(),
			TwoTheta: p.TwoTheta(),
			H:        h.H, K: h.K, L: h.L,
			D: h.D,
		})
	}
	return out
}

// IndexedPeaks rebuilds the calibration peaks
func (r *Results) IndexedPeaks() []models.CalibrationPeak {
	out := make([]models.CalibrationPeak, len(r.Peaks))
	for i, p := range r.Peaks {
		out[i] = models.NewCalibrationPeak(p.Position, p.TwoTheta, models.HKL{H: p.H, K: p.K, L: p.L, D: p.D})
	}
	return out
}

// Q converts a radius in pixels to q in nm⁻¹
func (r *Results) Q(radius float64) float64 {
	return r.Intercept + r.Gradient*radius*r.PixelSize
}

// QAxis converts radial bin centres in pixels to q values
func (r *Results) QAxis(radii []float64) []float64 {
	out := make([]float64, len(radii))
	for i, v := range radii {
		out[i] = r.Q(v)
	}
	return out
}

// SaveResults writes the calibration to a YAML file
func SaveResults(r *Results, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating calibration directory: %w", err)
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshaling calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing calibration file: %w", err)
	}
	return nil
}

// LoadResults reads a calibration written by SaveResults
func LoadResults(path string) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading calibration file: %w", err)
	}
	r := &Results{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("error parsing calibration file: %w", err)
	}
	return r, nil
}
