package analysis

import (
	"math/cmplx"

	"saxsreduce/internal/perr"

	"gonum.org/v1/gonum/dsp/fourier"
)

// MagnitudeSpectrum returns |FFT| of a real profile for the non-negative
// frequencies, n/2+1 values for n samples
func MagnitudeSpectrum(profile []float64) []float64 {
	if len(profile) == 0 {
		return nil
	}
	fft := fourier.NewFFT(len(profile))
	coeff := fft.Coefficients(nil, profile)
	out := make([]float64, len(coeff))
	for i, c := range coeff {
		out[i] = cmplx.Abs(c)
	}
	return out
}

// ImageSpectrum returns the 2D magnitude spectrum of a row-major rows×cols
// image. Rows use the real transform and are completed by conjugate
// symmetry before the complex column pass.
func ImageSpectrum(data []float64, rows, cols int) ([]float64, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, perr.Shapef("image of %d values is not %dx%d", len(data), rows, cols)
	}
	spec := make([]complex128, rows*cols)

	rowFFT := fourier.NewFFT(cols)
	half := make([]complex128, cols/2+1)
	for i := 0; i < rows; i++ {
		rowFFT.Coefficients(half, data[i*cols:(i+1)*cols])
		row := spec[i*cols : (i+1)*cols]
		copy(row, half)
		for j := len(half); j < cols; j++ {
			row[j] = cmplx.Conj(half[cols-j])
		}
	}

	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			col[i] = spec[i*cols+j]
		}
		colFFT.Coefficients(col, col)
		for i := 0; i < rows; i++ {
			spec[i*cols+j] = col[i]
		}
	}

	out := make([]float64, len(spec))
	for i, c := range spec {
		out[i] = cmplx.Abs(c)
	}
	return out, nil
}
