package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SpectralAngle returns the angle in radians between two spectra, treating
// them as vectors. The cosine is clipped to [-1, 1] before arccos.
func SpectralAngle(a, b []float64) (float64, error) {
	if len(a) == 0 {
		return 0, ErrEmptyInput
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d bands", ErrLengthMismatch, len(a), len(b))
	}
	norms := floats.Norm(a, 2) * floats.Norm(b, 2)
	if norms == 0 {
		return 0, ErrZeroNorm
	}
	cos := floats.Dot(a, b) / norms
	return math.Acos(math.Max(-1, math.Min(1, cos))), nil
}

// SpectralCorrelation returns the Pearson correlation of two spectra.
func SpectralCorrelation(a, b []float64) (float64, error) {
	if len(a) < 2 {
		return 0, ErrEmptyInput
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d bands", ErrLengthMismatch, len(a), len(b))
	}
	return stat.Correlation(a, b, nil), nil
}
