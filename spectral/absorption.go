package spectral

import (
	"fmt"
	"math"
)

// DefaultProminence is the minimum depth of a reported absorption feature.
const DefaultProminence = 0.01

// DetectAbsorptionFeatures returns the indices of local minima whose
// prominence is at least prominence. Flat minima report their middle sample
// (rounded down) and the first and last samples are never features.
// wavelengths, when given, must match values in length.
func DetectAbsorptionFeatures(values, wavelengths []float64, prominence float64) ([]int, error) {
	if len(wavelengths) != 0 && len(wavelengths) != len(values) {
		return nil, fmt.Errorf("%w: %d values, %d wavelengths", ErrLengthMismatch, len(values), len(wavelengths))
	}
	inverted := make([]float64, len(values))
	for i, v := range values {
		inverted[i] = -v
	}

	var features []int
	for _, peak := range localMaxima(inverted) {
		if peakProminence(inverted, peak) >= prominence {
			features = append(features, peak)
		}
	}
	return features, nil
}

func localMaxima(x []float64) []int {
	var peaks []int
	n := len(x)
	for i := 1; i < n-1; i++ {
		if !(x[i-1] < x[i]) {
			continue
		}
		ahead := i + 1
		for ahead < n-1 && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead
		}
	}
	return peaks
}

// peakProminence walks outwards until a higher sample or the signal edge and
// measures the peak height above the higher of the two minima found.
func peakProminence(x []float64, peak int) float64 {
	height := x[peak]

	leftMin := height
	for i := peak; i >= 0 && x[i] <= height; i-- {
		leftMin = math.Min(leftMin, x[i])
	}
	rightMin := height
	for i := peak; i < len(x) && x[i] <= height; i++ {
		rightMin = math.Min(rightMin, x[i])
	}
	return height - math.Max(leftMin, rightMin)
}

// AbsorptionFeature describes one feature on the continuum-removed spectrum.
type AbsorptionFeature struct {
	Index      int     `json:"index"`
	Wavelength float64 `json:"wavelength"`
	Depth      float64 `json:"depth"`
	Width      float64 `json:"width"`     // full width at half depth, nm
	Asymmetry  float64 `json:"asymmetry"` // (right half-width - left half-width) / width
}

// DescribeAbsorptionFeatures detects features on the continuum-removed
// spectrum and measures each one.
func DescribeAbsorptionFeatures(values, wavelengths []float64, prominence float64) ([]AbsorptionFeature, error) {
	if len(values) != len(wavelengths) {
		return nil, fmt.Errorf("%w: %d values, %d wavelengths", ErrLengthMismatch, len(values), len(wavelengths))
	}
	cr, err := ContinuumRemoval(values, wavelengths)
	if err != nil {
		return nil, err
	}
	idx, err := DetectAbsorptionFeatures(cr, wavelengths, prominence)
	if err != nil {
		return nil, err
	}

	features := make([]AbsorptionFeature, 0, len(idx))
	for _, i := range idx {
		depth := 1 - cr[i]
		level := 1 - depth/2

		left := wavelengths[0]
		for j := i; j > 0; j-- {
			if cr[j-1] >= level {
				left = interpolateCrossing(wavelengths[j-1], wavelengths[j], cr[j-1], cr[j], level)
				break
			}
		}
		right := wavelengths[len(wavelengths)-1]
		for j := i; j < len(cr)-1; j++ {
			if cr[j+1] >= level {
				right = interpolateCrossing(wavelengths[j], wavelengths[j+1], cr[j], cr[j+1], level)
				break
			}
		}

		width := right - left
		asym := 0.0
		if width > 0 {
			asym = ((right - wavelengths[i]) - (wavelengths[i] - left)) / width
		}
		features = append(features, AbsorptionFeature{
			Index:      i,
			Wavelength: wavelengths[i],
			Depth:      depth,
			Width:      width,
			Asymmetry:  asym,
		})
	}
	return features, nil
}

func interpolateCrossing(x0, x1, y0, y1, level float64) float64 {
	if y1 == y0 {
		return x0
	}
	return x0 + (level-y0)*(x1-x0)/(y1-y0)
}
