package spectral

import (
	"fmt"
	"math"

	"hsi-cores/hsi"
)

// FeatureOptions controls how a spectrum becomes a classifier input.
type FeatureOptions struct {
	Smooth           string            `yaml:"smooth" json:"smooth"` // "" disables smoothing
	Smoothing        SmoothOptions     `yaml:"smoothing" json:"smoothing"`
	ContinuumRemoved bool              `yaml:"continuum_removed" json:"continuum_removed"`
	Indices          []IndexDefinition `yaml:"indices" json:"indices"`
}

// ExtractFeatureVector smooths the spectrum, optionally removes the
// continuum and appends index values. Index definitions the wavelength range
// cannot serve contribute 0 so every vector from one grid has the same length.
func ExtractFeatureVector(spec hsi.Spectrum, opts FeatureOptions) ([]float64, error) {
	if len(spec.Values) == 0 {
		return nil, ErrEmptyInput
	}
	values := append([]float64(nil), spec.Values...)

	if opts.Smooth != "" {
		smoothed, err := SmoothSpectrum(values, opts.Smooth, opts.Smoothing)
		if err != nil {
			return nil, fmt.Errorf("smooth: %w", err)
		}
		values = smoothed
	}

	features := values
	if opts.ContinuumRemoved {
		cr, err := ContinuumRemoval(values, spec.Wavelengths)
		if err != nil {
			return nil, fmt.Errorf("continuum removal: %w", err)
		}
		features = cr
	}

	if len(opts.Indices) > 0 {
		if len(spec.Wavelengths) != len(spec.Values) {
			return nil, fmt.Errorf("%w: index features need wavelengths", ErrLengthMismatch)
		}
		for _, def := range opts.Indices {
			r, err := resolveIndex(def, spec.Wavelengths)
			v := 0.0
			if err == nil {
				v = r.eval(values)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			features = append(features, v)
		}
	}

	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			features[i] = 0
		}
	}
	return features, nil
}

// FeatureNames labels the entries of ExtractFeatureVector output.
func FeatureNames(wavelengths []float64, opts FeatureOptions) []string {
	names := make([]string, 0, len(wavelengths)+len(opts.Indices))
	prefix := "R"
	if opts.ContinuumRemoved {
		prefix = "CR"
	}
	for _, wl := range wavelengths {
		names = append(names, fmt.Sprintf("%s%g", prefix, wl))
	}
	for _, def := range opts.Indices {
		names = append(names, def.Name)
	}
	return names
}
