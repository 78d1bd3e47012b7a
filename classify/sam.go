package classify

import (
	"fmt"
	"math"
	"strings"

	"hsi-cores/hsi"
	"hsi-cores/spectral"
)

// DefaultMaxAngle is the spectral angle (radians) above which a reference is
// not considered a match.
const DefaultMaxAngle = 0.10

// SpectralAngleMapper compares spectra against a reference library by
// spectral angle.
type SpectralAngleMapper struct {
	entries     []hsi.LibraryEntry
	wavelengths []float64
	maxAngle    float64
}

// NewSpectralAngleMapper resamples the library onto wavelengths (when given)
// and keeps it for matching. maxAngle <= 0 selects DefaultMaxAngle.
func NewSpectralAngleMapper(entries []hsi.LibraryEntry, wavelengths []float64, maxAngle float64) (*SpectralAngleMapper, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: reference library is empty", spectral.ErrEmptyInput)
	}
	if maxAngle <= 0 {
		maxAngle = DefaultMaxAngle
	}
	if len(wavelengths) > 0 {
		aligned, err := hsi.AlignLibrary(entries, wavelengths)
		if err != nil {
			return nil, err
		}
		entries = aligned
	}
	return &SpectralAngleMapper{
		entries:     entries,
		wavelengths: append([]float64(nil), wavelengths...),
		maxAngle:    maxAngle,
	}, nil
}

// ReferenceCount exposes number of loaded references.
func (sm *SpectralAngleMapper) ReferenceCount() int {
	if sm == nil {
		return 0
	}
	return len(sm.entries)
}

// Predict ranks references by angle. Confidence is 1 - angle/maxAngle, so
// only references within maxAngle are returned. Several references with
// the same label collapse into one prediction holding the best angle.
func (sm *SpectralAngleMapper) Predict(spec hsi.Spectrum) ([]Prediction, error) {
	if sm == nil {
		return nil, nil
	}
	if len(spec.Values) == 0 {
		return nil, spectral.ErrEmptyInput
	}
	values := spec.Values
	if len(sm.wavelengths) > 0 && len(spec.Wavelengths) > 0 && !equalGrid(spec.Wavelengths, sm.wavelengths) {
		resampled, err := hsi.ResampleSpectrum(spec.Values, spec.Wavelengths, sm.wavelengths)
		if err != nil {
			return nil, err
		}
		values = resampled
	}

	best := map[string]Prediction{}
	for _, entry := range sm.entries {
		if len(entry.Values) != len(values) {
			return nil, fmt.Errorf("%w: reference %q has %d bands, spectrum has %d",
				hsi.ErrShapeMismatch, entry.Label, len(entry.Values), len(values))
		}
		angle, err := spectral.SpectralAngle(values, entry.Values)
		if err != nil || angle > sm.maxAngle {
			continue
		}
		confidence := 1 - angle/sm.maxAngle
		score := PrototypeScore{ID: entry.ID, Distance: angle, Weight: confidence, Source: entry.Source}

		key := strings.ToLower(entry.Label)
		current, ok := best[key]
		if ok && current.AverageDist <= angle {
			current.Support++
			current.TopPrototypes = mergePrototypeScores(current.TopPrototypes, []PrototypeScore{score}, 5)
			best[key] = current
			continue
		}
		pred := newPrediction(entry.Label, entry.Category, copyMetadata(entry.Metadata), confidence, angle, 1, []PrototypeScore{score})
		if pred.Description == "" {
			pred.Description = fmt.Sprintf("library:%s", entry.Source)
		}
		if ok {
			pred.Support = current.Support + 1
			pred.TopPrototypes = mergePrototypeScores(current.TopPrototypes, pred.TopPrototypes, 5)
		}
		best[key] = pred
	}

	results := make([]Prediction, 0, len(best))
	for _, pred := range best {
		results = append(results, pred)
	}
	sortPredictions(results)
	return results, nil
}

// MergePredictions merges additional predictions into the canonical list,
// keeping the higher-confidence entry when labels overlap.
func MergePredictions(base []Prediction, additions []Prediction) []Prediction {
	if len(additions) == 0 {
		return base
	}

	index := make(map[string]Prediction, len(base)+len(additions))
	for _, pred := range base {
		index[strings.ToLower(pred.Label)] = pred
	}

	for _, pred := range additions {
		key := strings.ToLower(pred.Label)
		if existing, ok := index[key]; ok {
			if pred.Confidence > existing.Confidence {
				index[key] = pred
			}
		} else {
			index[key] = pred
		}
	}

	merged := make([]Prediction, 0, len(index))
	for _, pred := range index {
		merged = append(merged, pred)
	}
	sortPredictions(merged)
	return merged
}

func equalGrid(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}
