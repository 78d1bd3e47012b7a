package classify

// Feature scaling
//
// Reflectance bands share a unit, but appended index features (band depths,
// ratios) do not. Each dimension is standardised before L2 normalisation so
// no single feature dominates the distance.

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"
)

// FeatureScaler standardizes features across a dataset using z-score normalization.
type FeatureScaler struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// NewFeatureScalerFromPrototypes computes population mean and standard
// deviation per dimension. Constant dimensions get a deviation of 1.
func NewFeatureScalerFromPrototypes(prototypes []Prototype) (*FeatureScaler, error) {
	if len(prototypes) == 0 {
		return nil, errors.New("no prototypes provided")
	}

	featureCount := len(prototypes[0].Features)
	if featureCount == 0 {
		return nil, errors.New("prototypes have no features")
	}

	mean := make([]float64, featureCount)
	for _, proto := range prototypes {
		if len(proto.Features) != featureCount {
			return nil, errors.New("inconsistent feature dimensions")
		}
		vecmath.AddBlockInPlace(mean, proto.Features)
	}
	vecmath.ScaleBlock(mean, mean, 1/float64(len(prototypes)))

	stddev := make([]float64, featureCount)
	for _, proto := range prototypes {
		for i, val := range proto.Features {
			diff := val - mean[i]
			stddev[i] += diff * diff
		}
	}
	for i := range stddev {
		stddev[i] = math.Sqrt(stddev[i] / float64(len(prototypes)))
		if stddev[i] < 1e-10 {
			stddev[i] = 1.0
		}
	}

	return &FeatureScaler{
		Mean:   mean,
		Stddev: stddev,
	}, nil
}

// Transform applies z-score standardization; mismatched lengths pass through.
func (fs *FeatureScaler) Transform(features []float64) []float64 {
	if len(features) != len(fs.Mean) {
		return features
	}

	scaled := make([]float64, len(features))
	for i, val := range features {
		scaled[i] = (val - fs.Mean[i]) / fs.Stddev[i]
	}
	return scaled
}

// TransformAndNormalize applies scaling followed by L2 normalization.
func (fs *FeatureScaler) TransformAndNormalize(features []float64) []float64 {
	scaled := fs.Transform(features)
	NormaliseVectorInPlace(scaled)
	return scaled
}

// MinMaxScaler scales features to [0, 1] range based on min/max values.
type MinMaxScaler struct {
	Min   []float64 `json:"min"`
	Range []float64 `json:"range"`
}

// NewMinMaxScalerFromPrototypes computes min-max scaling parameters.
func NewMinMaxScalerFromPrototypes(prototypes []Prototype) (*MinMaxScaler, error) {
	if len(prototypes) == 0 {
		return nil, errors.New("no prototypes provided")
	}

	featureCount := len(prototypes[0].Features)
	if featureCount == 0 {
		return nil, errors.New("prototypes have no features")
	}

	lo := append([]float64(nil), prototypes[0].Features...)
	hi := append([]float64(nil), prototypes[0].Features...)
	for _, proto := range prototypes[1:] {
		if len(proto.Features) != featureCount {
			return nil, errors.New("inconsistent feature dimensions")
		}
		for i, val := range proto.Features {
			lo[i] = math.Min(lo[i], val)
			hi[i] = math.Max(hi[i], val)
		}
	}

	featureRange := make([]float64, featureCount)
	floats.SubTo(featureRange, hi, lo)
	for i := range featureRange {
		if featureRange[i] < 1e-10 {
			featureRange[i] = 1.0
		}
	}

	return &MinMaxScaler{
		Min:   lo,
		Range: featureRange,
	}, nil
}

// Transform applies min-max scaling, clamping to [0, 1].
func (mms *MinMaxScaler) Transform(features []float64) []float64 {
	if len(features) != len(mms.Min) {
		return features
	}

	scaled := make([]float64, len(features))
	for i, val := range features {
		scaled[i] = math.Max(0, math.Min(1, (val-mms.Min[i])/mms.Range[i]))
	}
	return scaled
}

// TransformAndNormalize applies scaling followed by L2 normalization.
func (mms *MinMaxScaler) TransformAndNormalize(features []float64) []float64 {
	scaled := mms.Transform(features)
	NormaliseVectorInPlace(scaled)
	return scaled
}

// NormaliseVectorInPlace scales vector to unit length; zero vectors are left alone.
func NormaliseVectorInPlace(vector []float64) {
	norm := floats.Norm(vector, 2)
	if norm == 0 {
		return
	}
	vecmath.ScaleBlock(vector, vector, 1/norm)
}
