package spectral

import (
	"fmt"

	"hsi-cores/hsi"
)

// RatioEpsilon keeps band ratios finite over dark pixels.
const RatioEpsilon = 1e-8

// BandPair names the numerator and denominator bands of a ratio.
type BandPair struct {
	Numerator   int `yaml:"numerator" json:"numerator"`
	Denominator int `yaml:"denominator" json:"denominator"`
}

// Name is ratio_<numerator>_<denominator>.
func (p BandPair) Name() string {
	return fmt.Sprintf("ratio_%d_%d", p.Numerator, p.Denominator)
}

// CalculateBandRatios computes band[n] / (band[d] + RatioEpsilon) per pixel.
func CalculateBandRatios(cube *hsi.Cube, pairs []BandPair) (map[string]hsi.Image, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	out := make(map[string]hsi.Image, len(pairs))
	for _, pair := range pairs {
		for _, b := range []int{pair.Numerator, pair.Denominator} {
			if b < 0 || b >= cube.Bands {
				return nil, fmt.Errorf("%s: %w: %d (bands=%d)", pair.Name(), hsi.ErrBandOutOfRange, b, cube.Bands)
			}
		}
		img := hsi.NewImage(cube.Rows, cube.Cols)
		for p := range img.Data {
			px := cube.Data[p*cube.Bands : (p+1)*cube.Bands]
			img.Data[p] = px[pair.Numerator] / (px[pair.Denominator] + RatioEpsilon)
		}
		out[pair.Name()] = img
	}
	return out, nil
}
