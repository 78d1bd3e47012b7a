package spectral

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"hsi-cores/hsi"
)

// swirWavelengths covers 2000-2400 nm at 10 nm steps.
func swirWavelengths() []float64 {
	wl := make([]float64, 41)
	for i := range wl {
		wl[i] = 2000 + float64(i)*10
	}
	return wl
}

// gaussianDip builds a flat 0.6 reflectance spectrum with a Gaussian
// absorption of the given depth at center nm.
func gaussianDip(wavelengths []float64, center, width, depth float64) []float64 {
	out := make([]float64, len(wavelengths))
	for i, wl := range wavelengths {
		d := (wl - center) / width
		out[i] = 0.6 * (1 - depth*math.Exp(-0.5*d*d))
	}
	return out
}

// cubeOfSpectra stacks spectra as a rows x 1 cube.
func cubeOfSpectra(t *testing.T, wavelengths []float64, spectra ...[]float64) *hsi.Cube {
	t.Helper()
	cube, err := hsi.NewCube(len(spectra), 1, len(wavelengths))
	require.NoError(t, err)
	cube.Wavelengths = wavelengths
	for r, s := range spectra {
		require.Len(t, s, len(wavelengths))
		copy(cube.PixelValues(r, 0), s)
	}
	return cube
}
