package spectral

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hsi-cores/hsi"
)

func TestSpectrumIndexFormulas(t *testing.T) {
	spec := hsi.Spectrum{
		Wavelengths: []float64{550, 670, 800},
		Values:      []float64{0.2, 0.1, 0.5},
	}

	ndvi, err := SpectrumIndex(spec, IndexDefinition{Name: "NDVI", Kind: NormalizedDifference, A: 800, B: 670})
	require.NoError(t, err)
	assert.InDelta(t, (0.5-0.1)/(0.5+0.1), ndvi, 1e-12)

	savi, err := SpectrumIndex(spec, IndexDefinition{Name: "SAVI", Kind: SoilAdjusted, A: 800, B: 670, L: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 1.5*0.4/1.1, savi, 1e-12)

	ratio, err := SpectrumIndex(spec, IndexDefinition{Name: "r", Kind: Ratio, A: 550, B: 670})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, ratio, 1e-12)

	depth, err := SpectrumIndex(hsi.Spectrum{
		Wavelengths: []float64{2100, 2200, 2300},
		Values:      []float64{0.6, 0.3, 0.4},
	}, IndexDefinition{Name: "AlOH", Kind: Depth, Center: 2200, Left: 2100, Right: 2300})
	require.NoError(t, err)
	assert.InDelta(t, 1-0.3/0.5, depth, 1e-12, "continuum at 2200 is the shoulder midpoint 0.5")
}

func TestSpectrumIndexErrors(t *testing.T) {
	spec := hsi.Spectrum{Wavelengths: []float64{400, 500}, Values: []float64{1, 1}}

	_, err := SpectrumIndex(spec, IndexDefinition{Name: "far", Kind: Ratio, A: 2200, B: 400})
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = SpectrumIndex(spec, IndexDefinition{Name: "odd", Kind: "mystery", A: 400, B: 500})
	require.ErrorIs(t, err, ErrUnknownMethod)

	_, err = SpectrumIndex(hsi.Spectrum{Values: []float64{1}}, DefaultIndices()[0])
	require.ErrorIs(t, err, ErrLengthMismatch)

	zero := hsi.Spectrum{Wavelengths: []float64{670, 800}, Values: []float64{0, 0}}
	v, err := SpectrumIndex(zero, DefaultIndices()[0])
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v), "zero denominator yields NaN")
}

func TestCalculateSpectralIndicesSkipsUnreachable(t *testing.T) {
	wl := swirWavelengths()
	deep := gaussianDip(wl, 2200, 15, 0.5)
	flat := gaussianDip(wl, 2200, 15, 0)
	cube := cubeOfSpectra(t, wl, deep, flat)

	images, err := CalculateSpectralIndices(cube, nil)
	require.NoError(t, err)

	assert.NotContains(t, images, "NDVI", "VNIR index skipped on a SWIR cube")
	assert.NotContains(t, images, "ferrous_iron")
	require.Contains(t, images, "AlOH_2200")
	require.Contains(t, images, "kaolinite_2160_2180")

	alOH := images["AlOH_2200"]
	assert.Equal(t, 2, alOH.Rows)
	assert.Equal(t, 1, alOH.Cols)
	assert.Greater(t, alOH.Data[0], 0.4, "deep 2200 nm absorption")
	assert.InDelta(t, 0, alOH.Data[1], 1e-12, "flat spectrum has no depth")
}

func TestCalculateSpectralIndicesNeedsWavelengths(t *testing.T) {
	cube, err := hsi.NewCube(1, 1, 3)
	require.NoError(t, err)
	_, err = CalculateSpectralIndices(cube, nil)
	require.ErrorIs(t, err, ErrLengthMismatch)
}
