package hsi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCube builds a cube whose value encodes its position: r*100 + c*10 + b.
func newTestCube(t *testing.T, rows, cols, bands int) *Cube {
	t.Helper()
	cube, err := NewCube(rows, cols, bands)
	require.NoError(t, err)
	cube.Wavelengths = make([]float64, bands)
	for b := 0; b < bands; b++ {
		cube.Wavelengths[b] = 400 + float64(b)*10
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			for b := 0; b < bands; b++ {
				cube.Set(r, c, b, float64(r*100+c*10+b))
			}
		}
	}
	return cube
}

func TestNewCubeRejectsEmptyShape(t *testing.T) {
	_, err := NewCube(0, 3, 4)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestCubeValidate(t *testing.T) {
	cube := newTestCube(t, 2, 3, 4)
	require.NoError(t, cube.Validate())

	cube.Wavelengths = cube.Wavelengths[:3]
	require.ErrorIs(t, cube.Validate(), ErrShapeMismatch, "wavelength count must match bands")

	var empty *Cube
	require.ErrorIs(t, empty.Validate(), ErrEmptyCube)
}

func TestCubePixelAndBand(t *testing.T) {
	cube := newTestCube(t, 2, 3, 4)

	spec, err := cube.Pixel(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{120, 121, 122, 123}, spec.Values)
	assert.Equal(t, cube.Wavelengths, spec.Wavelengths)

	spec.Values[0] = -1
	assert.Equal(t, 120.0, cube.At(1, 2, 0), "Pixel must return a copy")

	_, err = cube.Pixel(2, 0)
	require.ErrorIs(t, err, ErrShapeMismatch)

	img, err := cube.Band(3)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 13, 23, 103, 113, 123}, img.Data)
	assert.Equal(t, 113.0, img.At(1, 1))

	_, err = cube.Band(4)
	require.ErrorIs(t, err, ErrBandOutOfRange)
}

func TestCubeMeanSpectrumSkipsNaN(t *testing.T) {
	cube, err := NewCube(1, 2, 2)
	require.NoError(t, err)
	copy(cube.Data, []float64{1, 2, math.NaN(), 4})

	mean := cube.MeanSpectrum()
	assert.Equal(t, []float64{1, 3}, mean.Values)
}

func TestNearestBand(t *testing.T) {
	cube := newTestCube(t, 1, 1, 5) // 400..440

	b, ok := cube.NearestBand(423, 0)
	assert.True(t, ok)
	assert.Equal(t, 2, b)

	_, ok = cube.NearestBand(900, 20)
	assert.False(t, ok, "900 nm is far outside 400-440 nm")

	_, ok = NearestBand(nil, 500, 0)
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	cube := newTestCube(t, 1, 2, 2)
	cube.Metadata["k"] = "v"
	clone := cube.Clone()
	clone.Data[0] = 99
	clone.Wavelengths[0] = 1
	clone.Metadata["k"] = "changed"

	assert.Equal(t, 0.0, cube.Data[0])
	assert.Equal(t, 400.0, cube.Wavelengths[0])
	assert.Equal(t, "v", cube.Metadata["k"])
}

func TestImageRange(t *testing.T) {
	img := Image{Rows: 1, Cols: 4, Data: []float64{math.NaN(), -2, 5, math.Inf(1)}}
	lo, hi, ok := img.Range()
	require.True(t, ok)
	assert.Equal(t, -2.0, lo)
	assert.Equal(t, 5.0, hi)

	_, _, ok = Image{Data: []float64{math.NaN()}}.Range()
	assert.False(t, ok)
}
