package hsi

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessRemovesBadBands(t *testing.T) {
	cube := newTestCube(t, 2, 2, 5) // 400..440 nm
	cube.BadBands = []bool{false, false, false, false, true}
	cube.Set(1, 1, 2, math.NaN())
	for p := 0; p < cube.Pixels(); p++ {
		cube.Data[p*cube.Bands+3] = 7 // constant band
	}

	out, err := Preprocess(cube, PreprocessOptions{
		RemoveBadBands: true,
		BadBands:       []int{0},
		MinVariance:    1e-12,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, out.Bands, "bands 0 (explicit), 2 (NaN), 3 (constant) and 4 (bbl) removed")
	assert.Equal(t, []float64{410}, out.Wavelengths)
	assert.Equal(t, "0,2,3,4", out.Metadata["removed bands"])
	assert.Equal(t, []float64{1, 11, 101, 111}, out.Data)

	assert.Equal(t, 5, cube.Bands, "input is not mutated")
	assert.Equal(t, 0.0, cube.At(0, 0, 0))
}

func TestPreprocessKeepsBandsWithMaskedPixels(t *testing.T) {
	h, err := ParseEnviHeader(strings.NewReader(`ENVI
samples = 2
lines = 2
bands = 3
data type = 2
interleave = bip
byte order = 0
wavelength units = Nanometers
wavelength = {2100, 2200, 2300}
data ignore value = -9999
`))
	require.NoError(t, err)

	values := []int16{
		100, 200, 300,
		-9999, -9999, -9999, // background
		150, 260, 310,
		120, 210, 390,
	}
	raw := make([]byte, 0, 2*len(values))
	for _, v := range values {
		raw = binary.LittleEndian.AppendUint16(raw, uint16(v))
	}
	cube, err := DecodeENVI(h, raw)
	require.NoError(t, err)

	out, err := Preprocess(cube, DefaultPreprocessOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, out.Bands)
	assert.Equal(t, []float64{2100, 2200, 2300}, out.Wavelengths)
	assert.Empty(t, out.Metadata["removed bands"])

	for b := 0; b < out.Bands; b++ {
		assert.True(t, math.IsNaN(out.At(0, 1, b)), "masked pixel stays NaN")
	}
	band, err := out.Band(2)
	require.NoError(t, err)
	lo, hi, ok := band.Range()
	require.True(t, ok)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)

	for p := 0; p < cube.Pixels(); p++ {
		copy(cube.Data[p*cube.Bands:(p+1)*cube.Bands], []float64{math.NaN(), math.NaN(), math.NaN()})
	}
	_, err = Preprocess(cube, DefaultPreprocessOptions())
	require.ErrorIs(t, err, ErrEmptyCube, "a fully masked scene has no usable band")
}

func TestPreprocessWavelengthRanges(t *testing.T) {
	cube := newTestCube(t, 2, 1, 5)
	out, err := Preprocess(cube, PreprocessOptions{
		RemoveBadBands: true,
		BadRanges:      []WavelengthRange{{Min: 415, Max: 425}},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{400, 410, 430, 440}, out.Wavelengths)
}

func TestPreprocessAllBandsBad(t *testing.T) {
	cube := newTestCube(t, 1, 1, 2)
	_, err := Preprocess(cube, PreprocessOptions{RemoveBadBands: true, BadBands: []int{0, 1}})
	require.ErrorIs(t, err, ErrEmptyCube)

	_, err = Preprocess(cube, PreprocessOptions{RemoveBadBands: true, BadBands: []int{5}})
	require.ErrorIs(t, err, ErrBandOutOfRange)
}

func TestPreprocessNormalisation(t *testing.T) {
	cube := newTestCube(t, 2, 2, 3)

	minmax, err := Preprocess(cube, PreprocessOptions{Normalize: NormalizeMinMax})
	require.NoError(t, err)
	img, err := minmax.Band(1)
	require.NoError(t, err)
	lo, hi, _ := img.Range()
	assert.InDelta(t, 0, lo, 1e-12)
	assert.InDelta(t, 1, hi, 1e-12)

	z, err := Preprocess(cube, PreprocessOptions{Normalize: NormalizeZScore})
	require.NoError(t, err)
	img, err = z.Band(0)
	require.NoError(t, err)
	sum := 0.0
	for _, v := range img.Data {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-9, "z-scored band has zero mean")

	l2, err := Preprocess(cube, PreprocessOptions{Normalize: NormalizeL2})
	require.NoError(t, err)
	px := l2.PixelValues(1, 1)
	norm := math.Sqrt(px[0]*px[0] + px[1]*px[1] + px[2]*px[2])
	assert.InDelta(t, 1, norm, 1e-12)

	mx, err := Preprocess(cube, PreprocessOptions{Normalize: NormalizeMax})
	require.NoError(t, err)
	assert.InDelta(t, 1, mx.At(1, 0, 2), 1e-12)

	_, err = Preprocess(cube, PreprocessOptions{Normalize: "log"})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPrepareClassificationData(t *testing.T) {
	cube := newTestCube(t, 2, 2, 2)
	labels := []int{0, 1, 2, 0}

	X, y, err := PrepareClassificationData(cube, labels, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, y)
	assert.Equal(t, [][]float64{{10, 11}, {100, 101}}, X)

	X[0][0] = -1
	assert.Equal(t, 10.0, cube.At(0, 1, 0), "rows are copies")

	_, _, err = PrepareClassificationData(cube, []int{1, 2}, 0)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, _, err = PrepareClassificationData(cube, []int{0, 0, 0, 0}, 0)
	require.ErrorIs(t, err, ErrEmptyCube)
}

func TestLabelPlane(t *testing.T) {
	cube, err := NewCube(1, 3, 1)
	require.NoError(t, err)
	copy(cube.Data, []float64{1.0, 2.2, math.NaN()})

	labels, err := LabelPlane(cube)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, labels)
	assert.Equal(t, []int{0, 1, 2}, UniqueLabels(labels))

	_, err = LabelPlane(newTestCube(t, 1, 1, 2))
	require.ErrorIs(t, err, ErrShapeMismatch)
}
