package plotting

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hsi-cores/hsi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func testSpectrum(label string, shift float64) hsi.Spectrum {
	wl := make([]float64, 50)
	values := make([]float64, 50)
	for i := range wl {
		wl[i] = 400 + float64(i)*20
		values[i] = 0.5 + 0.3*math.Sin(float64(i)/8+shift)
	}
	return hsi.Spectrum{Values: values, Wavelengths: wl, Label: label}
}

func testCube(t *testing.T, rows, cols, bands int) *hsi.Cube {
	t.Helper()
	cube, err := hsi.NewCube(rows, cols, bands)
	require.NoError(t, err)
	for i := range cube.Data {
		cube.Data[i] = float64(i%97) / 97
	}
	return cube
}

func savedPNG(t *testing.T, fig *Figure, name string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, fig.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, pngMagic), "expected a PNG file")
	return data
}

func TestPlotSpectrum(t *testing.T) {
	spec := testSpectrum("kaolinite", 0)
	spec.Values[3] = math.NaN()

	fig, err := PlotSpectrum(spec, Options{})
	require.NoError(t, err)
	p := fig.Plots()[0][0]
	assert.Equal(t, "Spectral Signature", p.Title.Text)
	assert.Equal(t, "Wavelength (nm)", p.X.Label.Text)
	savedPNG(t, fig, "spectrum.png")
}

func TestPlotSpectrumErrors(t *testing.T) {
	_, err := PlotSpectrum(hsi.Spectrum{}, Options{})
	require.ErrorIs(t, err, ErrNoData)

	_, err = PlotSpectrum(hsi.Spectrum{Values: []float64{1, 2}, Wavelengths: []float64{1}}, Options{})
	require.ErrorIs(t, err, hsi.ErrShapeMismatch)

	_, err = PlotSpectrum(hsi.Spectrum{Values: []float64{math.NaN()}}, Options{})
	require.ErrorIs(t, err, ErrNoData)
}

func TestPlotSpectrumComparisonSVG(t *testing.T) {
	fig, err := PlotSpectrumComparison([]hsi.Spectrum{testSpectrum("a", 0), testSpectrum("b", 1)}, nil, Options{Title: "Minerals"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = fig.WriteTo(&buf, "svg")
	require.NoError(t, err)
	assert.True(t, strings.Contains(buf.String(), "<svg"))

	_, err = PlotSpectrumComparison(nil, nil, Options{})
	require.ErrorIs(t, err, ErrNoData)

	_, err = PlotSpectrumComparison([]hsi.Spectrum{testSpectrum("a", 0)}, []string{"x", "y"}, Options{})
	require.ErrorIs(t, err, hsi.ErrShapeMismatch)
}

func TestSaveRejectsUnknownExtension(t *testing.T) {
	fig, err := PlotSpectrum(testSpectrum("a", 0), Options{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "spectrum.bmp")
	require.ErrorIs(t, fig.Save(path), ErrUnsupportedFormat)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed saves leave no file behind")
}

func TestPlotRGBComposite(t *testing.T) {
	cube := testCube(t, 6, 5, 32)
	fig, err := PlotRGBComposite(cube, RGBOptions{})
	require.NoError(t, err)
	savedPNG(t, fig, "rgb.png")

	fig, err = PlotRGBComposite(cube, RGBOptions{Bands: [3]int{2, 1, 0}, Percentile: 2})
	require.NoError(t, err)
	savedPNG(t, fig, "rgb_stretch.png")

	small := testCube(t, 2, 2, 10)
	_, err = PlotRGBComposite(small, RGBOptions{})
	require.ErrorIs(t, err, hsi.ErrBandOutOfRange, "default bands need at least 30 bands")

	_, err = PlotRGBComposite(cube, RGBOptions{Percentile: 70})
	require.Error(t, err)
}

func TestStretchBounds(t *testing.T) {
	values := []float64{5, 1, 3, 2, 4}
	lo, hi := stretchBounds(values, 0)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 5.0, hi)

	assert.Equal(t, uint8(0), toByte(-4))
	assert.Equal(t, uint8(255), toByte(300))
	assert.Equal(t, uint8(128), toByte(127.6))
	assert.Equal(t, uint8(0), toByte(math.NaN()))
}

func TestPlotSpectralIndicesGrid(t *testing.T) {
	indices := map[string]hsi.Image{}
	for _, name := range []string{"NDVI", "AlOH_2200", "FeOH_2250", "MgOH_2330"} {
		img := hsi.NewImage(4, 3)
		for i := range img.Data {
			img.Data[i] = float64(i)
		}
		indices[name] = img
	}
	flat := hsi.NewImage(4, 3)
	indices["flat"] = flat

	fig, err := PlotSpectralIndices(indices, Options{})
	require.NoError(t, err)
	grid := fig.Plots()
	require.Len(t, grid, 2)
	require.Len(t, grid[0], 3)
	assert.Nil(t, grid[1][2])
	assert.True(t, strings.HasPrefix(grid[0][0].Title.Text, "AlOH_2200"))
	savedPNG(t, fig, "indices.png")

	_, err = PlotSpectralIndices(nil, Options{})
	require.ErrorIs(t, err, ErrNoData)

	nan := hsi.NewImage(1, 1)
	nan.Data[0] = math.NaN()
	_, err = PlotSpectralIndices(map[string]hsi.Image{"x": nan}, Options{})
	require.ErrorIs(t, err, ErrNoData)
}

func TestPlotConfusionMatrix(t *testing.T) {
	matrix := [][]int{{5, 1, 0}, {0, 4, 2}, {1, 0, 6}}
	fig, err := PlotConfusionMatrix(matrix, []string{"kaolinite", "chlorite", "calcite"}, Options{})
	require.NoError(t, err)
	p := fig.Plots()[0][0]
	assert.Equal(t, "Predicted", p.X.Label.Text)
	assert.Equal(t, "Actual", p.Y.Label.Text)
	savedPNG(t, fig, "cm.png")

	_, err = PlotConfusionMatrix(matrix, nil, Options{})
	require.NoError(t, err)

	_, err = PlotConfusionMatrix(nil, nil, Options{})
	require.ErrorIs(t, err, ErrNoData)

	_, err = PlotConfusionMatrix([][]int{{1, 2}, {3}}, nil, Options{})
	require.ErrorIs(t, err, hsi.ErrShapeMismatch)

	_, err = PlotConfusionMatrix(matrix, []string{"a"}, Options{})
	require.ErrorIs(t, err, hsi.ErrShapeMismatch)
}

func TestPlotPCAComponents(t *testing.T) {
	spec := testSpectrum("", 0)
	components := [][]float64{spec.Values, testSpectrum("", 1).Values, testSpectrum("", 2).Values}

	fig, err := PlotPCAComponents(components, spec.Wavelengths, 2, Options{})
	require.NoError(t, err)
	savedPNG(t, fig, "pca.png")

	_, err = PlotPCAComponents(nil, nil, 2, Options{})
	require.ErrorIs(t, err, ErrNoData)
}

func TestPlotAbsorptionFeaturesAndImage(t *testing.T) {
	spec := testSpectrum("", 0)
	fig, err := PlotAbsorptionFeatures(spec, []int{10, 30}, Options{})
	require.NoError(t, err)
	savedPNG(t, fig, "features.png")

	_, err = PlotAbsorptionFeatures(spec, []int{99}, Options{})
	require.ErrorIs(t, err, hsi.ErrBandOutOfRange)

	img := hsi.NewImage(3, 3)
	img.Data[4] = 1
	fig, err = PlotImage(img, Options{Title: "class map"})
	require.NoError(t, err)
	savedPNG(t, fig, "image.png")
}
