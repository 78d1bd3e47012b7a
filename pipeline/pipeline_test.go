package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hsi-cores/classify"
	"hsi-cores/config"
	"hsi-cores/hsi"
	"hsi-cores/results"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func swirGrid() []float64 {
	wl := make([]float64, 41)
	for i := range wl {
		wl[i] = 2000 + float64(i)*10
	}
	return wl
}

func dipSpectrum(wl []float64, center, depth float64) []float64 {
	out := make([]float64, len(wl))
	for i, w := range wl {
		d := (w - center) / 20
		out[i] = 1 - depth*math.Exp(-d*d)
	}
	return out
}

// writeCoreScan writes a 4x3 ENVI cube: the first two columns carry a
// 2200 nm (kaolinite-like) absorption, the last a 2330 nm one. Pixel
// brightness varies so no band is constant.
func writeCoreScan(t *testing.T, dir string) string {
	t.Helper()
	cube := coreScan(t)
	base := filepath.Join(dir, "core_07")
	require.NoError(t, hsi.WriteENVI(base, cube))
	return base + ".hdr"
}

func coreScan(t *testing.T) *hsi.Cube {
	t.Helper()
	wl := swirGrid()
	cube, err := hsi.NewCube(4, 3, len(wl))
	require.NoError(t, err)
	cube.Wavelengths = wl
	for r := 0; r < cube.Rows; r++ {
		for c := 0; c < cube.Cols; c++ {
			center := 2200.0
			if c == 2 {
				center = 2330
			}
			albedo := 0.6 + 0.05*float64(r) + 0.03*float64(c)
			for b, v := range dipSpectrum(wl, center, 0.35) {
				cube.Set(r, c, b, albedo*v)
			}
		}
	}
	return cube
}

func writeModel(t *testing.T, dir string) string {
	t.Helper()
	wl := swirGrid()
	var X [][]float64
	var y []int
	for _, depth := range []float64{0.3, 0.35, 0.4} {
		X = append(X, dipSpectrum(wl, 2200, depth))
		y = append(y, 0)
		X = append(X, dipSpectrum(wl, 2330, depth))
		y = append(y, 1)
	}
	opts := classify.DefaultTrainOptions()
	opts.Metric = classify.MetricSAM
	opts.K = 3
	opts.Wavelengths = wl
	model, err := classify.Train(X, y, []string{"kaolinite", "chlorite"}, opts)
	require.NoError(t, err)

	path := filepath.Join(dir, "model.json")
	require.NoError(t, model.Save(path))
	return path
}

func testConfig(dir string) config.Pipeline {
	cfg := config.DefaultPipeline()
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.PCA.Components = 2
	return cfg
}

func TestRunFullPipeline(t *testing.T) {
	dir := t.TempDir()
	input := writeCoreScan(t, dir)
	cfg := testConfig(dir)
	cfg.Classification.Enabled = true
	cfg.Classification.ModelPath = writeModel(t, dir)

	run, err := Run(context.Background(), cfg, input)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, hsi.FormatENVI, run.Format)
	assert.Equal(t, 4, run.Rows)
	assert.Equal(t, 3, run.Cols)
	assert.Equal(t, 41, run.Bands)
	assert.Equal(t, 2000.0, run.WavelengthMin)
	assert.Equal(t, 2400.0, run.WavelengthMax)
	assert.Len(t, run.MeanSpectrum, 41)
	assert.Len(t, run.ExplainedVar, 2)
	assert.NotEmpty(t, run.IndexStats)
	assert.Contains(t, run.Preprocessing, "normalize minmax")
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	assert.Equal(t, 8, run.ClassCounts["kaolinite"])
	assert.Equal(t, 4, run.ClassCounts["chlorite"])
	assert.Equal(t, cfg.Classification.ModelPath, run.ModelPath)
	assert.Greater(t, run.MeanConfidence, 0.5)

	outDir := filepath.Join(cfg.OutputDir, "core_07")
	for _, name := range []string{
		"mean_spectrum.png", "rgb_composite.png", "spectral_indices.png",
		"pca_components.png", "class_map.png", "class_counts.csv",
		"index_stats.csv", "spectra.csv",
	} {
		assert.Contains(t, run.Artifacts, filepath.Join(outDir, name))
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(outDir, "pipeline.yaml"))
	assert.NoError(t, err)

	logged, err := results.NewRunLog(filepath.Join(cfg.OutputDir, "runs.json")).Load()
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, run.ID, logged[0].ID)
}

func TestRunRecordsOptionalFailuresAsWarnings(t *testing.T) {
	dir := t.TempDir()
	input := writeCoreScan(t, dir)
	cfg := testConfig(dir)
	cfg.Plots.RGBBands = [3]int{100, 1, 2}
	cfg.Classification.Enabled = true
	cfg.Classification.ModelPath = filepath.Join(dir, "missing.json")

	run, err := Run(context.Background(), cfg, input)
	require.NoError(t, err)

	hasWarning := func(step string) bool {
		for _, w := range run.Warnings {
			if strings.HasPrefix(w, step+": ") {
				return true
			}
		}
		return false
	}
	assert.True(t, hasWarning("plot rgb_composite"), run.Warnings)
	assert.True(t, hasWarning("classification"), run.Warnings)
	assert.Empty(t, run.ClassCounts)
	assert.NotContains(t, run.Artifacts, filepath.Join(cfg.OutputDir, "core_07", "rgb_composite.png"))
	assert.Contains(t, run.Artifacts, filepath.Join(cfg.OutputDir, "core_07", "mean_spectrum.png"))
}

func TestRunFallsBackToLibrary(t *testing.T) {
	dir := t.TempDir()
	input := writeCoreScan(t, dir)
	wl := swirGrid()
	library := filepath.Join(dir, "library.json")
	require.NoError(t, hsi.SaveLibrary(library, []hsi.LibraryEntry{
		{Label: "kaolinite", Wavelengths: wl, Values: dipSpectrum(wl, 2200, 0.4)},
		{Label: "chlorite", Wavelengths: wl, Values: dipSpectrum(wl, 2330, 0.4)},
	}))

	cfg := testConfig(dir)
	cfg.Plots.Enabled = false
	cfg.Results.RunLog = ""
	cfg.Classification.Enabled = true
	cfg.Classification.ModelPath = filepath.Join(dir, "missing.json")
	cfg.Classification.LibraryPath = library

	run, err := Run(context.Background(), cfg, input)
	require.NoError(t, err)
	assert.Empty(t, run.Warnings)
	assert.Equal(t, library, run.ModelPath)
	assert.Equal(t, 8, run.ClassCounts["kaolinite"])
	assert.Equal(t, 4, run.ClassCounts["chlorite"])

	_, err = os.Stat(filepath.Join(cfg.OutputDir, "runs.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunLibraryMatchLeavesDistantSpectraUnclassified(t *testing.T) {
	dir := t.TempDir()
	input := writeCoreScan(t, dir)
	wl := swirGrid()
	library := filepath.Join(dir, "library.json")
	require.NoError(t, hsi.SaveLibrary(library, []hsi.LibraryEntry{
		{Label: "kaolinite", Wavelengths: wl, Values: dipSpectrum(wl, 2200, 0.4)},
	}))

	cfg := testConfig(dir)
	cfg.Plots.Enabled = false
	cfg.Classification.Enabled = true
	cfg.Classification.ModelPath = ""
	cfg.Classification.LibraryPath = library
	cfg.Classification.MaxAngle = 0.05

	run, err := Run(context.Background(), cfg, input)
	require.NoError(t, err)
	assert.Empty(t, run.Warnings)
	assert.Equal(t, map[string]int{"kaolinite": 8, classify.CategoryUnclassified: 4}, run.ClassCounts,
		"the 2330 nm column is further than max_angle from every reference")
	assert.Greater(t, run.MeanConfidence, 0.5)
	assert.Less(t, run.MeanConfidence, 1.0, "confidence falls with angle")

	cfg.Classification.MinConfidence = 0.99
	run, err = Run(context.Background(), cfg, input)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{classify.CategoryUnclassified: 12}, run.ClassCounts)
}

func TestRunKeepsBandsWithMaskedPixels(t *testing.T) {
	dir := t.TempDir()
	cube := coreScan(t)
	for _, pos := range [][2]int{{0, 0}, {3, 1}} {
		masked := cube.PixelValues(pos[0], pos[1])
		for i := range masked {
			masked[i] = math.NaN()
		}
	}
	base := filepath.Join(dir, "core_07")
	require.NoError(t, hsi.WriteENVI(base, cube))

	cfg := testConfig(dir)
	cfg.Classification.Enabled = true
	cfg.Classification.ModelPath = writeModel(t, dir)

	run, err := Run(context.Background(), cfg, base+".hdr")
	require.NoError(t, err)
	assert.Equal(t, 41, run.Bands)
	for _, step := range run.Preprocessing {
		assert.False(t, strings.HasPrefix(step, "removed bands"), step)
	}
	assert.Equal(t, 6, run.ClassCounts["kaolinite"])
	assert.Equal(t, 4, run.ClassCounts["chlorite"])
	assert.Equal(t, 2, run.ClassCounts[classify.CategoryUnclassified])
	for _, w := range run.Warnings {
		assert.False(t, strings.HasPrefix(w, "classification: "), w)
	}
	for _, v := range run.MeanSpectrum {
		assert.False(t, math.IsNaN(v))
	}
}

func TestRunFatalErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	_, err := Run(context.Background(), cfg, filepath.Join(dir, "absent.hdr"))
	require.Error(t, err)

	_, err = Run(context.Background(), cfg, filepath.Join(dir, "scan.xyz"))
	require.ErrorIs(t, err, hsi.ErrUnsupportedFormat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, cfg, writeCoreScan(t, dir))
	require.ErrorIs(t, err, context.Canceled)
}

func TestPrepareKeepsReflectanceView(t *testing.T) {
	cube, err := hsi.NewCube(1, 2, 2)
	require.NoError(t, err)
	copy(cube.Data, []float64{0.2, 0.4, 0.6, 0.8})

	p, err := Prepare(cube, hsi.PreprocessOptions{Normalize: hsi.NormalizeMinMax})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.4, 0.6, 0.8}, p.Clean.Data)
	assert.InDeltaSlice(t, []float64{0, 0, 1, 1}, p.Normalised.Data, 1e-12)

	model := &classify.Model{}
	assert.Same(t, p.Clean, p.ForModel(model))
	model.Metadata = map[string]string{"normalize": "minmax"}
	assert.Same(t, p.Normalised, p.ForModel(model))

	p, err = Prepare(cube, hsi.PreprocessOptions{})
	require.NoError(t, err)
	assert.Same(t, p.Clean, p.Normalised)
}
