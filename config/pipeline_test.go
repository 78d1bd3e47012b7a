package config

import (
	"os"
	"path/filepath"
	"testing"

	"hsi-cores/hsi"
	"hsi-cores/spectral"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultPipelineIsValid(t *testing.T) {
	cfg := DefaultPipeline()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, [3]int{29, 19, 9}, cfg.Plots.RGBBands)
	assert.Equal(t, spectral.DefaultIndices(), cfg.IndexDefinitions())
}

func TestLoadPipelineEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadPipeline("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPipeline(), cfg)
}

func TestLoadPipelineOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
load:
  format: envi
output_dir: out/core42
preprocess:
  normalize: l2
smoothing:
  method: gaussian
  options:
    sigma: 2
indices:
  enabled: true
  definitions:
    - name: AlOH
      kind: band_depth
      center: 2200
      left: 2120
      right: 2250
ratios:
  - numerator: 10
    denominator: 5
classification:
  enabled: true
  min_confidence: 0.7
`)
	cfg, err := LoadPipeline(path)
	require.NoError(t, err)

	assert.Equal(t, hsi.FormatENVI, cfg.Load.Format)
	assert.Equal(t, "out/core42", cfg.OutputDir)
	assert.Equal(t, hsi.NormalizeL2, cfg.Preprocess.Normalize)
	assert.True(t, cfg.Preprocess.RemoveBadBands, "unset keys keep defaults")
	assert.True(t, cfg.Smoothing.Enabled)
	assert.Equal(t, spectral.Gaussian, cfg.Smoothing.Method)
	assert.Equal(t, 2.0, cfg.Smoothing.Options.Sigma)
	require.Len(t, cfg.IndexDefinitions(), 1)
	assert.Equal(t, spectral.Depth, cfg.IndexDefinitions()[0].Kind)
	assert.Equal(t, []spectral.BandPair{{Numerator: 10, Denominator: 5}}, cfg.Ratios)
	assert.True(t, cfg.Classification.Enabled)
	assert.Equal(t, 0.7, cfg.Classification.MinConfidence)
	assert.Equal(t, "models/mineral_model.json", cfg.Classification.ModelPath)
}

func TestLoadPipelineRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"format":     "load:\n  format: tiff\n",
		"normalize":  "preprocess:\n  normalize: log\n",
		"smoothing":  "smoothing:\n  enabled: true\n  method: wavelet\n",
		"plot":       "plots:\n  format: jpg\n",
		"percentile": "plots:\n  percentile: 60\n",
		"confidence": "classification:\n  min_confidence: 2\n",
		"max angle":  "classification:\n  max_angle: -0.1\n",
		"pca":        "pca:\n  components: -1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPipeline(writeConfig(t, body))
			require.ErrorIs(t, err, ErrInvalidPipeline)
		})
	}
}

func TestLoadPipelineErrors(t *testing.T) {
	_, err := LoadPipeline(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadPipeline(writeConfig(t, "smoothing: [unclosed"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HSI_OUTPUT_DIR", "/data/out")
	t.Setenv("HSI_MODEL_PATH", "/models/m.json")
	t.Setenv("HSI_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("HSI_SAM_MAX_ANGLE", "0.05")

	cfg := DefaultPipeline()
	cfg.ApplyEnv()
	assert.Equal(t, 0.05, cfg.Classification.MaxAngle)
	assert.Equal(t, "/data/out", cfg.OutputDir)
	assert.Equal(t, "/models/m.json", cfg.Classification.ModelPath)
	assert.Equal(t, 0.8, cfg.Classification.MinConfidence)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultPipeline()
	cfg.OutputDir = "elsewhere"
	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", loaded.OutputDir)
	assert.Equal(t, cfg.Plots, loaded.Plots)
}
