package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"hsi-cores/hsi"
	"hsi-cores/spectral"
	"hsi-cores/utils"

	"gopkg.in/yaml.v3"
)

var ErrInvalidPipeline = errors.New("config: invalid pipeline")

// Pipeline is the analysis configuration read from YAML.
type Pipeline struct {
	Load           hsi.LoadOptions       `yaml:"load"`
	OutputDir      string                `yaml:"output_dir"`
	Preprocess     hsi.PreprocessOptions `yaml:"preprocess"`
	Smoothing      Smoothing             `yaml:"smoothing"`
	Indices        Indices               `yaml:"indices"`
	Ratios         []spectral.BandPair   `yaml:"ratios"`
	PCA            PCA                   `yaml:"pca"`
	Absorption     Absorption            `yaml:"absorption"`
	Plots          Plots                 `yaml:"plots"`
	Classification Classification        `yaml:"classification"`
	Results        Results               `yaml:"results"`
}

// Smoothing applies to the mean spectrum.
type Smoothing struct {
	Enabled bool                   `yaml:"enabled"`
	Method  string                 `yaml:"method"`
	Options spectral.SmoothOptions `yaml:"options"`
}

// Indices lists the index definitions; an empty list means the defaults.
type Indices struct {
	Enabled     bool                       `yaml:"enabled"`
	Definitions []spectral.IndexDefinition `yaml:"definitions"`
}

// PCA keeps Components principal components; 0 disables the step.
type PCA struct {
	Components int `yaml:"components"`
}

type Absorption struct {
	Enabled    bool    `yaml:"enabled"`
	Prominence float64 `yaml:"prominence"`
}

// Plots controls the image artifacts.
type Plots struct {
	Enabled    bool    `yaml:"enabled"`
	Format     string  `yaml:"format"` // png or svg
	RGBBands   [3]int  `yaml:"rgb_bands"`
	Percentile float64 `yaml:"percentile"` // 0 = global min/max stretch
	Width      float64 `yaml:"width_cm"`
	Height     float64 `yaml:"height_cm"`
}

// Classification runs a stored model over every pixel. Without a model file
// the reference library is matched directly by spectral angle, and MaxAngle
// (radians) bounds what counts as a match.
type Classification struct {
	Enabled       bool    `yaml:"enabled"`
	ModelPath     string  `yaml:"model_path"`
	MinConfidence float64 `yaml:"min_confidence"`
	LibraryPath   string  `yaml:"library_path"`
	MaxAngle      float64 `yaml:"max_angle"`
}

type Results struct {
	RunLog string `yaml:"run_log"`
	CSV    bool   `yaml:"csv"`
}

// DefaultPipeline mirrors a standard core-logging run.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Load:       hsi.LoadOptions{Format: hsi.FormatAuto},
		OutputDir:  "results",
		Preprocess: hsi.DefaultPreprocessOptions(),
		Smoothing: Smoothing{
			Enabled: true,
			Method:  spectral.SavitzkyGolay,
			Options: spectral.DefaultSmoothOptions(),
		},
		Indices:    Indices{Enabled: true},
		PCA:        PCA{Components: 3},
		Absorption: Absorption{Enabled: true, Prominence: spectral.DefaultProminence},
		Plots: Plots{
			Enabled:  true,
			Format:   "png",
			RGBBands: [3]int{29, 19, 9},
			Width:    16,
			Height:   10,
		},
		Classification: Classification{
			ModelPath:     "models/mineral_model.json",
			MinConfidence: 0.5,
			MaxAngle:      0.10,
		},
		Results: Results{RunLog: "runs.json", CSV: true},
	}
}

// LoadPipeline reads a YAML file over DefaultPipeline, so absent keys keep
// their defaults. An empty path returns the defaults.
func LoadPipeline(path string) (Pipeline, error) {
	cfg := DefaultPipeline()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Pipeline{}, fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Pipeline{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides paths and thresholds from the environment.
func (p *Pipeline) ApplyEnv() {
	p.OutputDir = utils.GetEnv("HSI_OUTPUT_DIR", p.OutputDir)
	p.Classification.ModelPath = utils.GetEnv("HSI_MODEL_PATH", p.Classification.ModelPath)
	p.Classification.MinConfidence = utils.GetEnvFloat("HSI_CONFIDENCE_THRESHOLD", p.Classification.MinConfidence)
	p.Classification.MaxAngle = utils.GetEnvFloat("HSI_SAM_MAX_ANGLE", p.Classification.MaxAngle)
}

// Validate checks enumerations and ranges.
func (p Pipeline) Validate() error {
	switch strings.ToLower(p.Load.Format) {
	case "", hsi.FormatAuto, hsi.FormatENVI, hsi.FormatHDF5, "h5", hsi.FormatMAT, hsi.FormatGeotek:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidPipeline, p.Load.Format)
	}
	switch p.Preprocess.Normalize {
	case hsi.NormalizeNone, hsi.NormalizeMinMax, hsi.NormalizeZScore, hsi.NormalizeL2, hsi.NormalizeMax:
	default:
		return fmt.Errorf("%w: unknown normalisation %q", ErrInvalidPipeline, p.Preprocess.Normalize)
	}
	if p.Smoothing.Enabled {
		switch p.Smoothing.Method {
		case spectral.SavitzkyGolay, spectral.Gaussian, spectral.Median:
		default:
			return fmt.Errorf("%w: unknown smoothing method %q", ErrInvalidPipeline, p.Smoothing.Method)
		}
	}
	if p.PCA.Components < 0 {
		return fmt.Errorf("%w: negative PCA component count", ErrInvalidPipeline)
	}
	if p.Plots.Enabled {
		switch p.Plots.Format {
		case "png", "svg":
		default:
			return fmt.Errorf("%w: plot format %q (want png or svg)", ErrInvalidPipeline, p.Plots.Format)
		}
		for _, b := range p.Plots.RGBBands {
			if b < 0 {
				return fmt.Errorf("%w: negative RGB band %d", ErrInvalidPipeline, b)
			}
		}
		if p.Plots.Percentile < 0 || p.Plots.Percentile >= 50 {
			return fmt.Errorf("%w: percentile %g outside [0, 50)", ErrInvalidPipeline, p.Plots.Percentile)
		}
	}
	if p.Classification.Enabled && p.Classification.ModelPath == "" && p.Classification.LibraryPath == "" {
		return fmt.Errorf("%w: classification needs a model or a library", ErrInvalidPipeline)
	}
	if p.Classification.MinConfidence < 0 || p.Classification.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence %g outside [0, 1]", ErrInvalidPipeline, p.Classification.MinConfidence)
	}
	if p.Classification.MaxAngle < 0 || p.Classification.MaxAngle > math.Pi/2 {
		return fmt.Errorf("%w: max_angle %g outside [0, pi/2]", ErrInvalidPipeline, p.Classification.MaxAngle)
	}
	return nil
}

// IndexDefinitions returns the configured definitions or the defaults.
func (p Pipeline) IndexDefinitions() []spectral.IndexDefinition {
	if len(p.Indices.Definitions) == 0 {
		return spectral.DefaultIndices()
	}
	return p.Indices.Definitions
}

// Save writes the configuration as YAML, e.g. next to run outputs.
func (p Pipeline) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pipeline config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
