// Package pipeline runs the end-to-end analysis of one hyperspectral file:
// load, preprocess, spectral analysis, plots, optional classification and
// the results table and run record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hsi-cores/classify"
	"hsi-cores/config"
	"hsi-cores/hsi"
	"hsi-cores/models"
	"hsi-cores/plotting"
	"hsi-cores/results"
	"hsi-cores/spectral"
	"hsi-cores/utils"

	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/plot/vg"
)

// Prepared holds the two views of a preprocessed cube. Clean has bad bands
// removed and keeps reflectance units; Normalised additionally carries the
// configured normalisation and equals Clean when none is configured.
type Prepared struct {
	Clean      *hsi.Cube
	Normalised *hsi.Cube
	Normalize  string
}

// Prepare applies bad-band removal and normalisation as two steps so both
// views are available.
func Prepare(cube *hsi.Cube, opts hsi.PreprocessOptions) (*Prepared, error) {
	cleanOpts := opts
	cleanOpts.Normalize = hsi.NormalizeNone
	clean, err := hsi.Preprocess(cube, cleanOpts)
	if err != nil {
		return nil, fmt.Errorf("remove bad bands: %w", err)
	}
	if opts.Normalize == hsi.NormalizeNone || strings.EqualFold(opts.Normalize, "none") {
		return &Prepared{Clean: clean, Normalised: clean, Normalize: hsi.NormalizeNone}, nil
	}
	normalised, err := hsi.Preprocess(clean, hsi.PreprocessOptions{Normalize: opts.Normalize})
	if err != nil {
		return nil, fmt.Errorf("normalise: %w", err)
	}
	return &Prepared{Clean: clean, Normalised: normalised, Normalize: opts.Normalize}, nil
}

// ForModel picks the view a model was trained on, read from its "normalize"
// metadata. Models without the key see reflectance.
func (p *Prepared) ForModel(m *classify.Model) *hsi.Cube {
	if m.Metadata != nil && m.Metadata["normalize"] != "" && m.Metadata["normalize"] != "none" {
		return p.Normalised
	}
	return p.Clean
}

// Run analyses input according to cfg. Loading and preprocessing failures
// and cancellation are fatal; every other step that fails is logged and
// recorded in the run's Warnings.
func Run(ctx context.Context, cfg config.Pipeline, input string) (*models.AnalysisRun, error) {
	logger := utils.GetLogger()
	run := &models.AnalysisRun{
		ID:        utils.NewRunID(),
		Input:     input,
		StartedAt: time.Now(),
		Metadata:  map[string]string{},
	}
	r := &runner{ctx: ctx, cfg: cfg, run: run, logger: logger.With(slog.String("run", run.ID))}

	if err := r.load(); err != nil {
		return nil, err
	}
	if err := r.analyse(); err != nil {
		return nil, err
	}
	if err := r.classify(); err != nil {
		return nil, err
	}
	r.writeTables()

	run.FinishedAt = time.Now()
	run.DurationMs = float64(run.FinishedAt.Sub(run.StartedAt).Microseconds()) / 1000

	if cfg.Results.RunLog != "" {
		path := cfg.Results.RunLog
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.OutputDir, path)
		}
		if err := results.NewRunLog(path).Append(run); err != nil {
			r.logger.ErrorContext(ctx, "failed to append run log", slog.Any("error", xerrors.New(err)))
		}
	}

	r.logger.InfoContext(ctx, "analysis complete",
		slog.String("input", input),
		slog.Float64("duration_ms", run.DurationMs),
		slog.Int("artifacts", len(run.Artifacts)),
		slog.Int("warnings", len(run.Warnings)),
	)
	return run, nil
}

type runner struct {
	ctx    context.Context
	cfg    config.Pipeline
	run    *models.AnalysisRun
	logger *slog.Logger

	outDir   string
	cube     *Prepared
	mean     hsi.Spectrum
	smoothed []float64
	indices  map[string]hsi.Image
	pca      *spectral.PCAResult
	features []spectral.AbsorptionFeature
}

// warn records a failed optional step.
func (r *runner) warn(step string, err error) {
	r.logger.WarnContext(r.ctx, "pipeline step failed",
		slog.String("step", step),
		slog.Any("error", xerrors.New(err)),
	)
	r.run.Warn(step, err)
}

func (r *runner) checkCancelled() error {
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("pipeline cancelled: %w", err)
	}
	return nil
}

func (r *runner) load() error {
	input := r.run.Input
	format, err := hsi.ResolveFormat(input, r.cfg.Load.Format)
	if err != nil {
		return err
	}
	r.run.Format = format

	raw, err := hsi.LoadWithOptions(input, r.cfg.Load)
	if err != nil {
		return fmt.Errorf("load %s: %w", input, err)
	}
	r.logger.InfoContext(r.ctx, "loaded cube",
		slog.String("input", input),
		slog.String("format", format),
		slog.Int("rows", raw.Rows),
		slog.Int("cols", raw.Cols),
		slog.Int("bands", raw.Bands),
	)
	for k, v := range raw.Metadata {
		r.run.Metadata[k] = v
	}
	if err := r.checkCancelled(); err != nil {
		return err
	}

	r.cube, err = Prepare(raw, r.cfg.Preprocess)
	if err != nil {
		return fmt.Errorf("preprocess %s: %w", input, err)
	}
	clean := r.cube.Clean
	r.run.Rows, r.run.Cols, r.run.Bands = clean.Rows, clean.Cols, clean.Bands
	if len(clean.Wavelengths) > 0 {
		r.run.WavelengthMin = clean.Wavelengths[0]
		r.run.WavelengthMax = clean.Wavelengths[len(clean.Wavelengths)-1]
		r.run.Wavelengths = append([]float64(nil), clean.Wavelengths...)
	}
	if removed := clean.Metadata["removed bands"]; removed != "" {
		r.run.Preprocessing = append(r.run.Preprocessing, "removed bands "+removed)
	}
	if norm := r.cube.Normalised.Metadata["normalize"]; norm != "" {
		r.run.Preprocessing = append(r.run.Preprocessing, "normalize "+norm)
	}
	r.logger.InfoContext(r.ctx, "preprocessed cube",
		slog.Int("bands", clean.Bands),
		slog.Int("removed", raw.Bands-clean.Bands),
	)

	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	r.outDir = filepath.Join(r.cfg.OutputDir, stem)
	if err := utils.CreateFolder(r.outDir); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := r.cfg.Save(filepath.Join(r.outDir, "pipeline.yaml")); err != nil {
		r.warn("save config", err)
	}
	return nil
}

func (r *runner) analyse() error {
	clean := r.cube.Clean
	r.mean = clean.MeanSpectrum()
	r.mean.Label = "mean"
	r.run.MeanSpectrum = finiteOrZero(r.mean.Values)

	if r.cfg.Smoothing.Enabled {
		smoothed, err := spectral.SmoothSpectrum(r.mean.Values, r.cfg.Smoothing.Method, r.cfg.Smoothing.Options)
		if err != nil {
			r.warn("smoothing", err)
		} else {
			r.smoothed = smoothed
			r.run.Preprocessing = append(r.run.Preprocessing, "smoothing "+r.cfg.Smoothing.Method)
		}
	}

	if r.cfg.Absorption.Enabled {
		values := r.mean.Values
		if r.smoothed != nil {
			values = r.smoothed
		}
		features, err := spectral.DescribeAbsorptionFeatures(values, clean.Wavelengths, r.cfg.Absorption.Prominence)
		if err != nil {
			r.warn("absorption features", err)
		} else {
			r.features = features
			for _, f := range features {
				r.run.AbsorptionNm = append(r.run.AbsorptionNm, f.Wavelength)
			}
		}
	}
	if err := r.checkCancelled(); err != nil {
		return err
	}

	if r.cfg.Indices.Enabled {
		indices, err := spectral.CalculateSpectralIndices(clean, r.cfg.IndexDefinitions())
		if err != nil {
			r.warn("spectral indices", err)
		} else {
			r.indices = indices
			r.run.IndexStats = results.SummariseImages(indices)
		}
	}

	if len(r.cfg.Ratios) > 0 {
		ratios, err := spectral.CalculateBandRatios(clean, r.cfg.Ratios)
		if err != nil {
			r.warn("band ratios", err)
		} else {
			r.run.Ratios = results.SummariseImages(ratios)
		}
	}
	if err := r.checkCancelled(); err != nil {
		return err
	}

	if r.cfg.PCA.Components > 0 {
		res, _, err := spectral.CubePCA(r.cube.Normalised, r.cfg.PCA.Components)
		if err != nil {
			r.warn("pca", err)
		} else {
			r.pca = res
			r.run.ExplainedVar = res.ExplainedVarianceRatio
		}
	}

	if r.cfg.Plots.Enabled {
		r.plotAnalysis()
	}
	return r.checkCancelled()
}

func (r *runner) plotOptions(title string) plotting.Options {
	return plotting.Options{
		Title:  title,
		Width:  vg.Length(r.cfg.Plots.Width) * vg.Centimeter,
		Height: vg.Length(r.cfg.Plots.Height) * vg.Centimeter,
	}
}

// savePlot writes fig to <outDir>/<name>.<format>.
func (r *runner) savePlot(name string, fig *plotting.Figure, err error) {
	step := "plot " + name
	if err != nil {
		r.warn(step, err)
		return
	}
	path := filepath.Join(r.outDir, name+"."+r.cfg.Plots.Format)
	if err := fig.Save(path); err != nil {
		r.warn(step, err)
		return
	}
	r.run.AddArtifact(path)
}

func (r *runner) plotAnalysis() {
	clean := r.cube.Clean

	spectra := []hsi.Spectrum{r.mean}
	if r.smoothed != nil {
		spectra = append(spectra, hsi.Spectrum{Values: r.smoothed, Wavelengths: r.mean.Wavelengths, Label: "smoothed"})
	}
	fig, err := plotting.PlotSpectrumComparison(spectra, nil, r.plotOptions("Mean Spectrum"))
	r.savePlot("mean_spectrum", fig, err)

	fig, err = plotting.PlotRGBComposite(clean, plotting.RGBOptions{
		Options:    r.plotOptions("RGB Composite"),
		Bands:      r.cfg.Plots.RGBBands,
		Percentile: r.cfg.Plots.Percentile,
	})
	r.savePlot("rgb_composite", fig, err)

	if len(r.features) > 0 {
		idx := make([]int, len(r.features))
		for i, f := range r.features {
			idx[i] = f.Index
		}
		spec := r.mean
		if r.smoothed != nil {
			spec.Values = r.smoothed
		}
		fig, err = plotting.PlotAbsorptionFeatures(spec, idx, r.plotOptions(""))
		r.savePlot("absorption_features", fig, err)
	}

	if len(r.indices) > 0 {
		fig, err = plotting.PlotSpectralIndices(r.indices, plotting.Options{})
		r.savePlot("spectral_indices", fig, err)
	}

	if r.pca != nil {
		fig, err = plotting.PlotPCAComponents(r.pca.Components, clean.Wavelengths, len(r.pca.Components), r.plotOptions(""))
		r.savePlot("pca_components", fig, err)
	}
}

// cubeClassifier is satisfied by classify.Classifier and
// classify.SpectralAngleMapper.
type cubeClassifier interface {
	ClassifyCube(ctx context.Context, cube *hsi.Cube, minConfidence float64) (*classify.ClassMap, error)
}

// classifier loads the configured model, or matches the reference library
// directly when no model file is available but a library is. It returns the
// cube view the classifier expects.
func (r *runner) classifier() (cubeClassifier, *hsi.Cube, error) {
	cc := r.cfg.Classification
	if cc.ModelPath != "" {
		model, usingExample, err := classify.LoadModel(cc.ModelPath)
		if err == nil {
			c, err := model.Classifier()
			if err != nil {
				return nil, nil, err
			}
			r.run.ModelPath = cc.ModelPath
			if usingExample {
				r.run.ModelPath = classify.ExamplePath(cc.ModelPath)
			}
			return c, r.cube.ForModel(model), nil
		}
		if cc.LibraryPath == "" {
			return nil, nil, err
		}
		r.logger.WarnContext(r.ctx, "model unavailable, matching reference library",
			slog.String("model", cc.ModelPath),
			slog.String("library", cc.LibraryPath),
		)
	}

	entries, err := hsi.LoadReferenceLibrary(cc.LibraryPath)
	if err != nil {
		return nil, nil, err
	}
	mapper, err := classify.NewSpectralAngleMapper(entries, r.cube.Clean.Wavelengths, cc.MaxAngle)
	if err != nil {
		return nil, nil, err
	}
	r.run.ModelPath = cc.LibraryPath
	return mapper, r.cube.Clean, nil
}

func (r *runner) classify() error {
	if !r.cfg.Classification.Enabled {
		return nil
	}
	c, view, err := r.classifier()
	if err != nil {
		r.warn("classification", err)
		return nil
	}

	classMap, err := c.ClassifyCube(r.ctx, view, r.cfg.Classification.MinConfidence)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.warn("classification", err)
		return nil
	}
	r.run.ClassCounts = classMap.Counts
	r.run.MeanConfidence = meanFinite(classMap.Confidence.Data)
	r.logger.InfoContext(r.ctx, "classified cube",
		slog.Int("classes", len(classMap.Labels)),
		slog.Float64("mean_confidence", r.run.MeanConfidence),
	)

	if r.cfg.Results.CSV {
		path := filepath.Join(r.outDir, "class_counts.csv")
		if err := results.WriteClassCounts(path, classMap.Counts); err != nil {
			r.warn("class counts table", err)
		} else {
			r.run.AddArtifact(path)
		}
	}
	if r.cfg.Plots.Enabled {
		fig, err := plotting.PlotImage(classMap.Image(), r.plotOptions("Mineral Map"))
		r.savePlot("class_map", fig, err)
		fig, err = plotting.PlotImage(classMap.Confidence, r.plotOptions("Classification Confidence"))
		r.savePlot("class_confidence", fig, err)
	}
	return nil
}

func (r *runner) writeTables() {
	if !r.cfg.Results.CSV {
		return
	}
	if stats := append(append([]models.IndexStat(nil), r.run.IndexStats...), r.run.Ratios...); len(stats) > 0 {
		path := filepath.Join(r.outDir, "index_stats.csv")
		if err := results.WriteIndexStats(path, stats); err != nil {
			r.warn("index table", err)
		} else {
			r.run.AddArtifact(path)
		}
	}

	spectra := []hsi.Spectrum{{Values: r.run.MeanSpectrum, Wavelengths: r.mean.Wavelengths, Label: "mean"}}
	if r.smoothed != nil {
		spectra = append(spectra, hsi.Spectrum{Values: finiteOrZero(r.smoothed), Wavelengths: r.mean.Wavelengths, Label: "smoothed"})
	}
	path := filepath.Join(r.outDir, "spectra.csv")
	if err := results.WriteSpectra(path, spectra); err != nil {
		r.warn("spectra table", err)
	} else {
		r.run.AddArtifact(path)
	}
	sort.Strings(r.run.Artifacts)
}

func finiteOrZero(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[i] = v
		}
	}
	return out
}

func meanFinite(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
