package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hsi-cores/assistant"
	"hsi-cores/classify"
	"hsi-cores/db"
	"hsi-cores/hsi"
	"hsi-cores/models"
	"hsi-cores/remotemodel"
	"hsi-cores/results"
	"hsi-cores/spectral"
	"hsi-cores/utils"

	"github.com/mdobak/go-xerrors"
)

var errEmptySpectrum = errors.New("no spectrum values received")

// classificationResponse is the classify endpoint and socket payload.
type classificationResponse struct {
	classify.ClassificationSummary
	SampleID       string   `json:"sampleId,omitempty"`
	Depth          *float64 `json:"depth,omitempty"`
	Interpretation string   `json:"interpretation,omitempty"`
}

// analysisService holds the shared state behind the HTTP and socket
// handlers. Optional collaborators are nil when not configured.
type analysisService struct {
	classifier *classify.Classifier
	store      db.DBClient
	runLog     *results.RunLog
	remote     *remotemodel.Client
	generator  assistant.Generator
	threshold  float64
	maxAngle   float64
	uploadDir  string

	matcherMu sync.RWMutex
	matcher   *classify.SpectralAngleMapper
}

func (s *analysisService) libraryMatcher() *classify.SpectralAngleMapper {
	s.matcherMu.RLock()
	defer s.matcherMu.RUnlock()
	return s.matcher
}

// reloadMatcher rebuilds the spectral angle mapper from the stored library.
func (s *analysisService) reloadMatcher() error {
	if s.store == nil {
		return nil
	}
	entries, err := s.store.GetLibrary()
	if err != nil {
		return err
	}
	var matcher *classify.SpectralAngleMapper
	if len(entries) > 0 {
		matcher, err = classify.NewSpectralAngleMapper(entries, s.classifier.Wavelengths(), s.maxAngle)
		if err != nil {
			return err
		}
	}
	s.matcherMu.Lock()
	s.matcher = matcher
	s.matcherMu.Unlock()
	return nil
}

// classifySpectrum runs the local model, the reference library and the
// remote model (when configured) over one spectrum.
func (s *analysisService) classifySpectrum(ctx context.Context, req models.SpectrumRequest) (classificationResponse, error) {
	logger := utils.GetLogger()
	if len(req.Values) == 0 {
		return classificationResponse{}, errEmptySpectrum
	}
	if len(req.Wavelengths) != 0 && len(req.Wavelengths) != len(req.Values) {
		return classificationResponse{}, fmt.Errorf("%w: %d values for %d wavelengths",
			hsi.ErrShapeMismatch, len(req.Values), len(req.Wavelengths))
	}

	started := time.Now()
	spec := hsi.Spectrum{Values: req.Values, Wavelengths: req.Wavelengths, Label: req.Label}

	predictions, features, err := s.classifier.PredictSpectrum(spec)
	if err != nil {
		return classificationResponse{}, fmt.Errorf("classifier: %w", err)
	}
	summary := classify.ClassificationSummary{
		FeatureVector: features,
		Threshold:     s.threshold,
		Source:        "knn",
	}

	if matcher := s.libraryMatcher(); matcher != nil {
		matches, err := matcher.Predict(spec)
		if err != nil {
			logger.WarnContext(ctx, "library matching failed", slog.Any("error", xerrors.New(err)))
		} else if len(matches) > 0 {
			summary.LibraryMatches = matches
			predictions = classify.MergePredictions(predictions, matches)
		}
	}

	if s.remote != nil {
		remote, err := s.remote.Predict(ctx, features, s.classifier.Wavelengths())
		if err != nil {
			logger.WarnContext(ctx, "remote model failed, using local predictions", slog.Any("error", xerrors.New(err)))
		} else {
			summary.RemotePredictions = remote
			predictions = classify.MergePredictions(predictions, remote)
		}
	}

	if req.TopK > 0 && len(predictions) > req.TopK {
		predictions = predictions[:req.TopK]
	}
	summary.Predictions = predictions
	summary.Confident = classify.DetermineConfident(predictions, s.threshold)
	if len(predictions) > 0 {
		summary.PrimaryLabel = predictions[0].Label
		if src := predictions[0].Metadata["source"]; src != "" {
			summary.Source = src
		}
	}
	summary.LatencyMs = time.Since(started).Seconds() * 1000

	resp := classificationResponse{ClassificationSummary: summary, SampleID: req.SampleID, Depth: req.Depth}
	if req.Interpret && s.generator != nil {
		text, err := assistant.InterpretClassification(ctx, s.generator, summary, req.SampleID)
		if err != nil {
			logger.WarnContext(ctx, "interpretation failed", slog.Any("error", xerrors.New(err)))
		} else {
			resp.Interpretation = text
		}
	}
	return resp, nil
}

// addLibraryEntries stores entries, extends the classifier with one
// prototype per entry and refreshes the matcher.
func (s *analysisService) addLibraryEntries(ctx context.Context, entries []hsi.LibraryEntry) ([]classify.Prototype, error) {
	logger := utils.GetLogger()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = utils.NewRunID()
		}
	}
	prototypes, err := classify.BuildPrototypesFromLibrary(s.classifier, entries)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.StoreLibraryEntries(entries); err != nil {
			return nil, fmt.Errorf("store library: %w", err)
		}
	}
	var added []classify.Prototype
	for _, proto := range prototypes {
		stored, err := s.classifier.AddPrototype(proto)
		if err != nil {
			logger.ErrorContext(ctx, "failed to register prototype",
				slog.String("label", proto.Label),
				slog.Any("error", xerrors.New(err)),
			)
			continue
		}
		added = append(added, stored)
	}

	if len(added) > 0 {
		if err := s.classifier.SaveModel(); err != nil {
			logger.ErrorContext(ctx, "failed to save model to disk", slog.Any("error", xerrors.New(err)))
		} else {
			logger.InfoContext(ctx, "persisted model to disk", slog.Int("count", len(added)))
		}
	}
	if err := s.reloadMatcher(); err != nil {
		logger.ErrorContext(ctx, "failed to rebuild library matcher", slog.Any("error", xerrors.New(err)))
	}
	return added, nil
}

// library lists stored entries, optionally filtered by label.
func (s *analysisService) library(label string) ([]hsi.LibraryEntry, error) {
	if s.store == nil {
		return []hsi.LibraryEntry{}, nil
	}
	entries, err := s.store.GetLibrary()
	if err != nil {
		return nil, err
	}
	if label == "" {
		return entries, nil
	}
	filtered := entries[:0]
	for _, e := range entries {
		if strings.EqualFold(e.Label, label) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// runs prefers the database and falls back to the JSON run log.
func (s *analysisService) runs(limit int) ([]models.AnalysisRun, error) {
	if s.store != nil {
		return s.store.GetRuns(limit)
	}
	if s.runLog != nil {
		return s.runLog.Recent(limit)
	}
	return []models.AnalysisRun{}, nil
}

func (s *analysisService) findRun(id string) (models.AnalysisRun, bool, error) {
	runs, err := s.runs(0)
	if err != nil {
		return models.AnalysisRun{}, false, err
	}
	for _, run := range runs {
		if run.ID == id {
			return run, true, nil
		}
	}
	return models.AnalysisRun{}, false, nil
}

func (s *analysisService) modelInfo() modelInfoResponse {
	opts := s.classifier.FeatureOptions()
	wavelengths := s.classifier.Wavelengths()
	info := modelInfoResponse{
		ModelStats:  s.classifier.Stats(),
		Wavelengths: wavelengths,
		Options: spectralFeatureSettings{
			Smooth:           opts.Smooth,
			ContinuumRemoved: opts.ContinuumRemoved,
			Indices:          len(opts.Indices),
		},
		Threshold: s.threshold,
		Library:   s.libraryMatcher().ReferenceCount(),
		Remote:    s.remote != nil,
		Assistant: s.generator != nil,
	}
	if len(wavelengths) > 0 {
		info.Features = spectral.FeatureNames(wavelengths, opts)
	}
	return info
}
