package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hsi-cores/hsi"
	"hsi-cores/spectral"
	"hsi-cores/utils"
)

// ModelVersion is bumped whenever the artifact layout changes.
const ModelVersion = 1

// Model kinds.
const (
	KindKNN      = "knn"
	KindCentroid = "centroid"
)

// Feature scalers applied before L2 normalisation. SAM models compare raw
// spectra and ignore the scaler.
const (
	ScalerZScore = "zscore"
	ScalerMinMax = "minmax"
	ScalerNone   = "none"
)

// Distance metrics.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
	MetricSAM       = "sam"
)

var ErrEmptyTrainingSet = errors.New("classify: empty training set")

// Model is the persisted classifier artifact. Prototypes keep their raw
// (unscaled) features; the scaler is rebuilt from them on load.
type Model struct {
	Version     int                     `json:"version"`
	Kind        string                  `json:"kind"`
	Metric      string                  `json:"metric"`
	K           int                     `json:"k"`
	Scaler      string                  `json:"scaler,omitempty"` // "" means zscore
	CreatedAt   time.Time               `json:"createdAt"`
	Wavelengths []float64               `json:"wavelengths,omitempty"`
	Features    spectral.FeatureOptions `json:"features"`
	Labels      []string                `json:"labels"`
	Prototypes  []Prototype             `json:"prototypes"`
	Metadata    map[string]string       `json:"metadata,omitempty"`

	once       sync.Once
	classifier *Classifier
	initErr    error
}

// TrainOptions controls Train.
type TrainOptions struct {
	Kind                  string
	Metric                string
	K                     int
	Scaler                string
	Wavelengths           []float64
	Features              spectral.FeatureOptions
	Categories            map[string]string // label -> category
	MaxPrototypesPerClass int
	Seed                  int64
}

// DefaultTrainOptions is a 5-neighbour cosine KNN capped at 200 prototypes per class.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{Kind: KindKNN, Metric: MetricCosine, K: 5, MaxPrototypesPerClass: 200, Seed: 1}
}

// LabelName maps a class id to its name; ids without a name become class_<id>.
func LabelName(id int, labels []string) string {
	if id >= 0 && id < len(labels) && labels[id] != "" {
		return labels[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Train fits a model from feature rows X and class ids y. labels names the
// ids (see LabelName).
func Train(X [][]float64, y []int, labels []string, opts TrainOptions) (*Model, error) {
	if len(X) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", hsi.ErrShapeMismatch, len(X), len(y))
	}
	dims := len(X[0])
	for i, row := range X {
		if len(row) != dims || dims == 0 {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", hsi.ErrShapeMismatch, i, len(row), dims)
		}
	}
	if opts.Kind == "" {
		opts.Kind = KindKNN
	}
	if opts.Metric == "" {
		opts.Metric = MetricCosine
	}
	if err := validateKindMetric(opts.Kind, opts.Metric); err != nil {
		return nil, err
	}
	if err := validateScaler(opts.Scaler); err != nil {
		return nil, err
	}
	if opts.K <= 0 {
		opts.K = 5
	}

	byClass := map[int][]int{}
	for i, id := range y {
		byClass[id] = append(byClass[id], i)
	}
	ids := make([]int, 0, len(byClass))
	for id := range byClass {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	rng := rand.New(rand.NewSource(opts.Seed))
	var prototypes []Prototype
	for _, id := range ids {
		label := LabelName(id, labels)
		category := opts.Categories[label]
		rows := byClass[id]

		if opts.Kind == KindCentroid {
			centroid := make([]float64, dims)
			for _, r := range rows {
				for j, v := range X[r] {
					centroid[j] += v
				}
			}
			for j := range centroid {
				centroid[j] /= float64(len(rows))
			}
			prototypes = append(prototypes, Prototype{
				ID:       buildPrototypeID(label),
				Label:    label,
				Category: category,
				Source:   fmt.Sprintf("centroid of %d samples", len(rows)),
				Features: centroid,
			})
			continue
		}

		if opts.MaxPrototypesPerClass > 0 && len(rows) > opts.MaxPrototypesPerClass {
			rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })
			rows = rows[:opts.MaxPrototypesPerClass]
			sort.Ints(rows)
		}
		for _, r := range rows {
			prototypes = append(prototypes, Prototype{
				ID:       buildPrototypeID(label),
				Label:    label,
				Category: category,
				Source:   fmt.Sprintf("sample %d", r),
				Features: append([]float64(nil), X[r]...),
			})
		}
	}

	k := opts.K
	if opts.Kind == KindCentroid {
		k = 1
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, LabelName(id, labels))
	}

	return &Model{
		Version:     ModelVersion,
		Kind:        opts.Kind,
		Metric:      opts.Metric,
		K:           k,
		Scaler:      opts.Scaler,
		CreatedAt:   time.Now().UTC(),
		Wavelengths: append([]float64(nil), opts.Wavelengths...),
		Features:    opts.Features,
		Labels:      names,
		Prototypes:  prototypes,
		Metadata:    map[string]string{"trainingSamples": fmt.Sprint(len(X))},
	}, nil
}

// TrainFromLibrary turns every library entry into a prototype. Entries are
// resampled onto wavelengths when given.
func TrainFromLibrary(entries []hsi.LibraryEntry, opts TrainOptions) (*Model, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(opts.Wavelengths) > 0 {
		aligned, err := hsi.AlignLibrary(entries, opts.Wavelengths)
		if err != nil {
			return nil, err
		}
		entries = aligned
	} else {
		opts.Wavelengths = entries[0].Wavelengths
	}

	// Train emits prototypes grouped by sorted label; match that order so
	// entry metadata can be carried across by position.
	entries = append([]hsi.LibraryEntry(nil), entries...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })

	labels := hsi.LibraryLabels(entries)
	ids := make(map[string]int, len(labels))
	for i, l := range labels {
		ids[l] = i
	}
	if opts.Categories == nil {
		opts.Categories = map[string]string{}
	}

	X := make([][]float64, 0, len(entries))
	y := make([]int, 0, len(entries))
	for _, e := range entries {
		spec := e.Spectrum()
		if len(spec.Wavelengths) == 0 {
			spec.Wavelengths = opts.Wavelengths
		}
		features, err := spectral.ExtractFeatureVector(spec, opts.Features)
		if err != nil {
			return nil, fmt.Errorf("library entry %q: %w", e.Label, err)
		}
		X = append(X, features)
		y = append(y, ids[e.Label])
		if e.Category != "" {
			if _, ok := opts.Categories[e.Label]; !ok {
				opts.Categories[e.Label] = e.Category
			}
		}
	}

	model, err := Train(X, y, labels, opts)
	if err != nil {
		return nil, err
	}

	// Carry entry metadata onto the prototypes of library-trained KNN models.
	if model.Kind == KindKNN && len(model.Prototypes) == len(entries) {
		for i := range model.Prototypes {
			model.Prototypes[i].Source = entries[i].Source
			model.Prototypes[i].Metadata = copyMetadata(entries[i].Metadata)
		}
	}
	model.Metadata["source"] = "library"
	return model, nil
}

// FeatureMatrix converts raw spectra rows into classifier features.
func FeatureMatrix(rows [][]float64, wavelengths []float64, opts spectral.FeatureOptions) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		features, err := spectral.ExtractFeatureVector(hsi.Spectrum{Values: row, Wavelengths: wavelengths}, opts)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = features
	}
	return out, nil
}

// Save writes the model as indented JSON through a temp file and rename.
func (m *Model) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// ExamplePath maps "model.json" to "model.example.json".
func ExamplePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".example" + ext
}

// LoadModel reads a model artifact, falling back to the example file next to
// path. usingExample reports whether the fallback was used.
func LoadModel(path string) (model *Model, usingExample bool, err error) {
	resolvedPath := filepath.Clean(path)
	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		fallbackPath := ExamplePath(resolvedPath)
		data, err = os.ReadFile(fallbackPath)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load model (%s): %w", resolvedPath, err)
		}
		utils.GetLogger().Warn("falling back to example model", "path", fallbackPath)
		usingExample = true
	}

	model = &Model{}
	if err := json.Unmarshal(data, model); err != nil {
		return nil, false, fmt.Errorf("unable to parse model: %w", err)
	}
	if model.Version > ModelVersion {
		return nil, false, fmt.Errorf("model version %d is newer than supported version %d", model.Version, ModelVersion)
	}
	if model.Kind == "" {
		model.Kind = KindKNN
	}
	if model.Metric == "" {
		model.Metric = MetricCosine
	}
	if err := validateKindMetric(model.Kind, model.Metric); err != nil {
		return nil, false, err
	}
	return model, usingExample, nil
}

// Classifier returns the inference view of the model, built once.
func (m *Model) Classifier() (*Classifier, error) {
	m.once.Do(func() {
		m.classifier, m.initErr = NewClassifier(m, 0)
	})
	return m.classifier, m.initErr
}

// Predict classifies one feature vector.
func (m *Model) Predict(features []float64) ([]Prediction, error) {
	c, err := m.Classifier()
	if err != nil {
		return nil, err
	}
	return c.Predict(features)
}

// PredictSpectrum extracts features from a spectrum and classifies them.
func (m *Model) PredictSpectrum(spec hsi.Spectrum) ([]Prediction, []float64, error) {
	c, err := m.Classifier()
	if err != nil {
		return nil, nil, err
	}
	return c.PredictSpectrum(spec)
}

func validateKindMetric(kind, metric string) error {
	switch kind {
	case KindKNN, KindCentroid:
	default:
		return fmt.Errorf("unknown model kind %q", kind)
	}
	switch metric {
	case MetricCosine, MetricEuclidean, MetricSAM:
	default:
		return fmt.Errorf("unknown distance metric %q", metric)
	}
	return nil
}

func validateScaler(scaler string) error {
	switch scaler {
	case "", ScalerZScore, ScalerMinMax, ScalerNone:
		return nil
	}
	return fmt.Errorf("unknown feature scaler %q", scaler)
}

// NearestCentroid fits one mean prototype per class.
func NearestCentroid(X [][]float64, y []int, labels []string, metric string) (*Model, error) {
	opts := DefaultTrainOptions()
	opts.Kind = KindCentroid
	if metric != "" {
		opts.Metric = metric
	}
	return Train(X, y, labels, opts)
}
