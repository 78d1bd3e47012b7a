package classify

// K-nearest prototype classifier for spectra
//
// Prototypes are labelled feature vectors (reference spectra or training
// pixels after ExtractFeatureVector).
//
// 1. Scaling: a z-score FeatureScaler is computed from the raw prototypes and
//    every prototype is standardised and L2 normalised. The sam metric works
//    on raw features because the spectral angle is already scale invariant.
//
// 2. Distance: cosine (1 - similarity), euclidean, or sam (angle in radians).
//
// 3. Aggregation: the k nearest prototypes vote with weight 1/(d+1e-9).
//    Confidence is the label's share of the total weight; average distance,
//    support and the contributing prototypes are reported per label.
//
// 4. Decision: DetermineConfident accepts the top prediction when it reaches
//    the threshold and is not in the unclassified or background category.

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"hsi-cores/hsi"
	"hsi-cores/spectral"
	"hsi-cores/utils"

	"gonum.org/v1/gonum/floats"
)

// Classifier performs k-nearest prototype lookups in the feature space.
type Classifier struct {
	mu            sync.RWMutex
	raw           []Prototype
	prototypes    []Prototype
	k             int
	kind          string
	metric        string
	wavelengths   []float64
	features      spectral.FeatureOptions
	modelMeta     map[string]string
	usingExample  bool
	modelPath     string
	labelCategory map[string]string
	labelMetadata map[string]map[string]string
	scaler        string
	createdAt     time.Time
	featureScaler featureTransformer
}

// featureTransformer is satisfied by FeatureScaler and MinMaxScaler.
type featureTransformer interface {
	Transform(features []float64) []float64
}

// prototypeView is a consistent copy of the prototype set taken under the
// read lock, so one view can serve many predictions.
type prototypeView struct {
	k             int
	prototypes    []Prototype
	labelCategory map[string]string
	labelMetadata map[string]map[string]string
	usingExample  bool
}

// labels returns the sorted distinct prototype labels.
func (v prototypeView) labels() []string {
	seen := map[string]bool{}
	var labels []string
	for _, proto := range v.prototypes {
		if !seen[proto.Label] {
			seen[proto.Label] = true
			labels = append(labels, proto.Label)
		}
	}
	sort.Strings(labels)
	return labels
}

type distancePair struct {
	index    int
	distance float64
}

// NewClassifier builds the inference view of a model. k <= 0 keeps the
// model's own neighbour count.
func NewClassifier(model *Model, k int) (*Classifier, error) {
	if model == nil {
		return nil, errors.New("model is nil")
	}
	if k <= 0 {
		k = model.K
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}
	metric := model.Metric
	if metric == "" {
		metric = MetricCosine
	}
	kind := model.Kind
	if kind == "" {
		kind = KindKNN
	}
	if err := validateKindMetric(kind, metric); err != nil {
		return nil, err
	}
	if err := validateScaler(model.Scaler); err != nil {
		return nil, err
	}

	logger := utils.GetLogger()
	raw := make([]Prototype, len(model.Prototypes))
	labelCategory := make(map[string]string)
	labelMetadata := make(map[string]map[string]string)
	dims := 0
	for idx, proto := range model.Prototypes {
		if len(proto.Features) == 0 {
			return nil, fmt.Errorf("prototype %s has no features", proto.ID)
		}
		if proto.Label == "" {
			return nil, fmt.Errorf("prototype %s missing label", proto.ID)
		}
		if dims == 0 {
			dims = len(proto.Features)
		} else if len(proto.Features) != dims {
			return nil, fmt.Errorf("prototype %s has %d features, expected %d (model must be retrained)",
				proto.ID, len(proto.Features), dims)
		}
		raw[idx] = clonePrototype(proto)
		if _, ok := labelCategory[proto.Label]; !ok {
			labelCategory[proto.Label] = proto.Category
		}
		if _, ok := labelMetadata[proto.Label]; !ok {
			labelMetadata[proto.Label] = map[string]string{}
		}
		for key, value := range proto.Metadata {
			labelMetadata[proto.Label][key] = value
		}
		if proto.Description != "" {
			if _, ok := labelMetadata[proto.Label]["description"]; !ok {
				labelMetadata[proto.Label]["description"] = proto.Description
			}
		}
	}

	c := &Classifier{
		raw:           raw,
		k:             k,
		kind:          kind,
		metric:        metric,
		scaler:        model.Scaler,
		createdAt:     model.CreatedAt,
		wavelengths:   append([]float64(nil), model.Wavelengths...),
		features:      model.Features,
		modelMeta:     copyMetadata(model.Metadata),
		labelCategory: labelCategory,
		labelMetadata: labelMetadata,
	}

	if len(raw) == 0 {
		logger.Warn("no prototypes loaded; classifier will start empty")
		return c, nil
	}

	if metric != MetricSAM {
		scaler, err := newFeatureTransformer(model.Scaler, raw)
		if err != nil {
			logger.Warn("failed to create feature scaler, using raw features", "error", err)
		} else {
			c.featureScaler = scaler
		}
	}
	c.prototypes = make([]Prototype, len(raw))
	for idx, proto := range raw {
		working := clonePrototype(proto)
		working.Features = c.prepare(proto.Features)
		c.prototypes[idx] = working
	}
	return c, nil
}

// NewClassifierFromFile loads a model artifact (with the example fallback)
// and remembers the path for SaveModel.
func NewClassifierFromFile(path string, k int) (*Classifier, error) {
	model, usingExample, err := LoadModel(path)
	if err != nil {
		return nil, err
	}
	c, err := NewClassifier(model, k)
	if err != nil {
		return nil, err
	}
	c.usingExample = usingExample
	c.modelPath = path
	return c, nil
}

func newFeatureTransformer(scaler string, prototypes []Prototype) (featureTransformer, error) {
	switch scaler {
	case ScalerNone:
		return nil, nil
	case ScalerMinMax:
		return NewMinMaxScalerFromPrototypes(prototypes)
	default:
		return NewFeatureScalerFromPrototypes(prototypes)
	}
}

// prepare maps raw features into the space prototypes are compared in.
func (c *Classifier) prepare(features []float64) []float64 {
	out := append([]float64(nil), features...)
	if c.metric == MetricSAM {
		return out
	}
	if c.featureScaler != nil {
		out = c.featureScaler.Transform(out)
	}
	NormaliseVectorInPlace(out)
	return out
}

func (c *Classifier) snapshot() prototypeView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prototypes := make([]Prototype, len(c.prototypes))
	for idx, proto := range c.prototypes {
		prototypes[idx] = clonePrototype(proto)
	}

	labelCategory := make(map[string]string, len(c.labelCategory))
	for label, category := range c.labelCategory {
		labelCategory[label] = category
	}

	labelMetadata := make(map[string]map[string]string, len(c.labelMetadata))
	for label, meta := range c.labelMetadata {
		if meta == nil {
			continue
		}
		labelMetadata[label] = copyMetadata(meta)
	}

	return prototypeView{
		k:             c.k,
		prototypes:    prototypes,
		labelCategory: labelCategory,
		labelMetadata: labelMetadata,
		usingExample:  c.usingExample,
	}
}

// AddPrototype appends a raw-feature prototype. The scaler is not refitted;
// the prototype is mapped with the existing one.
func (c *Classifier) AddPrototype(proto Prototype) (Prototype, error) {
	if len(proto.Features) == 0 {
		return Prototype{}, errors.New("prototype has no features")
	}
	if proto.Label == "" {
		return Prototype{}, errors.New("prototype missing label")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.raw) > 0 && len(c.raw[0].Features) != len(proto.Features) {
		return Prototype{}, fmt.Errorf("%w: prototype has %d features, model uses %d",
			hsi.ErrShapeMismatch, len(proto.Features), len(c.raw[0].Features))
	}
	if proto.ID == "" {
		proto.ID = buildPrototypeID(proto.Label)
	}

	metadataCopy := copyMetadata(proto.Metadata)
	if metadataCopy == nil {
		metadataCopy = map[string]string{}
	}
	if proto.Description != "" {
		if _, ok := metadataCopy["description"]; !ok {
			metadataCopy["description"] = proto.Description
		}
	}
	proto.Metadata = metadataCopy

	stored := clonePrototype(proto)
	c.raw = append(c.raw, stored)

	working := clonePrototype(proto)
	working.Features = c.prepare(proto.Features)
	c.prototypes = append(c.prototypes, working)

	if proto.Category != "" {
		c.labelCategory[proto.Label] = proto.Category
	} else if _, ok := c.labelCategory[proto.Label]; !ok {
		c.labelCategory[proto.Label] = ""
	}
	if _, ok := c.labelMetadata[proto.Label]; !ok {
		c.labelMetadata[proto.Label] = map[string]string{}
	}
	for key, value := range proto.Metadata {
		c.labelMetadata[proto.Label][key] = value
	}
	// once custom prototypes are added, mark underlying set as bespoke
	c.usingExample = false

	return stored, nil
}

// Model rebuilds the artifact from the raw prototypes, including any added
// at runtime.
func (c *Classifier) Model() *Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prototypes := make([]Prototype, len(c.raw))
	labels := make([]string, 0, len(c.labelCategory))
	for idx, proto := range c.raw {
		prototypes[idx] = clonePrototype(proto)
	}
	for label := range c.labelCategory {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	return &Model{
		Version:     ModelVersion,
		Kind:        c.kind,
		Metric:      c.metric,
		K:           c.k,
		Scaler:      c.scaler,
		CreatedAt:   c.createdAt,
		Wavelengths: append([]float64(nil), c.wavelengths...),
		Features:    c.features,
		Labels:      labels,
		Prototypes:  prototypes,
		Metadata:    copyMetadata(c.modelMeta),
	}
}

// SaveModel persists the current prototypes to the model file so uploads
// survive restarts.
func (c *Classifier) SaveModel() error {
	if c.modelPath == "" {
		return errors.New("model path not set")
	}
	if err := c.Model().Save(c.modelPath); err != nil {
		return err
	}

	c.mu.Lock()
	c.usingExample = false
	c.mu.Unlock()
	return nil
}

// Wavelengths returns the grid the model was trained on.
func (c *Classifier) Wavelengths() []float64 {
	return append([]float64(nil), c.wavelengths...)
}

// FeatureOptions returns the feature extraction settings of the model.
func (c *Classifier) FeatureOptions() spectral.FeatureOptions {
	return c.features
}

// Stats returns summary metadata about the loaded prototype set.
func (c *Classifier) Stats() ModelStats {
	view := c.snapshot()
	prototypes, labelCategory := view.prototypes, view.labelCategory

	labelBuckets := make(map[string]int)
	for _, proto := range prototypes {
		labelBuckets[proto.Label]++
	}

	labels := make([]ModelLabelStat, 0, len(labelBuckets))
	for label, count := range labelBuckets {
		labels = append(labels, ModelLabelStat{
			Label:      label,
			Category:   labelCategory[label],
			Prototypes: count,
		})
	}
	// keep labels sorted for deterministic responses
	sort.Slice(labels, func(i, j int) bool { return labels[i].Label < labels[j].Label })

	bands := 0
	if len(prototypes) > 0 {
		bands = len(prototypes[0].Features)
	}

	return ModelStats{
		Kind:           c.kind,
		Metric:         c.metric,
		K:              view.k,
		Bands:          bands,
		PrototypeCount: len(prototypes),
		LabelCount:     len(labelBuckets),
		Labels:         labels,
		UsingExample:   view.usingExample,
	}
}

// Stats summarises the model's prototypes.
func (m *Model) Stats() ModelStats {
	c, err := m.Classifier()
	if err != nil {
		return ModelStats{Kind: m.Kind, Metric: m.Metric, K: m.K}
	}
	return c.Stats()
}

// Predict finds the best prototype matches for a raw feature vector.
func (c *Classifier) Predict(features []float64) ([]Prediction, error) {
	return c.predictWith(c.snapshot(), features)
}

func (c *Classifier) predictWith(view prototypeView, features []float64) ([]Prediction, error) {
	if len(features) == 0 {
		return nil, errors.New("feature vector is empty")
	}

	c.mu.RLock()
	query := c.prepare(features)
	c.mu.RUnlock()

	k, prototypes := view.k, view.prototypes
	labelCategory, labelMetadata := view.labelCategory, view.labelMetadata
	if len(prototypes) == 0 {
		return []Prediction{}, nil
	}
	if len(query) != len(prototypes[0].Features) {
		return nil, fmt.Errorf("%w: feature vector has %d entries, model uses %d",
			hsi.ErrShapeMismatch, len(query), len(prototypes[0].Features))
	}
	if len(prototypes) < k {
		k = max(1, len(prototypes))
	}

	distances := make([]distancePair, len(prototypes))
	for i := range prototypes {
		distances[i] = distancePair{index: i, distance: c.distance(query, prototypes[i].Features)}
	}
	sort.SliceStable(distances, func(i, j int) bool {
		return distances[i].distance < distances[j].distance
	})

	labelScores := make(map[string]struct {
		weightSum  float64
		distSum    float64
		count      int
		prototypes []PrototypeScore
	})

	var totalWeight float64
	for idx := 0; idx < len(distances) && idx < k; idx++ {
		neighbor := distances[idx]
		weight := 1.0 / (neighbor.distance + 1e-9)

		proto := prototypes[neighbor.index]
		stats := labelScores[proto.Label]
		stats.weightSum += weight
		stats.distSum += neighbor.distance
		stats.count++
		stats.prototypes = append(stats.prototypes, PrototypeScore{
			ID:       proto.ID,
			Distance: neighbor.distance,
			Weight:   weight,
			Source:   proto.Source,
		})
		labelScores[proto.Label] = stats
		totalWeight += weight
	}

	if totalWeight == 0 {
		return []Prediction{}, nil
	}

	predictions := make([]Prediction, 0, len(labelScores))
	for label, stats := range labelScores {
		predictions = append(predictions, newPrediction(label, labelCategory[label], labelMetadata[label],
			stats.weightSum/totalWeight, stats.distSum/float64(stats.count), stats.count, stats.prototypes))
	}
	sortPredictions(predictions)
	return predictions, nil
}

// PredictSpectrum resamples the spectrum onto the model grid when both carry
// wavelengths, extracts features and classifies them. The feature vector is
// returned alongside the predictions.
func (c *Classifier) PredictSpectrum(spec hsi.Spectrum) ([]Prediction, []float64, error) {
	aligned, err := c.alignSpectrum(spec)
	if err != nil {
		return nil, nil, err
	}
	features, err := spectral.ExtractFeatureVector(aligned, c.features)
	if err != nil {
		return nil, nil, fmt.Errorf("extract features: %w", err)
	}
	predictions, err := c.Predict(features)
	if err != nil {
		return nil, nil, err
	}
	return predictions, features, nil
}

func (c *Classifier) alignSpectrum(spec hsi.Spectrum) (hsi.Spectrum, error) {
	if len(c.wavelengths) == 0 || len(spec.Wavelengths) == 0 || floats.Equal(spec.Wavelengths, c.wavelengths) {
		if len(spec.Wavelengths) == 0 && len(c.wavelengths) == len(spec.Values) {
			spec.Wavelengths = c.wavelengths
		}
		return spec, nil
	}
	values, err := hsi.ResampleSpectrum(spec.Values, spec.Wavelengths, c.wavelengths)
	if err != nil {
		return hsi.Spectrum{}, fmt.Errorf("align spectrum to model grid: %w", err)
	}
	spec.Values = values
	spec.Wavelengths = c.wavelengths
	return spec, nil
}

func (c *Classifier) distance(a, b []float64) float64 {
	switch c.metric {
	case MetricEuclidean:
		return floats.Distance(a, b, 2)
	case MetricSAM:
		angle, err := spectral.SpectralAngle(a, b)
		if err != nil {
			return math.Pi
		}
		return angle
	default:
		// Cosine similarity is in [-1, 1]; 1 - similarity is 0 for identical directions.
		return 1 - cosineSimilarity(a, b)
	}
}

func newPrediction(label, category string, meta map[string]string, confidence, avgDist float64, support int, scores []PrototypeScore) Prediction {
	description := ""
	if meta != nil {
		description = meta["description"]
	}
	entry := Prediction{
		Label:         label,
		Category:      category,
		Type:          derivePredictionType(label, category, meta),
		Description:   description,
		Confidence:    confidence,
		AverageDist:   avgDist,
		Support:       support,
		TopPrototypes: scores,
		Metadata:      meta,
	}
	if len(meta) > 0 {
		if profile := ExtractMineralProfile(entry); !profile.empty() {
			entry.Mineral = &profile
		}
	}
	return entry
}

func sortPredictions(predictions []Prediction) {
	sort.Slice(predictions, func(i, j int) bool {
		if math.Abs(predictions[i].Confidence-predictions[j].Confidence) > 1e-9 {
			return predictions[i].Confidence > predictions[j].Confidence
		}
		if predictions[i].AverageDist != predictions[j].AverageDist {
			return predictions[i].AverageDist < predictions[j].AverageDist
		}
		return predictions[i].Label < predictions[j].Label
	})
}

func clonePrototype(proto Prototype) Prototype {
	clone := proto
	clone.Features = append([]float64(nil), proto.Features...)
	clone.Metadata = copyMetadata(proto.Metadata)
	return clone
}

func copyMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	clone := make(map[string]string, len(meta))
	for key, value := range meta {
		clone[key] = value
	}
	return clone
}

func mergePrototypeScores(existing []PrototypeScore, additional []PrototypeScore, limit int) []PrototypeScore {
	if len(existing) == 0 && len(additional) == 0 {
		return nil
	}

	combined := make(map[string]PrototypeScore, len(existing)+len(additional))
	for _, score := range existing {
		combined[score.ID] = score
	}
	for _, score := range additional {
		if current, ok := combined[score.ID]; ok {
			if score.Weight > current.Weight || (math.Abs(score.Weight-current.Weight) < 1e-9 && score.Distance < current.Distance) {
				combined[score.ID] = score
			}
		} else {
			combined[score.ID] = score
		}
	}

	result := make([]PrototypeScore, 0, len(combined))
	for _, score := range combined {
		result = append(result, score)
	}

	sort.Slice(result, func(i, j int) bool {
		if math.Abs(result[i].Weight-result[j].Weight) > 1e-9 {
			return result[i].Weight > result[j].Weight
		}
		return result[i].Distance < result[j].Distance
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func derivePredictionType(label, category string, metadata map[string]string) string {
	if metadata != nil {
		if value := strings.TrimSpace(metadata["mineral"]); value != "" {
			return value
		}
		if value := strings.TrimSpace(metadata["type"]); value != "" {
			return value
		}
	}

	if category != "" {
		return fmt.Sprintf("%s (%s)", label, category)
	}
	return label
}

// Categories that never count as a confident identification.
const (
	CategoryUnclassified = "unclassified"
	CategoryBackground   = "background"
)

// DetermineConfident reports whether the top prediction identifies a
// material: it must reach threshold and not be unclassified or background.
func DetermineConfident(predictions []Prediction, threshold float64) bool {
	if len(predictions) == 0 {
		return false
	}

	best := predictions[0]
	if strings.EqualFold(best.Category, CategoryUnclassified) || strings.EqualFold(best.Category, CategoryBackground) {
		return false
	}
	return best.Confidence >= threshold
}

// cosineSimilarity returns dot(a,b)/(|a||b|), 0 when either vector is zero.
func cosineSimilarity(a, b []float64) float64 {
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return floats.Dot(a, b) / (normA * normB)
}
