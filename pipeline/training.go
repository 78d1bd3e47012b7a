package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"hsi-cores/classify"
	"hsi-cores/hsi"
)

var ErrInvalidClassNames = errors.New("pipeline: invalid class names")

// ParseClassNames reads "1=kaolinite,2=chlorite" into a slice indexed by
// class id, as classify.LabelName expects. Ids without a name stay empty.
func ParseClassNames(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	named := map[int]string{}
	maxID := -1
	for _, part := range strings.Split(spec, ",") {
		idText, name, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not id=name", ErrInvalidClassNames, part)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idText))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: bad class id %q", ErrInvalidClassNames, idText)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: class %d has no name", ErrInvalidClassNames, id)
		}
		if _, dup := named[id]; dup {
			return nil, fmt.Errorf("%w: class %d named twice", ErrInvalidClassNames, id)
		}
		named[id] = name
		maxID = max(maxID, id)
	}
	names := make([]string, maxID+1)
	for id, name := range named {
		names[id] = name
	}
	return names, nil
}

// LabelledScan is a preprocessed cube with its per-pixel class ids.
type LabelledScan struct {
	*Prepared
	Labels []int
}

// LoadLabelled reads a cube and a single-band label image of the same
// footprint and preprocesses the cube.
func LoadLabelled(cubePath, labelPath string, load hsi.LoadOptions, pre hsi.PreprocessOptions) (*LabelledScan, error) {
	cube, err := hsi.LoadWithOptions(cubePath, load)
	if err != nil {
		return nil, fmt.Errorf("load cube: %w", err)
	}
	labelCube, err := hsi.Load(labelPath, hsi.FormatAuto)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	if labelCube.Rows != cube.Rows || labelCube.Cols != cube.Cols {
		return nil, fmt.Errorf("%w: label image is %dx%d, cube is %dx%d",
			hsi.ErrShapeMismatch, labelCube.Rows, labelCube.Cols, cube.Rows, cube.Cols)
	}
	labels, err := hsi.LabelPlane(labelCube)
	if err != nil {
		return nil, err
	}
	prepared, err := Prepare(cube, pre)
	if err != nil {
		return nil, err
	}
	return &LabelledScan{Prepared: prepared, Labels: labels}, nil
}

// TrainingSet is the labelled pixels of one cube view.
type TrainingSet struct {
	Rows        [][]float64
	Labels      []int
	Wavelengths []float64
	Normalize   string
}

// TrainingSet collects the labelled pixels, skipping ignore. normalised
// selects the normalised view; the normalisation is recorded so models can
// carry it.
func (s *LabelledScan) TrainingSet(ignore int, normalised bool) (*TrainingSet, error) {
	view := s.Clean
	normalize := hsi.NormalizeNone
	if normalised {
		view = s.Normalised
		normalize = s.Normalize
	}
	rows, labels, err := hsi.PrepareClassificationData(view, s.Labels, ignore)
	if err != nil {
		return nil, err
	}
	return &TrainingSet{
		Rows:        rows,
		Labels:      labels,
		Wavelengths: append([]float64(nil), view.Wavelengths...),
		Normalize:   normalize,
	}, nil
}

// ClassCounts counts samples per class id, sorted by id.
func (t *TrainingSet) ClassCounts() [][2]int {
	counts := map[int]int{}
	for _, id := range t.Labels {
		counts[id]++
	}
	out := make([][2]int, 0, len(counts))
	for id, n := range counts {
		out = append(out, [2]int{id, n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Features converts the rows into classifier features, calling progress
// after each row when set.
func (t *TrainingSet) Features(opts classify.TrainOptions, progress func()) ([][]float64, error) {
	out := make([][]float64, len(t.Rows))
	for i, row := range t.Rows {
		features, err := classify.FeatureMatrix([][]float64{row}, t.Wavelengths, opts.Features)
		if err != nil {
			return nil, fmt.Errorf("pixel %d: %w", i, err)
		}
		out[i] = features[0]
		if progress != nil {
			progress()
		}
	}
	return out, nil
}

// Train fits a model on the set and records the view's normalisation in
// the model metadata.
func (t *TrainingSet) Train(names []string, opts classify.TrainOptions, progress func()) (*classify.Model, error) {
	X, err := t.Features(opts, progress)
	if err != nil {
		return nil, err
	}
	opts.Wavelengths = t.Wavelengths
	model, err := classify.Train(X, t.Labels, names, opts)
	if err != nil {
		return nil, err
	}
	if t.Normalize != hsi.NormalizeNone {
		model.Metadata["normalize"] = t.Normalize
	}
	return model, nil
}

// Split divides the set into stratified train and test parts.
func (t *TrainingSet) Split(testFraction float64, seed int64) (train, test *TrainingSet, err error) {
	xTrain, yTrain, xTest, yTest, err := classify.StratifiedSplit(t.Rows, t.Labels, testFraction, seed)
	if err != nil {
		return nil, nil, err
	}
	train = &TrainingSet{Rows: xTrain, Labels: yTrain, Wavelengths: t.Wavelengths, Normalize: t.Normalize}
	test = &TrainingSet{Rows: xTest, Labels: yTest, Wavelengths: t.Wavelengths, Normalize: t.Normalize}
	return train, test, nil
}

// Evaluate scores model on the set. Rows are resampled onto the model grid
// when the wavelengths differ.
func (t *TrainingSet) Evaluate(model *classify.Model, names []string) (*classify.EvaluationReport, error) {
	rows := t.Rows
	if len(model.Wavelengths) > 0 && !sameGrid(model.Wavelengths, t.Wavelengths) {
		rows = make([][]float64, len(t.Rows))
		for i, row := range t.Rows {
			resampled, err := hsi.ResampleSpectrum(row, t.Wavelengths, model.Wavelengths)
			if err != nil {
				return nil, err
			}
			rows[i] = resampled
		}
	}
	grid := t.Wavelengths
	if len(model.Wavelengths) > 0 {
		grid = model.Wavelengths
	}
	X, err := classify.FeatureMatrix(rows, grid, model.Features)
	if err != nil {
		return nil, err
	}
	return classify.EvaluateModel(model, X, t.Labels, names)
}

func sameGrid(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
