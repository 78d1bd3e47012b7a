package classify

import (
	"context"
	"fmt"
	"math"

	"hsi-cores/hsi"
	"hsi-cores/spectral"

	"gonum.org/v1/gonum/floats"
)

// Unclassified marks pixels in ClassMap.Classes that received no label.
const Unclassified = -1

// ClassMap is the per-pixel result of classifying a cube.
type ClassMap struct {
	Rows       int            `json:"rows"`
	Cols       int            `json:"cols"`
	Labels     []string       `json:"labels"`
	Classes    []int          `json:"classes"`
	Confidence hsi.Image      `json:"-"`
	Counts     map[string]int `json:"counts"`

	index map[string]int
}

// Label returns the class name at (row, col), or "unclassified".
func (m *ClassMap) Label(row, col int) string {
	id := m.Classes[row*m.Cols+col]
	if id == Unclassified {
		return CategoryUnclassified
	}
	return m.Labels[id]
}

// Image returns the class ids as a plane; unclassified pixels are NaN.
func (m *ClassMap) Image() hsi.Image {
	img := hsi.NewImage(m.Rows, m.Cols)
	for i, id := range m.Classes {
		if id == Unclassified {
			img.Data[i] = math.NaN()
			continue
		}
		img.Data[i] = float64(id)
	}
	return img
}

// ClassifyCube labels every pixel. Pixels with non-finite values, or whose top
// prediction falls below minConfidence, stay Unclassified. The prototype set
// is read once for the whole cube. Cancellation is checked once per row.
func (c *Classifier) ClassifyCube(ctx context.Context, cube *hsi.Cube, minConfidence float64) (*ClassMap, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}

	view := c.snapshot()
	out := newClassMap(cube, view.labels())

	aligned, err := c.alignCube(cube)
	if err != nil {
		return nil, err
	}
	rows, positions, err := FeaturesForCube(ctx, aligned, c.features)
	if err != nil {
		return nil, fmt.Errorf("classify cube: %w", err)
	}

	row := -1
	for i, features := range rows {
		pos := positions[i]
		if pos/cube.Cols != row {
			row = pos / cube.Cols
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("classify cube: %w", err)
			}
		}
		predictions, err := c.predictWith(view, features)
		if err != nil {
			return nil, fmt.Errorf("pixel (%d,%d): %w", pos/cube.Cols, pos%cube.Cols, err)
		}
		out.record(pos, predictions, minConfidence)
	}
	out.countUnclassified()
	return out, nil
}

// ClassifyCube labels every pixel with its closest reference within the
// mapper's angle threshold. Confidence is 1 - angle/maxAngle; pixels with no
// reference in range, or below minConfidence, stay Unclassified.
func (sm *SpectralAngleMapper) ClassifyCube(ctx context.Context, cube *hsi.Cube, minConfidence float64) (*ClassMap, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	out := newClassMap(cube, hsi.LibraryLabels(sm.entries))
	for r := 0; r < cube.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("classify cube: %w", err)
		}
		for col := 0; col < cube.Cols; col++ {
			values := cube.PixelValues(r, col)
			if !finite(values) {
				continue
			}
			predictions, err := sm.Predict(hsi.Spectrum{Values: values, Wavelengths: cube.Wavelengths})
			if err != nil {
				return nil, fmt.Errorf("pixel (%d,%d): %w", r, col, err)
			}
			out.record(r*cube.Cols+col, predictions, minConfidence)
		}
	}
	out.countUnclassified()
	return out, nil
}

func newClassMap(cube *hsi.Cube, labels []string) *ClassMap {
	out := &ClassMap{
		Rows:       cube.Rows,
		Cols:       cube.Cols,
		Labels:     labels,
		Classes:    make([]int, cube.Pixels()),
		Confidence: hsi.NewImage(cube.Rows, cube.Cols),
		Counts:     map[string]int{},
		index:      make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		out.index[l] = i
	}
	for pos := range out.Classes {
		out.Classes[pos] = Unclassified
		out.Confidence.Data[pos] = math.NaN()
	}
	return out
}

// record stores the top prediction for pos when it reaches minConfidence.
func (m *ClassMap) record(pos int, predictions []Prediction, minConfidence float64) {
	if len(predictions) == 0 {
		return
	}
	best := predictions[0]
	m.Confidence.Data[pos] = best.Confidence
	id, ok := m.index[best.Label]
	if !ok || best.Confidence < minConfidence {
		return
	}
	m.Classes[pos] = id
	m.Counts[best.Label]++
}

func (m *ClassMap) countUnclassified() {
	n := len(m.Classes)
	for _, v := range m.Counts {
		n -= v
	}
	if n > 0 {
		m.Counts[CategoryUnclassified] = n
	}
}

// alignCube resamples every finite pixel onto the model grid. Cubes already
// on the grid, or without wavelengths, are returned as is.
func (c *Classifier) alignCube(cube *hsi.Cube) (*hsi.Cube, error) {
	if len(c.wavelengths) == 0 || len(cube.Wavelengths) == 0 || floats.Equal(cube.Wavelengths, c.wavelengths) {
		return cube, nil
	}
	out, err := hsi.NewCube(cube.Rows, cube.Cols, len(c.wavelengths))
	if err != nil {
		return nil, err
	}
	out.Wavelengths = append([]float64(nil), c.wavelengths...)
	for r := 0; r < cube.Rows; r++ {
		for col := 0; col < cube.Cols; col++ {
			dst := out.PixelValues(r, col)
			values := cube.PixelValues(r, col)
			if !finite(values) {
				for i := range dst {
					dst[i] = math.NaN()
				}
				continue
			}
			resampled, err := hsi.ResampleSpectrum(values, cube.Wavelengths, c.wavelengths)
			if err != nil {
				return nil, fmt.Errorf("align cube to model grid: %w", err)
			}
			copy(dst, resampled)
		}
	}
	return out, nil
}

// ClassifyCube labels every pixel of cube with the model's top prediction.
func (m *Model) ClassifyCube(ctx context.Context, cube *hsi.Cube) (*ClassMap, error) {
	c, err := m.Classifier()
	if err != nil {
		return nil, err
	}
	return c.ClassifyCube(ctx, cube, 0)
}

// FeaturesForCube extracts classifier features for every finite pixel.
// Pixels containing NaN are skipped and their row-major positions omitted
// from the returned positions.
func FeaturesForCube(ctx context.Context, cube *hsi.Cube, opts spectral.FeatureOptions) ([][]float64, []int, error) {
	var rows [][]float64
	var positions []int
	for r := 0; r < cube.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		for col := 0; col < cube.Cols; col++ {
			values := cube.PixelValues(r, col)
			if !finite(values) {
				continue
			}
			features, err := spectral.ExtractFeatureVector(hsi.Spectrum{Values: values, Wavelengths: cube.Wavelengths}, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("pixel (%d,%d): %w", r, col, err)
			}
			rows = append(rows, features)
			positions = append(positions, r*cube.Cols+col)
		}
	}
	return rows, positions, nil
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
