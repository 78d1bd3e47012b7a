package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"hsi-cores/hsi"
)

// PCAResult holds the leading principal components of a sample matrix.
type PCAResult struct {
	Components             [][]float64 `json:"components"` // one loading vector per component
	ExplainedVariance      []float64   `json:"explained_variance"`
	ExplainedVarianceRatio []float64   `json:"explained_variance_ratio"`
	Mean                   []float64   `json:"mean"`
	Scores                 [][]float64 `json:"-"` // samples x components
}

// PCA projects rows (samples x features) onto their first n components.
func PCA(rows [][]float64, n int) (*PCAResult, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: PCA needs at least two samples", ErrEmptyInput)
	}
	d := len(rows[0])
	if d == 0 {
		return nil, ErrEmptyInput
	}
	data := mat.NewDense(len(rows), d, nil)
	for i, row := range rows {
		if len(row) != d {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrLengthMismatch, i, len(row), d)
		}
		data.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, fmt.Errorf("PCA: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	k := len(vars)
	if n <= 0 || n > k {
		n = k
	}

	total := 0.0
	for _, v := range vars {
		total += v
	}

	res := &PCAResult{
		Components:             make([][]float64, n),
		ExplainedVariance:      append([]float64(nil), vars[:n]...),
		ExplainedVarianceRatio: make([]float64, n),
		Mean:                   make([]float64, d),
	}
	for j := 0; j < n; j++ {
		res.Components[j] = mat.Col(nil, j, &vecs)
		if total > 0 {
			res.ExplainedVarianceRatio[j] = vars[j] / total
		}
	}
	for j := 0; j < d; j++ {
		res.Mean[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}

	centered := mat.NewDense(len(rows), d, nil)
	centered.Apply(func(i, j int, v float64) float64 { return v - res.Mean[j] }, data)
	var scores mat.Dense
	scores.Mul(centered, vecs.Slice(0, d, 0, n))
	res.Scores = make([][]float64, len(rows))
	for i := range rows {
		res.Scores[i] = mat.Row(nil, i, &scores)
	}
	return res, nil
}

// Project maps one sample onto the fitted components.
func (r *PCAResult) Project(sample []float64) ([]float64, error) {
	if len(sample) != len(r.Mean) {
		return nil, fmt.Errorf("%w: sample has %d features, want %d", ErrLengthMismatch, len(sample), len(r.Mean))
	}
	out := make([]float64, len(r.Components))
	for j, comp := range r.Components {
		for i, v := range sample {
			out[j] += (v - r.Mean[i]) * comp[i]
		}
	}
	return out, nil
}

// CubePCA runs PCA over every finite pixel and returns one score image per
// component. Pixels with non-finite values score NaN.
func CubePCA(cube *hsi.Cube, n int) (*PCAResult, []hsi.Image, error) {
	if err := cube.Validate(); err != nil {
		return nil, nil, err
	}
	var rows [][]float64
	var index []int
	for p := 0; p < cube.Pixels(); p++ {
		px := cube.Data[p*cube.Bands : (p+1)*cube.Bands]
		if !allFinite(px) {
			continue
		}
		rows = append(rows, px)
		index = append(index, p)
	}

	res, err := PCA(rows, n)
	if err != nil {
		return nil, nil, err
	}
	images := make([]hsi.Image, len(res.Components))
	for j := range images {
		images[j] = hsi.NewImage(cube.Rows, cube.Cols)
		for p := range images[j].Data {
			images[j].Data[p] = math.NaN()
		}
		for i, p := range index {
			images[j].Data[p] = res.Scores[i][j]
		}
	}
	return res, images, nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
