package hsi

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Normalisation modes.
const (
	NormalizeNone   = ""
	NormalizeMinMax = "minmax" // per band to [0,1]
	NormalizeZScore = "zscore" // per band, population std
	NormalizeL2     = "l2"     // per pixel spectrum
	NormalizeMax    = "max"    // per pixel spectrum
)

// WavelengthRange is an inclusive interval in nanometres.
type WavelengthRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultWaterBands covers the atmospheric water absorption windows.
var DefaultWaterBands = []WavelengthRange{{Min: 1340, Max: 1460}, {Min: 1790, Max: 1960}, {Min: 2450, Max: 2600}}

// PreprocessOptions controls Preprocess.
type PreprocessOptions struct {
	RemoveBadBands bool              `yaml:"remove_bad_bands" json:"remove_bad_bands"`
	BadBands       []int             `yaml:"bad_bands" json:"bad_bands"`
	BadRanges      []WavelengthRange `yaml:"bad_ranges" json:"bad_ranges"`
	MinVariance    float64           `yaml:"min_variance" json:"min_variance"`
	Normalize      string            `yaml:"normalize" json:"normalize"`
}

// DefaultPreprocessOptions removes bad bands and scales each band to [0,1].
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		RemoveBadBands: true,
		BadRanges:      DefaultWaterBands,
		MinVariance:    1e-12,
		Normalize:      NormalizeMinMax,
	}
}

// Preprocess returns a cleaned copy of cube. Removed band indices are
// recorded in Metadata["removed bands"].
func Preprocess(cube *Cube, opts PreprocessOptions) (*Cube, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}

	out := cube.Clone()
	if opts.RemoveBadBands {
		bad, err := badBandMask(cube, opts)
		if err != nil {
			return nil, err
		}
		out = dropBands(out, bad)
	}

	switch strings.ToLower(opts.Normalize) {
	case NormalizeNone, "none":
	case NormalizeMinMax:
		normaliseBands(out, minMaxParams)
	case NormalizeZScore:
		normaliseBands(out, zScoreParams)
	case NormalizeL2:
		normalisePixels(out, func(v []float64) float64 { return floats.Norm(v, 2) })
	case NormalizeMax:
		normalisePixels(out, func(v []float64) float64 { return floats.Max(v) })
	default:
		return nil, fmt.Errorf("%w: normalisation %q", ErrUnsupportedFormat, opts.Normalize)
	}
	if opts.Normalize != "" {
		out.Metadata["normalize"] = strings.ToLower(opts.Normalize)
	}
	return out, nil
}

func badBandMask(cube *Cube, opts PreprocessOptions) ([]bool, error) {
	bad := make([]bool, cube.Bands)
	for _, b := range opts.BadBands {
		if b < 0 || b >= cube.Bands {
			return nil, fmt.Errorf("%w: bad band %d (bands=%d)", ErrBandOutOfRange, b, cube.Bands)
		}
		bad[b] = true
	}
	if len(cube.BadBands) == cube.Bands {
		for b, flagged := range cube.BadBands {
			bad[b] = bad[b] || flagged
		}
	}
	if len(cube.Wavelengths) == cube.Bands {
		for b, wl := range cube.Wavelengths {
			for _, r := range opts.BadRanges {
				if wl >= r.Min && wl <= r.Max {
					bad[b] = true
				}
			}
		}
	}

	masked := maskedPixels(cube, bad)
	column := make([]float64, 0, cube.Pixels())
	for b := 0; b < cube.Bands; b++ {
		if bad[b] {
			continue
		}
		column = column[:0]
		finite := true
		for p := 0; p < cube.Pixels(); p++ {
			if masked[p] {
				continue
			}
			v := cube.Data[p*cube.Bands+b]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				finite = false
				break
			}
			column = append(column, v)
		}
		if !finite || len(column) == 0 {
			bad[b] = true
			continue
		}
		if len(column) > 1 {
			_, variance := stat.PopMeanVariance(column, nil)
			if variance <= opts.MinVariance {
				bad[b] = true
			}
		}
	}

	kept := 0
	for _, flagged := range bad {
		if !flagged {
			kept++
		}
	}
	if kept == 0 {
		return nil, fmt.Errorf("%w: every band flagged bad", ErrEmptyCube)
	}
	return bad, nil
}

// maskedPixels flags pixels that are non-finite in every band not already
// flagged, such as ENVI "data ignore value" background.
func maskedPixels(cube *Cube, bad []bool) []bool {
	masked := make([]bool, cube.Pixels())
	for p := range masked {
		pixel := cube.Data[p*cube.Bands : (p+1)*cube.Bands]
		masked[p] = true
		for b, v := range pixel {
			if !bad[b] && !math.IsNaN(v) && !math.IsInf(v, 0) {
				masked[p] = false
				break
			}
		}
	}
	return masked
}

func dropBands(cube *Cube, bad []bool) *Cube {
	var keep []int
	var removed []string
	for b, flagged := range bad {
		if flagged {
			removed = append(removed, strconv.Itoa(b))
			continue
		}
		keep = append(keep, b)
	}
	if len(removed) == 0 {
		return cube
	}

	out := &Cube{
		Rows:     cube.Rows,
		Cols:     cube.Cols,
		Bands:    len(keep),
		Data:     make([]float64, cube.Pixels()*len(keep)),
		Depths:   cube.Depths,
		Metadata: cube.Metadata,
	}
	for p := 0; p < cube.Pixels(); p++ {
		src := cube.Data[p*cube.Bands : (p+1)*cube.Bands]
		dst := out.Data[p*len(keep) : (p+1)*len(keep)]
		for i, b := range keep {
			dst[i] = src[b]
		}
	}
	if len(cube.Wavelengths) == cube.Bands {
		out.Wavelengths = make([]float64, len(keep))
		for i, b := range keep {
			out.Wavelengths[i] = cube.Wavelengths[b]
		}
	}
	out.Metadata["removed bands"] = strings.Join(removed, ",")
	return out
}

type bandParams func(column []float64) (offset, scale float64)

func minMaxParams(column []float64) (float64, float64) {
	lo, hi := floats.Min(column), floats.Max(column)
	if hi-lo < 1e-12 {
		return lo, 1
	}
	return lo, 1 / (hi - lo)
}

func zScoreParams(column []float64) (float64, float64) {
	mean, variance := stat.PopMeanVariance(column, nil)
	std := math.Sqrt(variance)
	if std < 1e-10 {
		return mean, 1
	}
	return mean, 1 / std
}

// normaliseBands applies (v-offset)*scale per band, ignoring non-finite
// samples when fitting.
func normaliseBands(cube *Cube, params bandParams) {
	column := make([]float64, 0, cube.Pixels())
	for b := 0; b < cube.Bands; b++ {
		column = column[:0]
		for p := 0; p < cube.Pixels(); p++ {
			v := cube.Data[p*cube.Bands+b]
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				column = append(column, v)
			}
		}
		if len(column) == 0 {
			continue
		}
		offset, scale := params(column)
		for p := 0; p < cube.Pixels(); p++ {
			i := p*cube.Bands + b
			cube.Data[i] = (cube.Data[i] - offset) * scale
		}
	}
}

func normalisePixels(cube *Cube, norm func([]float64) float64) {
	for p := 0; p < cube.Pixels(); p++ {
		pixel := cube.Data[p*cube.Bands : (p+1)*cube.Bands]
		n := norm(pixel)
		if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			continue
		}
		vecmath.ScaleBlock(pixel, pixel, 1/n)
	}
}

// PrepareClassificationData flattens labelled pixels into a feature matrix.
// labels is a row-major Rows*Cols plane; pixels labelled ignore are skipped.
func PrepareClassificationData(cube *Cube, labels []int, ignore int) ([][]float64, []int, error) {
	if err := cube.Validate(); err != nil {
		return nil, nil, err
	}
	if len(labels) != cube.Pixels() {
		return nil, nil, fmt.Errorf("%w: %d labels for %d pixels", ErrShapeMismatch, len(labels), cube.Pixels())
	}

	var X [][]float64
	var y []int
	for p, label := range labels {
		if label == ignore {
			continue
		}
		row := append([]float64(nil), cube.Data[p*cube.Bands:(p+1)*cube.Bands]...)
		X = append(X, row)
		y = append(y, label)
	}
	if len(X) == 0 {
		return nil, nil, fmt.Errorf("%w: no labelled pixels", ErrEmptyCube)
	}
	return X, y, nil
}

// LabelPlane converts a single-band cube (a label image loaded with Load)
// into integer labels.
func LabelPlane(cube *Cube) ([]int, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if cube.Bands != 1 {
		return nil, fmt.Errorf("%w: label image has %d bands", ErrShapeMismatch, cube.Bands)
	}
	labels := make([]int, len(cube.Data))
	for i, v := range cube.Data {
		if math.IsNaN(v) {
			labels[i] = 0
			continue
		}
		labels[i] = int(math.Round(v))
	}
	return labels, nil
}

// UniqueLabels returns the sorted distinct values of y.
func UniqueLabels(y []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
