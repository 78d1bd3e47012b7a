package plotting

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strconv"

	"hsi-cores/hsi"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// DefaultRGBBands are the band indices used for the false-colour composite.
var DefaultRGBBands = [3]int{29, 19, 9}

// RGBOptions extends Options for PlotRGBComposite.
type RGBOptions struct {
	Options
	Bands [3]int // zero value selects DefaultRGBBands
	// Percentile clips this percentage at each end before stretching;
	// 0 stretches between the global minimum and maximum.
	Percentile float64
}

// PlotRGBComposite maps three bands to red, green and blue. All three
// channels share one linear stretch; non-finite pixels are drawn black.
func PlotRGBComposite(cube *hsi.Cube, opts RGBOptions) (*Figure, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	base := opts.Options.withDefaults("RGB Composite", "", "", 16*vg.Centimeter, 13*vg.Centimeter)
	bands := opts.Bands
	if bands == [3]int{} {
		bands = DefaultRGBBands
	}
	if opts.Percentile < 0 || opts.Percentile >= 50 {
		return nil, fmt.Errorf("percentile %g outside [0, 50)", opts.Percentile)
	}

	channels := make([]hsi.Image, 3)
	var finite []float64
	for i, b := range bands {
		img, err := cube.Band(b)
		if err != nil {
			return nil, err
		}
		channels[i] = img
		for _, v := range img.Data {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				finite = append(finite, v)
			}
		}
	}
	if len(finite) == 0 {
		return nil, fmt.Errorf("%w: composite bands have no finite values", ErrNoData)
	}

	lo, hi := stretchBounds(finite, opts.Percentile)
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	rgba := image.NewRGBA(image.Rect(0, 0, cube.Cols, cube.Rows))
	for r := 0; r < cube.Rows; r++ {
		for c := 0; c < cube.Cols; c++ {
			var px [3]uint8
			for i := range channels {
				px[i] = toByte((channels[i].At(r, c) - lo) * scale)
			}
			rgba.SetRGBA(c, r, color.RGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}

	p := newPlot(base)
	p.HideAxes()
	p.Add(plotter.NewImage(rgba, 0, 0, float64(cube.Cols), float64(cube.Rows)))
	return single(p, base), nil
}

func stretchBounds(values []float64, percentile float64) (lo, hi float64) {
	sort.Float64s(values)
	if percentile <= 0 {
		return values[0], values[len(values)-1]
	}
	q := percentile / 100
	return stat.Quantile(q, stat.Empirical, values, nil), stat.Quantile(1-q, stat.Empirical, values, nil)
}

func toByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// imageGrid adapts an hsi.Image to plotter.GridXYZ with row 0 at the top.
type imageGrid struct {
	img      hsi.Image
	min, max float64
}

func newImageGrid(img hsi.Image) (*imageGrid, error) {
	lo, hi, ok := img.Range()
	if !ok {
		return nil, fmt.Errorf("%w: image has no finite values", ErrNoData)
	}
	if hi == lo {
		hi = lo + 1
	}
	return &imageGrid{img: img, min: lo, max: hi}, nil
}

func (g *imageGrid) Dims() (c, r int)   { return g.img.Cols, g.img.Rows }
func (g *imageGrid) Z(c, r int) float64 { return g.img.At(g.img.Rows-1-r, c) }
func (g *imageGrid) X(c int) float64    { return float64(c) }
func (g *imageGrid) Y(r int) float64    { return float64(r) }
func (g *imageGrid) Min() float64       { return g.min }
func (g *imageGrid) Max() float64       { return g.max }

func sequentialPalette(name string) palette.Palette {
	p, err := brewer.GetPalette(brewer.TypeSequential, name, 9)
	if err != nil {
		return palette.Heat(64, 1)
	}
	return p
}

// PlotSpectralIndices lays out one heat map per index in a grid of at most
// three columns, ordered by name. The title of each panel carries its range.
func PlotSpectralIndices(indices map[string]hsi.Image, opts Options) (*Figure, error) {
	if len(indices) == 0 {
		return nil, ErrNoData
	}
	names := make([]string, 0, len(indices))
	for name := range indices {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := min(3, len(names))
	rows := (len(names) + cols - 1) / cols
	opts = opts.withDefaults("", "", "", vg.Length(cols)*10*vg.Centimeter, vg.Length(rows)*8*vg.Centimeter)

	grid := make([][]*plot.Plot, rows)
	for j := range grid {
		grid[j] = make([]*plot.Plot, cols)
	}
	pal := sequentialPalette("YlGnBu")
	for i, name := range names {
		g, err := newImageGrid(indices[name])
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", name, err)
		}
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s [%.3g, %.3g]", name, g.min, g.max)
		p.HideAxes()
		hm := plotter.NewHeatMap(g, pal)
		hm.NaN = color.Transparent
		p.Add(hm)
		grid[i/cols][i%cols] = p
	}
	if opts.Title != "" && grid[0][0] != nil {
		grid[0][0].Title.Text = opts.Title + ": " + grid[0][0].Title.Text
	}
	return &Figure{plots: grid, width: opts.Width, height: opts.Height}, nil
}

// PlotImage draws a single plane (index, PCA score, class map) as a heat map.
func PlotImage(img hsi.Image, opts Options) (*Figure, error) {
	opts = opts.withDefaults("", "Column", "Row", 12*vg.Centimeter, 12*vg.Centimeter)
	g, err := newImageGrid(img)
	if err != nil {
		return nil, err
	}
	p := newPlot(opts)
	hm := plotter.NewHeatMap(g, sequentialPalette("YlGnBu"))
	hm.NaN = color.Transparent
	p.Add(hm)
	return single(p, opts), nil
}

// countGrid adapts a square confusion matrix to plotter.GridXYZ; true classes
// run top to bottom.
type countGrid struct {
	m   [][]int
	max float64
}

func (g countGrid) Dims() (c, r int)   { return len(g.m), len(g.m) }
func (g countGrid) Z(c, r int) float64 { return float64(g.m[len(g.m)-1-r][c]) }
func (g countGrid) X(c int) float64    { return float64(c) }
func (g countGrid) Y(r int) float64    { return float64(r) }
func (g countGrid) Min() float64       { return 0 }
func (g countGrid) Max() float64       { return g.max }

// PlotConfusionMatrix draws counts as an annotated heat map with the actual
// class on the Y axis and the predicted class on the X axis.
func PlotConfusionMatrix(matrix [][]int, classNames []string, opts Options) (*Figure, error) {
	opts = opts.withDefaults("Confusion Matrix", "Predicted", "Actual", 14*vg.Centimeter, 12*vg.Centimeter)
	n := len(matrix)
	if n == 0 {
		return nil, ErrNoData
	}
	for i, row := range matrix {
		if len(row) != n {
			return nil, fmt.Errorf("%w: confusion matrix row %d has %d entries, want %d", hsi.ErrShapeMismatch, i, len(row), n)
		}
	}
	if len(classNames) == 0 {
		classNames = make([]string, n)
		for i := range classNames {
			classNames[i] = strconv.Itoa(i)
		}
	}
	if len(classNames) != n {
		return nil, fmt.Errorf("%w: %d class names for %d classes", hsi.ErrShapeMismatch, len(classNames), n)
	}

	g := countGrid{m: matrix, max: 1}
	xys := make(plotter.XYs, 0, n*n)
	labels := make([]string, 0, n*n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			g.max = math.Max(g.max, float64(matrix[r][c]))
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(n - 1 - r)})
			labels = append(labels, strconv.Itoa(matrix[r][c]))
		}
	}

	p := newPlot(opts)
	p.Add(plotter.NewHeatMap(g, sequentialPalette("Blues")))

	annotations, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return nil, err
	}
	for i := range annotations.TextStyle {
		annotations.TextStyle[i].XAlign = draw.XCenter
		annotations.TextStyle[i].YAlign = draw.YCenter
	}
	p.Add(annotations)

	xticks := make([]plot.Tick, n)
	yticks := make([]plot.Tick, n)
	for i, name := range classNames {
		xticks[i] = plot.Tick{Value: float64(i), Label: name}
		yticks[i] = plot.Tick{Value: float64(n - 1 - i), Label: name}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xticks)
	p.Y.Tick.Marker = plot.ConstantTicks(yticks)
	return single(p, opts), nil
}
