// Package plotting renders spectra, composites and classification results
// to PNG, JPEG or SVG files with gonum/plot.
package plotting

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgsvg"
)

var (
	ErrNoData            = errors.New("plotting: no data to plot")
	ErrUnsupportedFormat = errors.New("plotting: unsupported image format")
)

// Options are shared by every plot function. Zero values take the
// function's defaults.
type Options struct {
	Title  string
	XLabel string
	YLabel string
	Width  vg.Length
	Height vg.Length
}

func (o Options) withDefaults(title, xlabel, ylabel string, w, h vg.Length) Options {
	if o.Title == "" {
		o.Title = title
	}
	if o.XLabel == "" {
		o.XLabel = xlabel
	}
	if o.YLabel == "" {
		o.YLabel = ylabel
	}
	if o.Width <= 0 {
		o.Width = w
	}
	if o.Height <= 0 {
		o.Height = h
	}
	return o
}

// Figure is one plot or a grid of plots with a fixed canvas size.
type Figure struct {
	plots  [][]*plot.Plot
	width  vg.Length
	height vg.Length
}

func single(p *plot.Plot, opts Options) *Figure {
	return &Figure{plots: [][]*plot.Plot{{p}}, width: opts.Width, height: opts.Height}
}

// Plots returns the grid of plots; empty cells are nil.
func (f *Figure) Plots() [][]*plot.Plot {
	return f.plots
}

// Save writes the figure, choosing the format from the file extension.
func (f *Figure) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plot directory: %w", err)
		}
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot file: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if _, err := f.WriteTo(out, format); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}

// WriteTo renders the figure in format (png, jpg, jpeg or svg).
func (f *Figure) WriteTo(w io.Writer, format string) (int64, error) {
	var (
		canvas vg.CanvasSizer
		writer io.WriterTo
	)
	switch format {
	case "png":
		c := vgimg.New(f.width, f.height)
		canvas, writer = c, vgimg.PngCanvas{Canvas: c}
	case "jpg", "jpeg":
		c := vgimg.New(f.width, f.height)
		canvas, writer = c, vgimg.JpegCanvas{Canvas: c}
	case "svg":
		c := vgsvg.New(f.width, f.height)
		canvas, writer = c, c
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	f.draw(draw.New(canvas))
	return writer.WriteTo(w)
}

func (f *Figure) draw(dc draw.Canvas) {
	rows := len(f.plots)
	cols := len(f.plots[0])
	if rows == 1 && cols == 1 {
		f.plots[0][0].Draw(dc)
		return
	}

	tiles := draw.Tiles{
		Rows:      rows,
		Cols:      cols,
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(f.plots, tiles, dc)
	for j := range f.plots {
		for i, p := range f.plots[j] {
			if p != nil {
				p.Draw(canvases[j][i])
			}
		}
	}
}

func newPlot(opts Options) *plot.Plot {
	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	return p
}
