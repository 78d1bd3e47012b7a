package plotting

import (
	"fmt"
	"math"

	"hsi-cores/hsi"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// spectrumXYs pairs values with wavelengths (band index when wavelengths are
// missing) and drops non-finite samples.
func spectrumXYs(values, wavelengths []float64) (plotter.XYs, error) {
	if len(values) == 0 {
		return nil, ErrNoData
	}
	if len(wavelengths) != 0 && len(wavelengths) != len(values) {
		return nil, fmt.Errorf("%w: %d values for %d wavelengths", hsi.ErrShapeMismatch, len(values), len(wavelengths))
	}
	xys := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		x := float64(i)
		if len(wavelengths) > 0 {
			x = wavelengths[i]
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(x) {
			continue
		}
		xys = append(xys, plotter.XY{X: x, Y: v})
	}
	if len(xys) == 0 {
		return nil, fmt.Errorf("%w: spectrum has no finite values", ErrNoData)
	}
	return xys, nil
}

func addLine(p *plot.Plot, xys plotter.XYs, i int, name string) error {
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.LineStyle.Width = vg.Points(2)
	line.LineStyle.Color = plotutil.Color(i)
	p.Add(line)
	if name != "" {
		p.Legend.Add(name, line)
	}
	return nil
}

// PlotSpectrum draws a single spectral signature.
func PlotSpectrum(spec hsi.Spectrum, opts Options) (*Figure, error) {
	opts = opts.withDefaults("Spectral Signature", "Wavelength (nm)", "Reflectance", 16*vg.Centimeter, 10*vg.Centimeter)
	xys, err := spectrumXYs(spec.Values, spec.Wavelengths)
	if err != nil {
		return nil, err
	}

	p := newPlot(opts)
	p.Add(plotter.NewGrid())
	if err := addLine(p, xys, 0, ""); err != nil {
		return nil, err
	}
	return single(p, opts), nil
}

// PlotSpectrumComparison overlays several spectra on a shared wavelength
// axis. Labels default to the spectra's own labels, then "spectrum N".
func PlotSpectrumComparison(spectra []hsi.Spectrum, labels []string, opts Options) (*Figure, error) {
	opts = opts.withDefaults("Spectral Comparison", "Wavelength (nm)", "Reflectance", 20*vg.Centimeter, 13*vg.Centimeter)
	if len(spectra) == 0 {
		return nil, ErrNoData
	}
	if len(labels) != 0 && len(labels) != len(spectra) {
		return nil, fmt.Errorf("%w: %d labels for %d spectra", hsi.ErrShapeMismatch, len(labels), len(spectra))
	}

	p := newPlot(opts)
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	for i, spec := range spectra {
		xys, err := spectrumXYs(spec.Values, spec.Wavelengths)
		if err != nil {
			return nil, fmt.Errorf("spectrum %d: %w", i, err)
		}
		name := spec.Label
		if len(labels) > 0 {
			name = labels[i]
		}
		if name == "" {
			name = fmt.Sprintf("spectrum %d", i+1)
		}
		if err := addLine(p, xys, i, name); err != nil {
			return nil, err
		}
	}
	return single(p, opts), nil
}

// PlotPCAComponents draws the first n loading vectors over wavelength.
func PlotPCAComponents(components [][]float64, wavelengths []float64, n int, opts Options) (*Figure, error) {
	opts = opts.withDefaults("Principal Components", "Wavelength (nm)", "Component Loading", 20*vg.Centimeter, 13*vg.Centimeter)
	if len(components) == 0 {
		return nil, ErrNoData
	}
	if n <= 0 || n > len(components) {
		n = len(components)
	}

	p := newPlot(opts)
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	for i := 0; i < n; i++ {
		xys, err := spectrumXYs(components[i], wavelengths)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i+1, err)
		}
		if err := addLine(p, xys, i, fmt.Sprintf("PC%d", i+1)); err != nil {
			return nil, err
		}
	}
	return single(p, opts), nil
}

// PlotAbsorptionFeatures draws a spectrum and marks the given band indices,
// typically the output of spectral.DetectAbsorptionFeatures.
func PlotAbsorptionFeatures(spec hsi.Spectrum, features []int, opts Options) (*Figure, error) {
	opts = opts.withDefaults("Absorption Features", "Wavelength (nm)", "Reflectance", 16*vg.Centimeter, 10*vg.Centimeter)
	fig, err := PlotSpectrum(spec, opts)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return fig, nil
	}

	marks := make(plotter.XYs, 0, len(features))
	names := make([]string, 0, len(features))
	for _, idx := range features {
		if idx < 0 || idx >= len(spec.Values) {
			return nil, fmt.Errorf("%w: feature band %d", hsi.ErrBandOutOfRange, idx)
		}
		x := float64(idx)
		if len(spec.Wavelengths) > 0 {
			x = spec.Wavelengths[idx]
		}
		marks = append(marks, plotter.XY{X: x, Y: spec.Values[idx]})
		names = append(names, fmt.Sprintf("%.0f", x))
	}
	scatter, err := plotter.NewScatter(marks)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Color = plotutil.Color(1)
	scatter.GlyphStyle.Radius = vg.Points(3)
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: marks, Labels: names})
	if err != nil {
		return nil, err
	}

	p := fig.plots[0][0]
	p.Add(scatter, labels)
	return fig, nil
}
