package spectral

import (
	"fmt"
	"log/slog"
	"math"

	"hsi-cores/hsi"
	"hsi-cores/utils"
)

// IndexKind selects the formula of an IndexDefinition.
type IndexKind string

const (
	NormalizedDifference IndexKind = "normalized_difference" // (A-B)/(A+B)
	Ratio                IndexKind = "ratio"                 // A/B
	SoilAdjusted         IndexKind = "savi"                  // (1+L)(A-B)/(A+B+L)
	Depth                IndexKind = "band_depth"            // 1 - R(center)/continuum(center)
)

// DefaultBandTolerance is how far (nm) the nearest band may sit from a
// requested wavelength before an index is skipped.
const DefaultBandTolerance = 30.0

// IndexDefinition describes one spectral index by wavelength.
type IndexDefinition struct {
	Name        string    `yaml:"name" json:"name"`
	Kind        IndexKind `yaml:"kind" json:"kind"`
	A           float64   `yaml:"a,omitempty" json:"a,omitempty"`
	B           float64   `yaml:"b,omitempty" json:"b,omitempty"`
	Center      float64   `yaml:"center,omitempty" json:"center,omitempty"`
	Left        float64   `yaml:"left,omitempty" json:"left,omitempty"`
	Right       float64   `yaml:"right,omitempty" json:"right,omitempty"`
	L           float64   `yaml:"l,omitempty" json:"l,omitempty"`
	Tolerance   float64   `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// DefaultIndices returns the core-logging index set.
func DefaultIndices() []IndexDefinition {
	return []IndexDefinition{
		{Name: "NDVI", Kind: NormalizedDifference, A: 800, B: 670, Description: "vegetation / organic contamination"},
		{Name: "NDWI", Kind: NormalizedDifference, A: 560, B: 860, Description: "surface water"},
		{Name: "SAVI", Kind: SoilAdjusted, A: 800, B: 670, L: 0.5, Description: "soil adjusted vegetation"},
		{Name: "AlOH_2200", Kind: Depth, Center: 2200, Left: 2120, Right: 2250, Description: "white mica, kaolinite, smectite"},
		{Name: "FeOH_2250", Kind: Depth, Center: 2250, Left: 2230, Right: 2280, Description: "chlorite, epidote, jarosite"},
		{Name: "MgOH_2330", Kind: Depth, Center: 2330, Left: 2270, Right: 2370, Description: "carbonate, amphibole, chlorite"},
		{Name: "ferric_iron", Kind: Ratio, A: 750, B: 550, Description: "hematite, goethite"},
		{Name: "ferrous_iron", Kind: Ratio, A: 1650, B: 1000, Description: "ferrous silicates"},
		{Name: "kaolinite_2160_2180", Kind: Ratio, A: 2160, B: 2180, Description: "kaolinite doublet"},
	}
}

// resolvedIndex holds band positions for one definition on one wavelength grid.
type resolvedIndex struct {
	def                 IndexDefinition
	a, b                int
	center, left, right int
	wlC, wlL, wlR       float64
}

func resolveIndex(def IndexDefinition, wavelengths []float64) (resolvedIndex, error) {
	tol := def.Tolerance
	if tol <= 0 {
		tol = DefaultBandTolerance
	}
	find := func(nm float64) (int, error) {
		b, ok := hsi.NearestBand(wavelengths, nm, tol)
		if !ok {
			return -1, fmt.Errorf("%w: %s needs %g nm", ErrOutOfRange, def.Name, nm)
		}
		return b, nil
	}

	r := resolvedIndex{def: def}
	var err error
	switch def.Kind {
	case NormalizedDifference, Ratio, SoilAdjusted:
		if r.a, err = find(def.A); err != nil {
			return r, err
		}
		if r.b, err = find(def.B); err != nil {
			return r, err
		}
	case Depth:
		if r.center, err = find(def.Center); err != nil {
			return r, err
		}
		if r.left, err = find(def.Left); err != nil {
			return r, err
		}
		if r.right, err = find(def.Right); err != nil {
			return r, err
		}
		if r.left == r.right {
			return r, fmt.Errorf("%w: %s shoulders resolve to the same band", ErrInvalidWindow, def.Name)
		}
		r.wlC, r.wlL, r.wlR = wavelengths[r.center], wavelengths[r.left], wavelengths[r.right]
	default:
		return r, fmt.Errorf("%w: index kind %q", ErrUnknownMethod, def.Kind)
	}
	return r, nil
}

func (r resolvedIndex) eval(values []float64) float64 {
	switch r.def.Kind {
	case NormalizedDifference:
		a, b := values[r.a], values[r.b]
		return safeDiv(a-b, a+b)
	case Ratio:
		return safeDiv(values[r.a], values[r.b])
	case SoilAdjusted:
		a, b := values[r.a], values[r.b]
		return safeDiv((1+r.def.L)*(a-b), a+b+r.def.L)
	case Depth:
		cont := linearContinuum(values[r.left], values[r.right], r.wlL, r.wlR, r.wlC)
		return 1 - safeDiv(values[r.center], cont)
	}
	return math.NaN()
}

// linearContinuum interpolates the straight line between two shoulders at x.
func linearContinuum(yl, yr, xl, xr, x float64) float64 {
	return yl + (yr-yl)*(x-xl)/(xr-xl)
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

// SpectrumIndex evaluates one definition on a single spectrum.
func SpectrumIndex(spec hsi.Spectrum, def IndexDefinition) (float64, error) {
	if len(spec.Values) == 0 {
		return 0, ErrEmptyInput
	}
	if len(spec.Values) != len(spec.Wavelengths) {
		return 0, fmt.Errorf("%w: %d values, %d wavelengths", ErrLengthMismatch, len(spec.Values), len(spec.Wavelengths))
	}
	r, err := resolveIndex(def, spec.Wavelengths)
	if err != nil {
		return 0, err
	}
	return r.eval(spec.Values), nil
}

// CalculateSpectralIndices maps each definition to a per-pixel image. nil
// defs means DefaultIndices. Definitions the sensor range cannot serve are
// skipped with a warning.
func CalculateSpectralIndices(cube *hsi.Cube, defs []IndexDefinition) (map[string]hsi.Image, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if len(cube.Wavelengths) != cube.Bands {
		return nil, fmt.Errorf("%w: indices need a wavelength vector", ErrLengthMismatch)
	}
	if defs == nil {
		defs = DefaultIndices()
	}

	logger := utils.GetLogger()
	out := make(map[string]hsi.Image, len(defs))
	for _, def := range defs {
		r, err := resolveIndex(def, cube.Wavelengths)
		if err != nil {
			logger.Warn("skipping spectral index",
				slog.String("index", def.Name),
				slog.String("reason", err.Error()),
			)
			continue
		}
		img := hsi.NewImage(cube.Rows, cube.Cols)
		for p := range img.Data {
			img.Data[p] = r.eval(cube.Data[p*cube.Bands : (p+1)*cube.Bands])
		}
		out[def.Name] = img
	}
	return out, nil
}
