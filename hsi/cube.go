package hsi

// Data model shared by every loader and analysis stage.
//
// A Cube keeps its samples band-interleaved-by-pixel, which makes the
// per-pixel spectrum a contiguous slice:
//
//	Data[(row*Cols+col)*Bands+band]
//
// Loaders convert whatever the source interleave is (ENVI BSQ/BIL, MATLAB
// column-major, HDF5 row-major) into this layout once, so the rest of the
// pipeline never branches on storage order.

import (
	"fmt"
	"math"
)

// Cube is a rows x cols x bands reflectance or radiance array.
type Cube struct {
	Rows        int
	Cols        int
	Bands       int
	Data        []float64
	Wavelengths []float64         // nanometres, one per band
	Depths      []float64         // optional, one per row (core logger exports)
	Metadata    map[string]string // instrument and acquisition parameters
	BadBands    []bool            // optional, true marks a band flagged bad by the source
}

// Spectrum is a single per-band vector paired with its wavelengths.
type Spectrum struct {
	Values      []float64 `json:"values"`
	Wavelengths []float64 `json:"wavelengths"`
	Label       string    `json:"label,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// Image is a single rows x cols plane such as a spectral index map.
type Image struct {
	Rows int
	Cols int
	Data []float64
}

// NewCube allocates a zeroed cube.
func NewCube(rows, cols, bands int) (*Cube, error) {
	if rows <= 0 || cols <= 0 || bands <= 0 {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrShapeMismatch, rows, cols, bands)
	}
	return &Cube{
		Rows:     rows,
		Cols:     cols,
		Bands:    bands,
		Data:     make([]float64, rows*cols*bands),
		Metadata: map[string]string{},
	}, nil
}

// Validate checks the shape invariants.
func (c *Cube) Validate() error {
	if c == nil || len(c.Data) == 0 {
		return ErrEmptyCube
	}
	if c.Rows*c.Cols*c.Bands != len(c.Data) {
		return fmt.Errorf("%w: %dx%dx%d does not match %d samples",
			ErrShapeMismatch, c.Rows, c.Cols, c.Bands, len(c.Data))
	}
	if len(c.Wavelengths) != 0 && len(c.Wavelengths) != c.Bands {
		return fmt.Errorf("%w: %d wavelengths for %d bands", ErrShapeMismatch, len(c.Wavelengths), c.Bands)
	}
	if len(c.Depths) != 0 && len(c.Depths) != c.Rows {
		return fmt.Errorf("%w: %d depths for %d rows", ErrShapeMismatch, len(c.Depths), c.Rows)
	}
	return nil
}

// Pixels returns the number of spatial samples.
func (c *Cube) Pixels() int {
	return c.Rows * c.Cols
}

// At returns the value at (row, col, band).
func (c *Cube) At(row, col, band int) float64 {
	return c.Data[(row*c.Cols+col)*c.Bands+band]
}

// Set stores v at (row, col, band).
func (c *Cube) Set(row, col, band int, v float64) {
	c.Data[(row*c.Cols+col)*c.Bands+band] = v
}

// PixelValues returns the spectrum slice for a pixel without copying.
func (c *Cube) PixelValues(row, col int) []float64 {
	start := (row*c.Cols + col) * c.Bands
	return c.Data[start : start+c.Bands]
}

// Pixel returns a copy of the spectrum at (row, col).
func (c *Cube) Pixel(row, col int) (Spectrum, error) {
	if row < 0 || row >= c.Rows || col < 0 || col >= c.Cols {
		return Spectrum{}, fmt.Errorf("%w: pixel (%d,%d) outside %dx%d", ErrShapeMismatch, row, col, c.Rows, c.Cols)
	}
	values := append([]float64(nil), c.PixelValues(row, col)...)
	return Spectrum{
		Values:      values,
		Wavelengths: c.wavelengthsCopy(),
		Source:      fmt.Sprintf("pixel(%d,%d)", row, col),
	}, nil
}

// Band extracts a single band as an image.
func (c *Cube) Band(band int) (Image, error) {
	if band < 0 || band >= c.Bands {
		return Image{}, fmt.Errorf("%w: %d (bands=%d)", ErrBandOutOfRange, band, c.Bands)
	}
	img := NewImage(c.Rows, c.Cols)
	for p := 0; p < c.Pixels(); p++ {
		img.Data[p] = c.Data[p*c.Bands+band]
	}
	return img, nil
}

// MeanSpectrum averages every finite pixel spectrum.
func (c *Cube) MeanSpectrum() Spectrum {
	sum := make([]float64, c.Bands)
	counts := make([]int, c.Bands)
	for p := 0; p < c.Pixels(); p++ {
		for b := 0; b < c.Bands; b++ {
			v := c.Data[p*c.Bands+b]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum[b] += v
			counts[b]++
		}
	}
	for b := range sum {
		if counts[b] > 0 {
			sum[b] /= float64(counts[b])
		}
	}
	return Spectrum{Values: sum, Wavelengths: c.wavelengthsCopy(), Source: "mean"}
}

// NearestBand returns the band whose centre wavelength is closest to nm.
// ok is false when the cube has no wavelength vector or nm lies more than
// tolerance outside the covered range.
func (c *Cube) NearestBand(nm, tolerance float64) (int, bool) {
	return NearestBand(c.Wavelengths, nm, tolerance)
}

// NearestBand locates nm in a wavelength vector.
func NearestBand(wavelengths []float64, nm, tolerance float64) (int, bool) {
	if len(wavelengths) == 0 {
		return -1, false
	}
	best := 0
	bestDiff := math.Abs(wavelengths[0] - nm)
	for i, w := range wavelengths[1:] {
		if d := math.Abs(w - nm); d < bestDiff {
			best = i + 1
			bestDiff = d
		}
	}
	if tolerance > 0 && bestDiff > tolerance {
		return best, false
	}
	return best, true
}

// Clone returns a deep copy.
func (c *Cube) Clone() *Cube {
	clone := &Cube{
		Rows:        c.Rows,
		Cols:        c.Cols,
		Bands:       c.Bands,
		Data:        append([]float64(nil), c.Data...),
		Wavelengths: c.wavelengthsCopy(),
		Metadata:    make(map[string]string, len(c.Metadata)),
	}
	if c.Depths != nil {
		clone.Depths = append([]float64(nil), c.Depths...)
	}
	if c.BadBands != nil {
		clone.BadBands = append([]bool(nil), c.BadBands...)
	}
	for k, v := range c.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

func (c *Cube) wavelengthsCopy() []float64 {
	if c.Wavelengths == nil {
		return nil
	}
	return append([]float64(nil), c.Wavelengths...)
}

// NewImage allocates a zeroed plane.
func NewImage(rows, cols int) Image {
	return Image{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the value at (row, col).
func (img Image) At(row, col int) float64 {
	return img.Data[row*img.Cols+col]
}

// Range returns the finite minimum and maximum; ok is false when no value is finite.
func (img Image) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range img.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}
