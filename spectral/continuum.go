package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// ContinuumHull returns the upper convex hull of the spectrum evaluated at
// every wavelength. wavelengths must increase strictly; nil uses band
// indices.
func ContinuumHull(values, wavelengths []float64) ([]float64, error) {
	n := len(values)
	if n == 0 {
		return nil, ErrEmptyInput
	}
	xs := wavelengths
	if xs == nil {
		xs = make([]float64, n)
		for i := range xs {
			xs[i] = float64(i)
		}
	}
	if len(xs) != n {
		return nil, fmt.Errorf("%w: %d values, %d wavelengths", ErrLengthMismatch, n, len(xs))
	}
	for i := 1; i < n; i++ {
		if xs[i] <= xs[i-1] {
			return nil, fmt.Errorf("%w: wavelengths must increase (index %d)", ErrLengthMismatch, i)
		}
	}
	if n == 1 {
		return []float64{values[0]}, nil
	}

	// Monotone chain, keeping only clockwise turns.
	hull := make([]int, 0, n)
	for i := 0; i < n; i++ {
		for len(hull) >= 2 {
			o, a := hull[len(hull)-2], hull[len(hull)-1]
			cross := (xs[a]-xs[o])*(values[i]-values[o]) - (values[a]-values[o])*(xs[i]-xs[o])
			if cross < 0 {
				break
			}
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, i)
	}

	hx := make([]float64, len(hull))
	hy := make([]float64, len(hull))
	for i, idx := range hull {
		hx[i], hy[i] = xs[idx], values[idx]
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(hx, hy); err != nil {
		return nil, fmt.Errorf("continuum fit: %w", err)
	}
	out := make([]float64, n)
	for i, x := range xs {
		out[i] = pl.Predict(x)
	}
	for _, idx := range hull {
		out[idx] = values[idx]
	}
	return out, nil
}

// ContinuumRemoval divides the spectrum by its convex-hull continuum. Hull
// vertices map to exactly 1; a zero continuum yields NaN.
func ContinuumRemoval(values, wavelengths []float64) ([]float64, error) {
	hull, err := ContinuumHull(values, wavelengths)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if hull[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = v / hull[i]
	}
	return out, nil
}

// BandDepth returns 1 - R(center)/continuum(center) where the continuum is
// the straight line between the left and right shoulder bands. Each
// wavelength is snapped to the nearest band.
func BandDepth(values, wavelengths []float64, center, left, right float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptyInput
	}
	if len(values) != len(wavelengths) {
		return 0, fmt.Errorf("%w: %d values, %d wavelengths", ErrLengthMismatch, len(values), len(wavelengths))
	}
	r, err := resolveIndex(IndexDefinition{
		Name:      fmt.Sprintf("depth_%g", center),
		Kind:      Depth,
		Center:    center,
		Left:      left,
		Right:     right,
		Tolerance: math.Inf(1),
	}, wavelengths)
	if err != nil {
		return 0, err
	}
	return r.eval(values), nil
}
