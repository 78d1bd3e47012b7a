package spectral

import (
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Smoothing methods.
const (
	SavitzkyGolay = "savgol"
	Gaussian      = "gaussian"
	Median        = "median"
)

// SmoothOptions carries the method parameters; zero values take defaults.
type SmoothOptions struct {
	WindowLength int     `yaml:"window_length" json:"window_length"`
	PolyOrder    *int    `yaml:"polyorder,omitempty" json:"polyorder,omitempty"` // nil selects 3
	Sigma        float64 `yaml:"sigma" json:"sigma"`
	KernelSize   int     `yaml:"kernel_size" json:"kernel_size"`
}

// DefaultSmoothOptions: savgol 11/3, gaussian sigma 1, median kernel 5.
func DefaultSmoothOptions() SmoothOptions {
	return SmoothOptions{WindowLength: 11, PolyOrder: PolyOrder(3), Sigma: 1.0, KernelSize: 5}
}

// PolyOrder returns a pointer for SmoothOptions.PolyOrder.
func PolyOrder(n int) *int {
	return &n
}

func (o SmoothOptions) withDefaults() SmoothOptions {
	d := DefaultSmoothOptions()
	if o.WindowLength == 0 {
		o.WindowLength = d.WindowLength
	}
	if o.PolyOrder == nil {
		o.PolyOrder = d.PolyOrder
	}
	if o.Sigma == 0 {
		o.Sigma = d.Sigma
	}
	if o.KernelSize == 0 {
		o.KernelSize = d.KernelSize
	}
	return o
}

// SmoothSpectrum returns a smoothed copy of values.
func SmoothSpectrum(values []float64, method string, opts SmoothOptions) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrEmptyInput
	}
	opts = opts.withDefaults()
	switch method {
	case SavitzkyGolay, "":
		return savgolFilter(values, opts.WindowLength, *opts.PolyOrder)
	case Gaussian:
		return gaussianFilter(values, opts.Sigma)
	case Median:
		return medianFilter(values, opts.KernelSize)
	}
	return nil, fmt.Errorf("%w: smoothing %q", ErrUnknownMethod, method)
}

// savgolFilter fits a polynomial of order polyorder over each odd window.
// The first and last window/2 samples come from polynomials fitted to the
// edge windows.
func savgolFilter(x []float64, window, polyorder int) ([]float64, error) {
	switch {
	case window <= 0 || window%2 == 0:
		return nil, fmt.Errorf("%w: savgol window %d must be positive and odd", ErrInvalidWindow, window)
	case polyorder < 0 || polyorder >= window:
		return nil, fmt.Errorf("%w: polyorder %d must be less than window %d", ErrInvalidWindow, polyorder, window)
	case window > len(x):
		return nil, fmt.Errorf("%w: window %d exceeds %d samples", ErrInvalidWindow, window, len(x))
	}

	half := window / 2
	coeffs, err := savgolCoefficients(window, polyorder)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(x))
	for i := half; i < len(x)-half; i++ {
		out[i] = floats.Dot(coeffs, x[i-half:i+half+1])
	}

	if err := fitEdge(x[:window], polyorder, out[:half], 0); err != nil {
		return nil, err
	}
	if err := fitEdge(x[len(x)-window:], polyorder, out[len(x)-half:], window-half); err != nil {
		return nil, err
	}
	return out, nil
}

// savgolCoefficients returns the weights that evaluate the least-squares
// polynomial at the window centre.
func savgolCoefficients(window, polyorder int) ([]float64, error) {
	half := window / 2
	a := vandermonde(window, polyorder, float64(-half))

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		return nil, fmt.Errorf("%w: savgol normal equations: %v", ErrInvalidWindow, err)
	}
	var proj mat.Dense
	proj.Mul(&inv, a.T())
	return mat.Row(nil, 0, &proj), nil
}

// vandermonde builds rows [1, t, t^2, ...] for t = start, start+1, ...
func vandermonde(n, order int, start float64) *mat.Dense {
	a := mat.NewDense(n, order+1, nil)
	for i := 0; i < n; i++ {
		t := start + float64(i)
		v := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, v)
			v *= t
		}
	}
	return a
}

// fitEdge fits a polynomial to seg (positions 0..len(seg)-1) and writes its
// values at positions offset, offset+1, ... into dst.
func fitEdge(seg []float64, order int, dst []float64, offset int) error {
	a := vandermonde(len(seg), order, 0)
	y := mat.NewVecDense(len(seg), append([]float64(nil), seg...))
	var c mat.VecDense
	if err := c.SolveVec(a, y); err != nil {
		return fmt.Errorf("%w: savgol edge fit: %v", ErrInvalidWindow, err)
	}
	for i := range dst {
		t := float64(offset + i)
		v, p := 0.0, 1.0
		for j := 0; j <= order; j++ {
			v += c.AtVec(j) * p
			p *= t
		}
		dst[i] = v
	}
	return nil
}

// gaussianFilter convolves with a unit-sum Gaussian truncated at 4 sigma,
// reflecting the signal at both ends.
func gaussianFilter(x []float64, sigma float64) ([]float64, error) {
	if sigma <= 0 || math.IsNaN(sigma) {
		return nil, fmt.Errorf("%w: sigma %g", ErrInvalidWindow, sigma)
	}
	radius := int(4*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-0.5 * d * d / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)

	n := len(x)
	ext := make([]float64, n+2*radius)
	for i := range ext {
		ext[i] = x[reflectIndex(i-radius, n)]
	}

	// Full direct convolution; the kernel is symmetric so the centred
	// slice equals the correlation.
	full := make([]float64, len(ext)+len(kernel)-1)
	temp := make([]float64, len(kernel))
	for i, v := range ext {
		vecmath.ScaleBlock(temp, kernel, v)
		vecmath.AddBlockInPlace(full[i:i+len(kernel)], temp)
	}
	out := make([]float64, n)
	copy(out, full[2*radius:2*radius+n])
	return out, nil
}

// reflectIndex maps i into [0,n) mirroring about the edges (d c b a | a b c d | d c b a).
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i - 1
	}
	return i
}

// medianFilter takes the median over an odd kernel, padding with zeros.
func medianFilter(x []float64, kernel int) ([]float64, error) {
	if kernel <= 0 || kernel%2 == 0 {
		return nil, fmt.Errorf("%w: median kernel %d must be positive and odd", ErrInvalidWindow, kernel)
	}
	half := kernel / 2
	out := make([]float64, len(x))
	buf := make([]float64, kernel)
	for i := range x {
		for k := 0; k < kernel; k++ {
			j := i - half + k
			if j < 0 || j >= len(x) {
				buf[k] = 0
				continue
			}
			buf[k] = x[j]
		}
		sort.Float64s(buf)
		out[i] = buf[half]
	}
	return out, nil
}
