package hsi

import (
	"fmt"
	"strings"

	"gonum.org/v1/hdf5"
)

var (
	defaultCubeDatasets       = []string{"data", "cube", "reflectance", "radiance", "hsi"}
	defaultWavelengthDatasets = []string{"wavelengths", "wavelength", "wl", "bands"}
)

// LoadHDF5 reads a rank-3 (rows, cols, bands) or rank-2 (samples, bands)
// dataset. An empty dataset name searches the usual names and then the first
// dataset of rank 2 or 3 in the root group.
func LoadHDF5(path string, opts LoadOptions) (*Cube, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open hdf5: %w", err)
	}
	defer f.Close()

	name := strings.TrimPrefix(opts.Dataset, "/")
	if name == "" {
		name, err = findCubeDataset(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	values, dims, err := readDataset(f, name)
	if err != nil {
		return nil, fmt.Errorf("%s: dataset %q: %w", path, name, err)
	}

	cube, err := cubeFromRowMajor(values, dims, opts.transposed)
	if err != nil {
		return nil, fmt.Errorf("%s: dataset %q: %w", path, name, err)
	}

	wlNames := defaultWavelengthDatasets
	if opts.WavelengthDataset != "" {
		wlNames = []string{strings.TrimPrefix(opts.WavelengthDataset, "/")}
	}
	for _, wlName := range wlNames {
		if !hasObject(f, wlName) {
			continue
		}
		wl, _, err := readDataset(f, wlName)
		if err != nil {
			return nil, fmt.Errorf("%s: dataset %q: %w", path, wlName, err)
		}
		if len(wl) != cube.Bands {
			return nil, fmt.Errorf("%w: %d wavelengths for %d bands", ErrShapeMismatch, len(wl), cube.Bands)
		}
		if isMicrometres("", wl) {
			for i := range wl {
				wl[i] *= 1000
			}
		}
		cube.Wavelengths = wl
		break
	}

	cube.Metadata["format"] = "hdf5"
	cube.Metadata["dataset"] = "/" + name
	cube.Metadata["source"] = path
	return cube, nil
}

func readDataset(f *hdf5.File, name string) ([]float64, []uint, error) {
	ds, err := f.OpenDataset(name)
	if err != nil {
		return nil, nil, err
	}
	defer ds.Close()

	space := ds.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, nil, fmt.Errorf("read dims: %w", err)
	}

	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	values := make([]float64, n)
	if n == 0 {
		return values, dims, nil
	}
	if err := ds.Read(&values); err != nil {
		return nil, nil, fmt.Errorf("read values: %w", err)
	}
	return values, dims, nil
}

func findCubeDataset(f *hdf5.File) (string, error) {
	for _, name := range defaultCubeDatasets {
		if hasObject(f, name) {
			return name, nil
		}
	}
	count, err := f.NumObjects()
	if err != nil {
		return "", err
	}
	for i := uint(0); i < count; i++ {
		name, err := f.ObjectNameByIndex(i)
		if err != nil {
			continue
		}
		ds, err := f.OpenDataset(name)
		if err != nil {
			continue
		}
		space := ds.Space()
		dims, _, err := space.SimpleExtentDims()
		space.Close()
		ds.Close()
		if err == nil && (len(dims) == 2 || len(dims) == 3) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no rank-2 or rank-3 dataset", ErrEmptyCube)
}

func hasObject(f *hdf5.File, name string) bool {
	count, err := f.NumObjects()
	if err != nil {
		return false
	}
	for i := uint(0); i < count; i++ {
		if n, err := f.ObjectNameByIndex(i); err == nil && n == name {
			return true
		}
	}
	return false
}

// cubeFromRowMajor reshapes a C-ordered array. transposed marks data written
// by MATLAB v7.3, whose dimensions appear reversed in the HDF5 file.
func cubeFromRowMajor(values []float64, dims []uint, transposed bool) (*Cube, error) {
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}
	if transposed {
		for i, j := 0, len(shape)-1; i < j; i, j = i+1, j-1 {
			shape[i], shape[j] = shape[j], shape[i]
		}
		return cubeFromColumnMajor(values, shape)
	}

	switch len(shape) {
	case 3:
		cube, err := NewCube(shape[0], shape[1], shape[2])
		if err != nil {
			return nil, err
		}
		copy(cube.Data, values)
		return cube, nil
	case 2:
		cube, err := NewCube(shape[0], 1, shape[1])
		if err != nil {
			return nil, err
		}
		copy(cube.Data, values)
		return cube, nil
	}
	return nil, fmt.Errorf("%w: rank %d", ErrShapeMismatch, len(shape))
}

// cubeFromColumnMajor reshapes a Fortran-ordered (MATLAB) array.
func cubeFromColumnMajor(values []float64, shape []int) (*Cube, error) {
	var rows, cols, bands int
	switch len(shape) {
	case 3:
		rows, cols, bands = shape[0], shape[1], shape[2]
	case 2:
		rows, cols, bands = shape[0], 1, shape[1]
	default:
		return nil, fmt.Errorf("%w: rank %d", ErrShapeMismatch, len(shape))
	}
	if rows*cols*bands != len(values) {
		return nil, fmt.Errorf("%w: %v does not hold %d values", ErrShapeMismatch, shape, len(values))
	}
	cube, err := NewCube(rows, cols, bands)
	if err != nil {
		return nil, err
	}
	for b := 0; b < bands; b++ {
		for c := 0; c < cols; c++ {
			for r := 0; r < rows; r++ {
				cube.Data[(r*cols+c)*bands+b] = values[r+c*rows+b*rows*cols]
			}
		}
	}
	return cube, nil
}
