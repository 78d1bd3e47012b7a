package hsi

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Supported format names.
const (
	FormatAuto   = "auto"
	FormatENVI   = "envi"
	FormatHDF5   = "hdf5"
	FormatMAT    = "mat"
	FormatGeotek = "geotek"
)

// LoadOptions tune format specific readers.
type LoadOptions struct {
	Format            string `yaml:"format" json:"format"`
	Dataset           string `yaml:"dataset" json:"dataset"`                       // HDF5 dataset or MAT variable
	WavelengthDataset string `yaml:"wavelength_dataset" json:"wavelength_dataset"` // HDF5 only

	transposed bool
}

// Load reads a cube in the given format; "" or "auto" picks by extension.
func Load(path, format string) (*Cube, error) {
	return LoadWithOptions(path, LoadOptions{Format: format})
}

// LoadWithOptions is Load with reader options.
func LoadWithOptions(path string, opts LoadOptions) (*Cube, error) {
	format, err := ResolveFormat(path, opts.Format)
	if err != nil {
		return nil, err
	}

	var cube *Cube
	switch format {
	case FormatENVI:
		cube, err = LoadENVI(path)
	case FormatHDF5:
		cube, err = LoadHDF5(path, opts)
	case FormatMAT:
		cube, err = LoadMAT(path, opts)
	case FormatGeotek:
		cube, err = LoadGeotek(path)
	}
	if err != nil {
		return nil, err
	}
	if err := cube.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cube, nil
}

// ResolveFormat normalises a format name, falling back to the extension.
func ResolveFormat(path, format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatAuto:
		return DetectFormat(path)
	case FormatENVI:
		return FormatENVI, nil
	case FormatHDF5, "h5":
		return FormatHDF5, nil
	case FormatMAT, "matlab":
		return FormatMAT, nil
	case FormatGeotek, "text", "txt":
		return FormatGeotek, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// DetectFormat maps a file extension to a format name.
func DetectFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hdr", ".img", ".dat", ".raw", ".bsq", ".bil", ".bip":
		return FormatENVI, nil
	case ".h5", ".hdf5", ".he5":
		return FormatHDF5, nil
	case ".mat":
		return FormatMAT, nil
	case ".txt", ".tsv", ".csv":
		return FormatGeotek, nil
	}
	return "", fmt.Errorf("%w: cannot infer format of %s", ErrUnsupportedFormat, filepath.Base(path))
}
