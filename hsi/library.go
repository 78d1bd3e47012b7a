package hsi

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/interp"
)

// LibraryEntry is a labelled reference spectrum.
type LibraryEntry struct {
	ID          string            `json:"id,omitempty" bson:"id,omitempty"`
	Label       string            `json:"label" bson:"label"`
	Category    string            `json:"category,omitempty" bson:"category,omitempty"`
	Wavelengths []float64         `json:"wavelengths" bson:"wavelengths"`
	Values      []float64         `json:"values" bson:"values"`
	Source      string            `json:"source,omitempty" bson:"source,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Spectrum returns the entry as a Spectrum.
func (e LibraryEntry) Spectrum() Spectrum {
	return Spectrum{Values: e.Values, Wavelengths: e.Wavelengths, Label: e.Label, Source: e.Source}
}

// LoadReferenceLibrary reads a JSON array of entries or a CSV table whose
// first column is the label, an optional "category" column, and numeric
// wavelength columns.
func LoadReferenceLibrary(path string) ([]LibraryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	defer f.Close()

	var entries []LibraryEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		entries, err = ParseLibraryJSON(f)
	case ".csv", ".txt", ".tsv":
		entries, err = ParseLibraryCSV(f)
	default:
		return nil, fmt.Errorf("%w: library %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range entries {
		if entries[i].Source == "" {
			entries[i].Source = filepath.Base(path)
		}
	}
	return entries, nil
}

// ParseLibraryJSON decodes a JSON array of entries.
func ParseLibraryJSON(r io.Reader) ([]LibraryEntry, error) {
	var entries []LibraryEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return entries, nil
}

// ParseLibraryCSV decodes the tabular library layout.
func ParseLibraryCSV(r io.Reader) ([]LibraryEntry, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: library header: %v", ErrInvalidHeader, err)
	}
	if len(header) == 1 && strings.Contains(header[0], "\t") {
		return nil, fmt.Errorf("%w: tab-delimited library, expected commas", ErrInvalidHeader)
	}

	categoryCol, sourceCol := -1, -1
	var bandCols []int
	var wavelengths []float64
	for i, name := range header {
		if i == 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "category", "group", "mineral_group":
			categoryCol = i
			continue
		case "source":
			sourceCol = i
			continue
		}
		if wl, ok := parseWavelengthColumn(name); ok {
			bandCols = append(bandCols, i)
			wavelengths = append(wavelengths, wl)
		}
	}
	if len(bandCols) == 0 {
		return nil, fmt.Errorf("%w: no wavelength columns", ErrInvalidHeader)
	}

	var entries []LibraryEntry
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if isBlankRecord(record) {
			continue
		}
		entry := LibraryEntry{
			Label:       strings.TrimSpace(record[0]),
			Wavelengths: append([]float64(nil), wavelengths...),
			Values:      make([]float64, len(bandCols)),
		}
		if categoryCol >= 0 && categoryCol < len(record) {
			entry.Category = strings.TrimSpace(record[categoryCol])
		}
		if sourceCol >= 0 && sourceCol < len(record) {
			entry.Source = strings.TrimSpace(record[sourceCol])
		}
		for i, col := range bandCols {
			if col >= len(record) {
				return nil, fmt.Errorf("line %d: %w: missing value for %g nm", line, ErrShapeMismatch, wavelengths[i])
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: value for %g nm: %w", line, wavelengths[i], err)
			}
			entry.Values[i] = v
		}
		if entry.Label == "" {
			return nil, fmt.Errorf("line %d: empty label", line)
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: library has no spectra", ErrEmptyCube)
	}
	return entries, nil
}

// Validate checks label and shape.
func (e LibraryEntry) Validate() error {
	if strings.TrimSpace(e.Label) == "" {
		return fmt.Errorf("%w: entry without label", ErrInvalidHeader)
	}
	if len(e.Values) == 0 {
		return fmt.Errorf("%w: entry %q has no values", ErrEmptyCube, e.Label)
	}
	if len(e.Wavelengths) != 0 && len(e.Wavelengths) != len(e.Values) {
		return fmt.Errorf("%w: entry %q has %d wavelengths and %d values",
			ErrShapeMismatch, e.Label, len(e.Wavelengths), len(e.Values))
	}
	return nil
}

// SaveLibrary writes entries as an indented JSON array.
func SaveLibrary(path string, entries []LibraryEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal library: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write library: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace library: %w", err)
	}
	return nil
}

// LibraryLabels returns the sorted distinct labels.
func LibraryLabels(entries []LibraryEntry) []string {
	seen := map[string]bool{}
	var labels []string
	for _, e := range entries {
		if !seen[e.Label] {
			seen[e.Label] = true
			labels = append(labels, e.Label)
		}
	}
	sort.Strings(labels)
	return labels
}

// ResampleSpectrum linearly interpolates values sampled at from onto to.
// Targets outside the source range take the nearest end value.
func ResampleSpectrum(values, from, to []float64) ([]float64, error) {
	if len(values) != len(from) {
		return nil, fmt.Errorf("%w: %d values for %d wavelengths", ErrShapeMismatch, len(values), len(from))
	}
	if len(from) < 2 {
		return nil, fmt.Errorf("%w: need at least two samples to resample", ErrShapeMismatch)
	}
	xs := append([]float64(nil), from...)
	ys := append([]float64(nil), values...)
	if !sort.Float64sAreSorted(xs) {
		order := make([]int, len(xs))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return from[order[a]] < from[order[b]] })
		for i, j := range order {
			xs[i], ys[i] = from[j], values[j]
		}
	}

	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return nil, fmt.Errorf("%w: duplicate wavelength %g", ErrShapeMismatch, xs[i])
		}
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	out := make([]float64, len(to))
	for i, x := range to {
		out[i] = pl.Predict(x)
	}
	return out, nil
}

// AlignLibrary resamples each entry onto wavelengths. Entries without a
// wavelength vector must already have len(wavelengths) values.
func AlignLibrary(entries []LibraryEntry, wavelengths []float64) ([]LibraryEntry, error) {
	out := make([]LibraryEntry, len(entries))
	for i, e := range entries {
		out[i] = e
		switch {
		case len(e.Wavelengths) == 0:
			if len(e.Values) != len(wavelengths) {
				return nil, fmt.Errorf("%w: entry %q has %d values for %d bands",
					ErrShapeMismatch, e.Label, len(e.Values), len(wavelengths))
			}
		case equalFloats(e.Wavelengths, wavelengths):
		default:
			values, err := ResampleSpectrum(e.Values, e.Wavelengths, wavelengths)
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", e.Label, err)
			}
			out[i].Values = values
		}
		out[i].Wavelengths = append([]float64(nil), wavelengths...)
	}
	return out, nil
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
