package results

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"hsi-cores/hsi"
	"hsi-cores/models"
	"hsi-cores/utils"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SummariseImage computes statistics over the finite pixels of img. A plane
// without finite pixels reports Valid == 0 and zero statistics so the result
// stays JSON-encodable.
func SummariseImage(name string, img hsi.Image) models.IndexStat {
	finite := make([]float64, 0, len(img.Data))
	for _, v := range img.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	st := models.IndexStat{Name: name, Valid: len(finite)}
	if len(finite) == 0 {
		return st
	}
	st.Min = floats.Min(finite)
	st.Max = floats.Max(finite)
	st.Mean, st.StdDev = stat.PopMeanStdDev(finite, nil)
	return st
}

// SummariseImages summarises every plane, ordered by name.
func SummariseImages(images map[string]hsi.Image) []models.IndexStat {
	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.IndexStat, 0, len(names))
	for _, name := range names {
		out = append(out, SummariseImage(name, images[name]))
	}
	return out
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', 8, 64)
}

func writeCSV(path string, records [][]string) (err error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := utils.CreateFolder(dir); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteIndexStats writes one row per index: name, min, max, mean, std, valid.
// Undefined statistics are left empty.
func WriteIndexStats(path string, stats []models.IndexStat) error {
	records := [][]string{{"index", "min", "max", "mean", "std", "valid_pixels"}}
	for _, s := range stats {
		if s.Valid == 0 {
			records = append(records, []string{s.Name, "", "", "", "", "0"})
			continue
		}
		records = append(records, []string{
			s.Name, formatFloat(s.Min), formatFloat(s.Max),
			formatFloat(s.Mean), formatFloat(s.StdDev), strconv.Itoa(s.Valid),
		})
	}
	return writeCSV(path, records)
}

// WriteClassCounts writes label, pixel count and fraction of all counted
// pixels, largest class first.
func WriteClassCounts(path string, counts map[string]int) error {
	labels := make([]string, 0, len(counts))
	total := 0
	for label, n := range counts {
		labels = append(labels, label)
		total += n
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	records := [][]string{{"class", "pixels", "fraction"}}
	for _, label := range labels {
		fraction := 0.0
		if total > 0 {
			fraction = float64(counts[label]) / float64(total)
		}
		records = append(records, []string{label, strconv.Itoa(counts[label]), formatFloat(fraction)})
	}
	return writeCSV(path, records)
}

// WriteSpectra writes spectra sharing one wavelength grid as rows of a table
// whose header is "label" followed by the wavelengths.
func WriteSpectra(path string, spectra []hsi.Spectrum) error {
	if len(spectra) == 0 {
		return fmt.Errorf("%w: no spectra to export", hsi.ErrEmptyCube)
	}
	wavelengths := spectra[0].Wavelengths
	bands := len(spectra[0].Values)
	if len(wavelengths) != 0 && len(wavelengths) != bands {
		return fmt.Errorf("%w: %d wavelengths for %d values", hsi.ErrShapeMismatch, len(wavelengths), bands)
	}

	header := make([]string, 0, bands+1)
	header = append(header, "label")
	for b := 0; b < bands; b++ {
		if len(wavelengths) > 0 {
			header = append(header, formatFloat(wavelengths[b]))
		} else {
			header = append(header, "band_"+strconv.Itoa(b))
		}
	}

	records := [][]string{header}
	for i, spec := range spectra {
		if len(spec.Values) != bands {
			return fmt.Errorf("%w: spectrum %d has %d bands, want %d", hsi.ErrShapeMismatch, i, len(spec.Values), bands)
		}
		label := spec.Label
		if label == "" {
			label = "spectrum_" + strconv.Itoa(i+1)
		}
		row := make([]string, 0, bands+1)
		row = append(row, label)
		for _, v := range spec.Values {
			row = append(row, formatFloat(v))
		}
		records = append(records, row)
	}
	return writeCSV(path, records)
}
