package hsi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const libraryCSV = `label,category,2150,2200,2250
kaolinite,clay,0.60,0.45,0.58
calcite,carbonate,0.70,0.68,0.66
# comment rows are ignored
chlorite,phyllosilicate,0.40,0.42,0.30
`

func TestParseLibraryCSV(t *testing.T) {
	entries, err := ParseLibraryCSV(strings.NewReader(libraryCSV))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "kaolinite", entries[0].Label)
	assert.Equal(t, "clay", entries[0].Category)
	assert.Equal(t, []float64{2150, 2200, 2250}, entries[0].Wavelengths)
	assert.Equal(t, []float64{0.40, 0.42, 0.30}, entries[2].Values)
	assert.Equal(t, []string{"calcite", "chlorite", "kaolinite"}, LibraryLabels(entries))
}

func TestParseLibraryCSVErrors(t *testing.T) {
	_, err := ParseLibraryCSV(strings.NewReader("label,category\nx,y\n"))
	require.ErrorIs(t, err, ErrInvalidHeader)

	_, err = ParseLibraryCSV(strings.NewReader("label,500,600\nx,0.1\n"))
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = ParseLibraryCSV(strings.NewReader("label,500\nx,abc\n"))
	require.Error(t, err)

	_, err = ParseLibraryCSV(strings.NewReader("label,500\n"))
	require.ErrorIs(t, err, ErrEmptyCube)
}

func TestLibraryJSONRoundTripThroughFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "library.json")
	want := []LibraryEntry{
		{Label: "muscovite", Category: "mica", Wavelengths: []float64{2190, 2200}, Values: []float64{0.5, 0.4}},
	}
	require.NoError(t, SaveLibrary(path, want))

	got, err := LoadReferenceLibrary(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "muscovite", got[0].Label)
	assert.Equal(t, "library.json", got[0].Source, "source defaults to the file name")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"label":"x","values":[1,2],"wavelengths":[1]}]`), 0o644))
	_, err = LoadReferenceLibrary(bad)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = LoadReferenceLibrary(filepath.Join(dir, "library.sli"))
	require.Error(t, err)
}

func TestResampleSpectrum(t *testing.T) {
	got, err := ResampleSpectrum([]float64{0, 10, 20}, []float64{400, 500, 600}, []float64{350, 450, 550, 700})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 5, 15, 20}, got, 1e-12)

	got, err = ResampleSpectrum([]float64{20, 0}, []float64{600, 400}, []float64{500})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10}, got, 1e-12, "unsorted input is sorted first")

	_, err = ResampleSpectrum([]float64{1, 2}, []float64{400, 400}, []float64{400})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestAlignLibrary(t *testing.T) {
	entries := []LibraryEntry{
		{Label: "a", Wavelengths: []float64{400, 600}, Values: []float64{0, 1}},
		{Label: "b", Values: []float64{1, 2, 3}},
	}
	aligned, err := AlignLibrary(entries, []float64{400, 500, 600})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, aligned[0].Values, 1e-12)
	assert.Equal(t, []float64{1, 2, 3}, aligned[1].Values)
	assert.Equal(t, []float64{400, 600}, entries[0].Wavelengths, "input untouched")

	_, err = AlignLibrary(entries[1:], []float64{400, 500})
	require.ErrorIs(t, err, ErrShapeMismatch)
}
