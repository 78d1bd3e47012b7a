package hsi

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geotekSample = `# Geotek MSCL-S spectral export
# borehole BH-07

Section	Depth (m)	R450	R550.5	650nm
S1	10.00	0.11	0.21	0.31
S1	10.02	0.12	0.22

S2	10.04	0.13	x	0.33
`

func TestParseGeotek(t *testing.T) {
	cube, err := ParseGeotek(strings.NewReader(geotekSample))
	require.NoError(t, err)

	assert.Equal(t, 3, cube.Rows)
	assert.Equal(t, 1, cube.Cols)
	assert.Equal(t, 3, cube.Bands)
	assert.Equal(t, []float64{450, 550.5, 650}, cube.Wavelengths)
	assert.Equal(t, []float64{10.00, 10.02, 10.04}, cube.Depths)
	assert.Equal(t, 0.21, cube.At(0, 0, 1))
	assert.True(t, math.IsNaN(cube.At(1, 0, 2)), "missing cell is NaN")
	assert.True(t, math.IsNaN(cube.At(2, 0, 1)), "unparsable cell is NaN")
	assert.Equal(t, "Section", cube.Metadata["ignored columns"])
}

func TestParseGeotekComma(t *testing.T) {
	cube, err := ParseGeotek(strings.NewReader("depth,500,600\n1,0.5,0.6\n2,0.7,0.8\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.6, 0.7, 0.8}, cube.Data)
}

func TestParseGeotekWhitespace(t *testing.T) {
	body := "# exported by core logger\nDepth   R500  R600\n1.0  0.5   0.6\n\n2.0\t0.7 0.8\n3.0  0.9\n"
	cube, err := ParseGeotek(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 3, cube.Rows)
	assert.Equal(t, []float64{500, 600}, cube.Wavelengths)
	assert.Equal(t, []float64{1, 2, 3}, cube.Depths)
	assert.Equal(t, 0.8, cube.At(1, 0, 1))
	assert.True(t, math.IsNaN(cube.At(2, 0, 1)), "short row pads with NaN")
}

func TestParseGeotekErrors(t *testing.T) {
	_, err := ParseGeotek(strings.NewReader("# only comments\n"))
	require.ErrorIs(t, err, ErrInvalidHeader)

	_, err = ParseGeotek(strings.NewReader("Section\tDepth\nS1\t1\n"))
	require.ErrorIs(t, err, ErrInvalidHeader, "no wavelength columns")

	_, err = ParseGeotek(strings.NewReader("Depth\t500\n"))
	require.ErrorIs(t, err, ErrEmptyCube)
}

func TestLoadGeotekInstrumentName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geotek_in.txt")
	require.NoError(t, os.WriteFile(path, []byte(geotekSample), 0o644))

	cube, err := Load(path, "auto")
	require.NoError(t, err)
	assert.Equal(t, "geotek_in", cube.Metadata["instrument"])
	assert.Equal(t, path, cube.Metadata["source"])
}

func TestParseWavelengthColumn(t *testing.T) {
	cases := map[string]float64{"450": 450, "R450": 450, "nm1200": 1200, "2200nm": 2200, "2200 nm": 2200, "r 700.5": 700.5}
	for name, want := range cases {
		got, ok := parseWavelengthColumn(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	for _, name := range []string{"Depth", "Section", "", "nan", "-5"} {
		_, ok := parseWavelengthColumn(name)
		assert.False(t, ok, name)
	}
}
