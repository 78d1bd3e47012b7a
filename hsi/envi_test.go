package hsi

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHeader = `ENVI
description = {
  core box 12 SWIR}
samples = 2
lines = 2
bands = 3
header offset = 0
file type = ENVI Standard
data type = 2
interleave = bsq
byte order = 1
wavelength units = Micrometers
wavelength = {
 2.10, 2.20,
 2.30}
bbl = {1, 0, 1}
data ignore value = -9999
reflectance scale factor = 10000
`

func TestParseEnviHeader(t *testing.T) {
	h, err := ParseEnviHeader(strings.NewReader(sampleHeader))
	require.NoError(t, err)

	assert.Equal(t, 2, h.Samples)
	assert.Equal(t, 2, h.Lines)
	assert.Equal(t, 3, h.Bands)
	assert.Equal(t, 2, h.DataType)
	assert.Equal(t, "bsq", h.Interleave)
	assert.Equal(t, 1, h.ByteOrder)
	assert.InDeltaSlice(t, []float64{2100, 2200, 2300}, h.Wavelengths, 1e-9, "micrometres converted to nm")
	assert.Equal(t, []bool{false, true, false}, h.BadBands)
	require.NotNil(t, h.IgnoreValue)
	assert.Equal(t, -9999.0, *h.IgnoreValue)
	assert.Equal(t, 10000.0, h.ReflectanceScale)
	assert.Contains(t, h.Fields["description"], "core box 12")
}

func TestParseEnviHeaderErrors(t *testing.T) {
	_, err := ParseEnviHeader(strings.NewReader("NOT ENVI\nsamples = 1\n"))
	require.ErrorIs(t, err, ErrInvalidHeader)

	_, err = ParseEnviHeader(strings.NewReader("ENVI\nsamples = 1\nlines = 1\n"))
	require.ErrorIs(t, err, ErrInvalidHeader, "bands is required")

	_, err = ParseEnviHeader(strings.NewReader("ENVI\nsamples = 1\nlines = 1\nbands = 1\ndata type = 6\n"))
	require.ErrorIs(t, err, ErrUnsupportedFormat, "complex data is not supported")

	_, err = ParseEnviHeader(strings.NewReader("ENVI\nsamples = 1\nlines = 1\nbands = 2\nwavelength = {500}\n"))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestDecodeENVIBigEndianBSQ(t *testing.T) {
	h, err := ParseEnviHeader(strings.NewReader(sampleHeader))
	require.NoError(t, err)

	// BSQ order: band, line, sample.
	raw := make([]byte, 0, 24)
	values := []int16{
		1000, 2000, 3000, 4000, // band 0
		-9999, 100, 200, 300, // band 1
		5000, 6000, 7000, 8000, // band 2
	}
	for _, v := range values {
		raw = binary.BigEndian.AppendUint16(raw, uint16(v))
	}

	cube, err := DecodeENVI(h, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, cube.Rows)
	assert.Equal(t, 2, cube.Cols)
	assert.Equal(t, 3, cube.Bands)

	assert.InDelta(t, 0.1, cube.At(0, 0, 0), 1e-12, "scaled by reflectance factor")
	assert.True(t, math.IsNaN(cube.At(0, 0, 1)), "ignore value becomes NaN")
	assert.InDelta(t, 0.8, cube.At(1, 1, 2), 1e-12)
	assert.InDelta(t, 0.03, cube.At(1, 1, 1), 1e-12)
	assert.Equal(t, "envi", cube.Metadata["format"])
	assert.Equal(t, []bool{false, true, false}, cube.BadBands)
}

func TestDecodeENVIInterleaves(t *testing.T) {
	want := newTestCube(t, 2, 3, 2)

	encode := func(order func(r, c, b int) int) []byte {
		buf := make([]byte, 4*len(want.Data))
		for r := 0; r < want.Rows; r++ {
			for c := 0; c < want.Cols; c++ {
				for b := 0; b < want.Bands; b++ {
					binary.LittleEndian.PutUint32(buf[4*order(r, c, b):], math.Float32bits(float32(want.At(r, c, b))))
				}
			}
		}
		return buf
	}
	layouts := map[string]func(r, c, b int) int{
		"bsq": func(r, c, b int) int { return (b*2+r)*3 + c },
		"bil": func(r, c, b int) int { return (r*2+b)*3 + c },
		"bip": func(r, c, b int) int { return (r*3+c)*2 + b },
	}

	for name, order := range layouts {
		t.Run(name, func(t *testing.T) {
			h := &EnviHeader{Samples: 3, Lines: 2, Bands: 2, DataType: 4, Interleave: name, Fields: map[string]string{}}
			cube, err := DecodeENVI(h, encode(order))
			require.NoError(t, err)
			assert.Equal(t, want.Data, cube.Data)
		})
	}
}

func TestDecodeENVIShortFile(t *testing.T) {
	h := &EnviHeader{Samples: 2, Lines: 2, Bands: 2, DataType: 4, Interleave: "bip", Fields: map[string]string{}}
	_, err := DecodeENVI(h, make([]byte, 10))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestWriteAndLoadENVI(t *testing.T) {
	dir := t.TempDir()
	want := newTestCube(t, 3, 2, 4)
	base := filepath.Join(dir, "core")
	require.NoError(t, WriteENVI(base, want))

	for _, path := range []string{base + ".hdr", base + ".img"} {
		cube, err := LoadENVI(path)
		require.NoError(t, err, path)
		assert.Equal(t, want.Data, cube.Data)
		assert.Equal(t, want.Wavelengths, cube.Wavelengths)
		assert.Equal(t, base+".img", cube.Metadata["source"])
	}
}

func TestLoadENVIMissingData(t *testing.T) {
	dir := t.TempDir()
	hdr := filepath.Join(dir, "lonely.hdr")
	require.NoError(t, os.WriteFile(hdr, []byte("ENVI\nsamples = 1\nlines = 1\nbands = 1\n"), 0o644))

	_, err := LoadENVI(hdr)
	require.Error(t, err)
}
