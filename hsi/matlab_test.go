package hsi

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type matVar struct {
	name   string
	dims   []int
	values []float64 // column-major
}

func matElement(typ uint32, data []byte) []byte {
	var buf bytes.Buffer
	if len(data) <= 4 && typ != miMATRIX {
		binary.Write(&buf, binary.LittleEndian, uint32(len(data))<<16|typ)
		buf.Write(data)
		buf.Write(make([]byte, 4-len(data)))
		return buf.Bytes()
	}
	binary.Write(&buf, binary.LittleEndian, typ)
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	if pad := (8 - len(data)%8) % 8; pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

func encodeMatVar(v matVar) []byte {
	var body bytes.Buffer
	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags, mxDOUBLE)
	body.Write(matElement(miUINT32, flags))

	dims := make([]byte, 4*len(v.dims))
	for i, d := range v.dims {
		binary.LittleEndian.PutUint32(dims[4*i:], uint32(d))
	}
	body.Write(matElement(miINT32, dims))
	body.Write(matElement(miINT8, []byte(v.name)))

	values := make([]byte, 8*len(v.values))
	for i, x := range v.values {
		binary.LittleEndian.PutUint64(values[8*i:], math.Float64bits(x))
	}
	body.Write(matElement(miDOUBLE, values))
	return matElement(miMATRIX, body.Bytes())
}

func writeTestMAT(t *testing.T, path string, compress bool, vars ...matVar) {
	t.Helper()
	var buf bytes.Buffer
	header := make([]byte, matHeaderSize)
	copy(header, []byte("MATLAB 5.0 MAT-file, written by hsi tests"))
	for i := len("MATLAB 5.0 MAT-file, written by hsi tests"); i < 116; i++ {
		header[i] = ' '
	}
	binary.LittleEndian.PutUint16(header[124:], 0x0100)
	copy(header[126:], "IM")
	buf.Write(header)

	for _, v := range vars {
		element := encodeMatVar(v)
		if !compress {
			buf.Write(element)
			continue
		}
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		_, err := zw.Write(element)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		binary.Write(&buf, binary.LittleEndian, uint32(miCOMPRESSED))
		binary.Write(&buf, binary.LittleEndian, uint32(z.Len()))
		buf.Write(z.Bytes())
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// columnMajor flattens a cube the way MATLAB stores it.
func columnMajor(c *Cube) []float64 {
	out := make([]float64, 0, len(c.Data))
	for b := 0; b < c.Bands; b++ {
		for col := 0; col < c.Cols; col++ {
			for r := 0; r < c.Rows; r++ {
				out = append(out, c.At(r, col, b))
			}
		}
	}
	return out
}

func TestLoadMAT(t *testing.T) {
	want := newTestCube(t, 3, 2, 4)

	for _, compress := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "core.mat")
		writeTestMAT(t, path, compress,
			matVar{name: "wl", dims: []int{1, 4}, values: want.Wavelengths},
			matVar{name: "small", dims: []int{2, 2}, values: []float64{1, 2, 3, 4}},
			matVar{name: "reflectance", dims: []int{3, 2, 4}, values: columnMajor(want)},
		)

		cube, err := Load(path, "")
		require.NoError(t, err, "compress=%v", compress)
		assert.Equal(t, want.Rows, cube.Rows)
		assert.Equal(t, want.Cols, cube.Cols)
		assert.Equal(t, want.Bands, cube.Bands)
		assert.Equal(t, want.Data, cube.Data, "column-major reordered to BIP")
		assert.Equal(t, want.Wavelengths, cube.Wavelengths)
		assert.Equal(t, "reflectance", cube.Metadata["variable"])
	}
}

func TestLoadMATNamedVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "two.mat")
	writeTestMAT(t, path, false,
		matVar{name: "big", dims: []int{2, 2, 3}, values: make([]float64, 12)},
		matVar{name: "spectra", dims: []int{2, 3}, values: []float64{1, 4, 2, 5, 3, 6}},
	)

	cube, err := LoadWithOptions(path, LoadOptions{Dataset: "spectra"})
	require.NoError(t, err)
	assert.Equal(t, 2, cube.Rows)
	assert.Equal(t, 1, cube.Cols)
	assert.Equal(t, 3, cube.Bands)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, cube.Data)

	_, err = LoadWithOptions(path, LoadOptions{Dataset: "missing"})
	require.ErrorIs(t, err, ErrEmptyCube)
}

func TestReadMATRejectsGarbage(t *testing.T) {
	_, err := ReadMAT(bytes.NewReader([]byte("short")))
	require.ErrorIs(t, err, ErrInvalidHeader)

	header := make([]byte, matHeaderSize)
	copy(header[126:], "XX")
	_, err = ReadMAT(bytes.NewReader(header))
	require.ErrorIs(t, err, ErrInvalidHeader)
}
