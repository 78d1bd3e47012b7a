package hsi

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// MATLAB Level-5 data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
)

// MATLAB array classes that hold plain numbers.
const (
	mxDOUBLE = 6
	mxUINT64 = 15
)

const matHeaderSize = 128

// MatArray is a numeric variable read from a MAT file, values column-major.
type MatArray struct {
	Name   string
	Dims   []int
	Values []float64
}

// Len returns the number of elements.
func (a MatArray) Len() int {
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// ReadMAT returns every real numeric array in a Level-5 MAT file. Cell,
// struct, char, sparse and complex variables are skipped.
func ReadMAT(r io.Reader) ([]MatArray, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) < matHeaderSize {
		return nil, fmt.Errorf("%w: MAT header truncated", ErrInvalidHeader)
	}

	var order binary.ByteOrder
	switch string(raw[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: MAT endian indicator", ErrInvalidHeader)
	}

	var arrays []MatArray
	if err := walkMatElements(raw[matHeaderSize:], order, &arrays); err != nil {
		return nil, err
	}
	return arrays, nil
}

func walkMatElements(buf []byte, order binary.ByteOrder, out *[]MatArray) error {
	for len(buf) >= 8 {
		typ, size, data, rest, err := nextMatElement(buf, order)
		if err != nil {
			return err
		}
		buf = rest

		switch typ {
		case miCOMPRESSED:
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("mat: inflate: %w", err)
			}
			inflated, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return fmt.Errorf("mat: inflate: %w", err)
			}
			if err := walkMatElements(inflated, order, out); err != nil {
				return err
			}
		case miMATRIX:
			if size == 0 {
				continue
			}
			arr, ok, err := parseMatMatrix(data, order)
			if err != nil {
				return err
			}
			if ok {
				*out = append(*out, arr)
			}
		}
	}
	return nil
}

// nextMatElement splits one tagged element off buf, honouring the
// small-element form and 8-byte alignment.
func nextMatElement(buf []byte, order binary.ByteOrder) (typ uint32, size uint32, data []byte, rest []byte, err error) {
	if len(buf) < 8 {
		return 0, 0, nil, nil, fmt.Errorf("%w: truncated element", ErrInvalidHeader)
	}
	first := order.Uint32(buf[0:4])
	if first>>16 != 0 {
		typ = first & 0xffff
		size = first >> 16
		if size > 4 {
			return 0, 0, nil, nil, fmt.Errorf("%w: small element of %d bytes", ErrInvalidHeader, size)
		}
		return typ, size, buf[4 : 4+size], buf[8:], nil
	}

	typ = first
	size = order.Uint32(buf[4:8])
	end := 8 + int(size)
	if end > len(buf) {
		return 0, 0, nil, nil, fmt.Errorf("%w: element of %d bytes exceeds file", ErrInvalidHeader, size)
	}
	data = buf[8:end]
	if typ != miCOMPRESSED {
		if pad := (8 - int(size)%8) % 8; end+pad <= len(buf) {
			end += pad
		}
	}
	return typ, size, data, buf[end:], nil
}

func parseMatMatrix(buf []byte, order binary.ByteOrder) (MatArray, bool, error) {
	var arr MatArray
	_, _, flags, buf, err := nextMatElement(buf, order)
	if err != nil {
		return arr, false, err
	}
	if len(flags) < 4 {
		return arr, false, fmt.Errorf("%w: array flags", ErrInvalidHeader)
	}
	flagWord := order.Uint32(flags[0:4])
	class := flagWord & 0xff
	complexFlag := flagWord&0x800 != 0

	dimType, _, dimData, buf, err := nextMatElement(buf, order)
	if err != nil {
		return arr, false, err
	}
	dims, err := decodeMatNumbers(dimType, dimData, order)
	if err != nil {
		return arr, false, err
	}
	arr.Dims = make([]int, len(dims))
	for i, d := range dims {
		arr.Dims[i] = int(d)
	}

	_, _, name, buf, err := nextMatElement(buf, order)
	if err != nil {
		return arr, false, err
	}
	arr.Name = string(name)

	if class < mxDOUBLE || class > mxUINT64 || complexFlag {
		return arr, false, nil
	}

	realType, _, realData, _, err := nextMatElement(buf, order)
	if err != nil {
		return arr, false, err
	}
	arr.Values, err = decodeMatNumbers(realType, realData, order)
	if err != nil {
		return arr, false, err
	}
	if len(arr.Values) != arr.Len() {
		return arr, false, fmt.Errorf("%w: variable %q has %d values for dims %v",
			ErrShapeMismatch, arr.Name, len(arr.Values), arr.Dims)
	}
	return arr, true, nil
}

func decodeMatNumbers(typ uint32, data []byte, order binary.ByteOrder) ([]float64, error) {
	var width int
	switch typ {
	case miINT8, miUINT8:
		width = 1
	case miINT16, miUINT16:
		width = 2
	case miINT32, miUINT32, miSINGLE:
		width = 4
	case miDOUBLE, miINT64, miUINT64:
		width = 8
	default:
		return nil, fmt.Errorf("%w: MAT data type %d", ErrUnsupportedFormat, typ)
	}
	n := len(data) / width
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := data[i*width : (i+1)*width]
		switch typ {
		case miINT8:
			out[i] = float64(int8(b[0]))
		case miUINT8:
			out[i] = float64(b[0])
		case miINT16:
			out[i] = float64(int16(order.Uint16(b)))
		case miUINT16:
			out[i] = float64(order.Uint16(b))
		case miINT32:
			out[i] = float64(int32(order.Uint32(b)))
		case miUINT32:
			out[i] = float64(order.Uint32(b))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case miDOUBLE:
			out[i] = math.Float64frombits(order.Uint64(b))
		case miINT64:
			out[i] = float64(int64(order.Uint64(b)))
		case miUINT64:
			out[i] = float64(order.Uint64(b))
		}
	}
	return out, nil
}

var matWavelengthNames = []string{"wavelengths", "wavelength", "wl", "wave", "lambda"}

// LoadMAT reads a MATLAB file. Level-5 files are parsed directly and v7.3
// files go through the HDF5 reader. opts.Dataset selects the variable.
func LoadMAT(path string, opts LoadOptions) (*Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mat: %w", err)
	}
	defer f.Close()

	head := make([]byte, matHeaderSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("%w: MAT header: %v", ErrInvalidHeader, err)
	}
	if strings.HasPrefix(string(head), "MATLAB 7.3") {
		opts.transposed = true
		cube, err := LoadHDF5(path, opts)
		if err != nil {
			return nil, err
		}
		cube.Metadata["format"] = "mat-v7.3"
		return cube, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	arrays, err := ReadMAT(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cube, err := CubeFromMatArrays(arrays, opts.Dataset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cube.Metadata["source"] = path
	return cube, nil
}

// CubeFromMatArrays picks the cube variable (named, or the largest rank-3
// then rank-2 array) and an optional wavelength vector.
func CubeFromMatArrays(arrays []MatArray, variable string) (*Cube, error) {
	var chosen *MatArray
	for i := range arrays {
		arr := &arrays[i]
		if variable != "" {
			if arr.Name == variable {
				chosen = arr
				break
			}
			continue
		}
		if isMatVector(*arr) {
			continue
		}
		if chosen == nil || betterCubeCandidate(*arr, *chosen) {
			chosen = arr
		}
	}
	if chosen == nil {
		if variable != "" {
			return nil, fmt.Errorf("%w: variable %q not found", ErrEmptyCube, variable)
		}
		return nil, fmt.Errorf("%w: no numeric array of rank 2 or 3", ErrEmptyCube)
	}

	dims := trimTrailingOnes(chosen.Dims)
	cube, err := cubeFromColumnMajor(chosen.Values, dims)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", chosen.Name, err)
	}

	for _, arr := range arrays {
		if !isMatVector(arr) || arr.Len() != cube.Bands || !isWavelengthName(arr.Name) {
			continue
		}
		wl := append([]float64(nil), arr.Values...)
		if isMicrometres("", wl) {
			for i := range wl {
				wl[i] *= 1000
			}
		}
		cube.Wavelengths = wl
		break
	}

	cube.Metadata["format"] = "mat"
	cube.Metadata["variable"] = chosen.Name
	return cube, nil
}

func betterCubeCandidate(a, b MatArray) bool {
	ra, rb := len(trimTrailingOnes(a.Dims)), len(trimTrailingOnes(b.Dims))
	if ra != rb {
		return ra == 3
	}
	return a.Len() > b.Len()
}

func isMatVector(a MatArray) bool {
	nonUnit := 0
	for _, d := range a.Dims {
		if d > 1 {
			nonUnit++
		}
	}
	return nonUnit <= 1
}

func isWavelengthName(name string) bool {
	name = strings.ToLower(name)
	for _, candidate := range matWavelengthNames {
		if name == candidate {
			return true
		}
	}
	return false
}

func trimTrailingOnes(dims []int) []int {
	out := append([]int(nil), dims...)
	for len(out) > 2 && out[len(out)-1] == 1 {
		out = out[:len(out)-1]
	}
	return out
}
