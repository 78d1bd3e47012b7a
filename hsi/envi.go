package hsi

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnviHeader holds the fields of an ENVI .hdr file that the reader uses.
// Every raw key/value is also kept in Fields.
type EnviHeader struct {
	Samples          int
	Lines            int
	Bands            int
	HeaderOffset     int64
	DataType         int
	Interleave       string
	ByteOrder        int
	Wavelengths      []float64
	WavelengthUnits  string
	BadBands         []bool
	IgnoreValue      *float64
	ReflectanceScale float64
	Fields           map[string]string
}

var enviDataExtensions = []string{".img", ".dat", ".raw", ".bsq", ".bil", ".bip", ""}

// ParseEnviHeader reads an ENVI header from r.
func ParseEnviHeader(r io.Reader) (*EnviHeader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: empty header", ErrInvalidHeader)
	}
	if strings.TrimSpace(scanner.Text()) != "ENVI" {
		return nil, fmt.Errorf("%w: missing ENVI magic", ErrInvalidHeader)
	}

	fields := map[string]string{}
	var key string
	var pending strings.Builder
	open := false
	for scanner.Scan() {
		line := scanner.Text()
		if open {
			pending.WriteString(" ")
			pending.WriteString(strings.TrimSpace(line))
			if strings.Contains(line, "}") {
				fields[key] = strings.TrimSpace(pending.String())
				open = false
			}
			continue
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), ";") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(line[:eq]))
		value := strings.TrimSpace(line[eq+1:])
		if strings.HasPrefix(value, "{") && !strings.Contains(value, "}") {
			pending.Reset()
			pending.WriteString(value)
			open = true
			continue
		}
		fields[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if open {
		return nil, fmt.Errorf("%w: unterminated list for %q", ErrInvalidHeader, key)
	}
	return headerFromFields(fields)
}

func headerFromFields(fields map[string]string) (*EnviHeader, error) {
	h := &EnviHeader{
		Interleave: "bsq",
		DataType:   4,
		Fields:     fields,
	}

	required := map[string]*int{"samples": &h.Samples, "lines": &h.Lines, "bands": &h.Bands}
	for name, dst := range required {
		raw, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidHeader, name)
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%w: bad %s %q", ErrInvalidHeader, name, raw)
		}
		*dst = v
	}

	if raw, ok := fields["header offset"]; ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: bad header offset %q", ErrInvalidHeader, raw)
		}
		h.HeaderOffset = v
	}
	if raw, ok := fields["data type"]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad data type %q", ErrInvalidHeader, raw)
		}
		h.DataType = v
	}
	if _, err := enviSampleSize(h.DataType); err != nil {
		return nil, err
	}
	if raw, ok := fields["interleave"]; ok {
		h.Interleave = strings.ToLower(raw)
	}
	switch h.Interleave {
	case "bsq", "bil", "bip":
	default:
		return nil, fmt.Errorf("%w: interleave %q", ErrInvalidHeader, h.Interleave)
	}
	if raw, ok := fields["byte order"]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil || (v != 0 && v != 1) {
			return nil, fmt.Errorf("%w: byte order %q", ErrInvalidHeader, raw)
		}
		h.ByteOrder = v
	}

	h.WavelengthUnits = strings.ToLower(fields["wavelength units"])
	if raw, ok := fields["wavelength"]; ok {
		wl, err := parseEnviList(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: wavelength: %v", ErrInvalidHeader, err)
		}
		if len(wl) != h.Bands {
			return nil, fmt.Errorf("%w: %d wavelengths for %d bands", ErrShapeMismatch, len(wl), h.Bands)
		}
		if isMicrometres(h.WavelengthUnits, wl) {
			for i := range wl {
				wl[i] *= 1000
			}
		}
		h.Wavelengths = wl
	}
	if raw, ok := fields["bbl"]; ok {
		flags, err := parseEnviList(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bbl: %v", ErrInvalidHeader, err)
		}
		if len(flags) == h.Bands {
			h.BadBands = make([]bool, h.Bands)
			for i, f := range flags {
				// ENVI marks good bands with 1.
				h.BadBands[i] = f == 0
			}
		}
	}
	if raw, ok := fields["data ignore value"]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			h.IgnoreValue = &v
		}
	}
	if raw, ok := fields["reflectance scale factor"]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			h.ReflectanceScale = v
		}
	}
	return h, nil
}

func isMicrometres(units string, wl []float64) bool {
	switch units {
	case "micrometers", "micrometres", "microns", "um", "µm":
		return true
	case "nanometers", "nanometres", "nm":
		return false
	}
	// Unitless headers: values below 100 can only be micrometres.
	return len(wl) > 0 && wl[len(wl)-1] < 100
}

func parseEnviList(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func enviSampleSize(dataType int) (int, error) {
	switch dataType {
	case 1:
		return 1, nil
	case 2, 12:
		return 2, nil
	case 3, 4, 13:
		return 4, nil
	case 5, 14, 15:
		return 8, nil
	}
	return 0, fmt.Errorf("%w: ENVI data type %d", ErrUnsupportedFormat, dataType)
}

func decodeEnviSample(buf []byte, dataType int, order binary.ByteOrder) float64 {
	switch dataType {
	case 1:
		return float64(buf[0])
	case 2:
		return float64(int16(order.Uint16(buf)))
	case 12:
		return float64(order.Uint16(buf))
	case 3:
		return float64(int32(order.Uint32(buf)))
	case 13:
		return float64(order.Uint32(buf))
	case 4:
		return float64(math.Float32frombits(order.Uint32(buf)))
	case 5:
		return math.Float64frombits(order.Uint64(buf))
	case 14:
		return float64(int64(order.Uint64(buf)))
	case 15:
		return float64(order.Uint64(buf))
	}
	return math.NaN()
}

// LoadENVI reads an ENVI header/data pair. path may name either file.
func LoadENVI(path string) (*Cube, error) {
	headerPath, dataPath, err := resolveEnviPair(path)
	if err != nil {
		return nil, err
	}

	hf, err := os.Open(headerPath)
	if err != nil {
		return nil, fmt.Errorf("open header: %w", err)
	}
	defer hf.Close()
	header, err := ParseEnviHeader(hf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", headerPath, err)
	}

	raw, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	cube, err := DecodeENVI(header, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dataPath, err)
	}
	cube.Metadata["source"] = dataPath
	return cube, nil
}

// DecodeENVI converts a raw ENVI data file into a BIP cube.
func DecodeENVI(h *EnviHeader, raw []byte) (*Cube, error) {
	size, err := enviSampleSize(h.DataType)
	if err != nil {
		return nil, err
	}
	n := int64(h.Samples) * int64(h.Lines) * int64(h.Bands)
	need := h.HeaderOffset + n*int64(size)
	if int64(len(raw)) < need {
		return nil, fmt.Errorf("%w: data file has %d bytes, header needs %d", ErrShapeMismatch, len(raw), need)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if h.ByteOrder == 1 {
		order = binary.BigEndian
	}

	cube, err := NewCube(h.Lines, h.Samples, h.Bands)
	if err != nil {
		return nil, err
	}
	payload := raw[h.HeaderOffset:]
	rows, cols, bands := h.Lines, h.Samples, h.Bands
	for i := 0; i < int(n); i++ {
		var r, c, b int
		switch h.Interleave {
		case "bsq":
			b = i / (rows * cols)
			r = (i / cols) % rows
			c = i % cols
		case "bil":
			r = i / (bands * cols)
			b = (i / cols) % bands
			c = i % cols
		default:
			r = i / (cols * bands)
			c = (i / bands) % cols
			b = i % bands
		}
		v := decodeEnviSample(payload[i*size:(i+1)*size], h.DataType, order)
		if h.IgnoreValue != nil && v == *h.IgnoreValue {
			v = math.NaN()
		} else if h.ReflectanceScale > 0 {
			v /= h.ReflectanceScale
		}
		cube.Data[(r*cols+c)*bands+b] = v
	}

	cube.Wavelengths = h.Wavelengths
	cube.BadBands = h.BadBands
	cube.Metadata["format"] = "envi"
	cube.Metadata["interleave"] = h.Interleave
	cube.Metadata["data type"] = strconv.Itoa(h.DataType)
	for _, key := range []string{"description", "sensor type", "acquisition time", "default bands"} {
		if v, ok := h.Fields[key]; ok {
			cube.Metadata[key] = strings.Trim(v, "{} ")
		}
	}
	return cube, nil
}

func resolveEnviPair(path string) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.TrimSuffix(path, filepath.Ext(path))

	if ext == ".hdr" {
		for _, candidate := range enviDataExtensions {
			dataPath := stem + candidate
			if info, err := os.Stat(dataPath); err == nil && !info.IsDir() {
				return path, dataPath, nil
			}
		}
		return "", "", fmt.Errorf("no ENVI data file next to %s", path)
	}

	// Data file given: header is either stem.hdr or path.hdr.
	for _, headerPath := range []string{stem + ".hdr", path + ".hdr"} {
		if _, err := os.Stat(headerPath); err == nil {
			return headerPath, path, nil
		}
	}
	return "", "", fmt.Errorf("no ENVI header for %s", path)
}

// WriteENVI stores cube as a float32 BIP pair at basePath.hdr / basePath.img.
func WriteENVI(basePath string, cube *Cube) error {
	if err := cube.Validate(); err != nil {
		return err
	}
	var hdr strings.Builder
	hdr.WriteString("ENVI\n")
	fmt.Fprintf(&hdr, "samples = %d\nlines = %d\nbands = %d\n", cube.Cols, cube.Rows, cube.Bands)
	hdr.WriteString("header offset = 0\ndata type = 4\ninterleave = bip\nbyte order = 0\n")
	if len(cube.Wavelengths) > 0 {
		parts := make([]string, len(cube.Wavelengths))
		for i, w := range cube.Wavelengths {
			parts[i] = strconv.FormatFloat(w, 'f', -1, 64)
		}
		hdr.WriteString("wavelength units = Nanometers\n")
		fmt.Fprintf(&hdr, "wavelength = {%s}\n", strings.Join(parts, ", "))
	}
	if err := os.WriteFile(basePath+".hdr", []byte(hdr.String()), 0o644); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	buf := make([]byte, 4*len(cube.Data))
	for i, v := range cube.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	if err := os.WriteFile(basePath+".img", buf, 0o644); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}
