package hsi

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadGeotek reads a core-logger text export (geotek.txt, geotek_in.txt).
func LoadGeotek(path string) (*Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geotek: %w", err)
	}
	defer f.Close()

	cube, err := ParseGeotek(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cube.Metadata["source"] = path
	cube.Metadata["instrument"] = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return cube, nil
}

// ParseGeotek parses a tab, comma or whitespace separated table with one
// spectrum per row. Numeric header names are wavelengths; a column whose name
// contains "depth" fills Cube.Depths. The result has Cols == 1.
func ParseGeotek(r io.Reader) (*Cube, error) {
	br := bufio.NewReader(r)
	header, err := firstDataLine(br)
	if err != nil {
		return nil, err
	}
	read := geotekRecords(header, br)

	names, err := read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	depthCol := -1
	var bandCols []int
	var wavelengths []float64
	var ignored []string
	for i, name := range names {
		name = strings.TrimSpace(name)
		if wl, ok := parseWavelengthColumn(name); ok {
			bandCols = append(bandCols, i)
			wavelengths = append(wavelengths, wl)
			continue
		}
		if depthCol < 0 && strings.Contains(strings.ToLower(name), "depth") {
			depthCol = i
			continue
		}
		if name != "" {
			ignored = append(ignored, name)
		}
	}
	if len(bandCols) == 0 {
		return nil, fmt.Errorf("%w: no wavelength columns", ErrInvalidHeader)
	}

	var data []float64
	var depths []float64
	rows := 0
	for {
		record, err := read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rows+1, err)
		}
		if isBlankRecord(record) {
			continue
		}
		for _, col := range bandCols {
			data = append(data, parseCell(record, col))
		}
		if depthCol >= 0 {
			depths = append(depths, parseCell(record, depthCol))
		}
		rows++
	}
	if rows == 0 {
		return nil, ErrEmptyCube
	}

	cube := &Cube{
		Rows:        rows,
		Cols:        1,
		Bands:       len(bandCols),
		Data:        data,
		Wavelengths: wavelengths,
		Depths:      depths,
		Metadata:    map[string]string{"format": "geotek"},
	}
	if len(ignored) > 0 {
		cube.Metadata["ignored columns"] = strings.Join(ignored, ",")
	}
	return cube, cube.Validate()
}

// geotekRecords returns a record reader for the delimiter the header uses.
// Headers without tabs or commas are split on runs of whitespace.
func geotekRecords(header string, rest io.Reader) func() ([]string, error) {
	body := io.MultiReader(strings.NewReader(header+"\n"), rest)
	if strings.ContainsAny(header, "\t,") {
		cr := csv.NewReader(body)
		cr.Comma = ','
		if strings.Contains(header, "\t") {
			cr.Comma = '\t'
		}
		cr.Comment = '#'
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		return cr.Read
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return func() ([]string, error) {
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if strings.HasPrefix(line, "#") {
				continue
			}
			return strings.Fields(line), nil
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

func firstDataLine(br *bufio.Reader) (string, error) {
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return strings.TrimRight(line, "\r\n"), nil
		}
		if err == io.EOF {
			return "", fmt.Errorf("%w: no header row", ErrInvalidHeader)
		}
		if err != nil {
			return "", err
		}
	}
}

// parseWavelengthColumn accepts "450", "450.5", "R450", "nm450", "450nm"
// and "450 nm".
func parseWavelengthColumn(name string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "nm")
	s = strings.TrimPrefix(s, "r")
	s = strings.TrimSuffix(s, "nm")
	s = strings.TrimSuffix(strings.TrimSpace(s), "_")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func parseCell(record []string, col int) float64 {
	if col >= len(record) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
