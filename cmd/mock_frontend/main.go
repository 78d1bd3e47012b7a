package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"hsi-cores/classify"
	"hsi-cores/hsi"
	"hsi-cores/models"
)

// classificationReply mirrors the fields of the server response we print.
type classificationReply struct {
	classify.ClassificationSummary
	SampleID       string `json:"sampleId"`
	Interpretation string `json:"interpretation"`
}

func main() {
	file := flag.String("file", "", "Cube to sample pixels from")
	endpoint := flag.String("url", "http://localhost:5000/api/spectra/classify", "Classification endpoint")
	step := flag.Int("step", 10, "Send every step-th row of the centre column")
	topK := flag.Int("top", 3, "Predictions to request per spectrum")
	interpret := flag.Bool("interpret", false, "Ask the server for an interpretation")
	delay := flag.Duration("delay", 500*time.Millisecond, "Delay between requests")
	flag.Parse()

	if *file == "" {
		log.Fatal("Usage: mock_frontend -file <cube> [-url endpoint] [-step n]")
	}
	cube, err := hsi.Load(*file, hsi.FormatAuto)
	if err != nil {
		log.Fatalf("failed to load cube: %v", err)
	}
	if *step < 1 {
		*step = 1
	}

	col := cube.Cols / 2
	sample := filepath.Base(*file)
	fmt.Printf("Sending %d spectra from %s (column %d) to %s\n\n", (cube.Rows+*step-1) / *step, sample, col, *endpoint)
	for r := 0; r < cube.Rows; r += *step {
		spec, err := cube.Pixel(r, col)
		if err != nil {
			log.Fatalf("pixel (%d, %d): %v", r, col, err)
		}
		req := models.SpectrumRequest{
			Values:      spec.Values,
			Wavelengths: spec.Wavelengths,
			SampleID:    fmt.Sprintf("%s:r%d", sample, r),
			TopK:        *topK,
			Interpret:   *interpret,
		}
		if len(cube.Depths) == cube.Rows {
			depth := cube.Depths[r]
			req.Depth = &depth
		}
		if err := sendSpectrum(*endpoint, req); err != nil {
			log.Printf("request failed for row %d: %v\n", r, err)
		}
		if r+*step < cube.Rows && *delay > 0 {
			time.Sleep(*delay)
		}
	}
}

func sendSpectrum(endpoint string, record models.SpectrumRequest) error {
	fmt.Printf("→ %s\n", record.SampleID)

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post classification request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var summary classificationReply
	if err := json.Unmarshal(body, &summary); err != nil {
		return fmt.Errorf("decode classification response: %w", err)
	}

	if len(summary.Predictions) == 0 {
		fmt.Println("   no predictions returned")
	} else {
		best := summary.Predictions[0]
		fmt.Printf("   best=%s (%.1f%%) confident=%v libraryHits=%d latency=%.1fms\n",
			best.Label, best.Confidence*100, summary.Confident, len(summary.LibraryMatches), summary.LatencyMs)
	}
	if summary.Interpretation != "" {
		fmt.Printf("   %s\n", summary.Interpretation)
	}
	return nil
}
