package models

import (
	"time"
)

// SpectrumRequest is the payload of the classify endpoint and the
// classifySpectrum socket event.
type SpectrumRequest struct {
	Values      []float64 `json:"values"`
	Wavelengths []float64 `json:"wavelengths,omitempty"`
	Label       string    `json:"label,omitempty"`
	SampleID    string    `json:"sampleId,omitempty"`
	Depth       *float64  `json:"depth,omitempty"` // metres down hole
	TopK        int       `json:"topK,omitempty"`
	Interpret   bool      `json:"interpret,omitempty"`
}

// IndexStat summarises one spectral index plane.
type IndexStat struct {
	Name   string  `json:"name" bson:"name"`
	Min    float64 `json:"min" bson:"min"`
	Max    float64 `json:"max" bson:"max"`
	Mean   float64 `json:"mean" bson:"mean"`
	StdDev float64 `json:"stdDev" bson:"stdDev"`
	Valid  int     `json:"valid" bson:"valid"` // finite pixels
}

// AnalysisRun represents one pipeline execution over an input file
type AnalysisRun struct {
	ID             string            `json:"id" bson:"_id"`
	Input          string            `json:"input" bson:"input"`
	Format         string            `json:"format" bson:"format"`
	Rows           int               `json:"rows" bson:"rows"`
	Cols           int               `json:"cols" bson:"cols"`
	Bands          int               `json:"bands" bson:"bands"`
	WavelengthMin  float64           `json:"wavelengthMin,omitempty" bson:"wavelengthMin,omitempty"`
	WavelengthMax  float64           `json:"wavelengthMax,omitempty" bson:"wavelengthMax,omitempty"`
	Preprocessing  []string          `json:"preprocessing,omitempty" bson:"preprocessing,omitempty"`
	IndexStats     []IndexStat       `json:"indexStats,omitempty" bson:"indexStats,omitempty"`
	Ratios         []IndexStat       `json:"ratios,omitempty" bson:"ratios,omitempty"`
	ExplainedVar   []float64         `json:"explainedVariance,omitempty" bson:"explainedVariance,omitempty"`
	AbsorptionNm   []float64         `json:"absorptionNm,omitempty" bson:"absorptionNm,omitempty"`
	ModelPath      string            `json:"modelPath,omitempty" bson:"modelPath,omitempty"`
	ClassCounts    map[string]int    `json:"classCounts,omitempty" bson:"classCounts,omitempty"`
	MeanConfidence float64           `json:"meanConfidence,omitempty" bson:"meanConfidence,omitempty"`
	Artifacts      []string          `json:"artifacts,omitempty" bson:"artifacts,omitempty"`
	Warnings       []string          `json:"warnings,omitempty" bson:"warnings,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	StartedAt      time.Time         `json:"startedAt" bson:"startedAt"`
	FinishedAt     time.Time         `json:"finishedAt" bson:"finishedAt"`
	DurationMs     float64           `json:"durationMs" bson:"durationMs"`
	Interpretation string            `json:"interpretation,omitempty" bson:"interpretation,omitempty"`
	MeanSpectrum   []float64         `json:"meanSpectrum,omitempty" bson:"meanSpectrum,omitempty"`
	Wavelengths    []float64         `json:"wavelengths,omitempty" bson:"wavelengths,omitempty"`
}

// Warn records a non-fatal step failure.
func (r *AnalysisRun) Warn(step string, err error) {
	r.Warnings = append(r.Warnings, step+": "+err.Error())
}

// AddArtifact records a file written by the run.
func (r *AnalysisRun) AddArtifact(path string) {
	r.Artifacts = append(r.Artifacts, path)
}
