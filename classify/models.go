package classify

// Prototype is one labelled feature vector, usually a reference spectrum or a
// training pixel after feature extraction.
type Prototype struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	Category    string            `json:"category"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"`
	Features    []float64         `json:"features"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PrototypeScore captures the distance between the analysed spectrum and a stored prototype.
type PrototypeScore struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
	Weight   float64 `json:"weight"`
	Source   string  `json:"source,omitempty"`
}

// Prediction summarises the per-class aggregation across nearest prototypes.
type Prediction struct {
	Label         string            `json:"label"`
	Category      string            `json:"category"`
	Type          string            `json:"type"`
	Description   string            `json:"description,omitempty"`
	Confidence    float64           `json:"confidence"`
	AverageDist   float64           `json:"averageDistance"`
	Support       int               `json:"support"`
	TopPrototypes []PrototypeScore  `json:"topPrototypes"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Mineral       *MineralProfile   `json:"mineral,omitempty"`
}

// ModelStats exposes metadata about the loaded prototype collection.
type ModelStats struct {
	Kind           string           `json:"kind"`
	Metric         string           `json:"metric"`
	K              int              `json:"k"`
	Bands          int              `json:"bands"`
	PrototypeCount int              `json:"prototypeCount"`
	LabelCount     int              `json:"labelCount"`
	Labels         []ModelLabelStat `json:"labels"`
	UsingExample   bool             `json:"usingExample"`
}

// ModelLabelStat summarises prototype density per label.
type ModelLabelStat struct {
	Label      string `json:"label"`
	Category   string `json:"category"`
	Prototypes int    `json:"prototypes"`
}

// ClassificationSummary packages predictions for one spectrum with
// auxiliary telemetry.
type ClassificationSummary struct {
	Predictions       []Prediction `json:"predictions"`
	Confident         bool         `json:"confident"`
	LatencyMs         float64      `json:"latencyMs"`
	FeatureVector     []float64    `json:"featureVector,omitempty"`
	PrimaryLabel      string       `json:"primaryLabel,omitempty"`
	Threshold         float64      `json:"threshold"`
	LibraryMatches    []Prediction `json:"libraryMatches,omitempty"`
	RemotePredictions []Prediction `json:"remotePredictions,omitempty"`
	Source            string       `json:"source,omitempty"`
}
