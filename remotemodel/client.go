package remotemodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hsi-cores/classify"
)

var ErrEmptyResponse = errors.New("remotemodel: model server returned no predictions")

// Client talks to an external model server (for example a scikit-learn
// service) exposing GET /health and POST /predict.
type Client struct {
	serviceURL string
	client     *http.Client
}

// predictRequest is the body of POST /predict.
type predictRequest struct {
	Features    []float64 `json:"features"`
	Wavelengths []float64 `json:"wavelengths,omitempty"`
}

type remotePrediction struct {
	Label      string  `json:"label"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// PredictResponse accepts either a ranked prediction list or the
// predict_proba style {"label": ..., "probabilities": {...}}.
type PredictResponse struct {
	Predictions   []remotePrediction `json:"predictions"`
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
	Model         string             `json:"model,omitempty"`
}

// NewClient creates a client for serviceURL with a 30 second timeout.
func NewClient(serviceURL string) *Client {
	if serviceURL == "" {
		serviceURL = "http://localhost:5003"
	}

	return &Client{
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HealthCheck verifies the model server is running
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("model server not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Predict sends one feature vector and returns predictions sorted by
// confidence.
func (c *Client) Predict(ctx context.Context, features, wavelengths []float64) ([]classify.Prediction, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("remotemodel: empty feature vector")
	}
	body, err := json.Marshal(predictRequest{Features: features, Wavelengths: wavelengths})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var predResp PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&predResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return predResp.toPredictions()
}

func (r PredictResponse) toPredictions() ([]classify.Prediction, error) {
	source := "remote"
	if r.Model != "" {
		source = "remote:" + r.Model
	}
	newPrediction := func(label, category string, confidence float64) classify.Prediction {
		if category == "" {
			category = "mineral"
		}
		return classify.Prediction{
			Label:      label,
			Category:   category,
			Type:       label,
			Confidence: confidence,
			Support:    1,
			Metadata:   map[string]string{"source": source},
		}
	}

	var out []classify.Prediction
	switch {
	case len(r.Predictions) > 0:
		for _, p := range r.Predictions {
			out = append(out, newPrediction(p.Label, p.Category, p.Confidence))
		}
	case len(r.Probabilities) > 0:
		for label, prob := range r.Probabilities {
			out = append(out, newPrediction(label, "", prob))
		}
	case r.Label != "":
		out = append(out, newPrediction(r.Label, "", 1))
	default:
		return nil, ErrEmptyResponse
	}
	return classify.MergePredictions(nil, out), nil
}
