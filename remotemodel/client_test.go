package remotemodel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, respond func(w http.ResponseWriter, req predictRequest)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		respond(w, req)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, nil)
	require.NoError(t, NewClient(srv.URL+"/").HealthCheck(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	require.Error(t, NewClient(down.URL).HealthCheck(context.Background()))
}

func TestPredictProbabilities(t *testing.T) {
	var got predictRequest
	srv := newTestServer(t, func(w http.ResponseWriter, req predictRequest) {
		got = req
		json.NewEncoder(w).Encode(map[string]any{
			"label":         "kaolinite",
			"probabilities": map[string]float64{"kaolinite": 0.7, "chlorite": 0.2, "calcite": 0.1},
			"model":         "rf",
		})
	})

	preds, err := NewClient(srv.URL).Predict(context.Background(), []float64{0.1, 0.2}, []float64{2200, 2300})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, got.Features)
	assert.Equal(t, []float64{2200, 2300}, got.Wavelengths)

	require.Len(t, preds, 3)
	assert.Equal(t, "kaolinite", preds[0].Label)
	assert.Equal(t, "chlorite", preds[1].Label)
	assert.Equal(t, "calcite", preds[2].Label)
	assert.Equal(t, "remote:rf", preds[0].Metadata["source"])
	assert.Equal(t, "mineral", preds[0].Category)
}

func TestPredictRankedList(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req predictRequest) {
		w.Write([]byte(`{"predictions":[{"label":"calcite","confidence":0.3},{"label":"dolomite","category":"carbonate","confidence":0.6}]}`))
	})

	preds, err := NewClient(srv.URL).Predict(context.Background(), []float64{1}, nil)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "dolomite", preds[0].Label)
	assert.Equal(t, "carbonate", preds[0].Category)
	assert.Equal(t, "remote", preds[1].Metadata["source"])
}

func TestPredictErrors(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req predictRequest) {
		if len(req.Features) == 1 {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	})
	client := NewClient(srv.URL)

	_, err := client.Predict(context.Background(), nil, nil)
	require.Error(t, err)

	_, err = client.Predict(context.Background(), []float64{1}, nil)
	require.ErrorContains(t, err, "model not loaded")

	_, err = client.Predict(context.Background(), []float64{1, 2}, nil)
	require.ErrorIs(t, err, ErrEmptyResponse)
}
