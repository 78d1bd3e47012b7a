package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hsi-cores/assistant"
	"hsi-cores/classify"
	"hsi-cores/db"
	"hsi-cores/hsi"
	"hsi-cores/models"
	"hsi-cores/remotemodel"
	"hsi-cores/results"
	"hsi-cores/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
)

type apiError struct {
	Message string `json:"message"`
}

type libraryUploadResponse struct {
	Stored int                  `json:"stored"`
	Added  []classify.Prototype `json:"added"`
	Stats  classify.ModelStats  `json:"stats"`
}

type libraryDeleteResponse struct {
	Label   string `json:"label"`
	Deleted int64  `json:"deleted"`
}

type modelInfoResponse struct {
	classify.ModelStats
	Wavelengths []float64               `json:"wavelengths,omitempty"`
	Features    []string                `json:"features,omitempty"`
	Options     spectralFeatureSettings `json:"options"`
	Threshold   float64                 `json:"threshold"`
	Library     int                     `json:"libraryReferences"`
	Remote      bool                    `json:"remoteModel"`
	Assistant   bool                    `json:"assistant"`
}

type spectralFeatureSettings struct {
	Smooth           string `json:"smooth,omitempty"`
	ContinuumRemoved bool   `json:"continuumRemoved"`
	Indices          int    `json:"indices"`
}

type interpretRequest struct {
	RunID    string                  `json:"runId,omitempty"`
	SampleID string                  `json:"sampleId,omitempty"`
	Spectrum *models.SpectrumRequest `json:"spectrum,omitempty"`
}

type interpretResponse struct {
	RunID          string `json:"runId,omitempty"`
	SampleID       string `json:"sampleId,omitempty"`
	Interpretation string `json:"interpretation"`
}

const maxUploadBytes = 64 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// preflight sets CORS headers and reports whether the request was fully
// handled (OPTIONS or a disallowed method).
func preflight(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(append(methods, http.MethodOptions), ", "))
	w.Header().Set("Access-Control-Allow-Credentials", "true")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	for _, m := range methods {
		if r.Method == m {
			return false
		}
	}
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return true
}

func newSpectrumClassificationHandler(svc *analysisService) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if preflight(w, r, http.MethodPost) {
			return
		}

		var req models.SpectrumRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.ErrorContext(ctx, "failed to parse request body", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid request payload")
			return
		}

		log.Printf("[HTTP] Spectrum classification request: sample=%q, bands=%d, wavelengths=%d\n",
			req.SampleID, len(req.Values), len(req.Wavelengths))

		resp, err := svc.classifySpectrum(ctx, req)
		if err != nil {
			logger.ErrorContext(ctx, "failed to classify spectrum", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, classificationStatus(err), err.Error())
			return
		}

		log.Printf("[HTTP] Classification complete: primary=%q, confident=%v, predictions=%d, latency=%.2fms\n",
			resp.PrimaryLabel, resp.Confident, len(resp.Predictions), resp.LatencyMs)
		writeJSON(w, http.StatusOK, resp)
	}
}

// classificationStatus maps request problems to 400 and the rest to 500.
func classificationStatus(err error) int {
	if errors.Is(err, errEmptySpectrum) || errors.Is(err, hsi.ErrShapeMismatch) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func newLibraryUploadHandler(svc *analysisService) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if preflight(w, r, http.MethodPost) {
			return
		}

		var entries []hsi.LibraryEntry
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			parsed, err := hsi.ParseLibraryJSON(io.LimitReader(r.Body, maxUploadBytes))
			if err != nil {
				logger.ErrorContext(ctx, "failed to parse library JSON", slog.Any("error", err))
				writeJSONError(w, http.StatusBadRequest, "invalid library payload")
				return
			}
			entries = parsed
		} else {
			parsed, status, err := parseLibraryForm(ctx, r, svc.uploadDir)
			if err != nil {
				writeJSONError(w, status, err.Error())
				return
			}
			entries = parsed
		}

		if len(entries) == 0 {
			writeJSONError(w, http.StatusBadRequest, "no reference spectra provided")
			return
		}

		added, err := svc.addLibraryEntries(ctx, entries)
		if err != nil {
			logger.ErrorContext(ctx, "failed to add library entries", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, libraryUploadResponse{
			Stored: len(entries),
			Added:  added,
			Stats:  svc.classifier.Stats(),
		})
	}
}

// parseLibraryForm reads uploaded library files (JSON or CSV) and applies
// the category, source and meta[...] form fields to every entry.
func parseLibraryForm(ctx context.Context, r *http.Request, tempDir string) ([]hsi.LibraryEntry, int, error) {
	logger := utils.GetLogger()
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", err))
		return nil, http.StatusBadRequest, errors.New("invalid upload payload")
	}
	if r.MultipartForm == nil {
		return nil, http.StatusBadRequest, errors.New("invalid upload payload")
	}

	category := strings.TrimSpace(r.FormValue("category"))
	source := strings.TrimSpace(r.FormValue("source"))
	metadata := map[string]string{}
	for key, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		value := strings.TrimSpace(values[len(values)-1])
		switch key {
		case "category", "source":
			continue
		case "mineral_group", "formula", "alteration", "diagnostic_feature_nm",
			"crystallinity", "hydrated", "economic_relevance":
			if value != "" {
				metadata[key] = value
			}
		default:
			if strings.HasPrefix(key, "meta[") && strings.HasSuffix(key, "]") {
				field := strings.TrimSuffix(strings.TrimPrefix(key, "meta["), "]")
				if field != "" && value != "" {
					metadata[field] = value
				}
			}
		}
	}

	var files []*multipart.FileHeader
	if r.MultipartForm.File != nil {
		files = r.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		return nil, http.StatusBadRequest, errors.New("no library files provided")
	}

	if tempDir == "" {
		tempDir = filepath.Join("tmp", "uploads")
	}
	if err := utils.CreateFolder(tempDir); err != nil {
		logger.ErrorContext(ctx, "failed to create temporary upload dir", slog.Any("error", err))
		return nil, http.StatusInternalServerError, errors.New("internal error while preparing upload")
	}

	var entries []hsi.LibraryEntry
	for _, fileHeader := range files {
		parsed, err := loadUploadedLibrary(tempDir, fileHeader)
		if err != nil {
			logger.ErrorContext(ctx, "failed to read uploaded library",
				slog.String("file", fileHeader.Filename),
				slog.Any("error", xerrors.New(err)),
			)
			return nil, http.StatusBadRequest, fmt.Errorf("%s: %w", fileHeader.Filename, err)
		}
		for i := range parsed {
			if category != "" {
				parsed[i].Category = category
			}
			switch {
			case source != "":
				parsed[i].Source = source
			case strings.HasPrefix(parsed[i].Source, "upload-"):
				parsed[i].Source = fileHeader.Filename
			}
			if len(metadata) > 0 && parsed[i].Metadata == nil {
				parsed[i].Metadata = map[string]string{}
			}
			for k, v := range metadata {
				parsed[i].Metadata[k] = v
			}
		}
		entries = append(entries, parsed...)
	}
	return entries, http.StatusOK, nil
}

func loadUploadedLibrary(tempDir string, fileHeader *multipart.FileHeader) ([]hsi.LibraryEntry, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tempFile, err := os.CreateTemp(tempDir, "upload-*"+strings.ToLower(filepath.Ext(fileHeader.Filename)))
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempFile.Name())

	if _, err := io.Copy(tempFile, src); err != nil {
		tempFile.Close()
		return nil, err
	}
	if err := tempFile.Close(); err != nil {
		return nil, err
	}
	return hsi.LoadReferenceLibrary(tempFile.Name())
}

func newLibraryHandler(svc *analysisService) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if preflight(w, r, http.MethodGet, http.MethodDelete) {
			return
		}
		label := strings.TrimSpace(r.URL.Query().Get("label"))

		if r.Method == http.MethodDelete {
			if label == "" {
				writeJSONError(w, http.StatusBadRequest, "label is required")
				return
			}
			if svc.store == nil {
				writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
				return
			}
			deleted, err := svc.store.DeleteLibraryLabel(label)
			if err != nil {
				logger.ErrorContext(ctx, "failed to delete library label", slog.Any("error", xerrors.New(err)))
				writeJSONError(w, http.StatusInternalServerError, "failed to delete library entries")
				return
			}
			if err := svc.reloadMatcher(); err != nil {
				logger.ErrorContext(ctx, "failed to rebuild library matcher", slog.Any("error", xerrors.New(err)))
			}
			writeJSON(w, http.StatusOK, libraryDeleteResponse{Label: label, Deleted: deleted})
			return
		}

		entries, err := svc.library(label)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load library", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "failed to load library")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func newRunsHandler(svc *analysisService) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if preflight(w, r, http.MethodGet) {
			return
		}

		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = parsed
		}

		runs, err := svc.runs(limit)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load runs", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "failed to load runs")
			return
		}
		if runs == nil {
			runs = []models.AnalysisRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func newModelInfoHandler(svc *analysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if preflight(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, svc.modelInfo())
	}
}

func newInterpretHandler(svc *analysisService) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if preflight(w, r, http.MethodPost) {
			return
		}
		if svc.generator == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "interpretation assistant is not configured")
			return
		}

		var req interpretRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request payload")
			return
		}

		var (
			text string
			err  error
		)
		switch {
		case req.RunID != "":
			run, found, lookupErr := svc.findRun(req.RunID)
			if lookupErr != nil {
				logger.ErrorContext(ctx, "failed to load runs", slog.Any("error", xerrors.New(lookupErr)))
				writeJSONError(w, http.StatusInternalServerError, "failed to load runs")
				return
			}
			if !found {
				writeJSONError(w, http.StatusNotFound, "run not found")
				return
			}
			text, err = assistant.InterpretRun(ctx, svc.generator, run)
		case req.Spectrum != nil:
			spectrumReq := *req.Spectrum
			spectrumReq.Interpret = false
			resp, classifyErr := svc.classifySpectrum(ctx, spectrumReq)
			if classifyErr != nil {
				writeJSONError(w, http.StatusBadRequest, classifyErr.Error())
				return
			}
			sampleID := req.SampleID
			if sampleID == "" {
				sampleID = spectrumReq.SampleID
			}
			text, err = assistant.InterpretClassification(ctx, svc.generator, resp.ClassificationSummary, sampleID)
		default:
			writeJSONError(w, http.StatusBadRequest, "runId or spectrum is required")
			return
		}
		if err != nil {
			logger.ErrorContext(ctx, "interpretation failed", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusBadGateway, "interpretation failed")
			return
		}

		writeJSON(w, http.StatusOK, interpretResponse{RunID: req.RunID, SampleID: req.SampleID, Interpretation: text})
	}
}

// newRouter wires the API and socket handlers onto one mux.
func newRouter(svc *analysisService, socketServer *socketio.Server) *http.ServeMux {
	mux := http.NewServeMux()
	if socketServer != nil {
		mux.Handle("/socket.io/", socketServer)
	}
	mux.HandleFunc("/api/spectra/classify", newSpectrumClassificationHandler(svc))
	mux.HandleFunc("/api/library/upload", newLibraryUploadHandler(svc))
	mux.HandleFunc("/api/library", newLibraryHandler(svc))
	mux.HandleFunc("/api/runs", newRunsHandler(svc))
	mux.HandleFunc("/api/model", newModelInfoHandler(svc))
	mux.HandleFunc("/api/interpret", newInterpretHandler(svc))
	mux.Handle("/", http.FileServer(http.Dir("static")))
	return mux
}

func loadClassifier(modelPath string, k int) (*classify.Classifier, error) {
	classifier, err := classify.NewClassifierFromFile(modelPath, k)
	if err != nil {
		return nil, err
	}

	stats := classifier.Stats()
	prototypeCount := stats.PrototypeCount

	if prototypeCount > 0 && k > prototypeCount {
		k = prototypeCount
		log.Printf("Adjusted K to %d (prototype count: %d)", k, prototypeCount)
		classifier, err = classify.NewClassifierFromFile(modelPath, k)
		if err != nil {
			return nil, fmt.Errorf("reload classifier with adjusted K: %w", err)
		}
	}
	if prototypeCount < 10 && k > 3 {
		k = 3
		log.Printf("Using K=3 for small prototype set (%d prototypes)", prototypeCount)
		classifier, err = classify.NewClassifierFromFile(modelPath, k)
		if err != nil {
			return nil, fmt.Errorf("reload classifier with K=3: %w", err)
		}
	}
	return classifier, nil
}

func serve(protocol, port string) {
	protocol = strings.ToLower(protocol)
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	modelPath := utils.GetEnv("HSI_MODEL_PATH", filepath.Join("models", "mineral_model.json"))
	k := utils.GetEnvInt("HSI_MODEL_K", 5)
	classifier, err := loadClassifier(modelPath, k)
	if err != nil {
		log.Fatalf("failed to load mineral classifier: %v", err)
	}

	svc := &analysisService{
		classifier: classifier,
		threshold:  utils.GetEnvFloat("HSI_CONFIDENCE_THRESHOLD", 0.55),
		maxAngle:   utils.GetEnvFloat("HSI_SAM_MAX_ANGLE", classify.DefaultMaxAngle),
		runLog:     results.NewRunLog(filepath.Join(utils.GetEnv("HSI_OUTPUT_DIR", "output"), "runs.json")),
	}

	if utils.GetEnv("DB_TYPE", "sqlite") != "none" {
		store, err := db.NewDBClient()
		if err != nil {
			log.Printf("Database unavailable, library and run storage disabled: %v\n", err)
		} else {
			svc.store = store
			defer store.Close()
			if err := svc.reloadMatcher(); err != nil {
				log.Printf("Failed to build library matcher: %v\n", err)
			} else if m := svc.libraryMatcher(); m != nil {
				log.Printf("Loaded %d library references for spectral angle matching\n", m.ReferenceCount())
			}
		}
	}

	if remoteURL := utils.GetEnv("REMOTE_MODEL_URL", ""); remoteURL != "" {
		remote := remotemodel.NewClient(remoteURL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := remote.HealthCheck(ctx); err != nil {
			log.Printf("Remote model at %s is not healthy yet: %v\n", remoteURL, err)
		} else {
			log.Printf("Remote model available at %s\n", remoteURL)
		}
		cancel()
		svc.remote = remote
	}

	if utils.GetEnv("GEMINI_API_KEY", "") != "" {
		gemini, err := assistant.NewGeminiClient(context.Background())
		if err != nil {
			log.Printf("Interpretation assistant disabled: %v\n", err)
		} else {
			defer gemini.Close()
			svc.generator = gemini
		}
	}

	controller := newSocketController(svc)

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		log.Printf("CONNECTED: %s, transport: %s, remote addr: %s\n", socket.ID(), connURL.String(), socket.RemoteAddr())
		controller.emitModelInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestModelInfo", func(socket socketio.Conn) {
		log.Printf("requestModelInfo received from %s\n", socket.ID())
		controller.emitModelInfo(socket)
	})

	server.OnEvent("/", "classifySpectrum", func(socket socketio.Conn, msg string) {
		log.Printf("=== classifySpectrum event received from %s, data length: %d ===\n", socket.ID(), len(msg))
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleClassifySpectrum for socket %s: %v\n", socket.ID(), r)
					socket.Emit("analysisError", map[string]string{"message": "internal server error during processing"})
				}
			}()
			controller.handleClassifySpectrum(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	serveHTTP(server, protocol == "https", port, newRouter(svc, server))
}

func serveHTTP(socketServer *socketio.Server, serveHTTPS bool, port string, handler http.Handler) {
	if handler == nil {
		handler = socketServer
	}
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		certKey := utils.GetEnv("CERT_KEY", "")
		certFile := utils.GetEnv("CERT_FILE", "")
		if certKey == "" || certFile == "" {
			log.Fatal("Missing cert: set CERT_KEY and CERT_FILE")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(certFile, certKey); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
	}

	log.Printf("Starting HTTP server on port %v", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}
