package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"

	"hsi-cores/models"
	"hsi-cores/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

// socketEmitter is the part of socketio.Conn the controller writes to.
type socketEmitter interface {
	ID() string
	Emit(event string, v ...interface{})
}

type socketController struct {
	svc *analysisService
}

func newSocketController(svc *analysisService) *socketController {
	return &socketController{svc: svc}
}

func (c *socketController) emitModelInfo(socket socketio.Conn) {
	c.sendModelInfo(socket)
}

func (c *socketController) sendModelInfo(socket socketEmitter) {
	socket.Emit("modelInfo", c.svc.modelInfo())
}

func (c *socketController) handleClassifySpectrum(socket socketio.Conn, payload string) {
	c.classifySpectrum(socket, payload)
}

func (c *socketController) classifySpectrum(socket socketEmitter, payload string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	log.Printf("[handleClassifySpectrum] Starting for socket %s, data length: %d\n", socket.ID(), len(payload))

	if payload == "" {
		logger.ErrorContext(ctx, "no data received in classifySpectrum event")
		socket.Emit("analysisError", map[string]string{"message": "no spectrum received"})
		return
	}

	var req models.SpectrumRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		logger.ErrorContext(ctx, "failed to parse spectrum payload", slog.Any("error", xerrors.New(err)))
		socket.Emit("analysisError", map[string]string{"message": "invalid spectrum payload"})
		return
	}

	logger.InfoContext(ctx, "received spectrum",
		slog.String("socketID", socket.ID()),
		slog.String("sampleID", req.SampleID),
		slog.Int("bands", len(req.Values)),
	)

	resp, err := c.svc.classifySpectrum(ctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "failed to classify spectrum",
			slog.String("socketID", socket.ID()),
			slog.Any("error", xerrors.New(err)),
		)
		socket.Emit("analysisError", map[string]string{"message": err.Error()})
		return
	}

	log.Printf("[handleClassifySpectrum] Classification complete for socket %s: primary=%q, confident=%v, latency=%.2fms\n",
		socket.ID(), resp.PrimaryLabel, resp.Confident, resp.LatencyMs)
	socket.Emit("classification", resp)
}
