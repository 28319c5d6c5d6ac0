// Package handler serves the data management endpoints: setup status, setup
// start and manual refresh.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/setup"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/logger"
)

// DataPipeline is the part of the ingestion pipeline the endpoints drive.
type DataPipeline interface {
	SetupStatus() *setup.Status
	StartSetup(ctx context.Context) error
	Refresh(ctx context.Context) (ingestion.RefreshResult, error)
}

type Handler struct {
	pipeline DataPipeline
	logger   *slog.Logger
}

func New(p DataPipeline) *Handler {
	return &Handler{
		pipeline: p,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

// SetupStatus serves GET /setup/status.
func (h *Handler) SetupStatus(w http.ResponseWriter, r *http.Request) {
	st := h.pipeline.SetupStatus()
	if st == nil {
		h.writeError(w, http.StatusNotImplemented, "setup is not configured")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// StartSetup serves POST /setup/start. The run continues in the background;
// progress is polled through SetupStatus.
func (h *Handler) StartSetup(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	if err := h.pipeline.StartSetup(r.Context()); err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status == http.StatusConflict {
			log.Warn("setup start requested but already running")
			h.writeJSON(w, status, map[string]string{"message": "Setup already running"})
			return
		}
		log.Error("setup start failed", "error", err)
		h.writeError(w, status, apperrors.PublicMessage(err))
		return
	}
	log.Info("setup started via api")
	h.writeJSON(w, http.StatusAccepted, map[string]string{"message": "Setup started"})
}

// Refresh serves POST /data/refresh: reload the seed file and re-index.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	log.Info("manual data refresh requested")

	res, err := h.pipeline.Refresh(r.Context())
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("refresh failed", "error", err, "status_code", status)
		h.writeError(w, status, apperrors.PublicMessage(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"message":     "Data reloaded and re-indexed",
		"documents":   res.Documents,
		"generation":  res.Generation,
		"fingerprint": res.Fingerprint,
		"load":        res.Load,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
