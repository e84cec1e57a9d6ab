// Package handler provides HTTP handlers for the FormPulse API.
package handler

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/formpulse/formpulse/internal/config"
	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/integrations"
)

// maxEventBody caps the intake payload at 1 MiB.
const maxEventBody = 1 << 20

// EventHandler processes incoming domain events from the form platform.
type EventHandler struct {
	cfg        *config.Config
	dispatcher core.JobDispatcher
	logger     *slog.Logger
}

// NewEventHandler creates a new event intake handler.
func NewEventHandler(cfg *config.Config, dispatcher core.JobDispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type eventRequest struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

type eventResponse struct {
	WorkUnitID string `json:"workUnitId"`
	Status     string `json:"status"`
}

// Handle validates the request signature, builds a work unit and hands it to
// the dispatcher. A 202 response means "queued", not "processed".
func (h *EventHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		h.logger.Error("failed to read event body", "error", err)
		http.Error(w, "Could not read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(integrations.SignatureHeader)
	expected := integrations.Sign(h.cfg.WebhookSecret, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		h.logger.Error("invalid event payload signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Error("could not parse event payload", "error", err)
		http.Error(w, "Could not parse event payload", http.StatusBadRequest)
		return
	}

	unit, err := core.NewWorkUnit(req.ID, core.EventType(req.EventType), req.Payload)
	if err != nil {
		h.logger.Debug("rejecting event", "reason", err.Error(), "event_type", req.EventType)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), unit); err != nil {
		h.logger.Error("failed to dispatch work unit", "error", err, "work_unit", unit.ID)
		http.Error(w, "Failed to queue event", http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("work unit dispatched", "work_unit", unit.ID, "event_type", unit.EventType)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(eventResponse{WorkUnitID: unit.ID, Status: "queued"})
}
