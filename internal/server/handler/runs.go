package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/notify"
	"github.com/formpulse/formpulse/internal/storage"
)

// RunHandler exposes persisted run records and a live status event stream.
type RunHandler struct {
	store  storage.Store
	hub    *notify.Hub
	logger *slog.Logger
}

// NewRunHandler creates a new run inspection handler.
func NewRunHandler(store storage.Store, hub *notify.Hub, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		store:  store,
		hub:    hub,
		logger: logger,
	}
}

type stepView struct {
	StepName    string         `json:"stepName"`
	Required    bool           `json:"required"`
	Status      string         `json:"status"`
	Error       *errorView     `json:"error,omitempty"`
	SideEffects map[string]any `json:"sideEffects,omitempty"`
	RecordedAt  time.Time      `json:"recordedAt"`
}

type errorView struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

type runView struct {
	WorkUnitID    string     `json:"workUnitId"`
	EventType     string     `json:"eventType"`
	AttemptNumber int        `json:"attemptNumber"`
	OverallStatus string     `json:"overallStatus"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    time.Time  `json:"finishedAt"`
	Steps         []stepView `json:"steps"`
}

func viewOf(run *core.RunRecord) runView {
	view := runView{
		WorkUnitID:    run.WorkUnitID,
		EventType:     string(run.EventType),
		AttemptNumber: run.AttemptNumber,
		OverallStatus: string(run.OverallStatus),
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Steps:         make([]stepView, 0, len(run.Steps)),
	}
	for _, step := range run.Steps {
		sv := stepView{
			StepName:    step.StepName,
			Required:    step.Required,
			Status:      string(step.Status),
			SideEffects: step.SideEffects,
			RecordedAt:  step.RecordedAt,
		}
		if step.Error != nil {
			sv.Error = &errorView{
				Category: string(step.Error.Category),
				Message:  step.Error.Message,
			}
		}
		view.Steps = append(view.Steps, sv)
	}
	return view
}

// List returns the most recent runs, newest first.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, viewOf(run))
	}
	writeJSON(w, http.StatusOK, views)
}

// Latest returns the most recent run record for a work unit.
func (h *RunHandler) Latest(w http.ResponseWriter, r *http.Request) {
	workUnitID := chi.URLParam(r, "workUnitID")

	run, err := h.store.LatestRun(r.Context(), workUnitID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "No run found for work unit", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load run", "work_unit", workUnitID, "error", err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

// Stream pushes status events for a work unit as server-sent events until the
// client disconnects.
func (h *RunHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	workUnitID := chi.URLParam(r, "workUnitID")

	// The stream outlives the server's write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	events, cancel := h.hub.Subscribe(workUnitID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode status event", "work_unit", workUnitID, "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
