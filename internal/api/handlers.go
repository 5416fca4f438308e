package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/progress"
	"github.com/maltedev/asin-availability/internal/runs"
)

// RunService starts and inspects runs
type RunService interface {
	Start(ctx context.Context, trigger string, asins []string) (*database.Run, error)
	Cancel(id uuid.UUID) bool
	GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*database.Run, error)
}

// AvailabilityReader reads stored availability
type AvailabilityReader interface {
	ListLatestAvailability(ctx context.Context) ([]*database.LatestAvailability, error)
}

// Subscriber hands out progress subscriptions
type Subscriber interface {
	Subscribe() *progress.Subscription
}

const defaultHeartbeat = 15 * time.Second

// Handlers contains HTTP handlers
type Handlers struct {
	runs         RunService
	availability AvailabilityReader
	hub          Subscriber
	heartbeat    time.Duration
	logger       *slog.Logger
}

// NewHandlers creates new handlers
func NewHandlers(runs RunService, availability AvailabilityReader, hub Subscriber, logger *slog.Logger) *Handlers {
	return &Handlers{
		runs:         runs,
		availability: availability,
		hub:          hub,
		heartbeat:    defaultHeartbeat,
		logger:       logger.With("component", "api"),
	}
}

// CreateRunRequest is optional; without ASINs the whole catalog is checked.
type CreateRunRequest struct {
	ASINs []string `json:"asins"`
}

// CreateRunResponse represents a run creation response
type CreateRunResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateRun starts a run in the background.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	asins := make([]string, 0, len(req.ASINs))
	for _, a := range req.ASINs {
		if a = strings.TrimSpace(a); a != "" {
			asins = append(asins, a)
		}
	}

	run, err := h.runs.Start(r.Context(), runs.TriggerAPI, asins)
	if errors.Is(err, runs.ErrRunInProgress) {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, runs.ErrShuttingDown) {
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to start run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:   run.ID.String(),
		Status:  string(run.Status),
		Message: "availability run started",
	})
}

// GetRun handles GET /api/v1/availability/runs/{runID}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, database.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

// ListRuns handles GET /api/v1/availability/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			h.respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	list, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if list == nil {
		list = []*database.Run{}
	}

	h.respondJSON(w, http.StatusOK, list)
}

// CancelRun stops a run that is still executing.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	if !h.runs.Cancel(id) {
		h.respondError(w, http.StatusConflict, "run is not in progress")
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  id.String(),
		"message": "cancellation requested",
	})
}

// LatestAvailability handles GET /api/v1/availability/latest
func (h *Handlers) LatestAvailability(w http.ResponseWriter, r *http.Request) {
	rows, err := h.availability.ListLatestAvailability(r.Context())
	if err != nil {
		h.logger.Error("failed to list availability", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list availability")
		return
	}
	if rows == nil {
		rows = []*database.LatestAvailability{}
	}

	h.respondJSON(w, http.StatusOK, rows)
}

// Events streams progress events as server-sent events until the client
// goes away. Only events published after the client connected are sent.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := h.hub.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				h.logger.Error("failed to encode event", "event", evt.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}

func (h *Handlers) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid run ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
