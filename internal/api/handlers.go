package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudradar/livemap/internal/dashboard"
	"github.com/cloudradar/livemap/internal/flight"
	"github.com/cloudradar/livemap/internal/markers"
	"github.com/cloudradar/livemap/internal/toggle"
	"github.com/cloudradar/livemap/pkg/logger"
)

// LiveMap is the engine state exposed over HTTP
type LiveMap interface {
	Markers() []dashboard.Marker
	Icon(id string, zoom float64, debug bool) (*markers.Icon, error)
	Zoom() float64
	Selection() *dashboard.Selection
	Select(id string) (*dashboard.Selection, error)
	ClearSelection()
	Status() dashboard.Status
	Metrics() *flight.Metrics
}

// Handler contains the API handlers
type Handler struct {
	liveMap       LiveMap
	toggle        dashboard.Toggle
	creds         toggle.CredentialStore
	toggleTimeout time.Duration
	logger        *logger.Logger
}

// NewHandler creates a new API handler. tgl and creds are nil when the ingester switch is disabled.
func NewHandler(liveMap LiveMap, tgl dashboard.Toggle, creds toggle.CredentialStore, toggleTimeout time.Duration, logger *logger.Logger) *Handler {
	if toggleTimeout <= 0 {
		toggleTimeout = 2 * time.Minute
	}
	return &Handler{
		liveMap:       liveMap,
		toggle:        tgl,
		creds:         creds,
		toggleTimeout: toggleTimeout,
		logger:        logger.Named("api-handler"),
	}
}

// GetMarkers returns the markers of the current frame
func (h *Handler) GetMarkers(w http.ResponseWriter, r *http.Request) {
	rendered := h.liveMap.Markers()

	WriteJSON(w, http.StatusOK, map[string]any{
		"markers": rendered,
		"count":   len(rendered),
		"zoom":    h.liveMap.Zoom(),
	})
}

// GetMarkerIcon returns the icon of one aircraft
func (h *Handler) GetMarkerIcon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing aircraft ID", http.StatusBadRequest)
		return
	}

	zoom := h.liveMap.Zoom()
	if raw := r.URL.Query().Get("zoom"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 22 {
			http.Error(w, "Invalid zoom parameter", http.StatusBadRequest)
			return
		}
		zoom = parsed
	}

	debug := false
	if raw := r.URL.Query().Get("debug"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "Invalid debug parameter", http.StatusBadRequest)
			return
		}
		debug = parsed
	}

	icon, err := h.liveMap.Icon(id, zoom, debug)
	if err != nil {
		if errors.Is(err, dashboard.ErrUnknownAircraft) {
			http.Error(w, "Aircraft not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to build marker icon", logger.String("icao24", id), logger.Error(err))
		http.Error(w, "Failed to build marker icon", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, icon)
}

// GetSelection returns the detail pane of the selected aircraft
func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"selection": h.liveMap.Selection(),
	})
}

// PutSelection selects an aircraft
func (h *Handler) PutSelection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing aircraft ID", http.StatusBadRequest)
		return
	}

	selection, err := h.liveMap.Select(id)
	if err != nil {
		switch {
		case errors.Is(err, dashboard.ErrUnknownAircraft):
			http.Error(w, "Aircraft not found", http.StatusNotFound)
		case errors.Is(err, dashboard.ErrClosed):
			http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
		default:
			h.logger.Error("Failed to select aircraft", logger.String("icao24", id), logger.Error(err))
			http.Error(w, "Failed to select aircraft", http.StatusInternalServerError)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"selection": selection,
	})
}

// DeleteSelection clears the selection
func (h *Handler) DeleteSelection(w http.ResponseWriter, r *http.Request) {
	h.liveMap.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus returns the API and feed status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.liveMap.Status())
}

// GetMetrics returns the last fetched traffic metrics
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.liveMap.Metrics()
	if metrics == nil {
		http.Error(w, "Metrics not loaded yet", http.StatusServiceUnavailable)
		return
	}
	WriteJSON(w, http.StatusOK, metrics)
}

// GetToggle returns the ingester switch state
func (h *Handler) GetToggle(w http.ResponseWriter, r *http.Request) {
	if h.toggle == nil {
		http.Error(w, "Ingester toggle is disabled", http.StatusNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, h.toggle.State())
}

// toggleRequest is the body of POST /api/toggle
type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// PostToggle switches the ingester and waits until the change is observed.
// HTTP Basic credentials, when sent, replace the cached admin credentials.
func (h *Handler) PostToggle(w http.ResponseWriter, r *http.Request) {
	if h.toggle == nil {
		http.Error(w, "Ingester toggle is disabled", http.StatusNotFound)
		return
	}

	var body toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		http.Error(w, "Invalid request body: expected {\"enabled\": bool}", http.StatusBadRequest)
		return
	}

	if username, password, ok := r.BasicAuth(); ok && h.creds != nil {
		h.creds.Set(toggle.Credentials{Username: username, Password: password})
	}

	// A client hanging up must not abort a half-applied change
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.toggleTimeout)
	defer cancel()

	target := dashboard.ToggleTarget(*body.Enabled)
	err := h.toggle.Request(ctx, target)
	state := h.toggle.State()
	if err == nil {
		WriteJSON(w, http.StatusOK, state)
		return
	}

	h.logger.Warn("Ingester toggle failed", logger.Int("target", target), logger.Error(err))

	status := http.StatusBadGateway
	var timeoutErr *toggle.ConvergenceTimeoutError
	switch {
	case errors.Is(err, toggle.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, toggle.ErrUnauthorized), errors.Is(err, toggle.ErrNoCredentials):
		w.Header().Set("WWW-Authenticate", `Basic realm="ingester"`)
		status = http.StatusUnauthorized
	case errors.As(err, &timeoutErr):
		status = http.StatusGatewayTimeout
	}

	WriteJSON(w, status, map[string]any{
		"error":  err.Error(),
		"toggle": state,
	})
}

// GetHealth returns the health status of the service
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := h.liveMap.Status()

	response := map[string]any{
		"status":         "ok",
		"api":            status.API,
		"feed":           status.Feed,
		"last_refreshed": status.LastRefreshed,
		"aircraft_count": status.AircraftCount,
	}

	WriteJSON(w, http.StatusOK, response)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
