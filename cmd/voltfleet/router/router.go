// Package router configures HTTP routes for the voltfleet API.
//
// Routes configured:
//   - GET  /healthz, /readyz, /metrics
//   - GET  /api/v1/views and the single views /api/v1/{fleet,vehicle,predictions,convoy}
//   - GET  /api/v1/status - poller states
//   - POST /api/v1/selection - {"vehicle_id": N}
//   - POST /api/v1/predictions/{id}/ack, /api/v1/predictions/clear
//   - POST /api/v1/convoy/recommendations/{vehicleID}/ack
//   - POST /api/v1/convoy/predictions/{vehicleID}/ack
//   - POST /api/v1/convoy/refresh
//   - GET  /ws/views - websocket view stream, when a stream handler is given
//
// Mutations respond with the view they changed so callers see the result
// without a second request.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voltfleet/voltfleet/cmd/voltfleet/metrics"
	"github.com/voltfleet/voltfleet/pkg/httpx"
	"github.com/voltfleet/voltfleet/pkg/poller"
	"github.com/voltfleet/voltfleet/pkg/state"
)

// Engine is the part of the engine the API controls.
type Engine interface {
	RefreshConvoy() bool
	Statuses() []poller.Status
}

// Options holds the route dependencies. Metrics and Stream are optional.
type Options struct {
	Store   *state.Store
	Engine  Engine
	Metrics *metrics.Metrics
	Stream  http.Handler
	Logger  *slog.Logger
}

type selectionRequest struct {
	VehicleID *int `json:"vehicle_id"`
}

// AckResponse reports the outcome of an acknowledgement.
type AckResponse struct {
	Removed int `json:"removed"`
	View    any `json:"view"`
}

// SetupRoutes configures HTTP endpoints for voltfleet.
func SetupRoutes(opts Options) *http.ServeMux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &handlers{Options: opts}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.Probe(nil))
	mux.Handle("GET /readyz", httpx.Probe(h.ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/views", h.views)
	mux.HandleFunc("GET /api/v1/fleet", h.view(state.ViewFleet))
	mux.HandleFunc("GET /api/v1/vehicle", h.view(state.ViewVehicle))
	mux.HandleFunc("GET /api/v1/predictions", h.view(state.ViewPredictions))
	mux.HandleFunc("GET /api/v1/convoy", h.view(state.ViewConvoy))
	mux.HandleFunc("GET /api/v1/status", h.status)

	mux.HandleFunc("POST /api/v1/selection", h.selectVehicle)
	mux.HandleFunc("POST /api/v1/predictions/clear", h.clearPredictions)
	mux.HandleFunc("POST /api/v1/predictions/{id}/ack", h.ackPrediction)
	mux.HandleFunc("POST /api/v1/convoy/recommendations/{vehicleID}/ack", h.ackConvoyRecommendation)
	mux.HandleFunc("POST /api/v1/convoy/predictions/{vehicleID}/ack", h.ackConvoyPrediction)
	mux.HandleFunc("POST /api/v1/convoy/refresh", h.refreshConvoy)

	if opts.Stream != nil {
		mux.Handle("GET /ws/views", opts.Stream)
	}

	return mux
}

type handlers struct {
	Options
}

func (h *handlers) ready() error {
	if h.Store.Fleet().Status == state.StatusLoading {
		return errors.New("fleet not loaded yet")
	}
	return nil
}

func (h *handlers) views(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, h.Store.Views())
}

func (h *handlers) view(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, h.Store.Views().View(name))
	}
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	var statuses []poller.Status
	if h.Engine != nil {
		statuses = h.Engine.Statuses()
	}
	h.write(w, http.StatusOK, map[string]any{"pollers": statuses})
}

func (h *handlers) selectVehicle(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VehicleID == nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}

	h.Store.SelectVehicle(*req.VehicleID)
	h.write(w, http.StatusOK, h.Store.Vehicle())
}

func (h *handlers) ackPrediction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "prediction id is required")
		return
	}

	removed := 0
	if h.Store.AcknowledgePrediction(id) {
		removed = 1
	}
	h.acknowledged(metrics.KindPredictions, removed)
	h.write(w, http.StatusOK, AckResponse{Removed: removed, View: h.Store.Predictions()})
}

func (h *handlers) clearPredictions(w http.ResponseWriter, r *http.Request) {
	removed := h.Store.ClearNonWarningPredictions()
	h.acknowledged(metrics.KindPredictionsCleared, removed)
	h.write(w, http.StatusOK, AckResponse{Removed: removed, View: h.Store.Predictions()})
}

func (h *handlers) ackConvoyRecommendation(w http.ResponseWriter, r *http.Request) {
	h.ackConvoy(w, r, metrics.KindConvoyRecommendations, h.Store.AcknowledgeConvoyRecommendation)
}

func (h *handlers) ackConvoyPrediction(w http.ResponseWriter, r *http.Request) {
	h.ackConvoy(w, r, metrics.KindConvoyPredictions, h.Store.AcknowledgeConvoyPrediction)
}

func (h *handlers) ackConvoy(w http.ResponseWriter, r *http.Request, kind string, ack func(int) bool) {
	vehicleID, err := strconv.Atoi(r.PathValue("vehicleID"))
	if err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid vehicle id %q", r.PathValue("vehicleID")))
		return
	}

	removed := 0
	if ack(vehicleID) {
		removed = 1
	}
	h.acknowledged(kind, removed)
	h.write(w, http.StatusOK, AckResponse{Removed: removed, View: h.Store.Convoy()})
}

func (h *handlers) refreshConvoy(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		httpx.WriteErrorMessage(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	h.write(w, http.StatusAccepted, map[string]bool{"queued": h.Engine.RefreshConvoy()})
}

func (h *handlers) acknowledged(kind string, n int) {
	if h.Metrics != nil {
		h.Metrics.RecordAcknowledgements(kind, n)
	}
}

func (h *handlers) write(w http.ResponseWriter, status int, v any) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		h.Logger.Error("failed to write JSON response", "error", err)
	}
}
