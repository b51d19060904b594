// Package handlers serves the one-shot HTTP reads, seat booking and the
// GTFS-Realtime export.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/vahan-live/internal/catalog"
	"github.com/ukydev/vahan-live/internal/gtfsrt"
	"github.com/ukydev/vahan-live/internal/models"
	"github.com/ukydev/vahan-live/internal/seats"
)

// Backend is the read and booking surface of the hub.
type Backend interface {
	Routes() []models.Route
	Route(id string) (models.Route, bool)
	Stops() []models.IndexedStop
	Suggest(startStopID, endStopID string) (catalog.Plan, error)
	Vehicles() []models.Vehicle
	Seats(routeID string) []models.SeatRecord
	AllSeats() []models.SeatRecord
	BookSeat(vehicleID, tier string) (models.SeatRecord, bool, error)
	Stats() (vehicles, connections int)
}

// Response is the JSON envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type optimizeRequest struct {
	StartStopID string `json:"startStopId"`
	EndStopID   string `json:"endStopId"`
}

type bookRequest struct {
	Tier string `json:"tier"`
}

// APIHandler handles the HTTP API
type APIHandler struct {
	backend Backend
	now     func() time.Time
	log     *log.Entry
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(backend Backend, logger *log.Entry) *APIHandler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &APIHandler{backend: backend, now: time.Now, log: logger}
}

// Register mounts every endpoint on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/routes", h.ListRoutes)
	mux.HandleFunc("GET /api/routes/{id}", h.GetRoute)
	mux.HandleFunc("GET /api/stops", h.ListStops)
	mux.HandleFunc("POST /api/optimize-route", h.OptimizeRoute)
	mux.HandleFunc("GET /api/seats", h.ListSeats)
	mux.HandleFunc("GET /api/seats/route/{routeId}", h.RouteSeats)
	mux.HandleFunc("POST /api/seats/{vehicleId}/book", h.BookSeat)
	mux.HandleFunc("GET /api/gtfsrt/vehicle-positions", h.VehiclePositions)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Message: message})
}

// Health reports liveness and current load.
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	vehicles, connections := h.backend.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"vehicles":    vehicles,
		"connections": connections,
	})
}

// ListRoutes returns static routes followed by live routes.
func (h *APIHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	ok(w, h.backend.Routes())
}

// GetRoute returns a single route by id.
func (h *APIHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, found := h.backend.Route(r.PathValue("id"))
	if !found {
		fail(w, http.StatusNotFound, "Route not found")
		return
	}
	ok(w, route)
}

// ListStops returns the stop index.
func (h *APIHandler) ListStops(w http.ResponseWriter, r *http.Request) {
	ok(w, h.backend.Stops())
}

// OptimizeRoute suggests direct or two-leg routes between two stops.
func (h *APIHandler) OptimizeRoute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req optimizeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	plan, err := h.backend.Suggest(req.StartStopID, req.EndStopID)
	if err != nil {
		if errors.Is(err, catalog.ErrMissingStops) || errors.Is(err, catalog.ErrSameStop) {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.WithError(err).Error("Route suggestion failed")
		fail(w, http.StatusInternalServerError, "Error optimizing route")
		return
	}
	ok(w, plan)
}

// ListSeats returns every seat record, or one route's when routeId is set.
func (h *APIHandler) ListSeats(w http.ResponseWriter, r *http.Request) {
	if routeID := r.URL.Query().Get("routeId"); routeID != "" {
		ok(w, h.backend.Seats(routeID))
		return
	}
	ok(w, h.backend.AllSeats())
}

// RouteSeats returns the seat records on one route.
func (h *APIHandler) RouteSeats(w http.ResponseWriter, r *http.Request) {
	ok(w, h.backend.Seats(r.PathValue("routeId")))
}

// BookSeat takes one seat on a vehicle. An empty body books the default tier.
func (h *APIHandler) BookSeat(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("vehicleId")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	var req bookRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	rec, booked, err := h.backend.BookSeat(vehicleID, req.Tier)
	switch {
	case errors.Is(err, seats.ErrUnknownVehicle):
		fail(w, http.StatusNotFound, "Vehicle not found")
		return
	case errors.Is(err, seats.ErrUnknownTier):
		fail(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.WithError(err).WithField("vehicle_id", vehicleID).Error("Seat booking failed")
		fail(w, http.StatusInternalServerError, "Error booking seat")
		return
	}
	if !booked {
		writeJSON(w, http.StatusConflict, Response{Success: false, Message: "No seats available", Data: rec})
		return
	}
	ok(w, rec)
}

// VehiclePositions exports the registry as a GTFS-Realtime feed. Pass
// format=json for a readable rendering.
func (h *APIHandler) VehiclePositions(w http.ResponseWriter, r *http.Request) {
	byVehicle := make(map[string]models.SeatRecord)
	for _, rec := range h.backend.AllSeats() {
		byVehicle[rec.VehicleID] = rec
	}
	feed := gtfsrt.BuildVehiclePositions(h.backend.Vehicles(), byVehicle, h.now())

	b, contentType, err := gtfsrt.Marshal(feed, r.URL.Query().Get("format") == "json")
	if err != nil {
		h.log.WithError(err).Error("Failed to encode GTFS-RT feed")
		http.Error(w, "Failed to encode feed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(b)
}
