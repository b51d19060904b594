package hub

import (
	"github.com/ukydev/vahan-live/internal/catalog"
	"github.com/ukydev/vahan-live/internal/models"
)

// Routes lists static routes followed by live routes.
func (h *Hub) Routes() []models.Route {
	return h.routes()
}

// Route looks up a static or live route.
func (h *Hub) Route(id string) (models.Route, bool) {
	if r, ok := h.catalog.Route(id); ok {
		return r, true
	}
	lr, ok := h.live.Get(id)
	if !ok {
		return models.Route{}, false
	}
	return lr.Route, true
}

// Catalog exposes the static catalog for stop and suggestion reads.
func (h *Hub) Catalog() *catalog.Catalog {
	return h.catalog
}

// Vehicles lists every tracked vehicle.
func (h *Hub) Vehicles() []models.Vehicle {
	return h.vehicles.All()
}

// Seats returns the seat records on a route.
func (h *Hub) Seats(routeID string) []models.SeatRecord {
	return h.seats.SnapshotByRoute(routeID)
}

// AllSeats returns every seat record.
func (h *Hub) AllSeats() []models.SeatRecord {
	return h.seats.All()
}

// Stats reports tracked vehicles and open stream connections.
func (h *Hub) Stats() (vehicles, connections int) {
	return h.vehicles.Len(), h.router.Connections()
}

// Stops lists the static stop index.
func (h *Hub) Stops() []models.IndexedStop {
	return h.catalog.Stops()
}

// Suggest plans a trip between two static stops.
func (h *Hub) Suggest(startStopID, endStopID string) (catalog.Plan, error) {
	return h.catalog.Suggest(startStopID, endStopID)
}
