// Package hub is the reactor that owns all real-time state.
//
// Every mutating operation runs under a single lock so registry, router, live
// route and seat changes made for one event are observed together.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/vahan-live/internal/catalog"
	"github.com/ukydev/vahan-live/internal/liveroute"
	"github.com/ukydev/vahan-live/internal/models"
	"github.com/ukydev/vahan-live/internal/pubsub"
	"github.com/ukydev/vahan-live/internal/registry"
	"github.com/ukydev/vahan-live/internal/seats"
)

// ErrUnknownRoute is returned for route ids that are neither static nor live.
var ErrUnknownRoute = liveroute.ErrUnknownRoute

// StatusWriter persists vehicle status. Save must not block.
type StatusWriter interface {
	Save(models.VehicleStatus)
}

type discardWriter struct{}

func (discardWriter) Save(models.VehicleStatus) {}

// Options configures a Hub. Zero values pick defaults.
type Options struct {
	Store  StatusWriter
	Now    func() time.Time
	Logger *log.Entry
}

// Hub composes the vehicle registry, topic router, live routes and seats.
type Hub struct {
	mu       sync.Mutex
	catalog  *catalog.Catalog
	vehicles *registry.Registry
	router   *pubsub.Router
	live     *liveroute.Manager
	seats    *seats.Ledger
	store    StatusWriter
	now      func() time.Time
	log      *log.Entry

	// sessions tracks vehicles announced or updated on each connection.
	sessions map[string]map[string]struct{}
}

// New builds a hub over a static catalog and seeds the fleet seat records.
func New(cat *catalog.Catalog, opts Options) *Hub {
	if opts.Store == nil {
		opts.Store = discardWriter{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	h := &Hub{
		catalog:  cat,
		vehicles: registry.New(opts.Now),
		live:     liveroute.NewManager(cat.IsStatic, opts.Now),
		seats:    seats.NewLedger(opts.Now),
		store:    opts.Store,
		now:      opts.Now,
		log:      opts.Logger.WithField("component", "hub"),
		sessions: make(map[string]map[string]struct{}),
	}
	h.router = pubsub.NewRouter(h.snapshot, opts.Logger)
	for _, fv := range cat.Fleet() {
		h.seats.Seed(fv.SeatRecord())
	}
	return h
}

func (h *Hub) snapshot(routeID string) []models.Envelope {
	return []models.Envelope{{
		Event: models.EventRouteSnapshot,
		Data: models.RouteSnapshot{
			RouteID:  routeID,
			Vehicles: h.vehicles.ListByRoute(routeID),
			Seats:    h.seats.SnapshotByRoute(routeID),
		},
	}}
}

// Connect registers a stream connection and sends it the active routes.
func (h *Hub) Connect(sub pubsub.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router.Register(sub)
	h.router.Send(sub.ID(), models.Envelope{Event: models.EventActiveRoutes, Data: h.routes()})
	h.log.WithField("conn_id", sub.ID()).Debug("Client connected")
}

// Disconnect drops the connection's subscriptions and ends every vehicle
// whose last update came over it.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router.Unregister(connID)

	ids := make(map[string]struct{})
	for _, v := range h.vehicles.ListByConnection(connID) {
		ids[v.ID] = struct{}{}
	}
	for id := range h.sessions[connID] {
		ids[id] = struct{}{}
	}
	delete(h.sessions, connID)

	for id := range ids {
		v, ok := h.vehicles.Get(id)
		if ok && v.ConnectionID != connID {
			// Vehicle moved to another connection.
			continue
		}
		h.endVehicle(id, fmt.Sprintf("Bus %s has ended their route", id))
	}
	h.log.WithFields(log.Fields{"conn_id": connID, "vehicles": len(ids)}).Debug("Client disconnected")
}

// Subscribe joins connID to a known route. Unknown and torn-down routes are
// rejected and no snapshot is sent.
func (h *Hub) Subscribe(connID, routeID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.routeExists(routeID) {
		return false, ErrUnknownRoute
	}
	return h.router.Subscribe(connID, routeID)
}

// Unsubscribe leaves a route topic.
func (h *Hub) Unsubscribe(connID, routeID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.router.Unsubscribe(connID, routeID)
}

// DriverStarted handles a publisher announcing its session. Without a route
// id a live route is allocated and broadcast; with one, the publisher joins
// the static route or reclaims the live route it already owns.
func (h *Hub) DriverStarted(connID string, d models.DriverStarted) (models.Route, error) {
	if err := d.Validate(); err != nil {
		return models.Route{}, err
	}
	vehicleID := d.ID()

	h.mu.Lock()
	defer h.mu.Unlock()

	var route models.Route
	switch {
	case d.RouteID != "":
		r, err := h.live.Claim(vehicleID, d.RouteID)
		switch {
		case errors.Is(err, liveroute.ErrStaticRoute):
			r, _ = h.catalog.Route(d.RouteID)
		case err != nil:
			return models.Route{}, err
		}
		route = r
	default:
		r, created, err := h.live.Announce(vehicleID, d.RouteName, d.Kind)
		if err != nil {
			return models.Route{}, err
		}
		if created {
			h.router.Broadcast(models.Envelope{Event: models.EventNewRoute, Data: r})
			h.log.WithFields(log.Fields{
				"vehicle_id": vehicleID,
				"route_id":   r.ID,
				"route_name": r.Name,
			}).Info("Live route announced")
		}
		route = r
	}

	// The session now belongs to connID only; closing an earlier socket must
	// not end it.
	h.untrack(vehicleID)
	h.track(connID, vehicleID)
	h.seats.Ensure(vehicleID, route.ID, d.Kind)
	return route, nil
}

// LocationUpdate applies one position sample and fans it out to the route.
func (h *Hub) LocationUpdate(connID string, u models.LocationUpdate) (models.Vehicle, error) {
	if err := u.Validate(); err != nil {
		return models.Vehicle{}, err
	}
	vehicleID := u.ID()

	h.mu.Lock()
	defer h.mu.Unlock()

	activated, err := h.live.Touch(u.RouteID, vehicleID)
	if err != nil && !errors.Is(err, liveroute.ErrStaticRoute) {
		return models.Vehicle{}, err
	}
	if activated {
		h.log.WithFields(log.Fields{"vehicle_id": vehicleID, "route_id": u.RouteID}).Info("Live route active")
	}

	if prev, ok := h.vehicles.Get(vehicleID); ok && prev.RouteID != u.RouteID {
		h.leaveRoute(prev)
	}

	v, created := h.vehicles.Upsert(vehicleID, registry.LocationPatch(u, connID))
	h.track(connID, vehicleID)
	h.seats.Ensure(vehicleID, v.RouteID, v.Kind)
	h.router.Publish(v.RouteID, models.Envelope{Event: models.EventLocationUpdate, Data: v})
	h.store.Save(models.StatusOf(v, models.StatusActive))

	if created {
		h.log.WithFields(log.Fields{"vehicle_id": vehicleID, "route_id": v.RouteID}).Info("Vehicle online")
	}
	return v, nil
}

// leaveRoute tells the old route's viewers that the vehicle left. A live
// route the vehicle owned goes with it.
func (h *Hub) leaveRoute(prev models.Vehicle) {
	if lr, ok := h.live.Get(prev.RouteID); ok && lr.Owner == prev.ID {
		h.teardownLive(prev.RouteID)
		return
	}
	h.router.Publish(prev.RouteID, models.Envelope{
		Event: models.EventBusDisconnected,
		Data: models.BusDisconnected{
			VehicleID: prev.ID,
			RouteID:   prev.RouteID,
			Message:   fmt.Sprintf("Bus %s left the route", prev.ID),
		},
	})
}

// DriverDisconnected ends a publisher session. Unknown vehicles are a no-op.
func (h *Hub) DriverDisconnected(d models.DriverDisconnected) bool {
	id := d.ID()
	if id == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.untrack(id)
	return h.endVehicle(id, fmt.Sprintf("Bus %s has ended their route", id))
}

// BookSeat takes one seat and publishes the new counts to the vehicle's route.
func (h *Hub) BookSeat(vehicleID, tier string) (models.SeatRecord, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, booked, err := h.seats.Book(vehicleID, tier)
	if err != nil || !booked {
		return rec, false, err
	}
	h.router.Publish(rec.RouteID, models.Envelope{Event: models.EventSeatUpdate, Data: rec})
	return rec, true, nil
}

// EvictStale removes vehicles idle since before cutoff and live routes that
// were announced but never used. It returns the evicted vehicle ids.
func (h *Hub) EvictStale(cutoff time.Time) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var evicted []string
	for _, v := range h.vehicles.FindStaleBefore(cutoff) {
		if h.endVehicle(v.ID, fmt.Sprintf("Bus %s connection lost", v.ID)) {
			h.untrack(v.ID)
			evicted = append(evicted, v.ID)
		}
	}
	for _, lr := range h.live.AnnouncedBefore(cutoff) {
		if _, ok := h.vehicles.Get(lr.Owner); ok {
			continue
		}
		h.untrack(lr.Owner)
		h.teardownLive(lr.Route.ID)
	}
	return evicted
}

// endVehicle removes a vehicle, notifies its route and tears down the live
// route it owns. It reports whether anything was removed.
func (h *Hub) endVehicle(vehicleID, message string) bool {
	v, ok := h.vehicles.Remove(vehicleID)
	if ok {
		h.router.Publish(v.RouteID, models.Envelope{
			Event: models.EventBusDisconnected,
			Data:  models.BusDisconnected{VehicleID: v.ID, RouteID: v.RouteID, Message: message},
		})
		h.store.Save(models.StatusOf(v, models.StatusStopped))
		h.log.WithFields(log.Fields{"vehicle_id": v.ID, "route_id": v.RouteID}).Info(message)
	}
	if lr, owned := h.live.OwnedBy(vehicleID); owned {
		h.teardownLive(lr.Route.ID)
		return true
	}
	return ok
}

func (h *Hub) teardownLive(routeID string) {
	lr, ok := h.live.Teardown(routeID)
	if !ok {
		return
	}
	for _, v := range h.vehicles.ListByRoute(routeID) {
		h.vehicles.Remove(v.ID)
		h.router.Publish(routeID, models.Envelope{
			Event: models.EventBusDisconnected,
			Data: models.BusDisconnected{
				VehicleID: v.ID,
				RouteID:   routeID,
				Message:   fmt.Sprintf("Bus %s has ended their route", v.ID),
			},
		})
	}
	for _, rec := range h.seats.SnapshotByRoute(routeID) {
		h.seats.Remove(rec.VehicleID)
	}
	h.router.Broadcast(models.Envelope{Event: models.EventRouteRemoved, Data: models.RouteRemoved{ID: routeID}})
	dropped := h.router.DropTopic(routeID)
	h.log.WithFields(log.Fields{
		"route_id":    routeID,
		"owner":       lr.Owner,
		"subscribers": dropped,
	}).Info("Live route removed")
}

// Restore rehydrates persisted statuses. Only vehicles on static routes that
// were active after cutoff come back; live routes are session scoped.
func (h *Hub) Restore(statuses []models.VehicleStatus, cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, st := range statuses {
		r, ok := h.catalog.Route(st.RouteID)
		if !ok || st.Status == models.StatusStopped || !st.LastActive.After(cutoff) {
			continue
		}
		if _, exists := h.vehicles.Get(st.VehicleID); exists {
			continue
		}
		h.vehicles.Restore(models.Vehicle{
			ID:         st.VehicleID,
			RouteID:    r.ID,
			Kind:       r.Kind,
			Position:   st.LastPosition,
			Status:     models.StatusRestored,
			SampleTime: st.LastActive,
			LastUpdate: st.LastActive,
		})
		h.seats.Ensure(st.VehicleID, r.ID, r.Kind)
		n++
	}
	return n
}

func (h *Hub) track(connID, vehicleID string) {
	if connID == "" {
		return
	}
	set, ok := h.sessions[connID]
	if !ok {
		set = make(map[string]struct{})
		h.sessions[connID] = set
	}
	set[vehicleID] = struct{}{}
}

func (h *Hub) untrack(vehicleID string) {
	for connID, set := range h.sessions {
		delete(set, vehicleID)
		if len(set) == 0 {
			delete(h.sessions, connID)
		}
	}
}

func (h *Hub) routeExists(routeID string) bool {
	if h.catalog.IsStatic(routeID) {
		return true
	}
	_, ok := h.live.Get(routeID)
	return ok
}

func (h *Hub) routes() []models.Route {
	return append(h.catalog.Routes(), h.live.List()...)
}
