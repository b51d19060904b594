// Package registry is the authoritative, process-wide map of active vehicles.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/ukydev/vahan-live/internal/geo"
	"github.com/ukydev/vahan-live/internal/models"
)

// Movement replaces position, heading and speed on every location sample.
// A nil Heading means the producer did not report one; the registry then
// derives it from the previous position, or keeps the previous heading.
type Movement struct {
	Position   models.Position
	Heading    *float64
	Speed      float64
	SampleTime time.Time
}

// Patch is a typed update. Movement fields are replaced as a unit when
// Movement is set; every other non-nil field is merged.
type Patch struct {
	Movement      *Movement
	RouteID       *string
	Kind          *models.VehicleKind
	Status        *string
	LivePublished *bool
	ConnectionID  *string
	Passengers    *int
}

// LocationPatch builds the patch used for driver_location_update.
func LocationPatch(u models.LocationUpdate, connID string) Patch {
	speed := 0.0
	if u.Speed != nil {
		speed = *u.Speed
	}
	live := true
	p := Patch{
		Movement: &Movement{
			Position:   *u.Position,
			Heading:    u.Heading,
			Speed:      speed,
			SampleTime: u.Timestamp,
		},
		RouteID:       &u.RouteID,
		LivePublished: &live,
		ConnectionID:  &connID,
		Passengers:    u.Passengers,
	}
	if u.Kind != "" {
		kind := u.Kind
		p.Kind = &kind
	}
	if status := u.StatusText(); status != "" {
		p.Status = &status
	}
	return p
}

// Registry stores vehicles keyed by id with a secondary route index.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]*models.Vehicle
	byRoute  map[string]map[string]struct{}
	now      func() time.Time
}

// New creates an empty registry. A nil clock means time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		vehicles: make(map[string]*models.Vehicle),
		byRoute:  make(map[string]map[string]struct{}),
		now:      now,
	}
}

// Upsert creates or updates a vehicle and refreshes its LastUpdate. It returns
// a copy of the resulting state and whether the record was created.
func (r *Registry) Upsert(vehicleID string, p Patch) (models.Vehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, exists := r.vehicles[vehicleID]
	if !exists {
		v = &models.Vehicle{ID: vehicleID, Kind: models.KindSurface}
		r.vehicles[vehicleID] = v
	}
	prevRoute := v.RouteID

	if m := p.Movement; m != nil {
		switch {
		case m.Heading != nil:
			v.Heading = geo.NormalizeHeading(*m.Heading)
		case exists:
			if deg, ok := geo.BearingDegrees(v.Position, m.Position); ok {
				v.Heading = deg
			}
		}
		v.Position = m.Position
		v.Speed = m.Speed
		v.SampleTime = m.SampleTime
	}
	if p.RouteID != nil {
		v.RouteID = *p.RouteID
	}
	if p.Kind != nil {
		v.Kind = *p.Kind
	}
	if p.Status != nil {
		v.Status = *p.Status
	}
	if p.LivePublished != nil {
		v.IsLivePublished = *p.LivePublished
	}
	if p.ConnectionID != nil {
		v.ConnectionID = *p.ConnectionID
	}
	if p.Passengers != nil {
		n := *p.Passengers
		v.Passengers = &n
	}
	v.LastUpdate = r.now()
	if v.SampleTime.IsZero() {
		v.SampleTime = v.LastUpdate
	}

	if !exists || prevRoute != v.RouteID {
		r.unindex(prevRoute, vehicleID)
		r.index(v.RouteID, vehicleID)
	}
	return *v, !exists
}

// Restore inserts a vehicle as-is, keeping its LastUpdate. Used when
// rehydrating persisted status at startup.
func (r *Registry) Restore(v models.Vehicle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.vehicles[v.ID]; ok {
		r.unindex(old.RouteID, v.ID)
	}
	cp := v
	r.vehicles[v.ID] = &cp
	r.index(v.RouteID, v.ID)
}

// Remove deletes a vehicle. Removing an unknown id is a no-op.
func (r *Registry) Remove(vehicleID string) (models.Vehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vehicles[vehicleID]
	if !ok {
		return models.Vehicle{}, false
	}
	delete(r.vehicles, vehicleID)
	r.unindex(v.RouteID, vehicleID)
	return *v, true
}

// Get returns a copy of one vehicle.
func (r *Registry) Get(vehicleID string) (models.Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[vehicleID]
	if !ok {
		return models.Vehicle{}, false
	}
	return *v, true
}

// ListByRoute returns every vehicle currently on routeID, ordered by id.
func (r *Registry) ListByRoute(routeID string) []models.Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byRoute[routeID]
	out := make([]models.Vehicle, 0, len(ids))
	for id := range ids {
		out = append(out, *r.vehicles[id])
	}
	sortByID(out)
	return out
}

// ListByConnection returns vehicles whose last update arrived on connID.
func (r *Registry) ListByConnection(connID string) []models.Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Vehicle
	for _, v := range r.vehicles {
		if v.ConnectionID == connID {
			out = append(out, *v)
		}
	}
	sortByID(out)
	return out
}

// FindStaleBefore returns vehicles whose LastUpdate precedes cutoff.
func (r *Registry) FindStaleBefore(cutoff time.Time) []models.Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Vehicle
	for _, v := range r.vehicles {
		if v.LastUpdate.Before(cutoff) {
			out = append(out, *v)
		}
	}
	sortByID(out)
	return out
}

// All returns every vehicle, ordered by id.
func (r *Registry) All() []models.Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, *v)
	}
	sortByID(out)
	return out
}

// Len returns the number of tracked vehicles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}

func (r *Registry) index(routeID, vehicleID string) {
	if routeID == "" {
		return
	}
	set, ok := r.byRoute[routeID]
	if !ok {
		set = make(map[string]struct{})
		r.byRoute[routeID] = set
	}
	set[vehicleID] = struct{}{}
}

func (r *Registry) unindex(routeID, vehicleID string) {
	set, ok := r.byRoute[routeID]
	if !ok {
		return
	}
	delete(set, vehicleID)
	if len(set) == 0 {
		delete(r.byRoute, routeID)
	}
}

func sortByID(vs []models.Vehicle) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}
