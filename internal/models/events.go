package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned when an inbound payload is missing required fields.
var ErrMalformed = errors.New("malformed payload")

// Inbound stream events.
const (
	EventSubscribeRoute       = "subscribe_route"
	EventUnsubscribeRoute     = "unsubscribe_route"
	EventDriverStarted        = "driver_started"
	EventDriverLocationUpdate = "driver_location_update"
	EventDriverDisconnected   = "driver_disconnected"
	EventBookSeat             = "book_seat"
)

// Outbound stream events.
const (
	EventLocationUpdate   = "location_update"
	EventBusDisconnected  = "bus_disconnected"
	EventNewRoute         = "new_route"
	EventRouteRemoved     = "route_removed"
	EventSeatUpdate       = "seat_update"
	EventActiveRoutes     = "active_routes"
	EventRouteSnapshot    = "route_snapshot"
	EventDriverStartedAck = "driver_started_ack"
	EventSeatBooked       = "seat_booked"
	EventError            = "error"
)

// Envelope is a single outbound frame on the stream.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// InboundEnvelope is a single inbound frame; Data is decoded per event.
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// VehicleRef identifies the vehicle an inbound event refers to. Older
// producers send busId instead of vehicleId.
type VehicleRef struct {
	VehicleID string `json:"vehicleId"`
	BusID     string `json:"busId,omitempty"`
}

// ID returns the vehicle id, falling back to the busId alias.
func (r VehicleRef) ID() string {
	if r.VehicleID != "" {
		return r.VehicleID
	}
	return r.BusID
}

// RouteTopic is the payload of subscribe_route / unsubscribe_route. Both a bare
// JSON string and {"routeId": "..."} are accepted.
type RouteTopic struct {
	RouteID string `json:"routeId"`
}

// UnmarshalJSON accepts either a string or an object.
func (t *RouteTopic) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		t.RouteID = id
		return nil
	}
	type plain RouteTopic
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = RouteTopic(p)
	return nil
}

// DriverStarted announces a publisher session.
type DriverStarted struct {
	VehicleRef
	RouteName string      `json:"routeName"`
	Kind      VehicleKind `json:"type"`
	RouteID   string      `json:"routeId,omitempty"`
}

// Validate checks required fields and defaults the vehicle kind.
func (d *DriverStarted) Validate() error {
	if d.ID() == "" {
		return fmt.Errorf("%w: vehicleId is required", ErrMalformed)
	}
	if d.Kind == "" {
		d.Kind = KindSurface
	}
	if !IsValidKind(d.Kind) {
		return fmt.Errorf("%w: unknown vehicle type %q", ErrMalformed, d.Kind)
	}
	if d.RouteID == "" && d.RouteName == "" {
		return fmt.Errorf("%w: routeName is required when routeId is absent", ErrMalformed)
	}
	return nil
}

// LocationUpdate is a single position sample from a publisher. Position is
// required; the remaining fields are optional merges.
type LocationUpdate struct {
	VehicleRef
	RouteID    string      `json:"routeId"`
	Position   *Position   `json:"position"`
	Heading    *float64    `json:"heading,omitempty"`
	Speed      *float64    `json:"speed,omitempty"`
	Kind       VehicleKind `json:"type,omitempty"`
	Timestamp  time.Time   `json:"timestamp,omitempty"`
	StartStop  string      `json:"startStop,omitempty"`
	EndStop    string      `json:"endStop,omitempty"`
	Status     string      `json:"status,omitempty"`
	Passengers *int        `json:"passengers,omitempty"`
}

// Validate checks required fields.
func (u *LocationUpdate) Validate() error {
	if u.ID() == "" {
		return fmt.Errorf("%w: vehicleId is required", ErrMalformed)
	}
	if u.RouteID == "" {
		return fmt.Errorf("%w: routeId is required", ErrMalformed)
	}
	if u.Position == nil || !u.Position.Valid() {
		return fmt.Errorf("%w: position is missing or out of range", ErrMalformed)
	}
	if u.Kind != "" && !IsValidKind(u.Kind) {
		return fmt.Errorf("%w: unknown vehicle type %q", ErrMalformed, u.Kind)
	}
	return nil
}

// StatusText derives the status shown to viewers.
func (u *LocationUpdate) StatusText() string {
	if u.Status != "" {
		return u.Status
	}
	if u.StartStop != "" || u.EndStop != "" {
		return fmt.Sprintf("En route: %s → %s", u.StartStop, u.EndStop)
	}
	return ""
}

// DriverDisconnected signals that a publisher ended its session.
type DriverDisconnected struct {
	VehicleRef
}

// BookSeat requests one seat on a vehicle.
type BookSeat struct {
	VehicleRef
	Tier string `json:"tier,omitempty"`
}

// BusDisconnected tells viewers a vehicle is gone.
type BusDisconnected struct {
	VehicleID string `json:"vehicleId"`
	RouteID   string `json:"routeId,omitempty"`
	Message   string `json:"message"`
}

// RouteRemoved tells viewers an ephemeral route was torn down.
type RouteRemoved struct {
	ID string `json:"id"`
}

// RouteSnapshot seeds a new subscriber with the current route state.
type RouteSnapshot struct {
	RouteID  string       `json:"routeId"`
	Vehicles []Vehicle    `json:"vehicles"`
	Seats    []SeatRecord `json:"seats"`
}

// DriverStartedAck is the reply to driver_started.
type DriverStartedAck struct {
	OK    bool   `json:"ok"`
	Route *Route `json:"route,omitempty"`
	Error string `json:"error,omitempty"`
}

// SeatBooked is the reply to book_seat.
type SeatBooked struct {
	OK    bool        `json:"ok"`
	Seats *SeatRecord `json:"seats,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ErrorPayload reports a rejected inbound frame.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
