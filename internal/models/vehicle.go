package models

import (
	"time"
)

// VehicleKind distinguishes surface vehicles from aircraft.
type VehicleKind string

const (
	KindSurface VehicleKind = "bus"
	KindAir     VehicleKind = "airway"
)

// IsValidKind checks if a kind is one of the known vehicle kinds.
func IsValidKind(k VehicleKind) bool {
	switch k {
	case KindSurface, KindAir:
		return true
	default:
		return false
	}
}

// Vehicle is the last-known state of a tracked vehicle.
type Vehicle struct {
	ID              string      `bson:"vehicle_id" json:"vehicleId"`
	RouteID         string      `bson:"route_id" json:"routeId"`
	Kind            VehicleKind `bson:"kind" json:"type"`
	Position        Position    `bson:"position" json:"position"`
	Heading         float64     `bson:"heading" json:"heading"`
	Speed           float64     `bson:"speed" json:"speed"` // km/h
	Passengers      *int        `bson:"passengers,omitempty" json:"passengers,omitempty"`
	IsLivePublished bool        `bson:"is_live_published" json:"isRealDriver"`
	Status          string      `bson:"status" json:"status,omitempty"`
	ConnectionID    string      `bson:"-" json:"-"`
	SampleTime      time.Time   `bson:"sample_time" json:"timestamp"`
	LastUpdate      time.Time   `bson:"last_update" json:"lastUpdate"`
}
