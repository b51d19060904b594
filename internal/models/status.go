package models

import "time"

// Persisted vehicle status values.
const (
	StatusActive   = "active"
	StatusStopped  = "stopped"
	StatusRestored = "Restored"
)

// VehicleStatus is the long-lived record kept in the status store. Only the
// last known position is kept, never the track.
type VehicleStatus struct {
	VehicleID    string      `bson:"vehicle_id" json:"vehicleId"`
	RouteID      string      `bson:"route_id" json:"routeId"`
	Kind         VehicleKind `bson:"kind" json:"type"`
	Status       string      `bson:"status" json:"status"`
	LastPosition Position    `bson:"last_position" json:"lastPosition"`
	LastActive   time.Time   `bson:"last_active" json:"lastActive"`
}

// StatusOf projects a vehicle into its persisted status.
func StatusOf(v Vehicle, status string) VehicleStatus {
	return VehicleStatus{
		VehicleID:    v.ID,
		RouteID:      v.RouteID,
		Kind:         v.Kind,
		Status:       status,
		LastPosition: v.Position,
		LastActive:   v.LastUpdate,
	}
}
