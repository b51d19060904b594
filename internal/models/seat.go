package models

import (
	"encoding/json"
	"time"
)

// SeatKind selects between a single pool of seats and an economy/business split.
type SeatKind string

const (
	SeatSingleTier SeatKind = "bus"
	SeatTwoTier    SeatKind = "airway"
)

// Seat tiers used by two-tier records.
const (
	TierEconomy  = "economy"
	TierBusiness = "business"
)

// SeatCounter holds capacity and remaining seats for one tier.
type SeatCounter struct {
	Capacity  int `json:"capacity"`
	Available int `json:"available"`
}

// SeatRecord is the per-vehicle seat ledger entry. Single is used by
// single-tier records, Economy and Business by two-tier records.
type SeatRecord struct {
	VehicleID string
	RouteID   string
	Kind      SeatKind
	Single    SeatCounter
	Economy   SeatCounter
	Business  SeatCounter
	UpdatedAt time.Time
}

// Tier returns the counter for a tier name. Single-tier records ignore the name.
func (r *SeatRecord) Tier(name string) (*SeatCounter, bool) {
	if r.Kind != SeatTwoTier {
		return &r.Single, true
	}
	switch name {
	case TierEconomy, "":
		return &r.Economy, true
	case TierBusiness:
		return &r.Business, true
	default:
		return nil, false
	}
}

type seatRecordJSON struct {
	VehicleID string      `json:"vehicleId"`
	RouteID   string      `json:"routeId"`
	Kind      SeatKind    `json:"type"`
	Seats     interface{} `json:"seats"`
	Timestamp time.Time   `json:"timestamp"`
}

// MarshalJSON renders the seats object in the shape matching the record kind.
func (r SeatRecord) MarshalJSON() ([]byte, error) {
	out := seatRecordJSON{
		VehicleID: r.VehicleID,
		RouteID:   r.RouteID,
		Kind:      r.Kind,
		Timestamp: r.UpdatedAt,
	}
	if r.Kind == SeatTwoTier {
		out.Seats = map[string]SeatCounter{
			TierEconomy:  r.Economy,
			TierBusiness: r.Business,
		}
	} else {
		out.Seats = r.Single
	}
	return json.Marshal(out)
}
