// Package seats holds per-vehicle seat counters.
package seats

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/vahan-live/internal/models"
)

// Default capacities for records created without an explicit seat plan.
const (
	DefaultSurfaceCapacity  = 50
	DefaultEconomyCapacity  = 120
	DefaultBusinessCapacity = 30
)

var (
	ErrUnknownVehicle = errors.New("no seat record for vehicle")
	ErrUnknownTier    = errors.New("unknown seat tier")
)

// KindFor maps a vehicle kind to the seat layout it uses.
func KindFor(k models.VehicleKind) models.SeatKind {
	if k == models.KindAir {
		return models.SeatTwoTier
	}
	return models.SeatSingleTier
}

// DefaultRecord returns a fully available record for a vehicle.
func DefaultRecord(vehicleID, routeID string, kind models.VehicleKind) models.SeatRecord {
	rec := models.SeatRecord{
		VehicleID: vehicleID,
		RouteID:   routeID,
		Kind:      KindFor(kind),
	}
	if rec.Kind == models.SeatTwoTier {
		rec.Economy = models.SeatCounter{Capacity: DefaultEconomyCapacity, Available: DefaultEconomyCapacity}
		rec.Business = models.SeatCounter{Capacity: DefaultBusinessCapacity, Available: DefaultBusinessCapacity}
	} else {
		rec.Single = models.SeatCounter{Capacity: DefaultSurfaceCapacity, Available: DefaultSurfaceCapacity}
	}
	return rec
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*models.SeatRecord
	now     func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{records: make(map[string]*models.SeatRecord), now: now}
}

// Seed installs rec, replacing any existing record for the vehicle.
// Counters are clamped into [0, capacity].
func (l *Ledger) Seed(rec models.SeatRecord) models.SeatRecord {
	clamp(&rec.Single)
	clamp(&rec.Economy)
	clamp(&rec.Business)
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = l.now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.VehicleID] = &rec
	return rec
}

func clamp(c *models.SeatCounter) {
	if c.Capacity < 0 {
		c.Capacity = 0
	}
	if c.Available < 0 {
		c.Available = 0
	}
	if c.Available > c.Capacity {
		c.Available = c.Capacity
	}
}

// Ensure creates a default record when none exists. An existing record keeps
// its counters but follows the vehicle to routeID.
func (l *Ledger) Ensure(vehicleID, routeID string, kind models.VehicleKind) (models.SeatRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[vehicleID]; ok {
		if routeID != "" {
			rec.RouteID = routeID
		}
		return *rec, false
	}
	rec := DefaultRecord(vehicleID, routeID, kind)
	rec.UpdatedAt = l.now()
	l.records[vehicleID] = &rec
	return rec, true
}

// Book takes one seat from the tier. A sold-out tier is not an error: the
// current record is returned with booked=false.
func (l *Ledger) Book(vehicleID, tier string) (models.SeatRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[vehicleID]
	if !ok {
		return models.SeatRecord{}, false, ErrUnknownVehicle
	}
	counter, ok := rec.Tier(tier)
	if !ok {
		return *rec, false, ErrUnknownTier
	}
	if counter.Available <= 0 {
		return *rec, false, nil
	}
	counter.Available--
	rec.UpdatedAt = l.now()
	return *rec, true, nil
}

// Snapshot returns a copy of the vehicle's record.
func (l *Ledger) Snapshot(vehicleID string) (models.SeatRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[vehicleID]
	if !ok {
		return models.SeatRecord{}, false
	}
	return *rec, true
}

// SnapshotByRoute returns every record on the route ordered by vehicle id.
func (l *Ledger) SnapshotByRoute(routeID string) []models.SeatRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []models.SeatRecord{}
	for _, rec := range l.records {
		if rec.RouteID == routeID {
			out = append(out, *rec)
		}
	}
	sortRecords(out)
	return out
}

// All returns every record ordered by vehicle id.
func (l *Ledger) All() []models.SeatRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.SeatRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	sortRecords(out)
	return out
}

// Remove drops the vehicle's record.
func (l *Ledger) Remove(vehicleID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[vehicleID]; !ok {
		return false
	}
	delete(l.records, vehicleID)
	return true
}

func sortRecords(recs []models.SeatRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].VehicleID < recs[j].VehicleID })
}
