// Package catalog holds the static route catalog and the simulated fleet.
//
// The dataset is YAML. It is embedded in the binary and can be replaced at
// runtime with ROUTES_FILE.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/twpayne/go-polyline"
	"gopkg.in/yaml.v3"

	"github.com/ukydev/vahan-live/internal/models"
	"github.com/ukydev/vahan-live/internal/seats"
)

//go:embed data/routes.yml
var embedded []byte

// reservedPrefix is the ephemeral live route namespace.
const reservedPrefix = "live_"

// SeatPlan overrides the initial available counts of a fleet vehicle.
type SeatPlan struct {
	Available *int `yaml:"available" validate:"omitempty,gte=0"`
	Economy   *int `yaml:"economy" validate:"omitempty,gte=0"`
	Business  *int `yaml:"business" validate:"omitempty,gte=0"`
}

// FleetVehicle is a simulated vehicle running on a static route.
type FleetVehicle struct {
	VehicleID  string             `yaml:"vehicleId" json:"vehicleId" validate:"required"`
	RouteID    string             `yaml:"routeId" json:"routeId" validate:"required"`
	Kind       models.VehicleKind `yaml:"type" json:"type" validate:"required,oneof=bus airway"`
	StartIndex int                `yaml:"startIndex" json:"startIndex" validate:"gte=0"`
	Speed      float64            `yaml:"speed" json:"speed" validate:"gte=0"`
	Seats      *SeatPlan          `yaml:"seats" json:"-"`
}

// SeatRecord is the initial ledger entry for the vehicle.
func (fv FleetVehicle) SeatRecord() models.SeatRecord {
	rec := seats.DefaultRecord(fv.VehicleID, fv.RouteID, fv.Kind)
	if fv.Seats == nil {
		return rec
	}
	if fv.Seats.Available != nil {
		rec.Single.Available = *fv.Seats.Available
	}
	if fv.Seats.Economy != nil {
		rec.Economy.Available = *fv.Seats.Economy
	}
	if fv.Seats.Business != nil {
		rec.Business.Available = *fv.Seats.Business
	}
	return rec
}

type dataset struct {
	Routes []models.Route `yaml:"routes" validate:"required,min=1,dive"`
	Fleet  []FleetVehicle `yaml:"fleet" validate:"dive"`
}

// Catalog is immutable after Load.
type Catalog struct {
	routes []models.Route
	byID   map[string]int
	fleet  []FleetVehicle
	stops  []models.IndexedStop
}

// Load reads the dataset at path, or the embedded dataset when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(embedded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML dataset.
func Parse(data []byte) (*Catalog, error) {
	var ds dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing route catalog: %w", err)
	}
	v := validator.New()
	if err := v.Struct(ds); err != nil {
		return nil, fmt.Errorf("validating route catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(ds.Routes))}
	for i := range ds.Routes {
		r := ds.Routes[i]
		if strings.HasPrefix(r.ID, reservedPrefix) {
			return nil, fmt.Errorf("route %q: ids starting with %q are reserved", r.ID, reservedPrefix)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("route %q: duplicate id", r.ID)
		}
		if err := normalizePath(&r); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.ID, err)
		}
		r.IsLive = false
		r.OwnerID = ""
		c.byID[r.ID] = len(c.routes)
		c.routes = append(c.routes, r)
	}
	for _, fv := range ds.Fleet {
		r, ok := c.Route(fv.RouteID)
		if !ok {
			return nil, fmt.Errorf("fleet vehicle %q: unknown route %q", fv.VehicleID, fv.RouteID)
		}
		if len(r.Path) > 0 && fv.StartIndex >= len(r.Path) {
			return nil, fmt.Errorf("fleet vehicle %q: startIndex %d out of range", fv.VehicleID, fv.StartIndex)
		}
		c.fleet = append(c.fleet, fv)
	}
	c.stops = indexStops(c.routes)
	return c, nil
}

// normalizePath fills Path from EncodedPath or the other way round so both
// representations are always served.
func normalizePath(r *models.Route) error {
	if len(r.Path) == 0 && r.EncodedPath != "" {
		coords, _, err := polyline.DecodeCoords([]byte(r.EncodedPath))
		if err != nil {
			return fmt.Errorf("decoding encodedPath: %w", err)
		}
		r.Path = coords
	}
	for i, p := range r.Path {
		if len(p) != 2 {
			return fmt.Errorf("path point %d: want [lat, lng]", i)
		}
		if !(models.Position{Lat: p[0], Lng: p[1]}).Valid() {
			return fmt.Errorf("path point %d: out of range", i)
		}
	}
	if r.Path == nil {
		r.Path = [][]float64{}
	}
	if r.EncodedPath == "" && len(r.Path) > 0 {
		r.EncodedPath = string(polyline.EncodeCoords(r.Path))
	}
	return nil
}

func indexStops(routes []models.Route) []models.IndexedStop {
	byID := map[string]*models.IndexedStop{}
	var order []string
	for _, r := range routes {
		for _, s := range r.Stops {
			is, ok := byID[s.ID]
			if !ok {
				is = &models.IndexedStop{Stop: s}
				byID[s.ID] = is
				order = append(order, s.ID)
			}
			is.Routes = append(is.Routes, models.RouteRef{ID: r.ID, Kind: r.Kind})
		}
	}
	out := make([]models.IndexedStop, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Routes returns every static route in dataset order.
func (c *Catalog) Routes() []models.Route {
	out := make([]models.Route, len(c.routes))
	copy(out, c.routes)
	return out
}

// Route looks up a static route by id.
func (c *Catalog) Route(id string) (models.Route, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.Route{}, false
	}
	return c.routes[i], true
}

// IsStatic reports whether id names a catalog route.
func (c *Catalog) IsStatic(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Stops returns the deduplicated stop index sorted by name.
func (c *Catalog) Stops() []models.IndexedStop {
	out := make([]models.IndexedStop, len(c.stops))
	copy(out, c.stops)
	return out
}

// Fleet returns the simulated fleet.
func (c *Catalog) Fleet() []FleetVehicle {
	out := make([]FleetVehicle, len(c.fleet))
	copy(out, c.fleet)
	return out
}
