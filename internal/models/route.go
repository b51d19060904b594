package models

// Stop is an immutable named point shared by any number of routes.
type Stop struct {
	ID   string  `yaml:"id" json:"id" validate:"required"`
	Name string  `yaml:"name" json:"name" validate:"required"`
	Lat  float64 `yaml:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `yaml:"lng" json:"lng" validate:"gte=-180,lte=180"`
}

// Schedule carries free-form timetable metadata.
type Schedule struct {
	Frequency      string `yaml:"frequency" json:"frequency,omitempty"`
	OperatingHours string `yaml:"operatingHours" json:"operatingHours,omitempty"`
	Duration       string `yaml:"duration" json:"duration,omitempty"` // air routes, e.g. "2.5 hours"
}

// Route is either a static catalog route or an ephemeral live route.
type Route struct {
	ID          string      `yaml:"id" json:"id" validate:"required"`
	Name        string      `yaml:"name" json:"name" validate:"required"`
	Kind        VehicleKind `yaml:"type" json:"type" validate:"required,oneof=bus airway"`
	Color       string      `yaml:"color" json:"color,omitempty"`
	Stops       []Stop      `yaml:"stops" json:"stops" validate:"dive"`
	Path        [][]float64 `yaml:"path" json:"path"`
	EncodedPath string      `yaml:"encodedPath" json:"encodedPath,omitempty"`
	Schedule    Schedule    `yaml:"schedule" json:"schedule"`
	IsLive      bool        `yaml:"-" json:"isLive,omitempty"`
	OwnerID     string      `yaml:"-" json:"ownerId,omitempty"`
}

// StopIndex returns the position of a stop in the route, or -1.
func (r *Route) StopIndex(stopID string) int {
	for i, s := range r.Stops {
		if s.ID == stopID {
			return i
		}
	}
	return -1
}

// RouteRef is a shallow reference used when annotating stops.
type RouteRef struct {
	ID   string      `json:"id"`
	Kind VehicleKind `json:"type"`
}

// IndexedStop is a deduplicated stop annotated with the routes that reference it.
type IndexedStop struct {
	Stop
	Routes []RouteRef `json:"routes"`
}
