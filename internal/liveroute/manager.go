// Package liveroute manages ephemeral routes owned by a single publisher.
//
// Lifecycle: none -> announced -> active -> torn_down. A torn-down id is
// retired and never handed out again.
package liveroute

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ukydev/vahan-live/internal/models"
)

// IDPrefix namespaces ephemeral route ids away from static catalog ids.
const IDPrefix = "live_"

// DefaultColor is used for live routes on route pickers.
const DefaultColor = "#10B981"

// State of an ephemeral route.
type State string

const (
	StateNone      State = "none"
	StateAnnounced State = "announced"
	StateActive    State = "active"
	StateTornDown  State = "torn_down"
)

var (
	ErrStaticRoute  = errors.New("route is a static route")
	ErrNotOwner     = errors.New("route is owned by another vehicle")
	ErrUnknownRoute = errors.New("unknown live route")
	ErrTornDown     = errors.New("live route was torn down")
)

// IsLiveID reports whether id is in the ephemeral namespace.
func IsLiveID(id string) bool {
	return strings.HasPrefix(id, IDPrefix)
}

// LiveRoute is a route plus its lifecycle bookkeeping.
type LiveRoute struct {
	Route     models.Route
	Owner     string
	State     State
	CreatedAt time.Time
}

// Manager holds every announced or active ephemeral route.
type Manager struct {
	mu       sync.RWMutex
	routes   map[string]*LiveRoute
	owners   map[string]string
	retired  map[string]struct{}
	isStatic func(string) bool
	now      func() time.Time
	seq      uint64
}

// NewManager creates a manager. isStatic guards against collisions with
// catalog ids; nil means no static routes.
func NewManager(isStatic func(string) bool, now func() time.Time) *Manager {
	if isStatic == nil {
		isStatic = func(string) bool { return false }
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		routes:   make(map[string]*LiveRoute),
		owners:   make(map[string]string),
		retired:  make(map[string]struct{}),
		isStatic: isStatic,
		now:      now,
	}
}

// Announce allocates a fresh route owned by ownerID. If ownerID already owns a
// live route that route is returned with created=false.
func (m *Manager) Announce(ownerID, name string, kind models.VehicleKind) (models.Route, bool, error) {
	if ownerID == "" {
		return models.Route{}, false, fmt.Errorf("%w: owner is required", models.ErrMalformed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.owners[ownerID]; ok {
		return m.routes[id].Route, false, nil
	}
	if kind == "" {
		kind = models.KindSurface
	}
	if name == "" {
		name = "Live: " + ownerID
	}

	now := m.now()
	id := m.allocateID(ownerID, now)
	lr := &LiveRoute{
		Route: models.Route{
			ID:      id,
			Name:    name,
			Kind:    kind,
			Color:   DefaultColor,
			Stops:   []models.Stop{},
			Path:    [][]float64{},
			IsLive:  true,
			OwnerID: ownerID,
		},
		Owner:     ownerID,
		State:     StateAnnounced,
		CreatedAt: now,
	}
	m.routes[id] = lr
	m.owners[ownerID] = id
	return lr.Route, true, nil
}

func (m *Manager) allocateID(ownerID string, now time.Time) string {
	base := fmt.Sprintf("%s%s_%d", IDPrefix, sanitize(ownerID), now.UnixMilli())
	id := base
	for m.taken(id) {
		m.seq++
		id = fmt.Sprintf("%s_%d", base, m.seq)
	}
	return id
}

func (m *Manager) taken(id string) bool {
	if _, ok := m.routes[id]; ok {
		return true
	}
	if _, ok := m.retired[id]; ok {
		return true
	}
	return m.isStatic(id)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

// Claim checks that ownerID may run on routeID. Static routes are shared and
// can never be owned, so they yield ErrStaticRoute.
func (m *Manager) Claim(ownerID, routeID string) (models.Route, error) {
	if m.isStatic(routeID) {
		return models.Route{}, ErrStaticRoute
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check(ownerID, routeID)
}

// Touch records a position update on routeID by vehicleID. It moves an
// announced route to active and reports whether that transition happened.
// Updates on static routes are allowed and return ErrStaticRoute untouched.
func (m *Manager) Touch(routeID, vehicleID string) (bool, error) {
	if m.isStatic(routeID) {
		return false, ErrStaticRoute
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.check(vehicleID, routeID); err != nil {
		return false, err
	}
	lr := m.routes[routeID]
	if lr.State == StateAnnounced {
		lr.State = StateActive
		return true, nil
	}
	return false, nil
}

func (m *Manager) check(ownerID, routeID string) (models.Route, error) {
	if _, ok := m.retired[routeID]; ok {
		return models.Route{}, ErrTornDown
	}
	lr, ok := m.routes[routeID]
	if !ok {
		return models.Route{}, ErrUnknownRoute
	}
	if lr.Owner != ownerID {
		return models.Route{}, ErrNotOwner
	}
	return lr.Route, nil
}

// Teardown retires routeID. Only the first call for a route returns true.
func (m *Manager) Teardown(routeID string) (LiveRoute, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lr, ok := m.routes[routeID]
	if !ok {
		return LiveRoute{}, false
	}
	delete(m.routes, routeID)
	delete(m.owners, lr.Owner)
	m.retired[routeID] = struct{}{}
	lr.State = StateTornDown
	return *lr, true
}

// OwnedBy returns the live route owned by vehicleID, if any.
func (m *Manager) OwnedBy(vehicleID string) (LiveRoute, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.owners[vehicleID]
	if !ok {
		return LiveRoute{}, false
	}
	return *m.routes[id], true
}

// Get returns a live route that has not been torn down.
func (m *Manager) Get(routeID string) (LiveRoute, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lr, ok := m.routes[routeID]
	if !ok {
		return LiveRoute{}, false
	}
	return *lr, true
}

// StateOf returns the lifecycle state of routeID.
func (m *Manager) StateOf(routeID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if lr, ok := m.routes[routeID]; ok {
		return lr.State
	}
	if _, ok := m.retired[routeID]; ok {
		return StateTornDown
	}
	return StateNone
}

// AnnouncedBefore returns routes created before cutoff that never received a
// position update.
func (m *Manager) AnnouncedBefore(cutoff time.Time) []LiveRoute {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LiveRoute
	for _, lr := range m.routes {
		if lr.State == StateAnnounced && lr.CreatedAt.Before(cutoff) {
			out = append(out, *lr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route.ID < out[j].Route.ID })
	return out
}

// List returns announced and active routes in creation order.
func (m *Manager) List() []models.Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lrs := make([]*LiveRoute, 0, len(m.routes))
	for _, lr := range m.routes {
		lrs = append(lrs, lr)
	}
	sort.Slice(lrs, func(i, j int) bool {
		if lrs[i].CreatedAt.Equal(lrs[j].CreatedAt) {
			return lrs[i].Route.ID < lrs[j].Route.ID
		}
		return lrs[i].CreatedAt.Before(lrs[j].CreatedAt)
	})
	out := make([]models.Route, 0, len(lrs))
	for _, lr := range lrs {
		out = append(out, lr.Route)
	}
	return out
}
