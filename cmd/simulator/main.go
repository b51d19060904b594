package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/vahan-live/internal/catalog"
	"github.com/ukydev/vahan-live/internal/config"
	"github.com/ukydev/vahan-live/internal/geo"
	"github.com/ukydev/vahan-live/internal/models"
)

const defaultSpeedKmh = 50

// VehicleState is one simulated producer walking its route path back and forth.
type VehicleState struct {
	VehicleID string
	RouteID   string
	Kind      models.VehicleKind
	SpeedKmh  float64
	Path      []models.Position
	Stops     []models.Stop
	Index     int
	Forward   bool
}

func routePath(r models.Route) []models.Position {
	pts := make([]models.Position, 0, len(r.Path))
	for _, p := range r.Path {
		if len(p) >= 2 {
			pts = append(pts, models.Position{Lat: p[0], Lng: p[1]})
		}
	}
	if len(pts) >= 2 {
		return pts
	}
	pts = pts[:0]
	for _, s := range r.Stops {
		pts = append(pts, models.Position{Lat: s.Lat, Lng: s.Lng})
	}
	return pts
}

func newVehicleState(fv catalog.FleetVehicle, r models.Route) (*VehicleState, error) {
	path := routePath(r)
	if len(path) == 0 {
		return nil, fmt.Errorf("route %s has no path", r.ID)
	}
	speed := fv.Speed
	if speed <= 0 {
		speed = defaultSpeedKmh
	}
	idx := fv.StartIndex
	if idx >= len(path) {
		idx = len(path) - 1
	}
	return &VehicleState{
		VehicleID: fv.VehicleID,
		RouteID:   fv.RouteID,
		Kind:      fv.Kind,
		SpeedKmh:  speed,
		Path:      path,
		Stops:     r.Stops,
		Index:     idx,
		Forward:   true,
	}, nil
}

// selectFleet keeps fleet entries whose route or vehicle id is in filter. An
// empty filter keeps everything.
func selectFleet(cat *catalog.Catalog, filter []string) []*VehicleState {
	keep := make(map[string]bool, len(filter))
	for _, f := range filter {
		keep[f] = true
	}
	var states []*VehicleState
	for _, fv := range cat.Fleet() {
		if len(keep) > 0 && !keep[fv.RouteID] && !keep[fv.VehicleID] {
			continue
		}
		r, ok := cat.Route(fv.RouteID)
		if !ok {
			continue
		}
		s, err := newVehicleState(fv, r)
		if err != nil {
			log.WithError(err).WithField("vehicle_id", fv.VehicleID).Warn("Skipping fleet vehicle")
			continue
		}
		states = append(states, s)
	}
	return states
}

// stepAlongRoute moves one path point, reversing at either end.
func stepAlongRoute(s *VehicleState) {
	if len(s.Path) < 2 {
		return
	}
	if s.Forward && s.Index+1 >= len(s.Path) {
		s.Forward = false
	} else if !s.Forward && s.Index-1 < 0 {
		s.Forward = true
	}
	if s.Forward {
		s.Index++
	} else {
		s.Index--
	}
}

func (s *VehicleState) previous() models.Position {
	prev := s.Index - 1
	if !s.Forward {
		prev = s.Index + 1
	}
	if prev < 0 || prev >= len(s.Path) {
		return s.Path[s.Index]
	}
	return s.Path[prev]
}

// terminals returns the origin and destination stops for the current direction.
func (s *VehicleState) terminals() (from, to models.Stop, ok bool) {
	if len(s.Stops) < 2 {
		return models.Stop{}, models.Stop{}, false
	}
	first, last := s.Stops[0], s.Stops[len(s.Stops)-1]
	if s.Forward {
		return first, last, true
	}
	return last, first, true
}

func locationFromState(s *VehicleState, now time.Time) models.LocationUpdate {
	pos := s.Path[s.Index]
	heading := 0.0
	if deg, ok := geo.BearingDegrees(s.previous(), pos); ok {
		heading = deg
	}
	speed := s.SpeedKmh
	u := models.LocationUpdate{
		VehicleRef: models.VehicleRef{VehicleID: s.VehicleID},
		RouteID:    s.RouteID,
		Position:   &pos,
		Heading:    &heading,
		Speed:      &speed,
		Kind:       s.Kind,
		Timestamp:  now,
	}
	if from, to, ok := s.terminals(); ok {
		u.StartStop = from.Name
		u.EndStop = to.Name
	}
	return u
}

func streamURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func send(conn *websocket.Conn, event string, data interface{}) error {
	return conn.WriteJSON(models.Envelope{Event: event, Data: data})
}

// drainAcks reads until the connection closes, logging rejected frames.
func drainAcks(conn *websocket.Conn, vehicleID string) {
	for {
		var env models.InboundEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Event {
		case models.EventDriverStartedAck:
			var ack models.DriverStartedAck
			if err := json.Unmarshal(env.Data, &ack); err == nil && !ack.OK {
				log.WithFields(log.Fields{"vehicle_id": vehicleID, "error": ack.Error}).Warn("driver_started rejected")
			}
		case models.EventError:
			log.WithField("vehicle_id", vehicleID).Warnf("Server rejected frame: %s", env.Data)
		}
	}
}

func simulateVehicle(ctx context.Context, wsURL string, s *VehicleState, interval time.Duration) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()
	go drainAcks(conn, s.VehicleID)

	start := models.DriverStarted{
		VehicleRef: models.VehicleRef{VehicleID: s.VehicleID},
		RouteID:    s.RouteID,
		Kind:       s.Kind,
	}
	if err := send(conn, models.EventDriverStarted, start); err != nil {
		return err
	}
	if err := send(conn, models.EventDriverLocationUpdate, locationFromState(s, time.Now())); err != nil {
		return err
	}

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = send(conn, models.EventDriverDisconnected, models.DriverDisconnected{
				VehicleRef: models.VehicleRef{VehicleID: s.VehicleID},
			})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		case <-tick.C:
			stepAlongRoute(s)
			u := locationFromState(s, time.Now())
			if err := send(conn, models.EventDriverLocationUpdate, u); err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"vehicle_id": s.VehicleID,
				"lat":        fmt.Sprintf("%.4f", u.Position.Lat),
				"lng":        fmt.Sprintf("%.4f", u.Position.Lng),
			}).Debug("Sent location")
		}
	}
}

func bookSeat(client *http.Client, serverURL string, s *VehicleState, tier string) error {
	body, err := json.Marshal(map[string]string{"tier": tier})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/seats/%s/book", strings.TrimSuffix(serverURL, "/"), url.PathEscape(s.VehicleID))
	resp, err := client.Post(endpoint, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to book seat: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
		log.WithFields(log.Fields{"vehicle_id": s.VehicleID, "tier": tier, "status": resp.Status}).Info("Booked seat")
		return nil
	default:
		return fmt.Errorf("booking failed with status: %d", resp.StatusCode)
	}
}

func pickTier(rng *rand.Rand, kind models.VehicleKind) string {
	if kind != models.KindAir {
		return ""
	}
	if rng.Intn(5) == 0 {
		return models.TierBusiness
	}
	return models.TierEconomy
}

func simulateBookings(ctx context.Context, serverURL string, states []*VehicleState, interval time.Duration) {
	if interval <= 0 || len(states) == 0 {
		return
	}
	client := &http.Client{Timeout: 10 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s := states[rng.Intn(len(states))]
			if err := bookSeat(client, serverURL, s, pickTier(rng, s.Kind)); err != nil {
				log.WithError(err).WithField("vehicle_id", s.VehicleID).Warn("Seat booking failed")
			}
		}
	}
}

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadSimulator(os.LookupEnv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := config.SetupLogging(cfg.Logging); err != nil {
		log.Fatalf("Invalid logging configuration: %v", err)
	}

	cat, err := catalog.Load("")
	if err != nil {
		log.Fatalf("Failed to load routes: %v", err)
	}
	wsURL, err := streamURL(cfg.ServerURL)
	if err != nil {
		log.Fatalf("Invalid SERVER_URL: %v", err)
	}

	states := selectFleet(cat, cfg.Routes)
	if len(states) == 0 {
		log.Error("No fleet vehicles match SIM_ROUTES. Exiting.")
		return
	}

	log.WithFields(log.Fields{
		"vehicles": len(states),
		"server":   cfg.ServerURL,
		"interval": cfg.Tick,
	}).Info("Starting fleet simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, s := range states {
		wg.Add(1)
		go func(s *VehicleState) {
			defer wg.Done()
			if err := simulateVehicle(ctx, wsURL, s, cfg.Tick); err != nil {
				log.WithError(err).WithField("vehicle_id", s.VehicleID).Error("Simulated vehicle stopped")
			}
		}(s)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		simulateBookings(ctx, cfg.ServerURL, states, cfg.BookingInterval)
	}()

	wg.Wait()
	log.Info("Simulation stopped")
}
