package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/vahan-live/internal/config"
	"github.com/ukydev/vahan-live/internal/geo"
	"github.com/ukydev/vahan-live/internal/interp"
	"github.com/ukydev/vahan-live/internal/models"
)

var errRouteRemoved = errors.New("route removed")

// Viewer renders one route's vehicles as interpolated frames in the log.
type Viewer struct {
	routeID string
	tracker *interp.Tracker
	log     *log.Entry

	mu    sync.Mutex
	stops []models.Stop
}

func newViewer(routeID string, cfg interp.Config, sched interp.Scheduler, logger *log.Entry) *Viewer {
	v := &Viewer{
		routeID: routeID,
		log:     logger.WithField("route_id", routeID),
	}
	v.tracker = interp.NewTracker(cfg, sched, v.render)
	return v
}

func (v *Viewer) render(vehicleID string, f interp.Frame) {
	fields := log.Fields{
		"vehicle_id": vehicleID,
		"lat":        fmt.Sprintf("%.5f", f.Position.Lat),
		"lng":        fmt.Sprintf("%.5f", f.Position.Lng),
		"heading":    fmt.Sprintf("%.1f", f.Heading),
	}
	v.mu.Lock()
	if stop, meters, ok := geo.NearestStop(f.Position, v.stops); ok {
		fields["near"] = stop.Name
		fields["near_m"] = int(meters)
	}
	v.mu.Unlock()
	if f.Moving {
		v.log.WithFields(fields).Debug("Frame")
		return
	}
	v.log.WithFields(fields).Info("Vehicle at rest")
}

func (v *Viewer) setRoute(r models.Route) {
	if r.ID != v.routeID {
		return
	}
	v.mu.Lock()
	v.stops = r.Stops
	v.mu.Unlock()
}

func (v *Viewer) sample(veh models.Vehicle) {
	v.tracker.Update(veh.ID, interp.Sample{
		Position: veh.Position,
		Heading:  veh.Heading,
		Speed:    veh.Speed,
	})
}

// handle applies one stream frame. It returns errRouteRemoved when the
// route is torn down.
func (v *Viewer) handle(env models.InboundEnvelope) error {
	switch env.Event {
	case models.EventActiveRoutes:
		var routes []models.Route
		if err := json.Unmarshal(env.Data, &routes); err != nil {
			return err
		}
		for _, r := range routes {
			v.setRoute(r)
		}

	case models.EventNewRoute:
		var r models.Route
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return err
		}
		v.setRoute(r)

	case models.EventRouteSnapshot:
		var snap struct {
			RouteID  string           `json:"routeId"`
			Vehicles []models.Vehicle `json:"vehicles"`
		}
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return err
		}
		for _, veh := range snap.Vehicles {
			v.sample(veh)
		}
		v.log.WithField("vehicles", len(snap.Vehicles)).Info("Subscribed")

	case models.EventLocationUpdate:
		var veh models.Vehicle
		if err := json.Unmarshal(env.Data, &veh); err != nil {
			return err
		}
		if veh.RouteID == v.routeID {
			v.sample(veh)
		}

	case models.EventBusDisconnected:
		var msg models.BusDisconnected
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		v.tracker.Remove(msg.VehicleID)
		v.log.WithField("vehicle_id", msg.VehicleID).Info(msg.Message)

	case models.EventSeatUpdate:
		var rec struct {
			VehicleID string `json:"vehicleId"`
		}
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return err
		}
		v.log.WithField("vehicle_id", rec.VehicleID).WithField("seats", string(env.Data)).Info("Seats updated")

	case models.EventRouteRemoved:
		var msg models.RouteRemoved
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		if msg.ID == v.routeID {
			return errRouteRemoved
		}
	}
	return nil
}

func streamURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// watch subscribes and applies frames until ctx is done or the route goes away.
func (v *Viewer) watch(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()
	defer v.tracker.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	if err := conn.WriteJSON(models.Envelope{Event: models.EventSubscribeRoute, Data: v.routeID}); err != nil {
		return err
	}
	for {
		var env models.InboundEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := v.handle(env); err != nil {
			if errors.Is(err, errRouteRemoved) {
				v.log.Info("Route removed")
				return nil
			}
			v.log.WithError(err).WithField("event", env.Event).Warn("Bad frame")
		}
	}
}

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadViewer(os.LookupEnv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := config.SetupLogging(cfg.Logging); err != nil {
		log.Fatalf("Invalid logging configuration: %v", err)
	}
	wsURL, err := streamURL(cfg.ServerURL)
	if err != nil {
		log.Fatalf("Invalid SERVER_URL: %v", err)
	}

	icfg := interp.DefaultConfig()
	icfg.FrameInterval = time.Second / time.Duration(cfg.FPS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := newViewer(cfg.RouteID, icfg, interp.TickerScheduler{}, log.NewEntry(log.StandardLogger()))
	if err := v.watch(ctx, wsURL); err != nil {
		log.Fatalf("Viewer stopped: %v", err)
	}
}
