// Package mqttbridge lets publishers feed the hub over MQTT instead of the
// websocket stream. Topics are <prefix>/driver/<vehicleId>/<action> with
// action one of started, location or disconnected. driver_started acks are
// published to <prefix>/driver/<vehicleId>/ack.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/vahan-live/internal/models"
)

const (
	ActionStarted      = "started"
	ActionLocation     = "location"
	ActionDisconnected = "disconnected"
	ActionAck          = "ack"

	// ConnPrefix prefixes the connection id of MQTT publishers.
	ConnPrefix = "mqtt:"

	qos            = 1
	connectTimeout = 10 * time.Second
	quiesceMillis  = 250
)

var ErrBadTopic = errors.New("unrecognized topic")

// Ingress is the publisher side of the hub.
type Ingress interface {
	DriverStarted(connID string, d models.DriverStarted) (models.Route, error)
	LocationUpdate(connID string, u models.LocationUpdate) (models.Vehicle, error)
	DriverDisconnected(d models.DriverDisconnected) bool
}

// Bridge dispatches MQTT messages to the hub.
type Bridge struct {
	prefix  string
	ingress Ingress
	publish func(topic string, payload []byte)
	log     *log.Entry
}

// New creates a bridge for topics under prefix.
func New(prefix string, ingress Ingress, logger *log.Entry) *Bridge {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Bridge{
		prefix:  strings.TrimSuffix(prefix, "/"),
		ingress: ingress,
		publish: func(string, []byte) {},
		log:     logger.WithField("component", "mqtt"),
	}
}

// Filter is the subscription covering every driver action.
func (b *Bridge) Filter() string {
	return b.prefix + "/driver/+/+"
}

// Topic builds the topic for one vehicle and action.
func (b *Bridge) Topic(vehicleID, action string) string {
	return fmt.Sprintf("%s/driver/%s/%s", b.prefix, vehicleID, action)
}

func (b *Bridge) parseTopic(topic string) (vehicleID, action string, err error) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/driver/")
	if !ok {
		return "", "", ErrBadTopic
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", ErrBadTopic
	}
	return parts[0], parts[1], nil
}

// bindRef fills an empty vehicle id from the topic and rejects a mismatch.
func bindRef(ref *models.VehicleRef, vehicleID string) error {
	switch ref.ID() {
	case "":
		ref.VehicleID = vehicleID
		return nil
	case vehicleID:
		return nil
	default:
		return fmt.Errorf("%w: payload vehicleId %q does not match topic", models.ErrMalformed, ref.ID())
	}
}

// Handle processes one message. It is the paho message handler body.
func (b *Bridge) Handle(msg mqtt.Message) error {
	vehicleID, action, err := b.parseTopic(msg.Topic())
	if err != nil {
		return err
	}
	connID := ConnPrefix + vehicleID
	fields := log.Fields{"vehicle_id": vehicleID, "conn_id": connID, "event": action}

	switch action {
	case ActionStarted:
		var d models.DriverStarted
		if err := decode(msg.Payload(), &d); err != nil {
			return err
		}
		if err := bindRef(&d.VehicleRef, vehicleID); err != nil {
			return err
		}
		route, err := b.ingress.DriverStarted(connID, d)
		ack := models.DriverStartedAck{OK: err == nil}
		if err != nil {
			ack.Error = err.Error()
		} else {
			ack.Route = &route
		}
		if payload, merr := json.Marshal(ack); merr == nil {
			b.publish(b.Topic(vehicleID, ActionAck), payload)
		}
		if err == nil {
			b.log.WithFields(fields).WithField("route_id", route.ID).Info("MQTT publisher started")
		}
		return err

	case ActionLocation:
		var u models.LocationUpdate
		if err := decode(msg.Payload(), &u); err != nil {
			return err
		}
		if err := bindRef(&u.VehicleRef, vehicleID); err != nil {
			return err
		}
		_, err := b.ingress.LocationUpdate(connID, u)
		return err

	case ActionDisconnected:
		var d models.DriverDisconnected
		if len(msg.Payload()) > 0 {
			if err := decode(msg.Payload(), &d); err != nil {
				return err
			}
		}
		if err := bindRef(&d.VehicleRef, vehicleID); err != nil {
			return err
		}
		b.ingress.DriverDisconnected(d)
		return nil

	case ActionAck:
		// our own replies
		return nil
	}
	return ErrBadTopic
}

func decode(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformed, err)
	}
	return nil
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := b.Handle(msg); err != nil {
		b.log.WithError(err).WithField("topic", msg.Topic()).Warn("Rejected MQTT message")
	}
}

// attach routes acks through client. It must run before Connect so message
// handlers never observe the write.
func (b *Bridge) attach(client mqtt.Client) {
	b.publish = func(topic string, payload []byte) {
		client.Publish(topic, qos, false, payload)
	}
}

// Run connects to brokerURL, subscribes, and blocks until ctx is done.
func (b *Bridge) Run(ctx context.Context, brokerURL string) error {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("vahan-live-" + uuid.NewString()).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(b.Filter(), qos, b.onMessage)
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			b.log.WithError(token.Error()).Error("MQTT subscribe failed")
			return
		}
		b.log.WithField("filter", b.Filter()).Info("MQTT subscribed")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	b.attach(client)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}
	<-ctx.Done()
	client.Disconnect(quiesceMillis)
	return nil
}
