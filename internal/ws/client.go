// Package ws serves the persistent event stream over gorilla/websocket.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/vahan-live/internal/models"
	"github.com/ukydev/vahan-live/internal/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// ErrClosed is returned by Send after the connection went away.
var ErrClosed = errors.New("connection closed")

// Dispatcher is the reactor surface the stream drives.
type Dispatcher interface {
	Connect(sub pubsub.Subscriber)
	Disconnect(connID string)
	Subscribe(connID, routeID string) (bool, error)
	Unsubscribe(connID, routeID string) bool
	DriverStarted(connID string, d models.DriverStarted) (models.Route, error)
	LocationUpdate(connID string, u models.LocationUpdate) (models.Vehicle, error)
	DriverDisconnected(d models.DriverDisconnected) bool
	BookSeat(vehicleID, tier string) (models.SeatRecord, bool, error)
}

// Client is one websocket connection. It implements pubsub.Subscriber.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  Dispatcher
	send chan models.Envelope
	done chan struct{}
	log  *log.Entry

	// kick closes the socket once so the read pump runs the disconnect
	// cleanup and the peer reconnects to a fresh snapshot.
	kick     func()
	kickOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, hub Dispatcher, logger *log.Entry) *Client {
	c := &Client{
		id:   id,
		conn: conn,
		hub:  hub,
		send: make(chan models.Envelope, sendBuffer),
		done: make(chan struct{}),
		log:  logger.WithField("conn_id", id),
	}
	c.kick = func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
	return c
}

func (c *Client) ID() string { return c.id }

// Send queues an envelope without blocking. A full buffer drops the
// connection rather than leaving the peer with a gap in its event stream.
func (c *Client) Send(env models.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		c.kickOnce.Do(func() {
			c.log.WithField("event", env.Event).Warn("Send buffer full, closing slow connection")
			c.kick()
		})
		return pubsub.ErrSlowConsumer
	}
}

// readPump decodes inbound frames until the connection fails, then runs the
// disconnect cleanup exactly once.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.hub.Disconnect(c.id)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("Websocket closed unexpectedly")
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.WithError(err).WithField("event", env.Event).Warn("Websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(raw []byte) {
	var in models.InboundEnvelope
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		c.reject("", fmt.Errorf("%w: expected {\"event\", \"data\"}", models.ErrMalformed))
		return
	}

	switch in.Event {
	case models.EventSubscribeRoute:
		var t models.RouteTopic
		if err := decode(in.Data, &t); err != nil {
			c.reject(in.Event, err)
			return
		}
		if _, err := c.hub.Subscribe(c.id, t.RouteID); err != nil {
			c.log.WithField("route_id", t.RouteID).WithError(err).Debug("Subscribe ignored")
		}

	case models.EventUnsubscribeRoute:
		var t models.RouteTopic
		if err := decode(in.Data, &t); err != nil {
			c.reject(in.Event, err)
			return
		}
		c.hub.Unsubscribe(c.id, t.RouteID)

	case models.EventDriverStarted:
		var d models.DriverStarted
		if err := decode(in.Data, &d); err != nil {
			c.ack(models.DriverStartedAck{Error: err.Error()})
			return
		}
		route, err := c.hub.DriverStarted(c.id, d)
		if err != nil {
			c.ack(models.DriverStartedAck{Error: err.Error()})
			return
		}
		c.ack(models.DriverStartedAck{OK: true, Route: &route})

	case models.EventDriverLocationUpdate:
		var u models.LocationUpdate
		if err := decode(in.Data, &u); err != nil {
			c.reject(in.Event, err)
			return
		}
		if _, err := c.hub.LocationUpdate(c.id, u); err != nil {
			c.reject(in.Event, err)
		}

	case models.EventDriverDisconnected:
		var d models.DriverDisconnected
		if err := decode(in.Data, &d); err != nil {
			c.reject(in.Event, err)
			return
		}
		c.hub.DriverDisconnected(d)

	case models.EventBookSeat:
		var b models.BookSeat
		if err := decode(in.Data, &b); err != nil {
			c.reply(models.EventSeatBooked, models.SeatBooked{Error: err.Error()})
			return
		}
		rec, booked, err := c.hub.BookSeat(b.ID(), b.Tier)
		if err != nil {
			c.reply(models.EventSeatBooked, models.SeatBooked{Error: err.Error()})
			return
		}
		c.reply(models.EventSeatBooked, models.SeatBooked{OK: booked, Seats: &rec})

	default:
		c.reject(in.Event, fmt.Errorf("unknown event %q", in.Event))
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", models.ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformed, err)
	}
	return nil
}

func (c *Client) ack(a models.DriverStartedAck) {
	c.reply(models.EventDriverStartedAck, a)
}

func (c *Client) reply(event string, data interface{}) {
	if err := c.Send(models.Envelope{Event: event, Data: data}); err != nil {
		c.log.WithError(err).WithField("event", event).Warn("Dropped reply")
	}
}

func (c *Client) reject(event string, err error) {
	c.log.WithField("event", event).WithError(err).Debug("Rejected inbound frame")
	c.reply(models.EventError, models.ErrorPayload{Event: event, Message: err.Error()})
}
