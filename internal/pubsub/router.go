// Package pubsub fans events out to the connections subscribed to a route.
package pubsub

import (
	"errors"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vahan-live/internal/models"
)

var (
	// ErrUnknownConnection is returned when subscribing an unregistered connection.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrSlowConsumer is returned by subscribers whose outbound buffer is full.
	ErrSlowConsumer = errors.New("subscriber send buffer full")
)

// Subscriber is one viewer connection. Send must not block.
type Subscriber interface {
	ID() string
	Send(env models.Envelope) error
}

// SnapshotFunc returns the frames replayed to a connection joining routeID.
type SnapshotFunc func(routeID string) []models.Envelope

// Router keeps subscriber sets keyed by route id.
type Router struct {
	mu       sync.RWMutex
	conns    map[string]Subscriber
	topics   map[string]map[string]Subscriber
	byConn   map[string]map[string]struct{}
	snapshot SnapshotFunc
	log      *log.Entry
}

// NewRouter creates a router. snapshot may be nil.
func NewRouter(snapshot SnapshotFunc, logger *log.Entry) *Router {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Router{
		conns:    make(map[string]Subscriber),
		topics:   make(map[string]map[string]Subscriber),
		byConn:   make(map[string]map[string]struct{}),
		snapshot: snapshot,
		log:      logger.WithField("component", "pubsub"),
	}
}

// Register makes a connection reachable by Broadcast and eligible to subscribe.
func (r *Router) Register(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sub.ID()] = sub
	if _, ok := r.byConn[sub.ID()]; !ok {
		r.byConn[sub.ID()] = make(map[string]struct{})
	}
}

// Unregister drops a connection and every subscription it holds.
func (r *Router) Unregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var routes []string
	for routeID := range r.byConn[connID] {
		r.leave(connID, routeID)
		routes = append(routes, routeID)
	}
	delete(r.byConn, connID)
	delete(r.conns, connID)
	sort.Strings(routes)
	return routes
}

// Subscribe joins connID to routeID and replays the route snapshot to it.
// It reports whether the subscription is new; a repeat subscribe is a no-op.
func (r *Router) Subscribe(connID, routeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.conns[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if _, joined := r.byConn[connID][routeID]; joined {
		return false, nil
	}

	set, ok := r.topics[routeID]
	if !ok {
		set = make(map[string]Subscriber)
		r.topics[routeID] = set
	}
	set[connID] = sub
	r.byConn[connID][routeID] = struct{}{}

	// Replay while holding the lock so no publish slips between join and snapshot.
	if r.snapshot != nil {
		for _, env := range r.snapshot(routeID) {
			r.deliver(sub, env)
		}
	}
	return true, nil
}

// Unsubscribe leaves a topic. Leaving a topic never joined is a no-op.
func (r *Router) Unsubscribe(connID, routeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, joined := r.byConn[connID][routeID]; !joined {
		return false
	}
	r.leave(connID, routeID)
	return true
}

// DropTopic removes every subscription to routeID.
func (r *Router) DropTopic(routeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.topics[routeID]
	n := len(set)
	for connID := range set {
		delete(r.byConn[connID], routeID)
	}
	delete(r.topics, routeID)
	return n
}

// Publish delivers env to the subscribers of routeID only and returns the
// number of successful deliveries.
func (r *Router) Publish(routeID string, env models.Envelope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sub := range r.topics[routeID] {
		if r.deliver(sub, env) {
			n++
		}
	}
	return n
}

// Broadcast delivers env to every registered connection.
func (r *Router) Broadcast(env models.Envelope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sub := range r.conns {
		if r.deliver(sub, env) {
			n++
		}
	}
	return n
}

// Send delivers env to one connection.
func (r *Router) Send(connID string, env models.Envelope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.conns[connID]
	if !ok {
		return false
	}
	return r.deliver(sub, env)
}

// Subscribers returns the connection ids subscribed to routeID, sorted.
func (r *Router) Subscribers(routeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics[routeID]))
	for id := range r.topics[routeID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Topics returns the routes connID is subscribed to, sorted.
func (r *Router) Topics(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byConn[connID]))
	for id := range r.byConn[connID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Connections returns the number of registered connections.
func (r *Router) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Router) leave(connID, routeID string) {
	delete(r.byConn[connID], routeID)
	if set, ok := r.topics[routeID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.topics, routeID)
		}
	}
}

func (r *Router) deliver(sub Subscriber, env models.Envelope) bool {
	if err := sub.Send(env); err != nil {
		r.log.WithFields(log.Fields{
			"conn_id": sub.ID(),
			"event":   env.Event,
		}).WithError(err).Warn("Dropped outbound event")
		return false
	}
	return true
}
