package pubsub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/vahan-live/internal/models"
)

type recorder struct {
	id   string
	mu   sync.Mutex
	got  []models.Envelope
	fail bool
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(env models.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return ErrSlowConsumer
	}
	r.got = append(r.got, env)
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, e := range r.got {
		out = append(out, e.Event)
	}
	return out
}

func newRouterWith(subs ...*recorder) *Router {
	r := NewRouter(nil, nil)
	for _, s := range subs {
		r.Register(s)
	}
	return r
}

func TestPublish_TopicIsolation(t *testing.T) {
	a, b := &recorder{id: "a"}, &recorder{id: "b"}
	r := newRouterWith(a, b)
	_, err := r.Subscribe("a", "A")
	require.NoError(t, err)
	_, err = r.Subscribe("b", "B")
	require.NoError(t, err)

	n := r.Publish("A", models.Envelope{Event: models.EventLocationUpdate})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{models.EventLocationUpdate}, a.events())
	assert.Empty(t, b.events())

	assert.Equal(t, 0, r.Publish("C", models.Envelope{Event: models.EventLocationUpdate}))
}

func TestSubscribe_Idempotent(t *testing.T) {
	a := &recorder{id: "a"}
	replays := 0
	r := NewRouter(func(routeID string) []models.Envelope {
		replays++
		return []models.Envelope{{Event: models.EventRouteSnapshot, Data: routeID}}
	}, nil)
	r.Register(a)

	added, err := r.Subscribe("a", "A")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = r.Subscribe("a", "A")
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, 1, replays)
	assert.Equal(t, []string{"a"}, r.Subscribers("A"))

	r.Publish("A", models.Envelope{Event: models.EventLocationUpdate})
	assert.Equal(t, []string{models.EventRouteSnapshot, models.EventLocationUpdate}, a.events())
}

func TestSubscribe_UnknownConnection(t *testing.T) {
	r := NewRouter(nil, nil)
	_, err := r.Subscribe("ghost", "A")
	assert.True(t, errors.Is(err, ErrUnknownConnection))
}

func TestUnsubscribe(t *testing.T) {
	a := &recorder{id: "a"}
	r := newRouterWith(a)

	assert.False(t, r.Unsubscribe("a", "never"))
	r.Subscribe("a", "A")
	assert.True(t, r.Unsubscribe("a", "A"))
	assert.False(t, r.Unsubscribe("a", "A"))

	r.Publish("A", models.Envelope{Event: models.EventLocationUpdate})
	assert.Empty(t, a.events())
}

func TestUnregister_RemovesAllSubscriptions(t *testing.T) {
	a, b := &recorder{id: "a"}, &recorder{id: "b"}
	r := newRouterWith(a, b)
	r.Subscribe("a", "A")
	r.Subscribe("a", "B")
	r.Subscribe("b", "B")

	routes := r.Unregister("a")
	assert.Equal(t, []string{"A", "B"}, routes)
	assert.Empty(t, r.Topics("a"))
	assert.Empty(t, r.Subscribers("A"))
	assert.Equal(t, []string{"b"}, r.Subscribers("B"))
	assert.Equal(t, 1, r.Connections())

	r.Publish("B", models.Envelope{Event: models.EventSeatUpdate})
	r.Broadcast(models.Envelope{Event: models.EventNewRoute})
	assert.Empty(t, a.events())
	assert.Equal(t, []string{models.EventSeatUpdate, models.EventNewRoute}, b.events())
}

func TestDropTopic(t *testing.T) {
	a, b := &recorder{id: "a"}, &recorder{id: "b"}
	r := newRouterWith(a, b)
	r.Subscribe("a", "live_1")
	r.Subscribe("b", "live_1")
	r.Subscribe("b", "route_1")

	assert.Equal(t, 2, r.DropTopic("live_1"))
	assert.Empty(t, r.Subscribers("live_1"))
	assert.Equal(t, []string{"route_1"}, r.Topics("b"))
	assert.Equal(t, 0, r.DropTopic("live_1"))
}

func TestPublish_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	slow, ok := &recorder{id: "slow", fail: true}, &recorder{id: "ok"}
	r := newRouterWith(slow, ok)
	r.Subscribe("slow", "A")
	r.Subscribe("ok", "A")

	n := r.Publish("A", models.Envelope{Event: models.EventLocationUpdate})
	assert.Equal(t, 1, n)
	assert.Len(t, ok.events(), 1)
}

func TestSend(t *testing.T) {
	a := &recorder{id: "a"}
	r := newRouterWith(a)
	assert.True(t, r.Send("a", models.Envelope{Event: models.EventActiveRoutes}))
	assert.False(t, r.Send("b", models.Envelope{Event: models.EventActiveRoutes}))
	assert.Equal(t, []string{models.EventActiveRoutes}, a.events())
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	r := NewRouter(nil, nil)
	subs := make([]*recorder, 20)
	for i := range subs {
		subs[i] = &recorder{id: string(rune('a' + i))}
		r.Register(subs[i])
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *recorder) {
			defer wg.Done()
			r.Subscribe(s.id, "A")
			r.Publish("A", models.Envelope{Event: models.EventLocationUpdate})
			r.Unsubscribe(s.id, "A")
		}(s)
	}
	wg.Wait()
	assert.Empty(t, r.Subscribers("A"))
}
