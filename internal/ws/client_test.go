package ws

import (
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/vahan-live/internal/models"
	"github.com/ukydev/vahan-live/internal/pubsub"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Connect(sub pubsub.Subscriber) { m.Called(sub) }

func (m *MockDispatcher) Disconnect(connID string) { m.Called(connID) }

func (m *MockDispatcher) Subscribe(connID, routeID string) (bool, error) {
	args := m.Called(connID, routeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDispatcher) Unsubscribe(connID, routeID string) bool {
	return m.Called(connID, routeID).Bool(0)
}

func (m *MockDispatcher) DriverStarted(connID string, d models.DriverStarted) (models.Route, error) {
	args := m.Called(connID, d)
	return args.Get(0).(models.Route), args.Error(1)
}

func (m *MockDispatcher) LocationUpdate(connID string, u models.LocationUpdate) (models.Vehicle, error) {
	args := m.Called(connID, u)
	return args.Get(0).(models.Vehicle), args.Error(1)
}

func (m *MockDispatcher) DriverDisconnected(d models.DriverDisconnected) bool {
	return m.Called(d).Bool(0)
}

func (m *MockDispatcher) BookSeat(vehicleID, tier string) (models.SeatRecord, bool, error) {
	args := m.Called(vehicleID, tier)
	return args.Get(0).(models.SeatRecord), args.Bool(1), args.Error(2)
}

func newTestClient(d Dispatcher) *Client {
	return newClient("c1", nil, d, log.NewEntry(log.StandardLogger()))
}

func nextFrame(t *testing.T, c *Client) models.Envelope {
	t.Helper()
	select {
	case env := <-c.send:
		return env
	default:
		t.Fatal("no frame queued")
		return models.Envelope{}
	}
}

func TestSend_BufferFullAndClosed(t *testing.T) {
	c := newTestClient(&MockDispatcher{})
	kicked := 0
	c.kick = func() { kicked++ }
	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, c.Send(models.Envelope{Event: "x"}))
	}
	assert.Equal(t, 0, kicked)
	assert.ErrorIs(t, c.Send(models.Envelope{Event: models.EventBusDisconnected}), pubsub.ErrSlowConsumer)
	assert.ErrorIs(t, c.Send(models.Envelope{Event: models.EventRouteRemoved}), pubsub.ErrSlowConsumer)
	assert.Equal(t, 1, kicked, "a slow connection is closed exactly once")

	close(c.done)
	assert.ErrorIs(t, c.Send(models.Envelope{Event: "x"}), ErrClosed)
}

func TestHandle_DriverStartedRejected(t *testing.T) {
	d := &MockDispatcher{}
	d.On("DriverStarted", "c1", mock.MatchedBy(func(ds models.DriverStarted) bool {
		return ds.ID() == "B2" && ds.RouteID == "live_B1_1"
	})).Return(models.Route{}, errors.New("route is owned by another vehicle"))
	c := newTestClient(d)

	c.handle([]byte(`{"event":"driver_started","data":{"vehicleId":"B2","routeId":"live_B1_1"}}`))

	env := nextFrame(t, c)
	assert.Equal(t, models.EventDriverStartedAck, env.Event)
	ack := env.Data.(models.DriverStartedAck)
	assert.False(t, ack.OK)
	assert.Equal(t, "route is owned by another vehicle", ack.Error)
	d.AssertExpectations(t)
}

func TestHandle_SubscribeAcceptsStringOrObject(t *testing.T) {
	d := &MockDispatcher{}
	d.On("Subscribe", "c1", "r1").Return(true, nil).Twice()
	d.On("Unsubscribe", "c1", "r1").Return(true).Once()
	c := newTestClient(d)

	c.handle([]byte(`{"event":"subscribe_route","data":"r1"}`))
	c.handle([]byte(`{"event":"subscribe_route","data":{"routeId":"r1"}}`))
	c.handle([]byte(`{"event":"unsubscribe_route","data":"r1"}`))

	d.AssertExpectations(t)
	assert.Empty(t, c.send)
}

func TestHandle_BookSeatSoldOut(t *testing.T) {
	d := &MockDispatcher{}
	rec := models.SeatRecord{VehicleID: "F1", Kind: models.SeatSingleTier}
	d.On("BookSeat", "F1", "").Return(rec, false, nil)
	c := newTestClient(d)

	c.handle([]byte(`{"event":"book_seat","data":{"busId":"F1"}}`))

	env := nextFrame(t, c)
	reply := env.Data.(models.SeatBooked)
	assert.False(t, reply.OK)
	assert.Empty(t, reply.Error)
	require.NotNil(t, reply.Seats)
	assert.Equal(t, "F1", reply.Seats.VehicleID)
}

func TestHandle_UnknownEvent(t *testing.T) {
	c := newTestClient(&MockDispatcher{})
	c.handle([]byte(`{"event":"teleport","data":{}}`))

	env := nextFrame(t, c)
	assert.Equal(t, models.EventError, env.Event)
	assert.Equal(t, "teleport", env.Data.(models.ErrorPayload).Event)
}
