package mqttbridge

import (
	"encoding/json"
	"errors"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/vahan-live/internal/models"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return qos }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// MockIngress is a mock implementation of Ingress
type MockIngress struct {
	mock.Mock
}

func (m *MockIngress) DriverStarted(connID string, d models.DriverStarted) (models.Route, error) {
	args := m.Called(connID, d)
	return args.Get(0).(models.Route), args.Error(1)
}

func (m *MockIngress) LocationUpdate(connID string, u models.LocationUpdate) (models.Vehicle, error) {
	args := m.Called(connID, u)
	return args.Get(0).(models.Vehicle), args.Error(1)
}

func (m *MockIngress) DriverDisconnected(d models.DriverDisconnected) bool {
	args := m.Called(d)
	return args.Bool(0)
}

type published struct {
	topic   string
	payload []byte
}

func newBridge(ingress Ingress) (*Bridge, *[]published) {
	var out []published
	b := New("vahan/", ingress, nil)
	b.publish = func(topic string, payload []byte) {
		out = append(out, published{topic, payload})
	}
	return b, &out
}

func TestTopics(t *testing.T) {
	b, _ := newBridge(&MockIngress{})
	assert.Equal(t, "vahan/driver/+/+", b.Filter())
	assert.Equal(t, "vahan/driver/B1/ack", b.Topic("B1", ActionAck))

	for _, topic := range []string{"other/driver/B1/location", "vahan/driver//location", "vahan/driver/B1", "vahan/driver/B1/location/x"} {
		err := b.Handle(fakeMessage{topic: topic})
		assert.ErrorIs(t, err, ErrBadTopic, topic)
	}
	assert.ErrorIs(t, b.Handle(fakeMessage{topic: "vahan/driver/B1/unknown"}), ErrBadTopic)
}

func TestHandle_Started(t *testing.T) {
	ingress := &MockIngress{}
	b, out := newBridge(ingress)

	route := models.Route{ID: "live_B1_1000", Name: "Live: B1"}
	ingress.On("DriverStarted", "mqtt:B1", mock.MatchedBy(func(d models.DriverStarted) bool {
		return d.ID() == "B1" && d.RouteName == "Evening run"
	})).Return(route, nil)

	err := b.Handle(fakeMessage{topic: "vahan/driver/B1/started", payload: []byte(`{"routeName":"Evening run"}`)})
	require.NoError(t, err)
	ingress.AssertExpectations(t)

	require.Len(t, *out, 1)
	assert.Equal(t, "vahan/driver/B1/ack", (*out)[0].topic)
	var ack models.DriverStartedAck
	require.NoError(t, json.Unmarshal((*out)[0].payload, &ack))
	assert.True(t, ack.OK)
	require.NotNil(t, ack.Route)
	assert.Equal(t, "live_B1_1000", ack.Route.ID)
}

func TestHandle_StartedRejected(t *testing.T) {
	ingress := &MockIngress{}
	b, out := newBridge(ingress)
	ingress.On("DriverStarted", "mqtt:B1", mock.Anything).Return(models.Route{}, errors.New("not the owner"))

	err := b.Handle(fakeMessage{topic: "vahan/driver/B1/started", payload: []byte(`{"routeId":"live_X_1"}`)})
	assert.Error(t, err)

	require.Len(t, *out, 1)
	var ack models.DriverStartedAck
	require.NoError(t, json.Unmarshal((*out)[0].payload, &ack))
	assert.False(t, ack.OK)
	assert.Equal(t, "not the owner", ack.Error)
}

func TestHandle_Location(t *testing.T) {
	ingress := &MockIngress{}
	b, _ := newBridge(ingress)
	ingress.On("LocationUpdate", "mqtt:B1", mock.MatchedBy(func(u models.LocationUpdate) bool {
		return u.ID() == "B1" && u.RouteID == "route_1" && u.Position != nil
	})).Return(models.Vehicle{ID: "B1"}, nil)

	err := b.Handle(fakeMessage{
		topic:   "vahan/driver/B1/location",
		payload: []byte(`{"routeId":"route_1","position":{"lat":19.07,"lng":72.87}}`),
	})
	require.NoError(t, err)
	ingress.AssertExpectations(t)
}

func TestHandle_Rejects(t *testing.T) {
	ingress := &MockIngress{}
	b, _ := newBridge(ingress)

	err := b.Handle(fakeMessage{topic: "vahan/driver/B1/location", payload: []byte(`{`)})
	assert.ErrorIs(t, err, models.ErrMalformed)

	err = b.Handle(fakeMessage{topic: "vahan/driver/B1/location", payload: []byte(`{"vehicleId":"B2","routeId":"route_1"}`)})
	assert.ErrorIs(t, err, models.ErrMalformed)

	ingress.AssertNotCalled(t, "LocationUpdate", mock.Anything, mock.Anything)
}

func TestHandle_Disconnected(t *testing.T) {
	ingress := &MockIngress{}
	b, _ := newBridge(ingress)
	ingress.On("DriverDisconnected", mock.MatchedBy(func(d models.DriverDisconnected) bool {
		return d.ID() == "B1"
	})).Return(true)

	require.NoError(t, b.Handle(fakeMessage{topic: "vahan/driver/B1/disconnected"}))
	ingress.AssertExpectations(t)

	require.NoError(t, b.Handle(fakeMessage{topic: "vahan/driver/B1/ack", payload: []byte(`{"ok":true}`)}))
}

// publishClient records Publish calls; the embedded interface is never used
// otherwise.
type publishClient struct {
	mqtt.Client
	out []published
}

func (c *publishClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.out = append(c.out, published{topic, payload.([]byte)})
	return nil
}

func TestAttach_AcksGoThroughClient(t *testing.T) {
	ingress := &MockIngress{}
	ingress.On("DriverStarted", "mqtt:B1", mock.Anything).Return(models.Route{ID: "route_1"}, nil)

	b := New("vahan", ingress, nil)
	client := &publishClient{}
	b.attach(client)

	require.NoError(t, b.Handle(fakeMessage{topic: "vahan/driver/B1/started", payload: []byte(`{"routeId":"route_1"}`)}))
	require.Len(t, client.out, 1)
	assert.Equal(t, "vahan/driver/B1/ack", client.out[0].topic)

	var ack models.DriverStartedAck
	require.NoError(t, json.Unmarshal(client.out[0].payload, &ack))
	assert.True(t, ack.OK)
}
