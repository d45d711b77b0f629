package transport

import (
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondwatch/pond-monitor/internal/pkg/protocol"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mqtt.Client

	published     []published
	subscriptions map[string]mqtt.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{subscriptions: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.subscriptions[topic] = callback
	return &fakeToken{}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type discardLogger struct{}

func (discardLogger) Fatal(...interface{})          {}
func (discardLogger) Fatalf(string, ...interface{}) {}
func (discardLogger) Error(...interface{})          {}
func (discardLogger) Errorf(string, ...interface{}) {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Debugf(string, ...interface{}) {}

func TestThatTopicsComposeNamespaceKindAndGroup(t *testing.T) {
	client := newFakeClient()
	adapter := NewAdapter(client, "pondwatch", "pond-1", discardLogger{})

	adapter.Publish(TopicSensorSettingReq, protocol.SensorMessage{
		Cmd:      protocol.SetSensor,
		From:     protocol.FromBackend,
		DeviceID: "D1",
	}, false)

	require.Len(t, client.published, 1)
	assert.Equal(t, "pondwatch/sensor-setting-request/pond-1", client.published[0].topic)
	assert.Contains(t, string(client.published[0].payload), `"cmd":"SET_SENSOR"`)
}

func TestThatRetainFlagIsForwarded(t *testing.T) {
	client := newFakeClient()
	adapter := NewAdapter(client, "pondwatch", "pond-1", discardLogger{})

	adapter.Publish(TopicAlarmAck, protocol.AlarmMessage{Cmd: protocol.AckAddAlarm}, true)

	require.Len(t, client.published, 1)
	assert.True(t, client.published[0].retained)
}

func TestThatUnserializablePayloadIsDroppedWithoutPublishing(t *testing.T) {
	client := newFakeClient()
	adapter := NewAdapter(client, "pondwatch", "pond-1", discardLogger{})

	adapter.Publish(TopicSensorData, make(chan int), false)

	assert.Empty(t, client.published)
}

func TestThatSubscribeRoutesInboundPayloadsToTheHandler(t *testing.T) {
	client := newFakeClient()
	adapter := NewAdapter(client, "pondwatch", "pond-1", discardLogger{})

	var received []byte
	err := adapter.Subscribe(TopicSensorData, func(payload []byte) {
		received = payload
	})
	require.NoError(t, err)

	callback, ok := client.subscriptions["pondwatch/sensor-data/pond-1"]
	require.True(t, ok)

	callback(client, &fakeMessage{payload: []byte(`{"deviceId":"D1"}`)})
	assert.JSONEq(t, `{"deviceId":"D1"}`, string(received))
}

func TestThatPanickingHandlerIsContained(t *testing.T) {
	client := newFakeClient()
	adapter := NewAdapter(client, "pondwatch", "pond-1", discardLogger{})

	err := adapter.Subscribe(TopicSensorData, func([]byte) {
		panic("boom")
	})
	require.NoError(t, err)

	callback := client.subscriptions["pondwatch/sensor-data/pond-1"]
	assert.NotPanics(t, func() {
		callback(client, &fakeMessage{payload: []byte("{}")})
	})
}
