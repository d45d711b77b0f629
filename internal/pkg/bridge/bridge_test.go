package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondwatch/pond-monitor/internal/pkg/alerts"
	"github.com/pondwatch/pond-monitor/internal/pkg/buffer"
	"github.com/pondwatch/pond-monitor/internal/pkg/correlation"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/models"
	"github.com/pondwatch/pond-monitor/internal/pkg/notify"
	"github.com/pondwatch/pond-monitor/internal/pkg/protocol"
	"github.com/pondwatch/pond-monitor/internal/pkg/transport"
)

type publishedMessage struct {
	kind    transport.TopicKind
	payload interface{}
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

func (p *fakePublisher) Publish(kind transport.TopicKind, payload interface{}, _ bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{kind: kind, payload: payload})
}

func (p *fakePublisher) byKind(kind transport.TopicKind) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.messages {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeChat struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (c *fakeChat) Send(chatID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type broadcastEvent struct {
	event   string
	payload interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (b *fakeBroadcaster) BroadcastEvent(event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{event: event, payload: payload})
}

func (b *fakeBroadcaster) byEvent(event string) []broadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastEvent
	for _, e := range b.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type discardLogger struct{}

func (discardLogger) Fatal(...interface{})          {}
func (discardLogger) Fatalf(string, ...interface{}) {}
func (discardLogger) Error(...interface{})          {}
func (discardLogger) Errorf(string, ...interface{}) {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Debugf(string, ...interface{}) {}

type testEnv struct {
	bridge *Bridge
	db     database.Datastore
	buf    *buffer.SampleBuffer
	pub    *fakePublisher
	chat   *fakeChat
	hub    *fakeBroadcaster
}

func newBridgeForTest(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewDatabaseConnection(database.NewSQLiteConnector(), discardLogger{})
	require.NoError(t, err)

	pub := &fakePublisher{}
	chat := &fakeChat{}
	hub := &fakeBroadcaster{}
	buf := buffer.NewSampleBuffer()
	notifier := notify.NewService(chat, hub, db, discardLogger{})

	return &testEnv{
		bridge: New(db, buf, correlation.NewStore(0), alerts.NewEvaluator(), pub, notifier, discardLogger{}),
		db:     db,
		buf:    buf,
		pub:    pub,
		chat:   chat,
		hub:    hub,
	}
}

var serialCounter int

func seedDevice(t *testing.T, db database.Datastore, chatID int64) *models.UsersDevice {
	t.Helper()

	serialCounter++
	serial := fmt.Sprintf("TEST-DEV-%s-%d", t.Name(), serialCounter)

	user, err := db.CreateUser(&models.User{
		Name:           "owner",
		Email:          serial + "@example.com",
		TelegramChatID: chatID,
	})
	require.NoError(t, err)

	device, err := db.CreateDevice(&models.UsersDevice{
		UserID:   user.ID,
		SerialID: serial,
		Name:     "backyard pond",
	})
	require.NoError(t, err)

	return device
}

func TestSetSensorRoundTrip(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	require.NoError(t, env.bridge.IssueSetSensor(device.SerialID, protocol.PH, 6.5, 8.0, true))

	requests := env.pub.byKind(transport.TopicSensorSettingReq)
	require.Len(t, requests, 1)
	request := requests[0].payload.(protocol.SensorMessage)
	assert.Equal(t, protocol.SetSensor, request.Cmd)
	assert.Equal(t, protocol.FromBackend, request.From)

	// nothing persisted until the device acknowledges
	_, err := env.db.GetSensorSetting(device.ID, int(protocol.PH))
	assert.ErrorIs(t, err, database.ErrNotFound)

	ack := fmt.Sprintf(`{"cmd":"ACK_SET_SENSOR","from":"ESP","deviceId":"%s","sensor":{"type":3,"minValue":6.4,"maxValue":8.1,"enabled":true},"status":"OK"}`, device.SerialID)
	env.bridge.HandleSensorAck([]byte(ack))

	setting, err := env.db.GetSensorSetting(device.ID, int(protocol.PH))
	require.NoError(t, err)
	// the stored backend intent wins over the drifted device echo
	assert.Equal(t, 6.5, setting.MinValue)
	assert.Equal(t, 8.0, setting.MaxValue)
	assert.True(t, setting.Enabled)

	require.Len(t, env.chat.sent, 1)
	assert.Equal(t, int64(42), env.chat.sent[0].chatID)
	assert.Contains(t, env.chat.sent[0].text, "pH")
	assert.Contains(t, env.chat.sent[0].text, "6.5")
	assert.Contains(t, env.chat.sent[0].text, "8.0")

	require.Len(t, env.hub.byEvent(notify.SensorAckEvent(device.UserID)), 1)

	// the correlation entry is consumed: a replayed ack changes nothing
	env.bridge.HandleSensorAck([]byte(ack))
	assert.Len(t, env.chat.sent, 1)
}

func TestThatSensorAckWithoutPendingCommandIsIgnored(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	ack := fmt.Sprintf(`{"cmd":"ACK_SET_SENSOR","from":"ESP","deviceId":"%s","sensor":{"type":0},"status":"OK"}`, device.SerialID)
	env.bridge.HandleSensorAck([]byte(ack))

	_, err := env.db.GetSensorSetting(device.ID, int(protocol.Temperature))
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, env.chat.sent)
}

func TestThatNegativeAcksAreDropped(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	require.NoError(t, env.bridge.IssueSetSensor(device.SerialID, protocol.PH, 6.5, 8.0, true))

	ack := fmt.Sprintf(`{"cmd":"ACK_SET_SENSOR","from":"ESP","deviceId":"%s","sensor":{"type":3},"status":"FAILED"}`, device.SerialID)
	env.bridge.HandleSensorAck([]byte(ack))

	_, err := env.db.GetSensorSetting(device.ID, int(protocol.PH))
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, env.chat.sent)
}

func TestThatUnregisteredDeviceSampleHasNoSideEffects(t *testing.T) {
	env := newBridgeForTest(t)

	env.bridge.HandleSensorData([]byte(`{"deviceId":"GHOST-1","temperature":24,"turbidity":1,"tds":300,"ph":7}`))

	assert.Equal(t, 0, env.buf.Len())
	assert.Empty(t, env.hub.events)
	assert.Empty(t, env.chat.sent)
}

func TestThatMalformedSensorPayloadIsDiscarded(t *testing.T) {
	env := newBridgeForTest(t)

	assert.NotPanics(t, func() {
		env.bridge.HandleSensorData([]byte(`{"deviceId":`))
	})
	assert.Equal(t, 0, env.buf.Len())
}

func TestThatSensorDataIsBufferedAndBroadcast(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	payload := fmt.Sprintf(`{"deviceId":"%s","temperature":24,"turbidity":1,"tds":300,"ph":7}`, device.SerialID)
	env.bridge.HandleSensorData([]byte(payload))

	assert.Equal(t, 1, env.buf.Len())
	assert.Len(t, env.hub.byEvent("sensor_data"), 1)
	assert.Empty(t, env.chat.sent)
}

func TestThatThresholdAlertsAreEdgeTriggered(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	require.NoError(t, env.db.SaveSensorSetting(&models.SensorSetting{
		UsersDeviceID: device.ID,
		Type:          int(protocol.PH),
		MinValue:      6.5,
		MaxValue:      8.0,
		Enabled:       true,
	}))

	sample := func(ph float64) []byte {
		return []byte(fmt.Sprintf(`{"deviceId":"%s","temperature":24,"turbidity":1,"tds":300,"ph":%.1f}`, device.SerialID, ph))
	}

	env.bridge.HandleSensorData(sample(9.0))
	env.bridge.HandleSensorData(sample(9.1))
	env.bridge.HandleSensorData(sample(7.0))
	env.bridge.HandleSensorData(sample(7.1))

	// one out-of-range alert and one returned-to-normal, not one per sample
	require.Len(t, env.chat.sent, 2)
	assert.Contains(t, env.chat.sent[0].text, "out of range")
	assert.Contains(t, env.chat.sent[1].text, "returned to normal")
	assert.Len(t, env.hub.byEvent("alarm_notification"), 2)
}

func TestThatRepeatedAlarmAddRequestIsDeduplicated(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	request := fmt.Sprintf(`{"cmd":"REQUEST_ADD_ALARM","from":"ESP","deviceId":"%s","alarm":{"hour":8,"minute":30,"duration":10,"enabled":true},"tempIndex":7}`, device.SerialID)

	env.bridge.HandleAlarmRequest([]byte(request))
	env.bridge.HandleAlarmRequest([]byte(request))

	alarms, err := env.db.GetAlarms(device.ID)
	require.NoError(t, err)
	assert.Len(t, alarms, 1)
	assert.Len(t, env.chat.sent, 1)
	assert.Len(t, env.pub.byKind(transport.TopicAlarmAck), 1)
}

func TestThatDeviceDeleteRequestWorksWithoutStoredContext(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	alarm, err := env.db.CreateAlarm(&models.Alarm{UsersDeviceID: device.ID, Hour: 8, Minute: 30, Enabled: true})
	require.NoError(t, err)

	request := fmt.Sprintf(`{"cmd":"REQUEST_DELETE_ALARM","from":"ESP","deviceId":"%s","alarm":{"id":%d}}`, device.SerialID, alarm.ID)
	env.bridge.HandleAlarmRequest([]byte(request))

	_, err = env.db.GetAlarm(alarm.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	require.Len(t, env.chat.sent, 1)
	assert.Contains(t, env.chat.sent[0].text, fmt.Sprintf("#%d", alarm.ID))
}

func TestThatBackendRequestsOnSharedTopicsAreSkipped(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	request := fmt.Sprintf(`{"cmd":"REQUEST_ADD_ALARM","from":"BACKEND","deviceId":"%s","alarm":{"hour":8,"minute":30},"tempIndex":1}`, device.SerialID)
	env.bridge.HandleAlarmRequest([]byte(request))

	alarms, err := env.db.GetAlarms(device.ID)
	require.NoError(t, err)
	assert.Empty(t, alarms)
}

func TestThatEditAckReappliesRecordedValuesNotDeviceEcho(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	alarm, err := env.db.CreateAlarm(&models.Alarm{UsersDeviceID: device.ID, Hour: 8, Minute: 30, Duration: 10, Enabled: true})
	require.NoError(t, err)

	require.NoError(t, env.bridge.IssueEditAlarm(device.SerialID, alarm.ID, 9, 15, 20, true))

	// device echoes drifted values; the recorded intent must win
	ack := fmt.Sprintf(`{"cmd":"ACK_EDIT_ALARM","from":"ESP","deviceId":"%s","alarm":{"id":%d,"hour":23,"minute":59,"duration":1,"enabled":false},"status":"OK"}`, device.SerialID, alarm.ID)
	env.bridge.HandleAlarmAck([]byte(ack))

	updated, err := env.db.GetAlarm(alarm.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Hour)
	assert.Equal(t, 15, updated.Minute)
	assert.Equal(t, 20, updated.Duration)
	assert.True(t, updated.Enabled)

	require.Len(t, env.chat.sent, 1)
	assert.Contains(t, env.chat.sent[0].text, "09:15")
}

func TestThatEditAckWithoutContextAppliesNothing(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	alarm, err := env.db.CreateAlarm(&models.Alarm{UsersDeviceID: device.ID, Hour: 8, Minute: 30, Enabled: true})
	require.NoError(t, err)

	ack := fmt.Sprintf(`{"cmd":"ACK_EDIT_ALARM","from":"ESP","deviceId":"%s","alarm":{"id":%d,"hour":23,"minute":59},"status":"OK"}`, device.SerialID, alarm.ID)
	env.bridge.HandleAlarmAck([]byte(ack))

	unchanged, err := env.db.GetAlarm(alarm.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, unchanged.Hour)
	assert.Equal(t, 30, unchanged.Minute)
	assert.Empty(t, env.chat.sent)
}

func TestAddAlarmRoundTrip(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	alarmID, err := env.bridge.IssueAddAlarm(device.SerialID, 8, 30, 10, true)
	require.NoError(t, err)
	assert.NotZero(t, alarmID)

	requests := env.pub.byKind(transport.TopicAlarmRequest)
	require.Len(t, requests, 1)
	request := requests[0].payload.(protocol.AlarmMessage)
	assert.Equal(t, protocol.RequestAddAlarm, request.Cmd)
	require.NotNil(t, request.Alarm)
	assert.Equal(t, alarmID, request.Alarm.ID)

	ack := fmt.Sprintf(`{"cmd":"ACK_ADD_ALARM","from":"ESP","deviceId":"%s","alarm":{"id":%d},"status":"OK"}`, device.SerialID, alarmID)
	env.bridge.HandleAlarmAck([]byte(ack))

	require.Len(t, env.chat.sent, 1)
	assert.Contains(t, env.chat.sent[0].text, "08:30")
	assert.Contains(t, env.chat.sent[0].text, "confirmed")
}

func TestThatAlarmSyncAckRendersAlignedTable(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	_, err := env.db.CreateAlarm(&models.Alarm{UsersDeviceID: device.ID, Hour: 8, Minute: 30, Enabled: true})
	require.NoError(t, err)
	_, err = env.db.CreateAlarm(&models.Alarm{UsersDeviceID: device.ID, Hour: 18, Minute: 5, Enabled: false})
	require.NoError(t, err)

	require.NoError(t, env.bridge.IssueAlarmSync(device.SerialID))

	ack := fmt.Sprintf(`{"cmd":"ACK_SYNC_ALARM","from":"ESP","deviceId":"%s","status":"OK"}`, device.SerialID)
	env.bridge.HandleAlarmAck([]byte(ack))

	require.Len(t, env.chat.sent, 1)
	table := env.chat.sent[0].text
	assert.Contains(t, table, "```")
	assert.Contains(t, table, "08:30")
	assert.Contains(t, table, "18:05")
	assert.Contains(t, table, "ON")
	assert.Contains(t, table, "OFF")
}

func TestThatBrowserSetSensorEventEntersTheCommandPath(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	event := fmt.Sprintf(`{"deviceId":"%s","sensor":{"type":0,"minValue":10,"maxValue":30,"enabled":true}}`, device.SerialID)
	env.bridge.HandleSetSensorEvent([]byte(event))

	requests := env.pub.byKind(transport.TopicSensorSettingReq)
	require.Len(t, requests, 1)

	var decoded protocol.SensorMessage
	raw, err := json.Marshal(requests[0].payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, protocol.SetSensor, decoded.Cmd)
	require.NotNil(t, decoded.Sensor)
	assert.Equal(t, protocol.Temperature, decoded.Sensor.Type)
}

func TestThatUnknownAckCommandsAreDropped(t *testing.T) {
	env := newBridgeForTest(t)
	device := seedDevice(t, env.db, 42)

	assert.NotPanics(t, func() {
		env.bridge.HandleAlarmAck([]byte(fmt.Sprintf(`{"cmd":"ACK_SELF_DESTRUCT","from":"ESP","deviceId":"%s","alarm":{"id":1}}`, device.SerialID)))
	})
}
