package transport

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
)

//TopicKind is the middle segment of a broker topic, naming one message family
type TopicKind string

//Topic kinds exchanged with device firmware
const (
	TopicSensorData       TopicKind = "sensor-data"
	TopicSensorSettingReq TopicKind = "sensor-setting-request"
	TopicSensorSettingAck TopicKind = "sensor-setting-ack"
	TopicAlarmRequest     TopicKind = "alarm-request"
	TopicAlarmAck         TopicKind = "alarm-ack"
)

//Publisher is the outbound half of the adapter, split off so handlers can be
//tested against a fake without a broker connection
type Publisher interface {
	Publish(kind TopicKind, payload interface{}, retain bool)
}

//Handler receives the raw payload of one inbound message. Handlers own their
//parsing and must drop malformed payloads instead of propagating.
type Handler func(payload []byte)

//Adapter wraps a shared MQTT connection. Topics are composed as
//<org>/<kind>/<groupID>. Reconnect and backoff are the client's concern, not ours.
type Adapter struct {
	client  mqtt.Client
	org     string
	groupID string
	log     logging.Logger
}

//NewAdapter wraps an already-connected MQTT client
func NewAdapter(client mqtt.Client, org, groupID string, log logging.Logger) *Adapter {
	return &Adapter{
		client:  client,
		org:     org,
		groupID: groupID,
		log:     log,
	}
}

//NewClientOptions returns paho options wired the way the backend expects:
//auto-reconnect on, clean session, broker-side session identified by clientID
func NewClientOptions(brokerURL, clientID string) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true)
}

func (a *Adapter) topic(kind TopicKind) string {
	return fmt.Sprintf("%s/%s/%s", a.org, kind, a.groupID)
}

//Publish serializes payload to JSON and sends it on the topic for kind. The send
//is fire and forget: failures are logged in the background, never returned.
func (a *Adapter) Publish(kind TopicKind, payload interface{}, retain bool) {
	bytes, err := json.Marshal(payload)
	if err != nil {
		a.log.Errorf("failed to serialize %s payload: %s", kind, err.Error())
		return
	}

	token := a.client.Publish(a.topic(kind), 0, retain, bytes)
	go func() {
		if token.Wait() && token.Error() != nil {
			a.log.Errorf("publish to %s failed: %s", a.topic(kind), token.Error())
		}
	}()
}

//Subscribe registers handler for all messages of the given kind. A panicking
//handler is contained here so one malformed message cannot take the
//connection's dispatch loop down with it.
func (a *Adapter) Subscribe(kind TopicKind, handler Handler) error {
	topic := a.topic(kind)

	token := a.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				a.log.Errorf("handler for %s panicked: %v", topic, r)
			}
		}()
		handler(msg.Payload())
	})

	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s failed: %w", topic, token.Error())
	}

	a.log.Infof("Subscribed to %s", topic)
	return nil
}
