package ws

import (
	"encoding/json"

	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
)

//Event is the envelope for every message crossing the browser channel, in both
//directions. Per-user events carry the user id in the event name itself, for
//example "7-sensor_ack".
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

//Browser-facing event names
const (
	EventSensorData        = "sensor_data"
	EventAlarmNotification = "alarm_notification"
	EventSetSensor         = "set_sensor"
)

//Hub maintains the set of active browser sessions and broadcasts events to them.
//Delivery is best effort per client; a slow client is evicted, not waited on.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	log        logging.Logger

	//OnSetSensor receives the payload of inbound set_sensor events. Optional.
	OnSetSensor func(payload []byte)
}

//NewHub returns a hub; call Run on it before serving connections
func NewHub(log logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

//Run owns the client set until done is closed. All (un)registration and
//broadcasting is serialized here, so the map needs no lock.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debugf("browser session registered, %d active", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Debugf("browser session unregistered, %d active", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.log.Warnf("browser session too slow, evicting")
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

//BroadcastEvent delivers an event to every connected session via the single
//shared broadcast channel. Per-client delivery success is not tracked.
func (h *Hub) BroadcastEvent(event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Errorf("failed to serialize %s broadcast: %s", event, err.Error())
		return
	}

	message, err := json.Marshal(Event{Event: event, Payload: raw})
	if err != nil {
		h.log.Errorf("failed to serialize %s envelope: %s", event, err.Error())
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warnf("broadcast queue full, dropping %s event", event)
	}
}

func (h *Hub) handleInbound(raw []byte) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		h.log.Warnf("discarding malformed browser event: %s", err.Error())
		return
	}

	switch event.Event {
	case EventSetSensor:
		if h.OnSetSensor != nil {
			h.OnSetSensor(event.Payload)
		}
	default:
		h.log.Debugf("ignoring browser event %s", event.Event)
	}
}
