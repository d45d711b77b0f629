//Package bridge implements the device-command round-trip protocol and the
//sensor-data ingestion path around the MQTT transport: buffering raw samples,
//correlating outstanding commands with their acknowledgements and fanning state
//out to chat and browser channels.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pondwatch/pond-monitor/internal/pkg/alerts"
	"github.com/pondwatch/pond-monitor/internal/pkg/buffer"
	"github.com/pondwatch/pond-monitor/internal/pkg/correlation"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/models"
	"github.com/pondwatch/pond-monitor/internal/pkg/notify"
	"github.com/pondwatch/pond-monitor/internal/pkg/protocol"
	"github.com/pondwatch/pond-monitor/internal/pkg/transport"
	"github.com/pondwatch/pond-monitor/internal/pkg/ws"
)

//Bridge owns all in-memory protocol state. Map mutations happen synchronously
//inside the handlers, before any persistence or notification call, so a
//consume can never race the I/O it triggers.
type Bridge struct {
	log      logging.Logger
	db       database.Datastore
	buf      *buffer.SampleBuffer
	corr     *correlation.Store
	alerts   *alerts.Evaluator
	pub      transport.Publisher
	notifier *notify.Service
}

//New wires a bridge around its collaborators
func New(db database.Datastore, buf *buffer.SampleBuffer, corr *correlation.Store, eval *alerts.Evaluator, pub transport.Publisher, notifier *notify.Service, log logging.Logger) *Bridge {
	return &Bridge{
		log:      log,
		db:       db,
		buf:      buf,
		corr:     corr,
		alerts:   eval,
		pub:      pub,
		notifier: notifier,
	}
}

//HandleSensorData ingests one raw reading: buffer it for aggregation, forward it
//to browser sessions and evaluate the four channels against their thresholds.
//Readings from devices that are not registered are discarded without side effects.
func (b *Bridge) HandleSensorData(payload []byte) {
	var msg protocol.SensorDataMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warnf("discarding malformed sensor reading: %s", err.Error())
		return
	}

	device, err := b.db.GetDeviceBySerial(msg.DeviceID)
	if err != nil {
		b.log.Warnf("discarding reading from unregistered device %s", msg.DeviceID)
		return
	}

	b.buf.Push(buffer.Sample{
		ReceivedAt:  time.Now(),
		UserID:      device.UserID,
		DeviceID:    device.ID,
		DeviceName:  device.Name,
		Temperature: msg.Temperature,
		Turbidity:   msg.Turbidity,
		TDS:         msg.TDS,
		PH:          msg.PH,
	})

	b.notifier.Broadcast(ws.EventSensorData, msg)

	channels := []struct {
		sensorType protocol.SensorType
		value      float64
	}{
		{protocol.Temperature, msg.Temperature},
		{protocol.Turbidity, msg.Turbidity},
		{protocol.TDS, msg.TDS},
		{protocol.PH, msg.PH},
	}

	for _, c := range channels {
		setting, err := b.db.GetSensorSetting(device.ID, int(c.sensorType))
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				b.log.Errorf("setting lookup for device %d failed: %s", device.ID, err.Error())
			}
			setting = nil
		}

		switch b.alerts.Evaluate(msg.DeviceID, c.sensorType, c.value, setting) {
		case alerts.Entered:
			text := fmt.Sprintf("%s on %s is out of range: %.2f (allowed %.2f - %.2f)",
				c.sensorType.DisplayName(), device.Name, c.value, setting.MinValue, setting.MaxValue)
			b.fanOutAlert(device, msg.DeviceID, text)
		case alerts.Cleared:
			text := fmt.Sprintf("%s on %s returned to normal: %.2f",
				c.sensorType.DisplayName(), device.Name, c.value)
			b.fanOutAlert(device, msg.DeviceID, text)
		}
	}
}

func (b *Bridge) fanOutAlert(device *models.UsersDevice, serialID, text string) {
	b.notifier.NotifyChat(text, device.ID)
	b.notifier.Broadcast(ws.EventAlarmNotification, map[string]interface{}{
		"deviceId": serialID,
		"message":  text,
	})
}
