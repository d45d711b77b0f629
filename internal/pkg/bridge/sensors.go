package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/pondwatch/pond-monitor/internal/pkg/correlation"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/models"
	"github.com/pondwatch/pond-monitor/internal/pkg/notify"
	"github.com/pondwatch/pond-monitor/internal/pkg/protocol"
	"github.com/pondwatch/pond-monitor/internal/pkg/transport"
)

//IssueSetSensor sends new threshold values for one channel to a device. The
//correlation context is recorded before the publish goes out, so the
//acknowledgement can never arrive before its context exists.
func (b *Bridge) IssueSetSensor(serialID string, sensorType protocol.SensorType, minValue, maxValue float64, enabled bool) error {
	if !sensorType.Valid() {
		return fmt.Errorf("invalid sensor type %d", int(sensorType))
	}

	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		return err
	}

	var settingID uint
	if existing, err := b.db.GetSensorSetting(device.ID, int(sensorType)); err == nil {
		settingID = existing.ID
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	b.corr.RecordSensor(serialID, sensorType, correlation.SensorContext{
		ChatID:     b.chatIDFor(device),
		UserID:     device.UserID,
		DeviceID:   device.ID,
		DeviceName: device.Name,
		SettingID:  settingID,
		Type:       sensorType,
		MinValue:   minValue,
		MaxValue:   maxValue,
		Enabled:    enabled,
	})

	b.pub.Publish(transport.TopicSensorSettingReq, protocol.SensorMessage{
		Cmd:      protocol.SetSensor,
		From:     protocol.FromBackend,
		DeviceID: serialID,
		Sensor: &protocol.SensorPayload{
			ID:       settingID,
			Type:     sensorType,
			MinValue: minValue,
			MaxValue: maxValue,
			Enabled:  enabled,
		},
	}, false)

	return nil
}

//IssueSensorSync asks a device for its full sensor-setting state. The rendered
//table goes to the chat destination recorded here.
func (b *Bridge) IssueSensorSync(serialID string) error {
	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		return err
	}

	b.corr.RecordSync(serialID, protocol.AckSyncSensor, correlation.SyncContext{
		ChatID:     b.chatIDFor(device),
		UserID:     device.UserID,
		DeviceID:   device.ID,
		DeviceName: device.Name,
	})

	b.pub.Publish(transport.TopicSensorSettingReq, protocol.SensorMessage{
		Cmd:      protocol.SyncSensor,
		From:     protocol.FromBackend,
		DeviceID: serialID,
	}, false)

	return nil
}

//HandleSetSensorEvent forwards a browser-originated set_sensor event into the
//same command path a chat command takes
func (b *Bridge) HandleSetSensorEvent(payload []byte) {
	var msg protocol.SensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warnf("discarding malformed set_sensor event: %s", err.Error())
		return
	}
	if msg.Sensor == nil {
		b.log.Warnf("set_sensor event without sensor payload")
		return
	}

	if err := b.IssueSetSensor(msg.DeviceID, msg.Sensor.Type, msg.Sensor.MinValue, msg.Sensor.MaxValue, msg.Sensor.Enabled); err != nil {
		b.log.Warnf("set_sensor event for %s rejected: %s", msg.DeviceID, err.Error())
	}
}

//HandleSensorRequest processes device-initiated setting changes arriving on the
//sensor-setting-request topic. The backend's own publications on this topic are
//told apart by the from field and skipped.
func (b *Bridge) HandleSensorRequest(payload []byte) {
	var msg protocol.SensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warnf("discarding malformed sensor request: %s", err.Error())
		return
	}
	if msg.From != protocol.FromDevice {
		return
	}

	device, err := b.db.GetDeviceBySerial(msg.DeviceID)
	if err != nil {
		b.log.Warnf("sensor request from unregistered device %s", msg.DeviceID)
		return
	}

	switch msg.Cmd {
	case protocol.SetSensor:
		if msg.Sensor == nil || !msg.Sensor.Type.Valid() {
			b.log.Warnf("sensor request from %s without a valid sensor payload", msg.DeviceID)
			return
		}
		b.applySetting(device, msg.Sensor)

		text := b.settingText(device.Name, msg.Sensor.Type, msg.Sensor.MinValue, msg.Sensor.MaxValue, msg.Sensor.Enabled)
		b.notifier.NotifyChat(text, device.ID)
		b.notifier.Broadcast(notify.SensorAckEvent(device.UserID), msg)

	default:
		b.log.Warnf("dropping sensor request %s from device %s", msg.Cmd, msg.DeviceID)
	}
}

//HandleSensorAck correlates a device acknowledgement back to the set-sensor or
//sync-sensor command that caused it and applies the recorded values. Device
//echoed numerics are never written; only what the backend intended.
func (b *Bridge) HandleSensorAck(payload []byte) {
	var msg protocol.SensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warnf("discarding malformed sensor ack: %s", err.Error())
		return
	}
	if msg.From != protocol.FromDevice {
		return
	}
	if msg.Status != "" && msg.Status != protocol.StatusOK {
		b.log.Warnf("dropping negative sensor ack %s from device %s (status %s)", msg.Cmd, msg.DeviceID, msg.Status)
		return
	}

	switch msg.Cmd {
	case protocol.AckSetSensor:
		if msg.Sensor == nil {
			b.log.Warnf("sensor ack from %s without sensor payload", msg.DeviceID)
			return
		}

		ctx, ok := b.corr.ConsumeSensor(msg.DeviceID, msg.Sensor.Type)
		if !ok {
			// Already applied, or never tracked by this instance
			b.log.Infof("no pending set-sensor command for device %s type %s", msg.DeviceID, msg.Sensor.Type.DisplayName())
			return
		}

		setting := &models.SensorSetting{
			Model:         gorm.Model{ID: ctx.SettingID},
			UsersDeviceID: ctx.DeviceID,
			Type:          int(ctx.Type),
			MinValue:      ctx.MinValue,
			MaxValue:      ctx.MaxValue,
			Enabled:       ctx.Enabled,
		}
		if err := b.db.SaveSensorSetting(setting); err != nil {
			b.log.Errorf("failed to persist setting for device %d: %s", ctx.DeviceID, err.Error())
			return
		}

		text := b.settingText(ctx.DeviceName, ctx.Type, ctx.MinValue, ctx.MaxValue, ctx.Enabled)
		b.notifier.SendTo(ctx.ChatID, text)
		b.notifier.Broadcast(notify.SensorAckEvent(ctx.UserID), map[string]interface{}{
			"deviceId": msg.DeviceID,
			"type":     ctx.Type,
			"minValue": ctx.MinValue,
			"maxValue": ctx.MaxValue,
			"enabled":  ctx.Enabled,
		})

	case protocol.AckSyncSensor:
		b.renderSensorSync(msg.DeviceID)

	default:
		b.log.Warnf("dropping unrecognized sensor ack %s from device %s", msg.Cmd, msg.DeviceID)
	}
}

func (b *Bridge) renderSensorSync(serialID string) {
	ctx, tracked := b.corr.ConsumeSync(serialID, protocol.AckSyncSensor)

	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		b.log.Warnf("sync ack from unregistered device %s", serialID)
		return
	}

	settings, err := b.db.GetSensorSettings(device.ID)
	if err != nil {
		b.log.Errorf("failed to read settings for device %d: %s", device.ID, err.Error())
		return
	}

	rows := [][]string{{"#", "range", "status"}}
	for i, s := range settings {
		status := "OFF"
		if s.Enabled {
			status = "ON"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%s %.1f - %.1f", protocol.SensorType(s.Type).DisplayName(), s.MinValue, s.MaxValue),
			status,
		})
	}
	if len(settings) == 0 {
		rows = nil
	}

	table := notify.FormatAlignedTable(fmt.Sprintf("Sensor settings for %s", device.Name), rows)
	if tracked {
		b.notifier.SendTo(ctx.ChatID, table)
	} else {
		b.notifier.NotifyChat(table, device.ID)
	}
}

func (b *Bridge) applySetting(device *models.UsersDevice, payload *protocol.SensorPayload) {
	setting := &models.SensorSetting{
		UsersDeviceID: device.ID,
		Type:          int(payload.Type),
		MinValue:      payload.MinValue,
		MaxValue:      payload.MaxValue,
		Enabled:       payload.Enabled,
	}
	if existing, err := b.db.GetSensorSetting(device.ID, int(payload.Type)); err == nil {
		setting.ID = existing.ID
	}

	if err := b.db.SaveSensorSetting(setting); err != nil {
		b.log.Errorf("failed to persist setting for device %d: %s", device.ID, err.Error())
	}
}

func (b *Bridge) settingText(deviceName string, t protocol.SensorType, minValue, maxValue float64, enabled bool) string {
	if !enabled {
		return fmt.Sprintf("%s monitoring on %s is now *disabled*", t.DisplayName(), deviceName)
	}
	return fmt.Sprintf("%s monitoring on %s is now *enabled* with range %.1f - %.1f", t.DisplayName(), deviceName, minValue, maxValue)
}

func (b *Bridge) chatIDFor(device *models.UsersDevice) int64 {
	user, err := b.db.GetUserByID(device.UserID)
	if err != nil {
		b.log.Warnf("owner lookup for device %d failed: %s", device.ID, err.Error())
		return 0
	}
	return user.TelegramChatID
}
