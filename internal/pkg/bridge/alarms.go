package bridge

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/pondwatch/pond-monitor/internal/pkg/correlation"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/models"
	"github.com/pondwatch/pond-monitor/internal/pkg/notify"
	"github.com/pondwatch/pond-monitor/internal/pkg/protocol"
	"github.com/pondwatch/pond-monitor/internal/pkg/transport"
	"github.com/pondwatch/pond-monitor/internal/pkg/ws"
)

//IssueAddAlarm creates the alarm record, then asks the device to schedule it.
//The id is assigned here so the device acknowledgement only needs to read it
//back for messaging. Returns the new alarm id.
func (b *Bridge) IssueAddAlarm(serialID string, hour, minute, duration int, enabled bool) (uint, error) {
	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		return 0, err
	}

	alarm, err := b.db.CreateAlarm(&models.Alarm{
		UsersDeviceID: device.ID,
		Hour:          hour,
		Minute:        minute,
		Duration:      duration,
		Enabled:       enabled,
	})
	if err != nil {
		return 0, err
	}

	b.corr.RecordAlarm(serialID, protocol.AckAddAlarm, alarm.ID, b.alarmContext(device, alarm))
	b.publishAlarm(protocol.RequestAddAlarm, serialID, alarm, "")

	return alarm.ID, nil
}

//IssueEditAlarm records the intended values and asks the device to apply them.
//Nothing is persisted until the device acknowledges; the acknowledgement handler
//re-applies the values recorded here, never the device's echo.
func (b *Bridge) IssueEditAlarm(serialID string, alarmID uint, hour, minute, duration int, enabled bool) error {
	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		return err
	}
	if _, err := b.db.GetAlarm(alarmID); err != nil {
		return err
	}

	intended := &models.Alarm{
		Model:         gorm.Model{ID: alarmID},
		UsersDeviceID: device.ID,
		Hour:          hour,
		Minute:        minute,
		Duration:      duration,
		Enabled:       enabled,
	}

	b.corr.RecordAlarm(serialID, protocol.AckEditAlarm, alarmID, b.alarmContext(device, intended))
	b.publishAlarm(protocol.RequestEditAlarm, serialID, intended, "")

	return nil
}

//IssueDeleteAlarm asks the device to forget an alarm. The delete is applied when
//the acknowledgement arrives; it needs no recorded values, only a chat target.
func (b *Bridge) IssueDeleteAlarm(serialID string, alarmID uint) error {
	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		return err
	}
	alarm, err := b.db.GetAlarm(alarmID)
	if err != nil {
		return err
	}

	b.corr.RecordAlarm(serialID, protocol.AckDeleteAlarm, alarmID, b.alarmContext(device, alarm))
	b.publishAlarm(protocol.RequestDeleteAlarm, serialID, alarm, "")

	return nil
}

//IssueAlarmEnabled asks the device to switch an alarm on or off
func (b *Bridge) IssueAlarmEnabled(serialID string, alarmID uint, enabled bool) error {
	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		return err
	}
	alarm, err := b.db.GetAlarm(alarmID)
	if err != nil {
		return err
	}
	alarm.Enabled = enabled

	cmd, ack := protocol.RequestEnableAlarm, protocol.AckEnableAlarm
	if !enabled {
		cmd, ack = protocol.RequestDisableAlarm, protocol.AckDisableAlarm
	}

	b.corr.RecordAlarm(serialID, ack, alarmID, b.alarmContext(device, alarm))
	b.publishAlarm(cmd, serialID, alarm, "")

	return nil
}

//IssueAlarmSync asks a device for its full alarm state
func (b *Bridge) IssueAlarmSync(serialID string) error {
	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		return err
	}

	b.corr.RecordSync(serialID, protocol.AckSyncAlarm, correlation.SyncContext{
		ChatID:     b.chatIDFor(device),
		UserID:     device.UserID,
		DeviceID:   device.ID,
		DeviceName: device.Name,
	})

	b.pub.Publish(transport.TopicAlarmRequest, protocol.AlarmMessage{
		Cmd:      protocol.RequestSyncAlarm,
		From:     protocol.FromBackend,
		DeviceID: serialID,
	}, false)

	return nil
}

//HandleAlarmRequest processes device-initiated alarm commands arriving on the
//alarm-request topic. The backend's own requests on the shared topic are told
//apart by the from field and skipped.
func (b *Bridge) HandleAlarmRequest(payload []byte) {
	var msg protocol.AlarmMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warnf("discarding malformed alarm request: %s", err.Error())
		return
	}
	if msg.From != protocol.FromDevice {
		return
	}

	device, err := b.db.GetDeviceBySerial(msg.DeviceID)
	if err != nil {
		b.log.Warnf("alarm request from unregistered device %s", msg.DeviceID)
		return
	}

	switch msg.Cmd {
	case protocol.RequestAddAlarm:
		if b.corr.SeenAlarmRequest(msg.DeviceID, msg.TempIndex) {
			b.log.Debugf("ignoring repeated alarm request %d from device %s", msg.TempIndex, msg.DeviceID)
			return
		}
		if msg.Alarm == nil {
			b.log.Warnf("alarm request from %s without alarm payload", msg.DeviceID)
			return
		}

		alarm, err := b.db.CreateAlarm(&models.Alarm{
			UsersDeviceID: device.ID,
			Hour:          msg.Alarm.Hour,
			Minute:        msg.Alarm.Minute,
			Duration:      msg.Alarm.Duration,
			Enabled:       msg.Alarm.Enabled,
		})
		if err != nil {
			b.log.Errorf("failed to persist alarm for device %d: %s", device.ID, err.Error())
			return
		}

		b.publishAlarm(protocol.AckAddAlarm, msg.DeviceID, alarm, protocol.StatusOK)
		b.fanOutAlarm(device, fmt.Sprintf("Alarm #%d at %02d:%02d added to %s", alarm.ID, alarm.Hour, alarm.Minute, device.Name))

	case protocol.RequestEditAlarm:
		if msg.Alarm == nil || msg.Alarm.ID == 0 {
			b.log.Warnf("alarm edit request from %s without alarm id", msg.DeviceID)
			return
		}

		updated := &models.Alarm{
			Model:         gorm.Model{ID: msg.Alarm.ID},
			UsersDeviceID: device.ID,
			Hour:          msg.Alarm.Hour,
			Minute:        msg.Alarm.Minute,
			Duration:      msg.Alarm.Duration,
			Enabled:       msg.Alarm.Enabled,
		}
		if err := b.db.UpdateAlarm(updated); err != nil {
			b.log.Errorf("failed to update alarm %d: %s", msg.Alarm.ID, err.Error())
			return
		}

		b.publishAlarm(protocol.AckEditAlarm, msg.DeviceID, updated, protocol.StatusOK)
		b.fanOutAlarm(device, fmt.Sprintf("Alarm #%d on %s changed to %02d:%02d", updated.ID, device.Name, updated.Hour, updated.Minute))

	case protocol.RequestDeleteAlarm:
		if msg.Alarm == nil || msg.Alarm.ID == 0 {
			b.log.Warnf("alarm delete request from %s without alarm id", msg.DeviceID)
			return
		}

		if err := b.db.DeleteAlarm(msg.Alarm.ID); err != nil {
			b.log.Errorf("failed to delete alarm %d: %s", msg.Alarm.ID, err.Error())
			return
		}

		b.publishAlarm(protocol.AckDeleteAlarm, msg.DeviceID, &models.Alarm{Model: gorm.Model{ID: msg.Alarm.ID}}, protocol.StatusOK)
		b.fanOutAlarm(device, fmt.Sprintf("Alarm #%d removed from %s", msg.Alarm.ID, device.Name))

	case protocol.RequestEnableAlarm, protocol.RequestDisableAlarm:
		if msg.Alarm == nil || msg.Alarm.ID == 0 {
			b.log.Warnf("alarm toggle request from %s without alarm id", msg.DeviceID)
			return
		}

		enabled := msg.Cmd == protocol.RequestEnableAlarm
		if err := b.db.SetAlarmEnabled(msg.Alarm.ID, enabled); err != nil {
			b.log.Errorf("failed to toggle alarm %d: %s", msg.Alarm.ID, err.Error())
			return
		}

		ack := protocol.AckEnableAlarm
		state := "enabled"
		if !enabled {
			ack = protocol.AckDisableAlarm
			state = "disabled"
		}
		b.publishAlarm(ack, msg.DeviceID, &models.Alarm{Model: gorm.Model{ID: msg.Alarm.ID}, Enabled: enabled}, protocol.StatusOK)
		b.fanOutAlarm(device, fmt.Sprintf("Alarm #%d on %s %s", msg.Alarm.ID, device.Name, state))

	default:
		b.log.Warnf("dropping alarm request %s from device %s", msg.Cmd, msg.DeviceID)
	}
}

//HandleAlarmAck correlates device acknowledgements back to backend-issued alarm
//commands and applies the pending mutation. Only the delete path works without
//recorded context; add and edit rely on it for value replay.
func (b *Bridge) HandleAlarmAck(payload []byte) {
	var msg protocol.AlarmMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warnf("discarding malformed alarm ack: %s", err.Error())
		return
	}
	if msg.From != protocol.FromDevice {
		return
	}
	if msg.Status != "" && msg.Status != protocol.StatusOK {
		b.log.Warnf("dropping negative alarm ack %s from device %s (status %s)", msg.Cmd, msg.DeviceID, msg.Status)
		return
	}

	if msg.Cmd == protocol.AckSyncAlarm {
		b.renderAlarmSync(msg.DeviceID)
		return
	}

	if msg.Alarm == nil || msg.Alarm.ID == 0 {
		b.log.Warnf("alarm ack %s from %s without alarm id", msg.Cmd, msg.DeviceID)
		return
	}

	ctx, tracked := b.corr.ConsumeAlarm(msg.DeviceID, msg.Cmd, msg.Alarm.ID)

	switch msg.Cmd {
	case protocol.AckAddAlarm:
		// The record was created when the command was issued; read it back for messaging
		alarm, err := b.db.GetAlarm(msg.Alarm.ID)
		if err != nil {
			b.log.Warnf("ack for unknown alarm %d from device %s", msg.Alarm.ID, msg.DeviceID)
			return
		}
		b.ackNotify(ctx, tracked, msg.DeviceID, fmt.Sprintf("Alarm #%d at %02d:%02d confirmed by device", alarm.ID, alarm.Hour, alarm.Minute))

	case protocol.AckEditAlarm:
		if !tracked {
			// Nothing recorded: already applied, or tracked by another instance.
			// The echo is not a trusted source of values, so apply nothing.
			b.log.Infof("no pending edit for alarm %d on device %s", msg.Alarm.ID, msg.DeviceID)
			return
		}

		if err := b.db.UpdateAlarm(&models.Alarm{
			Model:         gorm.Model{ID: ctx.AlarmID},
			UsersDeviceID: ctx.DeviceID,
			Hour:          ctx.Hour,
			Minute:        ctx.Minute,
			Duration:      ctx.Duration,
			Enabled:       ctx.Enabled,
		}); err != nil {
			b.log.Errorf("failed to update alarm %d: %s", ctx.AlarmID, err.Error())
			return
		}
		b.ackNotify(ctx, tracked, msg.DeviceID, fmt.Sprintf("Alarm #%d changed to %02d:%02d", ctx.AlarmID, ctx.Hour, ctx.Minute))

	case protocol.AckDeleteAlarm:
		if err := b.db.DeleteAlarm(msg.Alarm.ID); err != nil {
			b.log.Errorf("failed to delete alarm %d: %s", msg.Alarm.ID, err.Error())
			return
		}
		b.ackNotify(ctx, tracked, msg.DeviceID, fmt.Sprintf("Alarm #%d removed", msg.Alarm.ID))

	case protocol.AckEnableAlarm, protocol.AckDisableAlarm:
		enabled := msg.Cmd == protocol.AckEnableAlarm
		if err := b.db.SetAlarmEnabled(msg.Alarm.ID, enabled); err != nil {
			b.log.Errorf("failed to toggle alarm %d: %s", msg.Alarm.ID, err.Error())
			return
		}
		state := "enabled"
		if !enabled {
			state = "disabled"
		}
		b.ackNotify(ctx, tracked, msg.DeviceID, fmt.Sprintf("Alarm #%d %s", msg.Alarm.ID, state))

	default:
		b.log.Warnf("dropping unrecognized alarm ack %s from device %s", msg.Cmd, msg.DeviceID)
	}
}

func (b *Bridge) renderAlarmSync(serialID string) {
	ctx, tracked := b.corr.ConsumeSync(serialID, protocol.AckSyncAlarm)

	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		b.log.Warnf("alarm sync ack from unregistered device %s", serialID)
		return
	}

	alarms, err := b.db.GetAlarms(device.ID)
	if err != nil {
		b.log.Errorf("failed to read alarms for device %d: %s", device.ID, err.Error())
		return
	}

	var rows [][]string
	if len(alarms) > 0 {
		rows = append(rows, []string{"#", "time", "status"})
		for i, a := range alarms {
			status := "OFF"
			if a.Enabled {
				status = "ON"
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", i+1),
				fmt.Sprintf("%02d:%02d", a.Hour, a.Minute),
				status,
			})
		}
	}

	table := notify.FormatAlignedTable(fmt.Sprintf("Alarms for %s", device.Name), rows)
	if tracked {
		b.notifier.SendTo(ctx.ChatID, table)
	} else {
		b.notifier.NotifyChat(table, device.ID)
	}
}

func (b *Bridge) ackNotify(ctx correlation.AlarmContext, tracked bool, serialID, text string) {
	if tracked {
		b.notifier.SendTo(ctx.ChatID, text)
		b.notifier.Broadcast(notify.UserEvent(ctx.UserID), map[string]interface{}{
			"deviceId": serialID,
			"message":  text,
		})
		return
	}

	device, err := b.db.GetDeviceBySerial(serialID)
	if err != nil {
		return
	}
	b.notifier.NotifyChat(text, device.ID)
	b.notifier.Broadcast(notify.UserEvent(device.UserID), map[string]interface{}{
		"deviceId": serialID,
		"message":  text,
	})
}

func (b *Bridge) fanOutAlarm(device *models.UsersDevice, text string) {
	b.notifier.NotifyChat(text, device.ID)
	b.notifier.Broadcast(notify.UserEvent(device.UserID), map[string]interface{}{
		"deviceId": device.SerialID,
		"message":  text,
	})
	b.notifier.Broadcast(ws.EventAlarmNotification, map[string]interface{}{
		"deviceId": device.SerialID,
		"message":  text,
	})
}

func (b *Bridge) alarmContext(device *models.UsersDevice, alarm *models.Alarm) correlation.AlarmContext {
	return correlation.AlarmContext{
		ChatID:     b.chatIDFor(device),
		UserID:     device.UserID,
		DeviceID:   device.ID,
		DeviceName: device.Name,
		AlarmID:    alarm.ID,
		Hour:       alarm.Hour,
		Minute:     alarm.Minute,
		Duration:   alarm.Duration,
		Enabled:    alarm.Enabled,
	}
}

func (b *Bridge) publishAlarm(cmd protocol.Command, serialID string, alarm *models.Alarm, status string) {
	from := protocol.FromBackend
	topic := transport.TopicAlarmRequest
	switch cmd {
	case protocol.AckAddAlarm, protocol.AckEditAlarm, protocol.AckDeleteAlarm, protocol.AckEnableAlarm, protocol.AckDisableAlarm, protocol.AckSyncAlarm:
		topic = transport.TopicAlarmAck
	}

	b.pub.Publish(topic, protocol.AlarmMessage{
		Cmd:      cmd,
		From:     from,
		DeviceID: serialID,
		Alarm: &protocol.AlarmPayload{
			ID:       alarm.ID,
			Hour:     alarm.Hour,
			Minute:   alarm.Minute,
			Duration: alarm.Duration,
			Enabled:  alarm.Enabled,
		},
		Status: status,
	}, false)
}
