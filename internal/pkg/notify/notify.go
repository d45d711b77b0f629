package notify

import (
	"fmt"
	"strings"

	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/database"
)

//ChatSender delivers one text message to a chat destination
type ChatSender interface {
	Send(chatID int64, text string) error
}

//Broadcaster pushes an event to all connected browser sessions
type Broadcaster interface {
	BroadcastEvent(event string, payload interface{})
}

//Service fans human-readable status text out to the chat channel and event-bus
//broadcasts out to browser sessions. The two sinks are independent: failure of
//one never blocks the other, and neither ever rolls back the persistence
//mutation that preceded it.
type Service struct {
	chat ChatSender
	hub  Broadcaster
	db   database.Datastore
	log  logging.Logger
}

//NewService wires the fan-out. chat may be nil when no bot token is configured.
func NewService(chat ChatSender, hub Broadcaster, db database.Datastore, log logging.Logger) *Service {
	return &Service{
		chat: chat,
		hub:  hub,
		db:   db,
		log:  log,
	}
}

//NotifyChat resolves the chat destination of the device's owner and sends text
//to it. A user without a configured chat id is a silent no-op: chat delivery is
//optional per user. Send failures are logged, never returned.
func (s *Service) NotifyChat(text string, deviceID uint) {
	if s.chat == nil {
		return
	}

	device, err := s.db.GetDeviceByID(deviceID)
	if err != nil {
		s.log.Warnf("cannot notify for device %d: %s", deviceID, err.Error())
		return
	}

	user, err := s.db.GetUserByID(device.UserID)
	if err != nil {
		s.log.Warnf("cannot notify owner of device %d: %s", deviceID, err.Error())
		return
	}

	if user.TelegramChatID == 0 {
		return
	}

	if err := s.chat.Send(user.TelegramChatID, text); err != nil {
		s.log.Errorf("chat delivery to user %d failed: %s", user.ID, err.Error())
	}
}

//SendTo delivers text to an already-resolved chat destination, as recorded in a
//command's correlation context. A zero chat id is a silent no-op.
func (s *Service) SendTo(chatID int64, text string) {
	if s.chat == nil || chatID == 0 {
		return
	}
	if err := s.chat.Send(chatID, text); err != nil {
		s.log.Errorf("chat delivery to %d failed: %s", chatID, err.Error())
	}
}

//Broadcast pushes an event to all browser sessions, if a hub is attached
func (s *Service) Broadcast(event string, payload interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(event, payload)
}

//SensorAckEvent returns the per-user event name for sensor acknowledgements
func SensorAckEvent(userID uint) string {
	return fmt.Sprintf("%d-sensor_ack", userID)
}

//UserEvent returns the per-user event name for device notifications
func UserEvent(userID uint) string {
	return fmt.Sprintf("%d-notification", userID)
}

//FormatAlignedTable renders rows as a monospaced, space-aligned table wrapped in
//a code fence so chat clients preserve the alignment. All rows must have the
//same number of columns.
func FormatAlignedTable(title string, rows [][]string) string {
	if len(rows) == 0 {
		return title + "\n(empty)"
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n```\n")
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("```")

	return b.String()
}
