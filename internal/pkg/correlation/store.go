package correlation

import (
	"fmt"
	"sync"
	"time"

	"github.com/pondwatch/pond-monitor/internal/pkg/protocol"
)

//SensorContext holds everything needed to apply a set-sensor command once the
//device acknowledges it: the values the backend intends to write (device-echoed
//numerics are never trusted) and where to deliver the confirmation.
type SensorContext struct {
	ChatID     int64
	UserID     uint
	DeviceID   uint
	DeviceName string
	SettingID  uint
	Type       protocol.SensorType
	MinValue   float64
	MaxValue   float64
	Enabled    bool

	recordedAt time.Time
}

//AlarmContext holds the values recorded when an alarm command was issued, so the
//acknowledgement handler can re-apply them without trusting device echo.
type AlarmContext struct {
	ChatID     int64
	UserID     uint
	DeviceID   uint
	DeviceName string
	AlarmID    uint
	Hour       int
	Minute     int
	Duration   int
	Enabled    bool

	recordedAt time.Time
}

//SyncContext identifies where a rendered full-state table should be delivered
type SyncContext struct {
	ChatID     int64
	UserID     uint
	DeviceID   uint
	DeviceName string

	recordedAt time.Time
}

//Store tracks commands that are in flight to devices, keyed so that a later
//acknowledgement can be correlated back to its originating request. Recording a
//key that already exists overwrites the previous entry; firmware processes
//commands sequentially so only the newest context can ever be acknowledged.
//
//A zero ttl keeps entries until they are consumed or the process exits. A
//positive ttl lets Sweep expire abandoned entries.
type Store struct {
	mu  sync.Mutex
	ttl time.Duration

	sensor        map[string]SensorContext
	alarm         map[string]AlarmContext
	sync          map[string]SyncContext
	lastTempIndex map[string]int
}

//NewStore returns an empty store. ttl == 0 disables expiry.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:           ttl,
		sensor:        make(map[string]SensorContext),
		alarm:         make(map[string]AlarmContext),
		sync:          make(map[string]SyncContext),
		lastTempIndex: make(map[string]int),
	}
}

func sensorKey(serialID string, t protocol.SensorType) string {
	return fmt.Sprintf("%s|%d", serialID, t)
}

func alarmKey(serialID string, cmd protocol.Command, alarmID uint) string {
	return fmt.Sprintf("%s|%s|%d", serialID, cmd, alarmID)
}

func syncKey(serialID string, cmd protocol.Command) string {
	return fmt.Sprintf("%s|%s", serialID, cmd)
}

//RecordSensor stores the context for an outstanding set-sensor command
func (s *Store) RecordSensor(serialID string, t protocol.SensorType, ctx SensorContext) {
	ctx.recordedAt = time.Now()
	s.mu.Lock()
	s.sensor[sensorKey(serialID, t)] = ctx
	s.mu.Unlock()
}

//ConsumeSensor returns and removes the context for a set-sensor command, if any
func (s *Store) ConsumeSensor(serialID string, t protocol.SensorType) (SensorContext, bool) {
	key := sensorKey(serialID, t)
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.sensor[key]
	if ok {
		delete(s.sensor, key)
	}
	return ctx, ok
}

//RecordAlarm stores the context for an outstanding alarm command. The key is the
//acknowledgement command the device is expected to answer with.
func (s *Store) RecordAlarm(serialID string, ackCmd protocol.Command, alarmID uint, ctx AlarmContext) {
	ctx.recordedAt = time.Now()
	s.mu.Lock()
	s.alarm[alarmKey(serialID, ackCmd, alarmID)] = ctx
	s.mu.Unlock()
}

//ConsumeAlarm returns and removes the context for an alarm command, if any
func (s *Store) ConsumeAlarm(serialID string, ackCmd protocol.Command, alarmID uint) (AlarmContext, bool) {
	key := alarmKey(serialID, ackCmd, alarmID)
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.alarm[key]
	if ok {
		delete(s.alarm, key)
	}
	return ctx, ok
}

//RecordSync stores the context for an outstanding full-state sync command
func (s *Store) RecordSync(serialID string, ackCmd protocol.Command, ctx SyncContext) {
	ctx.recordedAt = time.Now()
	s.mu.Lock()
	s.sync[syncKey(serialID, ackCmd)] = ctx
	s.mu.Unlock()
}

//ConsumeSync returns and removes the context for a sync command, if any
func (s *Store) ConsumeSync(serialID string, ackCmd protocol.Command) (SyncContext, bool) {
	key := syncKey(serialID, ackCmd)
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.sync[key]
	if ok {
		delete(s.sync, key)
	}
	return ctx, ok
}

//SeenAlarmRequest reports whether tempIndex was already processed for the given
//device and records it otherwise. The guard is overwritten on every accepted
//request and lives for the process lifetime.
func (s *Store) SeenAlarmRequest(serialID string, tempIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastTempIndex[serialID]; ok && last == tempIndex {
		return true
	}
	s.lastTempIndex[serialID] = tempIndex
	return false
}

//Sweep removes entries recorded longer than ttl before now and returns how many
//were removed. It is a no-op when expiry is disabled.
func (s *Store) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	cutoff := now.Add(-s.ttl)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, ctx := range s.sensor {
		if ctx.recordedAt.Before(cutoff) {
			delete(s.sensor, key)
			removed++
		}
	}
	for key, ctx := range s.alarm {
		if ctx.recordedAt.Before(cutoff) {
			delete(s.alarm, key)
			removed++
		}
	}
	for key, ctx := range s.sync {
		if ctx.recordedAt.Before(cutoff) {
			delete(s.sync, key)
			removed++
		}
	}

	return removed
}

//RunSweeper expires abandoned entries on an interval until done is closed.
//It returns immediately when expiry is disabled.
func (s *Store) RunSweeper(done <-chan struct{}, interval time.Duration, onSweep func(removed int)) {
	if s.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if removed := s.Sweep(time.Now()); removed > 0 && onSweep != nil {
				onSweep(removed)
			}
		}
	}
}
