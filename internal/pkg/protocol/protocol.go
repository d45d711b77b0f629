package protocol

import (
	"encoding/json"
	"fmt"
)

//Command identifies one of the closed set of commands exchanged with device firmware.
//The zero value is CommandUnknown so that an unrecognized wire string never aliases
//a real command.
type Command int

const (
	//CommandUnknown is returned for wire strings outside the known command set
	CommandUnknown Command = iota
	//SetSensor requests that a device applies new threshold values for one sensor
	SetSensor
	//AckSetSensor confirms that a device has applied a SetSensor request
	AckSetSensor
	//SyncSensor requests the full sensor-setting state from a device
	SyncSensor
	//AckSyncSensor confirms a SyncSensor request
	AckSyncSensor
	//RequestAddAlarm requests creation of a feeding alarm
	RequestAddAlarm
	//AckAddAlarm confirms an alarm creation
	AckAddAlarm
	//RequestEditAlarm requests changed values for an existing alarm
	RequestEditAlarm
	//AckEditAlarm confirms an alarm edit
	AckEditAlarm
	//RequestDeleteAlarm requests removal of an alarm
	RequestDeleteAlarm
	//AckDeleteAlarm confirms an alarm removal
	AckDeleteAlarm
	//RequestEnableAlarm requests that an alarm is switched on
	RequestEnableAlarm
	//AckEnableAlarm confirms an alarm enable
	AckEnableAlarm
	//RequestDisableAlarm requests that an alarm is switched off
	RequestDisableAlarm
	//AckDisableAlarm confirms an alarm disable
	AckDisableAlarm
	//RequestSyncAlarm requests the full alarm state from a device
	RequestSyncAlarm
	//AckSyncAlarm confirms a RequestSyncAlarm and carries the device's full alarm state
	AckSyncAlarm
)

var commandNames = map[Command]string{
	SetSensor:           "SET_SENSOR",
	AckSetSensor:        "ACK_SET_SENSOR",
	SyncSensor:          "SYNC_SENSOR",
	AckSyncSensor:       "ACK_SYNC_SENSOR",
	RequestAddAlarm:     "REQUEST_ADD_ALARM",
	AckAddAlarm:         "ACK_ADD_ALARM",
	RequestEditAlarm:    "REQUEST_EDIT_ALARM",
	AckEditAlarm:        "ACK_EDIT_ALARM",
	RequestDeleteAlarm:  "REQUEST_DELETE_ALARM",
	AckDeleteAlarm:      "ACK_DELETE_ALARM",
	RequestEnableAlarm:  "REQUEST_ENABLE_ALARM",
	AckEnableAlarm:      "ACK_ENABLE_ALARM",
	RequestDisableAlarm: "REQUEST_DISABLE_ALARM",
	AckDisableAlarm:     "ACK_DISABLE_ALARM",
	RequestSyncAlarm:    "REQUEST_SYNC_ALARM",
	AckSyncAlarm:        "ACK_SYNC_ALARM",
}

var commandValues = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for cmd, name := range commandNames {
		m[name] = cmd
	}
	return m
}()

//ParseCommand maps a wire string onto a Command, or returns an error for unknown strings
func ParseCommand(s string) (Command, error) {
	if cmd, ok := commandValues[s]; ok {
		return cmd, nil
	}
	return CommandUnknown, fmt.Errorf("unknown command %q", s)
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

//MarshalJSON encodes the command as its wire string
func (c Command) MarshalJSON() ([]byte, error) {
	name, ok := commandNames[c]
	if !ok {
		return nil, fmt.Errorf("command %d has no wire representation", int(c))
	}
	return json.Marshal(name)
}

//UnmarshalJSON decodes a wire string into a Command. An unknown string decodes
//to CommandUnknown without error, so that a single unrecognized command does not
//force the whole message to be treated as malformed. Callers drop CommandUnknown.
func (c *Command) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = commandValues[s]
	return nil
}

//SensorType identifies one of the four measured water-quality channels.
//The numeric values are the wire codes the firmware uses.
type SensorType int

const (
	//Temperature in degrees celsius
	Temperature SensorType = 0
	//Turbidity in NTU
	Turbidity SensorType = 1
	//TDS is total dissolved solids in ppm
	TDS SensorType = 2
	//PH on the standard 0-14 scale
	PH SensorType = 3
)

//SensorTypes lists all channels in wire-code order
var SensorTypes = []SensorType{Temperature, Turbidity, TDS, PH}

//Valid reports whether t is one of the four known channels
func (t SensorType) Valid() bool {
	return t >= Temperature && t <= PH
}

//DisplayName returns the human-readable channel name used in notifications
func (t SensorType) DisplayName() string {
	switch t {
	case Temperature:
		return "Temperature"
	case Turbidity:
		return "Turbidity"
	case TDS:
		return "TDS"
	case PH:
		return "pH"
	}
	return "Unknown"
}

//Senders of wire messages, carried in the "from" field so that a subscriber can
//tell its own publications apart from device-originated traffic on a shared topic.
const (
	FromBackend = "BACKEND"
	FromDevice  = "ESP"
)

//StatusOK is the only acknowledgement status the backend acts upon
const StatusOK = "OK"
