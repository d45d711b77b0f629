package protocol

//SensorDataMessage is the raw reading a device publishes on the sensor-data topic
type SensorDataMessage struct {
	DeviceID    string  `json:"deviceId"`
	Temperature float64 `json:"temperature"`
	Turbidity   float64 `json:"turbidity"`
	TDS         float64 `json:"tds"`
	PH          float64 `json:"ph"`
}

//SensorPayload carries one threshold setting inside a SensorMessage
type SensorPayload struct {
	ID       uint       `json:"id,omitempty"`
	Type     SensorType `json:"type"`
	MinValue float64    `json:"minValue"`
	MaxValue float64    `json:"maxValue"`
	Enabled  bool       `json:"enabled"`
}

//SensorMessage is the envelope for sensor-setting requests and acknowledgements
type SensorMessage struct {
	Cmd      Command        `json:"cmd"`
	From     string         `json:"from"`
	DeviceID string         `json:"deviceId"`
	Sensor   *SensorPayload `json:"sensor,omitempty"`
	Status   string         `json:"status,omitempty"`
}

//AlarmPayload carries one feeding alarm inside an AlarmMessage
type AlarmPayload struct {
	ID       uint `json:"id,omitempty"`
	Hour     int  `json:"hour"`
	Minute   int  `json:"minute"`
	Duration int  `json:"duration"`
	Enabled  bool `json:"enabled"`
}

//AlarmMessage is the envelope for alarm requests and acknowledgements.
//Requests and acks use the same shape in both directions.
type AlarmMessage struct {
	Cmd       Command       `json:"cmd"`
	From      string        `json:"from"`
	DeviceID  string        `json:"deviceId"`
	Alarm     *AlarmPayload `json:"alarm,omitempty"`
	TempIndex int           `json:"tempIndex,omitempty"`
	Status    string        `json:"status,omitempty"`
}
