package models

import (
	"time"

	"gorm.io/gorm"
)

//User is the database model for an account that owns one or more devices
type User struct {
	gorm.Model
	Name           string
	Email          string `gorm:"unique"`
	TelegramChatID int64
}

//UsersDevice is the database model for a registered pond device. SerialID is the
//firmware-side identifier the device puts on the wire, distinct from the row ID.
type UsersDevice struct {
	gorm.Model
	UserID   uint `gorm:"index:devices_by_user"`
	User     User
	SerialID string `gorm:"unique"`
	Name     string
	Status   string
	LastSeen time.Time
}

//SensorSetting stores the configured threshold range for one channel of one device
type SensorSetting struct {
	gorm.Model
	UsersDeviceID uint `gorm:"index:settings_by_device"`
	UsersDevice   UsersDevice
	Type          int
	MinValue      float64
	MaxValue      float64
	Enabled       bool
}

//Alarm stores one scheduled feeding alarm for a device
type Alarm struct {
	gorm.Model
	UsersDeviceID uint `gorm:"index:alarms_by_device"`
	UsersDevice   UsersDevice
	Hour          int
	Minute        int
	Duration      int
	Enabled       bool
}

//SensorData stores one aggregated reading per device per aggregation tick
type SensorData struct {
	gorm.Model
	UserID        uint
	UsersDeviceID uint `gorm:"index:data_by_device"`
	Temperature   float64
	Turbidity     float64
	TDS           float64
	PH            float64
	MeasuredAt    time.Time
}

//DeviceStatusActive is set on a device whenever an aggregation tick persisted data for it
const DeviceStatusActive = "active"
