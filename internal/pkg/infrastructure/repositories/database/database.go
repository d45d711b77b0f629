package database

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//ErrNotFound is returned when a lookup matches no record
var ErrNotFound = errors.New("record not found")

//Datastore is an interface that is used to inject the database into different handlers to improve testability
type Datastore interface {
	CreateUser(user *models.User) (*models.User, error)
	GetUserByID(id uint) (*models.User, error)

	CreateDevice(device *models.UsersDevice) (*models.UsersDevice, error)
	GetDeviceBySerial(serialID string) (*models.UsersDevice, error)
	GetDeviceByID(id uint) (*models.UsersDevice, error)
	UpdateDeviceStatus(id uint, status string) error

	GetSensorSetting(deviceID uint, sensorType int) (*models.SensorSetting, error)
	GetSensorSettings(deviceID uint) ([]models.SensorSetting, error)
	SaveSensorSetting(setting *models.SensorSetting) error

	CreateAlarm(alarm *models.Alarm) (*models.Alarm, error)
	GetAlarm(id uint) (*models.Alarm, error)
	GetAlarms(deviceID uint) ([]models.Alarm, error)
	UpdateAlarm(alarm *models.Alarm) error
	SetAlarmEnabled(id uint, enabled bool) error
	DeleteAlarm(id uint) error

	CreateSensorData(data *models.SensorData) error
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

//ConnectorFunc is used to inject a database connection method into NewDatabaseConnection
type ConnectorFunc func() (*gorm.DB, error)

//NewPostgreSQLConnector opens a connection to a postgresql database
func NewPostgreSQLConnector(log logging.Logger) ConnectorFunc {
	dbHost := os.Getenv("PONDMON_DB_HOST")
	username := os.Getenv("PONDMON_DB_USER")
	dbName := os.Getenv("PONDMON_DB_NAME")
	password := os.Getenv("PONDMON_DB_PASSWORD")
	sslMode := getEnv("PONDMON_DB_SSLMODE", "require")

	dbURI := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=%s password=%s", dbHost, username, dbName, sslMode, password)

	return func() (*gorm.DB, error) {
		for {
			log.Infof("Connecting to database host %s ...", dbHost)
			db, err := gorm.Open(postgres.Open(dbURI), &gorm.Config{})
			if err != nil {
				log.Errorf("Failed to connect to database: %s", err.Error())
				time.Sleep(3 * time.Second)
			} else {
				return db, nil
			}
		}
	}
}

//NewSQLiteConnector opens a connection to a local sqlite database
func NewSQLiteConnector() ConnectorFunc {
	return func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})

		if err == nil {
			db.Exec("PRAGMA foreign_keys = ON")
		}

		return db, err
	}
}

//NewDatabaseConnection initializes a new connection to the database and wraps it in a Datastore
func NewDatabaseConnection(connect ConnectorFunc, log logging.Logger) (Datastore, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	db := &myDB{
		impl: impl,
		log:  log,
	}

	err = db.impl.AutoMigrate(
		&models.User{},
		&models.UsersDevice{},
		&models.SensorSetting{},
		&models.Alarm{},
		&models.SensorData{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

type myDB struct {
	impl *gorm.DB
	log  logging.Logger
}

func (db *myDB) CreateUser(user *models.User) (*models.User, error) {
	result := db.impl.Create(user)
	return user, result.Error
}

func (db *myDB) CreateDevice(device *models.UsersDevice) (*models.UsersDevice, error) {
	result := db.impl.Create(device)
	return device, result.Error
}

func (db *myDB) GetUserByID(id uint) (*models.User, error) {
	user := &models.User{}
	result := db.impl.First(user, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no user with id %d: %w", id, ErrNotFound)
	}
	return user, result.Error
}

func (db *myDB) GetDeviceBySerial(serialID string) (*models.UsersDevice, error) {
	device := &models.UsersDevice{}
	result := db.impl.Where("serial_id = ?", serialID).First(device)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no device with serial %s: %w", serialID, ErrNotFound)
	}
	return device, result.Error
}

func (db *myDB) GetDeviceByID(id uint) (*models.UsersDevice, error) {
	device := &models.UsersDevice{}
	result := db.impl.First(device, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no device with id %d: %w", id, ErrNotFound)
	}
	return device, result.Error
}

func (db *myDB) UpdateDeviceStatus(id uint, status string) error {
	return db.impl.Model(&models.UsersDevice{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_seen": time.Now()}).Error
}

func (db *myDB) GetSensorSetting(deviceID uint, sensorType int) (*models.SensorSetting, error) {
	setting := &models.SensorSetting{}
	result := db.impl.Where("users_device_id = ? AND type = ?", deviceID, sensorType).First(setting)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no setting for device %d type %d: %w", deviceID, sensorType, ErrNotFound)
	}
	return setting, result.Error
}

func (db *myDB) GetSensorSettings(deviceID uint) ([]models.SensorSetting, error) {
	settings := []models.SensorSetting{}
	result := db.impl.Where("users_device_id = ?", deviceID).Order("type").Find(&settings)
	return settings, result.Error
}

//SaveSensorSetting creates the setting row if it has no id yet and updates it otherwise
func (db *myDB) SaveSensorSetting(setting *models.SensorSetting) error {
	return db.impl.Save(setting).Error
}

func (db *myDB) CreateAlarm(alarm *models.Alarm) (*models.Alarm, error) {
	result := db.impl.Create(alarm)
	return alarm, result.Error
}

func (db *myDB) GetAlarm(id uint) (*models.Alarm, error) {
	alarm := &models.Alarm{}
	result := db.impl.First(alarm, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no alarm with id %d: %w", id, ErrNotFound)
	}
	return alarm, result.Error
}

func (db *myDB) GetAlarms(deviceID uint) ([]models.Alarm, error) {
	alarms := []models.Alarm{}
	result := db.impl.Where("users_device_id = ?", deviceID).Order("hour, minute").Find(&alarms)
	return alarms, result.Error
}

func (db *myDB) UpdateAlarm(alarm *models.Alarm) error {
	return db.impl.Model(&models.Alarm{}).Where("id = ?", alarm.ID).
		Updates(map[string]interface{}{
			"hour":     alarm.Hour,
			"minute":   alarm.Minute,
			"duration": alarm.Duration,
			"enabled":  alarm.Enabled,
		}).Error
}

func (db *myDB) SetAlarmEnabled(id uint, enabled bool) error {
	return db.impl.Model(&models.Alarm{}).Where("id = ?", id).Update("enabled", enabled).Error
}

func (db *myDB) DeleteAlarm(id uint) error {
	return db.impl.Delete(&models.Alarm{}, id).Error
}

func (db *myDB) CreateSensorData(data *models.SensorData) error {
	return db.impl.Create(data).Error
}
