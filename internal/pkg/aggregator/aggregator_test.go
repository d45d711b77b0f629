package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondwatch/pond-monitor/internal/pkg/buffer"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/models"
)

type fakeDatastore struct {
	mu            sync.Mutex
	missingDevice uint
	createErr     error
	rows          []models.SensorData
	statusUpdates []uint
}

func (f *fakeDatastore) GetDeviceByID(id uint) (*models.UsersDevice, error) {
	if id == f.missingDevice {
		return nil, fmt.Errorf("no device with id %d: %w", id, database.ErrNotFound)
	}
	return &models.UsersDevice{}, nil
}

func (f *fakeDatastore) UpdateDeviceStatus(id uint, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, id)
	return nil
}

func (f *fakeDatastore) CreateSensorData(data *models.SensorData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.rows = append(f.rows, *data)
	return nil
}

type discardLogger struct{}

func (discardLogger) Fatal(...interface{})          {}
func (discardLogger) Fatalf(string, ...interface{}) {}
func (discardLogger) Error(...interface{})          {}
func (discardLogger) Errorf(string, ...interface{}) {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Debugf(string, ...interface{}) {}

func newAggregatorForTest(db Datastore, maxGroups int) (*Aggregator, *buffer.SampleBuffer) {
	buf := buffer.NewSampleBuffer()
	return New(buf, db, discardLogger{}, time.Minute, maxGroups), buf
}

func TestThatFlushOnEmptyBufferIsANoOp(t *testing.T) {
	db := &fakeDatastore{}
	agg, _ := newAggregatorForTest(db, 100)

	assert.Equal(t, 0, agg.Flush(context.Background()))
	assert.Empty(t, db.rows)
}

func TestThatFlushedRowHoldsTheArithmeticMean(t *testing.T) {
	db := &fakeDatastore{}
	agg, buf := newAggregatorForTest(db, 100)

	values := []float64{24.0, 25.0, 26.0}
	for _, v := range values {
		buf.Push(buffer.Sample{
			UserID:      1,
			DeviceID:    9,
			Temperature: v,
			Turbidity:   v / 2,
			TDS:         v * 10,
			PH:          7.0,
		})
	}

	persisted := agg.Flush(context.Background())

	require.Equal(t, 1, persisted)
	require.Len(t, db.rows, 1)

	row := db.rows[0]
	assert.InDelta(t, 25.0, row.Temperature, 1e-9)
	assert.InDelta(t, 12.5, row.Turbidity, 1e-9)
	assert.InDelta(t, 250.0, row.TDS, 1e-9)
	assert.InDelta(t, 7.0, row.PH, 1e-9)
	assert.Equal(t, uint(1), row.UserID)
	assert.Equal(t, uint(9), row.UsersDeviceID)
}

func TestThatExactlyOneRowIsWrittenPerGroupPerTick(t *testing.T) {
	db := &fakeDatastore{}
	agg, buf := newAggregatorForTest(db, 100)

	for i := 0; i < 10; i++ {
		buf.Push(buffer.Sample{UserID: 1, DeviceID: 1, PH: 7})
		buf.Push(buffer.Sample{UserID: 1, DeviceID: 2, PH: 7})
		buf.Push(buffer.Sample{UserID: 2, DeviceID: 3, PH: 7})
	}

	assert.Equal(t, 3, agg.Flush(context.Background()))
	assert.Len(t, db.rows, 3)
}

func TestThatGroupsOverThePerTickCapAreDropped(t *testing.T) {
	db := &fakeDatastore{}
	agg, buf := newAggregatorForTest(db, 100)

	for i := 0; i < 150; i++ {
		buf.Push(buffer.Sample{UserID: uint(i), DeviceID: uint(i + 1000), PH: 7})
	}

	assert.Equal(t, 100, agg.Flush(context.Background()))
	assert.Len(t, db.rows, 100)

	// dropped groups are gone, not queued for the next tick
	assert.Equal(t, 0, agg.Flush(context.Background()))
}

func TestThatSamplesOfVanishedDevicesAreSkipped(t *testing.T) {
	db := &fakeDatastore{missingDevice: 5}
	agg, buf := newAggregatorForTest(db, 100)

	buf.Push(buffer.Sample{UserID: 1, DeviceID: 5, PH: 7})
	buf.Push(buffer.Sample{UserID: 1, DeviceID: 6, PH: 7})

	agg.Flush(context.Background())

	require.Len(t, db.rows, 1)
	assert.Equal(t, uint(6), db.rows[0].UsersDeviceID)
}

func TestThatPersistenceFailureDoesNotAbortSiblingGroups(t *testing.T) {
	db := &fakeDatastore{createErr: fmt.Errorf("insert failed")}
	agg, buf := newAggregatorForTest(db, 100)

	buf.Push(buffer.Sample{UserID: 1, DeviceID: 1, PH: 7})
	buf.Push(buffer.Sample{UserID: 1, DeviceID: 2, PH: 7})

	// Flush itself must not fail or panic even when every insert errors
	assert.Equal(t, 2, agg.Flush(context.Background()))
	assert.Empty(t, db.rows)
	assert.Empty(t, db.statusUpdates)
}

func TestThatDevicesAreMarkedActiveAfterPersistence(t *testing.T) {
	db := &fakeDatastore{}
	agg, buf := newAggregatorForTest(db, 100)

	buf.Push(buffer.Sample{UserID: 1, DeviceID: 7, PH: 7})
	agg.Flush(context.Background())

	require.Len(t, db.statusUpdates, 1)
	assert.Equal(t, uint(7), db.statusUpdates[0])
}
