package aggregator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pondwatch/pond-monitor/internal/pkg/buffer"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/models"
)

//Datastore is the slice of the persistence layer the aggregator needs
type Datastore interface {
	GetDeviceByID(id uint) (*models.UsersDevice, error)
	UpdateDeviceStatus(id uint, status string) error
	CreateSensorData(data *models.SensorData) error
}

type groupKey struct {
	userID   uint
	deviceID uint
}

type group struct {
	count       int
	temperature float64
	turbidity   float64
	tds         float64
	ph          float64
}

//Aggregator drains the sample buffer on a fixed interval, averages the samples
//per (user, device) and persists one row per group per tick. Groups beyond the
//per-tick cap are dropped for that tick: the cap bounds database load, it is not
//a queue.
type Aggregator struct {
	buf       *buffer.SampleBuffer
	db        Datastore
	log       logging.Logger
	interval  time.Duration
	maxGroups int
}

//New returns an aggregator; call Run to start ticking
func New(buf *buffer.SampleBuffer, db Datastore, log logging.Logger, interval time.Duration, maxGroups int) *Aggregator {
	return &Aggregator{
		buf:       buf,
		db:        db,
		log:       log,
		interval:  interval,
		maxGroups: maxGroups,
	}
}

//Run flushes on every tick until ctx is cancelled
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}

//Flush executes one aggregation tick and returns the number of groups persisted.
//Draining and grouping happen synchronously; persistence fans out to one
//goroutine per group so a failing group never aborts its siblings.
func (a *Aggregator) Flush(ctx context.Context) int {
	samples := a.buf.DrainAll()
	if len(samples) == 0 {
		return 0
	}

	groups := make(map[groupKey]*group)
	for _, s := range samples {
		key := groupKey{userID: s.UserID, deviceID: s.DeviceID}
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		g.count++
		g.temperature += s.Temperature
		g.turbidity += s.Turbidity
		g.tds += s.TDS
		g.ph += s.PH
	}

	retained := 0
	dropped := 0
	var wg sync.WaitGroup

	for key, g := range groups {
		if retained >= a.maxGroups {
			dropped++
			continue
		}
		retained++

		wg.Add(1)
		go func(key groupKey, g *group) {
			defer wg.Done()
			a.persistGroup(ctx, key, g)
		}(key, g)
	}

	wg.Wait()

	if dropped > 0 {
		a.log.Warnf("aggregation tick dropped %d of %d groups over the per-tick cap", dropped, len(groups))
	}

	return retained
}

func (a *Aggregator) persistGroup(_ context.Context, key groupKey, g *group) {
	// The device may have been deleted while its samples sat in the buffer
	if _, err := a.db.GetDeviceByID(key.deviceID); err != nil {
		a.log.Warnf("skipping aggregation for vanished device %d: %s", key.deviceID, err.Error())
		return
	}

	count := float64(g.count)
	row := &models.SensorData{
		UserID:        key.userID,
		UsersDeviceID: key.deviceID,
		Temperature:   g.temperature / count,
		Turbidity:     g.turbidity / count,
		TDS:           g.tds / count,
		PH:            g.ph / count,
		MeasuredAt:    time.Now(),
	}

	if err := a.db.CreateSensorData(row); err != nil {
		if strings.Contains(err.Error(), "connection pool") {
			a.log.Errorf("aggregation write for user %d device %d hit pool exhaustion, consider raising the pool size: %s", key.userID, key.deviceID, err.Error())
		} else {
			a.log.Errorf("aggregation write for user %d device %d failed: %s", key.userID, key.deviceID, err.Error())
		}
		return
	}

	if err := a.db.UpdateDeviceStatus(key.deviceID, models.DeviceStatusActive); err != nil {
		a.log.Errorf("failed to mark device %d active: %s", key.deviceID, err.Error())
	}
}
