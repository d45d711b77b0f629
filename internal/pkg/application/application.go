//Package application wires the pond-monitor backend together: MQTT
//subscriptions, the aggregation loop, the browser hub and the HTTP API.
package application

import (
	"context"
	"net/http"

	"github.com/pondwatch/pond-monitor/internal/pkg/aggregator"
	"github.com/pondwatch/pond-monitor/internal/pkg/alerts"
	"github.com/pondwatch/pond-monitor/internal/pkg/bridge"
	"github.com/pondwatch/pond-monitor/internal/pkg/buffer"
	"github.com/pondwatch/pond-monitor/internal/pkg/config"
	"github.com/pondwatch/pond-monitor/internal/pkg/correlation"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/pondwatch/pond-monitor/internal/pkg/notify"
	"github.com/pondwatch/pond-monitor/internal/pkg/transport"
	"github.com/pondwatch/pond-monitor/internal/pkg/ws"
)

//Subscriber is the inbound half of the MQTT adapter, split off so the wiring
//can be tested without a broker connection
type Subscriber interface {
	Subscribe(kind transport.TopicKind, handler transport.Handler) error
}

//App holds the assembled backend
type App struct {
	log    logging.Logger
	cfg    *config.Config
	bridge *bridge.Bridge
	hub    *ws.Hub
	agg    *aggregator.Aggregator
	corr   *correlation.Store
}

//New assembles the backend around an already-connected transport. chat may be
//nil when no bot token is configured.
func New(cfg *config.Config, db database.Datastore, pub transport.Publisher, chat notify.ChatSender, log logging.Logger) *App {
	hub := ws.NewHub(log)
	notifier := notify.NewService(chat, hub, db, log)

	buf := buffer.NewSampleBuffer()
	corr := correlation.NewStore(cfg.CommandTTL)
	b := bridge.New(db, buf, corr, alerts.NewEvaluator(), pub, notifier, log)

	hub.OnSetSensor = b.HandleSetSensorEvent

	return &App{
		log:    log,
		cfg:    cfg,
		bridge: b,
		hub:    hub,
		agg:    aggregator.New(buf, db, log, cfg.AggregationInterval, cfg.MaxGroupsPerTick),
		corr:   corr,
	}
}

//SubscribeAll registers the bridge handlers for every inbound topic
func (app *App) SubscribeAll(sub Subscriber) error {
	subscriptions := []struct {
		kind    transport.TopicKind
		handler transport.Handler
	}{
		{transport.TopicSensorData, app.bridge.HandleSensorData},
		{transport.TopicSensorSettingReq, app.bridge.HandleSensorRequest},
		{transport.TopicSensorSettingAck, app.bridge.HandleSensorAck},
		{transport.TopicAlarmRequest, app.bridge.HandleAlarmRequest},
		{transport.TopicAlarmAck, app.bridge.HandleAlarmAck},
	}

	for _, s := range subscriptions {
		if err := sub.Subscribe(s.kind, s.handler); err != nil {
			return err
		}
	}
	return nil
}

//SetupAndServe starts the background loops and serves the HTTP API until the
//context is cancelled or the listener fails
func (app *App) SetupAndServe(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)

	go app.hub.Run(done)
	go app.agg.Run(ctx)
	go app.corr.RunSweeper(done, app.cfg.CommandTTL, func(removed int) {
		app.log.Debugf("swept %d expired pending commands", removed)
	})

	router := createRequestRouter(app.bridge, app.hub, app.log)

	app.log.Infof("Starting pond-monitor on port %s.\n", app.cfg.ServicePort)
	app.log.Fatal(http.ListenAndServe(":"+app.cfg.ServicePort, router.impl))
}
