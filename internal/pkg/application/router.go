package application

import (
	"compress/flate"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/cors"

	"github.com/pondwatch/pond-monitor/internal/pkg/bridge"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/logging"
	"github.com/pondwatch/pond-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/pondwatch/pond-monitor/internal/pkg/protocol"
	"github.com/pondwatch/pond-monitor/internal/pkg/ws"
)

type RequestRouter struct {
	impl *chi.Mux
}

//Get accepts a pattern that should be routed to the handlerFn on a GET request
func (router *RequestRouter) Get(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Get(pattern, handlerFn)
}

//Post accepts a pattern that should be routed to the handlerFn on a POST request
func (router *RequestRouter) Post(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Post(pattern, handlerFn)
}

//Put accepts a pattern that should be routed to the handlerFn on a PUT request
func (router *RequestRouter) Put(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Put(pattern, handlerFn)
}

//Delete accepts a pattern that should be routed to the handlerFn on a DELETE request
func (router *RequestRouter) Delete(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Delete(pattern, handlerFn)
}

func newRequestRouter() *RequestRouter {
	router := &RequestRouter{impl: chi.NewRouter()}

	router.impl.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	}).Handler)

	compressor := middleware.NewCompressor(flate.DefaultCompression, "application/json")
	router.impl.Use(compressor.Handler)
	router.impl.Use(middleware.Logger)

	return router
}

func createRequestRouter(b *bridge.Bridge, hub *ws.Hub, log logging.Logger) *RequestRouter {
	router := newRequestRouter()
	router.addAPIHandlers(b, hub, log)
	return router
}

type sensorSettingRequest struct {
	Type     protocol.SensorType `json:"type"`
	MinValue float64             `json:"minValue"`
	MaxValue float64             `json:"maxValue"`
	Enabled  bool                `json:"enabled"`
}

type alarmRequest struct {
	Hour     int  `json:"hour"`
	Minute   int  `json:"minute"`
	Duration int  `json:"duration"`
	Enabled  bool `json:"enabled"`
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (router *RequestRouter) addAPIHandlers(b *bridge.Bridge, hub *ws.Hub, log logging.Logger) {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.Get("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, log, w, r)
	})

	//Commands are issued to the device here and applied when it acknowledges,
	//so all command endpoints answer 202 rather than 200.

	router.Post("/api/devices/{serialID}/sensor-settings", func(w http.ResponseWriter, r *http.Request) {
		req := sensorSettingRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		serialID := chi.URLParam(r, "serialID")
		if err := b.IssueSetSensor(serialID, req.Type, req.MinValue, req.MaxValue, req.Enabled); err != nil {
			writeCommandError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	router.Post("/api/devices/{serialID}/sensor-settings/sync", func(w http.ResponseWriter, r *http.Request) {
		if err := b.IssueSensorSync(chi.URLParam(r, "serialID")); err != nil {
			writeCommandError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	router.Post("/api/devices/{serialID}/alarms", func(w http.ResponseWriter, r *http.Request) {
		req := alarmRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := b.IssueAddAlarm(chi.URLParam(r, "serialID"), req.Hour, req.Minute, req.Duration, req.Enabled)
		if err != nil {
			writeCommandError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, "{\"id\":%d}", id)
	})

	router.Post("/api/devices/{serialID}/alarms/sync", func(w http.ResponseWriter, r *http.Request) {
		if err := b.IssueAlarmSync(chi.URLParam(r, "serialID")); err != nil {
			writeCommandError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	router.Put("/api/devices/{serialID}/alarms/{alarmID}", func(w http.ResponseWriter, r *http.Request) {
		req := alarmRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		alarmID, ok := alarmIDParam(w, r)
		if !ok {
			return
		}

		if err := b.IssueEditAlarm(chi.URLParam(r, "serialID"), alarmID, req.Hour, req.Minute, req.Duration, req.Enabled); err != nil {
			writeCommandError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	router.Put("/api/devices/{serialID}/alarms/{alarmID}/enabled", func(w http.ResponseWriter, r *http.Request) {
		req := enabledRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		alarmID, ok := alarmIDParam(w, r)
		if !ok {
			return
		}

		if err := b.IssueAlarmEnabled(chi.URLParam(r, "serialID"), alarmID, req.Enabled); err != nil {
			writeCommandError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	router.Delete("/api/devices/{serialID}/alarms/{alarmID}", func(w http.ResponseWriter, r *http.Request) {
		alarmID, ok := alarmIDParam(w, r)
		if !ok {
			return
		}

		if err := b.IssueDeleteAlarm(chi.URLParam(r, "serialID"), alarmID); err != nil {
			writeCommandError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

func alarmIDParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "alarmID"), 10, 32)
	if err != nil {
		http.Error(w, "alarm id must be numeric", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func writeCommandError(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
