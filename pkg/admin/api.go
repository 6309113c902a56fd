// Package admin exposes the coordinator's operator-facing HTTP API:
// fleet inspection, layout assignment, data refresh, and remote
// commands. It is mounted onto the device server's router under /api.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marquee-dev/marquee/pkg/distribute"
	"github.com/marquee-dev/marquee/pkg/protocol"
	"github.com/marquee-dev/marquee/pkg/registry"
	"github.com/marquee-dev/marquee/pkg/server"
)

// API serves the operator endpoints.
type API struct {
	registry    *registry.Registry
	hub         *server.Hub
	distributor *distribute.Distributor
	log         *slog.Logger
}

// New creates the admin API.
func New(reg *registry.Registry, hub *server.Hub, dist *distribute.Distributor, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{registry: reg, hub: hub, distributor: dist, log: log.With("component", "admin")}
}

// Router returns the API's route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/devices", a.listDevices)
	r.Route("/devices/{deviceID}", func(r chi.Router) {
		r.Get("/", a.getDevice)
		r.Post("/layout", a.assignLayout)
		r.Post("/data", a.pushData)
		r.Post("/command", a.sendCommand)
		r.Post("/config", a.pushConfig)
	})
	return r
}

// deviceView is a registry record plus live connection state.
type deviceView struct {
	*registry.Record
	Connected bool `json:"connected"`
}

func (a *API) listDevices(w http.ResponseWriter, _ *http.Request) {
	records := a.registry.List()
	views := make([]deviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, deviceView{Record: rec, Connected: a.hub.Connected(rec.DeviceID)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	rec, err := a.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceView{Record: rec, Connected: a.hub.Connected(id)})
}

func (a *API) assignLayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	var body struct {
		LayoutID string `json:"layout_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.LayoutID == "" {
		writeError(w, http.StatusBadRequest, errors.New("layout_id is required"))
		return
	}

	report, err := a.distributor.AssignAndDistribute(r.Context(), id, body.LayoutID)
	if err != nil {
		var derr *distribute.Error
		if errors.As(err, &derr) {
			switch derr.Code {
			case distribute.TargetNotFound, distribute.LayoutNotFound:
				writeError(w, http.StatusNotFound, err)
			case distribute.DeliveryFailed:
				// The assignment stuck; the device gets it on reconnect.
				writeJSON(w, http.StatusAccepted, map[string]string{
					"status": "assigned, delivery deferred",
					"error":  derr.Error(),
				})
			default:
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) pushData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	if err := a.distributor.PushData(r.Context(), id); err != nil {
		var derr *distribute.Error
		if errors.As(err, &derr) && derr.Code != distribute.DeliveryFailed {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}

func (a *API) sendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	var cmd protocol.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil || cmd.Action == "" {
		writeError(w, http.StatusBadRequest, errors.New("action is required"))
		return
	}
	if err := a.hub.SendTo(id, &cmd); err != nil {
		if errors.Is(err, server.ErrDeviceNotConnected) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (a *API) pushConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	var cfg protocol.DeviceConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.hub.SendTo(id, &protocol.ConfigUpdate{Config: cfg}); err != nil {
		if errors.Is(err, server.ErrDeviceNotConnected) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
