package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"golang.org/x/sync/errgroup"
)

type DeviceRow struct {
	eventlog.DeviceStats
	Name         string `json:"name"`
	Type         string `json:"type"`
	LocationID   string `json:"locationId"`
	LocationName string `json:"locationName"`
}

type DevicesResponse struct {
	Range   RangeResponse `json:"range"`
	Devices []DeviceRow   `json:"devices"`
}

// GetDevices lists every device with events in the range, busiest first.
func (a *API) GetDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	tr := a.timeRange(r)
	stats, err := a.cfg.Engine.DeviceStats(ctx, tr, parseScope(r))
	if err != nil {
		writeError(w, a.log, "failed to load device stats", err)
		return
	}

	known := map[string]refdata.Device{}
	if devices, err := a.cfg.Directory.Devices(ctx); err != nil {
		a.log.Warn("handlers: failed to list devices, using ids as names", "error", err)
	} else {
		for _, d := range devices {
			known[d.ID] = d
		}
	}

	rows := make([]DeviceRow, 0, len(stats))
	for _, s := range stats {
		row := DeviceRow{DeviceStats: s, Name: s.DeviceID}
		if d, ok := known[s.DeviceID]; ok {
			row.Name = d.DisplayName()
			row.Type = d.Type
			row.LocationID = d.LocationID
			row.LocationName = d.LocationName
		}
		rows = append(rows, row)
	}
	writeJSON(w, a.log, http.StatusOK, DevicesResponse{Range: rangeResponse(tr), Devices: rows})
}

type DeviceResponse struct {
	Range       RangeResponse      `json:"range"`
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Device      *refdata.Device    `json:"device"`
	Activity    Activity           `json:"activity"`
	TopProfiles []refdata.NamedRow `json:"topProfiles"`
}

func (a *API) GetDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	tr := a.timeRange(r)
	scope := parseScope(r)
	scope.DeviceID = id

	resp := DeviceResponse{Range: rangeResponse(tr), ID: id}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resp.Activity, err = a.activity(gctx, r, tr, scope)
		return err
	})
	g.Go(func() error {
		var err error
		resp.TopProfiles, err = a.topNamed(gctx, tr, scope, eventlog.DimensionProfile, topEntities)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, a.log, "failed to load device", err)
		return
	}

	resp.Device = entity(ctx, a, "device", id, a.cfg.Directory.Device)
	resp.Name = a.cfg.Directory.DeviceName(ctx, id)
	writeJSON(w, a.log, http.StatusOK, resp)
}

func (a *API) GetDeviceEvents(w http.ResponseWriter, r *http.Request) {
	scope := parseScope(r)
	scope.DeviceID = chi.URLParam(r, "id")
	a.writeEvents(w, r, scope, "failed to load device events", DefaultLimit)
}
