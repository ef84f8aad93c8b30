package handlers

import (
	"net/http"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
)

type RangesResponse struct {
	Default string             `json:"default"`
	Options []timerange.Option `json:"options"`
}

func (a *API) GetRanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.log, http.StatusOK, RangesResponse{
		Default: timerange.DefaultToken,
		Options: timerange.Options(),
	})
}

type OverviewResponse struct {
	Range RangeResponse `json:"range"`
	query.Overview
}

// GetOverview returns KPIs, the volume series split by event type and the event
// type distribution for the requested scope.
func (a *API) GetOverview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	tr := a.timeRange(r)
	overview, err := a.cfg.Engine.Overview(ctx, tr, parseScope(r))
	if err != nil {
		writeError(w, a.log, "failed to load overview", err)
		return
	}
	if overview.Volume == nil {
		overview.Volume = []eventlog.VolumeBucket{}
	}
	writeJSON(w, a.log, http.StatusOK, OverviewResponse{Range: rangeResponse(tr), Overview: overview})
}

type EventTypeListResponse struct {
	Range      RangeResponse `json:"range"`
	EventTypes []string      `json:"eventTypes"`
}

func (a *API) GetEventTypeList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	tr := a.timeRange(r)
	types, err := a.cfg.Engine.EventTypes(ctx, tr)
	if err != nil {
		writeError(w, a.log, "failed to list event types", err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, EventTypeListResponse{Range: rangeResponse(tr), EventTypes: types})
}
