package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"golang.org/x/sync/errgroup"
)

const (
	topBreakdown      = 10
	defaultSampleSize = 10
)

type NamedShareRow struct {
	eventlog.ShareRow
	Name string `json:"name"`
}

type EventTypeResponse struct {
	Range       RangeResponse           `json:"range"`
	EventType   string                  `json:"eventType"`
	Total       int64                   `json:"total"`
	Volume      []eventlog.VolumeBucket `json:"volume"`
	TopDevices  []NamedShareRow         `json:"topDevices"`
	TopProfiles []NamedShareRow         `json:"topProfiles"`
}

func (a *API) nameShares(ctx context.Context, dim eventlog.Dimension, shares []eventlog.ShareRow) []NamedShareRow {
	rows := make([]eventlog.TopNRow, len(shares))
	for i, s := range shares {
		rows[i] = eventlog.TopNRow{Key: s.Key, Count: s.Count}
	}
	named := a.joiner.NameRows(ctx, dim, rows)
	out := make([]NamedShareRow, len(shares))
	for i, s := range shares {
		out[i] = NamedShareRow{ShareRow: s, Name: named[i].Name}
	}
	return out
}

// GetEventType returns the total, volume and top devices and profiles for one event
// type. Profile shares can add up to more than 100 percent.
func (a *API) GetEventType(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	eventType := chi.URLParam(r, "type")
	tr := a.timeRange(r)
	scope := eventlog.Scope{}.WithEventType(eventType)

	var (
		resp     = EventTypeResponse{Range: rangeResponse(tr), EventType: eventType}
		devices  []eventlog.ShareRow
		profiles []eventlog.ShareRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resp.Total, err = a.cfg.Engine.EventTypeTotal(gctx, tr, eventType)
		return err
	})
	g.Go(func() error {
		series, err := a.cfg.Engine.VolumeSeries(gctx, tr, scope, false)
		resp.Volume = volume(r, series, tr)
		return err
	})
	g.Go(func() error {
		var err error
		devices, err = a.cfg.Engine.EventTypeBreakdown(gctx, tr, eventType, eventlog.DimensionDevice, topBreakdown)
		return err
	})
	g.Go(func() error {
		var err error
		profiles, err = a.cfg.Engine.EventTypeBreakdown(gctx, tr, eventType, eventlog.DimensionProfile, topBreakdown)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, a.log, "failed to load event type", err)
		return
	}
	resp.TopDevices = a.nameShares(ctx, eventlog.DimensionDevice, devices)
	resp.TopProfiles = a.nameShares(ctx, eventlog.DimensionProfile, profiles)
	writeJSON(w, a.log, http.StatusOK, resp)
}

// GetEventTypeSamples pages through raw events of one type so payload shapes can be
// inspected.
func (a *API) GetEventTypeSamples(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	eventType := chi.URLParam(r, "type")
	tr := a.timeRange(r)
	p := ParsePagination(r, defaultSampleSize)
	page, err := a.cfg.Engine.SamplePayloads(ctx, tr, eventType, p.Limit, p.Offset)
	if err != nil {
		writeError(w, a.log, "failed to load sample payloads", err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, PaginatedResponse[refdata.AnnotatedEvent]{
		Items:  a.joiner.Annotate(ctx, page.Rows),
		Total:  page.Total,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}
