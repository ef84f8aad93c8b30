package handlers

import (
	"context"
	"net/http"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
	"golang.org/x/sync/errgroup"
)

const topEntities = 5

// Activity is what an entity detail page shows for its scope.
type Activity struct {
	KPIs       eventlog.KPIStats       `json:"kpis"`
	Volume     []eventlog.VolumeBucket `json:"volume"`
	EventTypes []eventlog.ShareRow     `json:"eventTypes"`
}

func (a *API) activity(ctx context.Context, r *http.Request, tr timerange.TimeRange, scope eventlog.Scope) (Activity, error) {
	var out Activity
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.KPIs, err = a.cfg.Engine.KPIs(gctx, tr, scope)
		return err
	})
	g.Go(func() error {
		series, err := a.cfg.Engine.VolumeSeries(gctx, tr, scope, false)
		out.Volume = volume(r, series, tr)
		return err
	})
	g.Go(func() error {
		var err error
		out.EventTypes, err = a.cfg.Engine.EventTypeCounts(gctx, tr, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return Activity{}, err
	}
	return out, nil
}

// topNamed runs TopN for dim and attaches display names.
func (a *API) topNamed(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope, dim eventlog.Dimension, n int) ([]refdata.NamedRow, error) {
	rows, err := a.cfg.Engine.TopN(ctx, tr, scope, dim, n)
	if err != nil {
		return nil, err
	}
	return a.joiner.NameRows(ctx, dim, rows), nil
}

// writeEvents serves one page of annotated events for scope.
func (a *API) writeEvents(w http.ResponseWriter, r *http.Request, scope eventlog.Scope, operation string, defaultLimit int) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	tr := a.timeRange(r)
	p := ParsePagination(r, defaultLimit)
	page, err := a.cfg.Engine.Page(ctx, tr, scope, p.Limit, p.Offset)
	if err != nil {
		writeError(w, a.log, operation, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, PaginatedResponse[refdata.AnnotatedEvent]{
		Items:  a.joiner.Annotate(ctx, page.Rows),
		Total:  page.Total,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}

// entity looks up a reference record. A missing record is not an error: events can
// reference ids the reference tables do not know yet.
func entity[T any](ctx context.Context, a *API, kind, id string, lookup func(context.Context, string) (T, error)) *T {
	v, err := lookup(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			a.log.Warn("handlers: reference lookup failed", "kind", kind, "id", id, "error", err)
		}
		return nil
	}
	return &v
}
