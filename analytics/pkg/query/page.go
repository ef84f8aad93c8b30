package query

import (
	"context"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
	"golang.org/x/sync/errgroup"
)

// Page returns one page of matching events ordered newest first, ids ascending on equal
// timestamps, plus the total match count.
//
// The count and the page run as two concurrent queries without a shared snapshot, so
// Total can disagree with the rows by whatever arrived in between.
func (e *Engine) Page(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope, limit, offset int) (eventlog.PaginatedEvents, error) {
	if limit <= 0 {
		return eventlog.PaginatedEvents{}, invalidArgument("limit must be positive, got %d", limit)
	}
	if offset < 0 {
		return eventlog.PaginatedEvents{}, invalidArgument("offset must not be negative, got %d", offset)
	}
	q, err := newQuery(tr, scope)
	if err != nil {
		return eventlog.PaginatedEvents{}, err
	}

	var out eventlog.PaginatedEvents
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Total, err = call(gctx, e, "count", func(ctx context.Context) (int64, error) {
			return e.store.Count(ctx, q)
		})
		return err
	})
	g.Go(func() error {
		var err error
		out.Rows, err = call(gctx, e, "events", func(ctx context.Context) ([]eventlog.Event, error) {
			return e.store.Events(ctx, q, limit, offset)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return eventlog.PaginatedEvents{}, err
	}
	if out.Rows == nil {
		out.Rows = []eventlog.EventRow{}
	}
	for i := range out.Rows {
		out.Rows[i].CreatedAt = out.Rows[i].CreatedAt.UTC()
	}
	return out, nil
}

// SamplePayloads pages through events of a single type so callers can inspect payload
// shapes.
func (e *Engine) SamplePayloads(ctx context.Context, tr timerange.TimeRange, eventType string, limit, offset int) (eventlog.PaginatedEvents, error) {
	if eventType == "" {
		return eventlog.PaginatedEvents{}, invalidArgument("event type is required")
	}
	return e.Page(ctx, tr, eventlog.Scope{}.WithEventType(eventType), limit, offset)
}
