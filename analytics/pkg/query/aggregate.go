package query

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
	"golang.org/x/sync/errgroup"
)

func (e *Engine) TotalCount(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) (int64, error) {
	q, err := newQuery(tr, scope)
	if err != nil {
		return 0, err
	}
	return call(ctx, e, "count", func(ctx context.Context) (int64, error) {
		return e.store.Count(ctx, q)
	})
}

// Rate is the scoped event count per minute of the range, rounded to two decimals.
// Ranges shorter than a minute count as one minute.
func (e *Engine) Rate(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) (float64, error) {
	total, err := e.TotalCount(ctx, tr, scope)
	if err != nil {
		return 0, err
	}
	return perMinute(total, tr), nil
}

func perMinute(total int64, tr timerange.TimeRange) float64 {
	return round2(float64(total) / tr.Minutes())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DistinctCount counts distinct non-empty values of dim. For profiles an event with a
// list of ids contributes every id.
func (e *Engine) DistinctCount(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope, dim eventlog.Dimension) (int64, error) {
	if !dim.Valid() {
		return 0, invalidArgument("unknown dimension %q", dim)
	}
	q, err := newQuery(tr, scope)
	if err != nil {
		return 0, err
	}
	return call(ctx, e, "distinct_"+string(dim), func(ctx context.Context) (int64, error) {
		return e.store.CountDistinct(ctx, q, dim)
	})
}

// VolumeSeries returns a sparse series at tr.Bucket width ordered by bucket, then event
// type. Buckets with no events are absent.
func (e *Engine) VolumeSeries(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope, splitByEventType bool) ([]eventlog.VolumeBucket, error) {
	if tr.Bucket <= 0 {
		return nil, invalidArgument("bucket width must be positive, got %s", tr.Bucket)
	}
	q, err := newQuery(tr, scope)
	if err != nil {
		return nil, err
	}
	series, err := call(ctx, e, "volume", func(ctx context.Context) ([]eventlog.VolumeBucket, error) {
		return e.store.Volume(ctx, q, tr.Bucket, splitByEventType)
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventlog.VolumeBucket, 0, len(series))
	for _, p := range series {
		if p.Count == 0 {
			continue
		}
		p.Bucket = p.Bucket.UTC()
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Bucket.Equal(out[j].Bucket) {
			return out[i].Bucket.Before(out[j].Bucket)
		}
		return out[i].EventType < out[j].EventType
	})
	return out, nil
}

// TopN returns the n largest groups of dim, count descending with key ascending on ties.
func (e *Engine) TopN(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope, dim eventlog.Dimension, n int) ([]eventlog.TopNRow, error) {
	if n <= 0 {
		return nil, invalidArgument("n must be positive, got %d", n)
	}
	return e.top(ctx, tr, scope, dim, n)
}

func (e *Engine) top(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope, dim eventlog.Dimension, n int) ([]eventlog.TopNRow, error) {
	if !dim.Valid() {
		return nil, invalidArgument("unknown dimension %q", dim)
	}
	q, err := newQuery(tr, scope)
	if err != nil {
		return nil, err
	}
	rows, err := call(ctx, e, "top_"+string(dim), func(ctx context.Context) ([]eventlog.TopNRow, error) {
		return e.store.Top(ctx, q, dim, n)
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventlog.TopNRow, 0, len(rows))
	for _, r := range rows {
		if r.Key != "" && r.Count > 0 {
			out = append(out, r)
		}
	}
	sortTopN(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func sortTopN(rows []eventlog.TopNRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
}

func (e *Engine) EventTypeTotal(ctx context.Context, tr timerange.TimeRange, eventType string) (int64, error) {
	if eventType == "" {
		return 0, invalidArgument("event type is required")
	}
	return e.TotalCount(ctx, tr, eventlog.Scope{}.WithEventType(eventType))
}

// EventTypeBreakdown is TopN restricted to one event type, with each row's share of the
// type's total. Profile shares can add up to more than 100 because of fan-out.
func (e *Engine) EventTypeBreakdown(ctx context.Context, tr timerange.TimeRange, eventType string, dim eventlog.Dimension, n int) ([]eventlog.ShareRow, error) {
	if eventType == "" {
		return nil, invalidArgument("event type is required")
	}
	if n <= 0 {
		return nil, invalidArgument("n must be positive, got %d", n)
	}
	if !dim.Valid() {
		return nil, invalidArgument("unknown dimension %q", dim)
	}
	scope := eventlog.Scope{}.WithEventType(eventType)

	var (
		total int64
		rows  []eventlog.TopNRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = e.TotalCount(gctx, tr, scope)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = e.top(gctx, tr, scope, dim, n)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return withShares(rows, total), nil
}

// EventTypeCounts returns every event type in scope with its share of the scoped total.
func (e *Engine) EventTypeCounts(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) ([]eventlog.ShareRow, error) {
	rows, err := e.top(ctx, tr, scope, eventlog.DimensionEventType, 0)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, r := range rows {
		total += r.Count
	}
	return withShares(rows, total), nil
}

func withShares(rows []eventlog.TopNRow, total int64) []eventlog.ShareRow {
	out := make([]eventlog.ShareRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, eventlog.ShareRow{Key: r.Key, Count: r.Count, Percentage: Percent(r.Count, total)})
	}
	return out
}

// Percent formats count/total as a percentage with one decimal. A zero total gives
// "0.0".
func Percent(count, total int64) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(count)*100/float64(total))
}

// EventTypes lists the distinct event types seen in the range, sorted.
func (e *Engine) EventTypes(ctx context.Context, tr timerange.TimeRange) ([]string, error) {
	rows, err := e.top(ctx, tr, eventlog.Scope{}, eventlog.DimensionEventType, 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key)
	}
	slices.Sort(out)
	return out, nil
}

// KPIs runs its sub-queries concurrently. Any failure fails the whole call.
func (e *Engine) KPIs(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) (eventlog.KPIStats, error) {
	var stats eventlog.KPIStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats.TotalEvents, err = e.TotalCount(gctx, tr, scope)
		return err
	})
	g.Go(func() error {
		var err error
		stats.UniqueDevices, err = e.DistinctCount(gctx, tr, scope, eventlog.DimensionDevice)
		return err
	})
	g.Go(func() error {
		var err error
		stats.UniqueProfiles, err = e.DistinctCount(gctx, tr, scope, eventlog.DimensionProfile)
		return err
	})
	g.Go(func() error {
		var err error
		stats.UniqueLocations, err = e.DistinctCount(gctx, tr, scope, eventlog.DimensionLocation)
		return err
	})
	if err := g.Wait(); err != nil {
		return eventlog.KPIStats{}, err
	}
	stats.EventsPerMinute = perMinute(stats.TotalEvents, tr)
	return stats, nil
}

type Overview struct {
	KPIs       eventlog.KPIStats       `json:"kpis"`
	Volume     []eventlog.VolumeBucket `json:"volume"`
	EventTypes []eventlog.ShareRow     `json:"eventTypes"`
}

// Overview gathers what a dashboard landing page shows for one scope.
func (e *Engine) Overview(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) (Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.KPIs, err = e.KPIs(gctx, tr, scope)
		return err
	})
	g.Go(func() error {
		var err error
		out.Volume, err = e.VolumeSeries(gctx, tr, scope, true)
		return err
	})
	g.Go(func() error {
		var err error
		out.EventTypes, err = e.EventTypeCounts(gctx, tr, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, fmt.Errorf("failed to build overview: %w", err)
	}
	return out, nil
}
