package query

import (
	"context"
	"sort"
	"time"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
)

const (
	topTypesPerDevice = 3
	sparklineBucket   = time.Hour
)

// DeviceStats returns per-device activity ordered by event count descending, then id.
func (e *Engine) DeviceStats(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) ([]eventlog.DeviceStats, error) {
	q, err := newQuery(tr, scope)
	if err != nil {
		return nil, err
	}
	rows, err := call(ctx, e, "device_stats", func(ctx context.Context) ([]eventlog.DeviceStats, error) {
		return e.store.DeviceStats(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].LastEvent = rows[i].LastEvent.UTC()
		rows[i].TopTypes = topTypes(rows[i].TypeCounts, topTypesPerDevice)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].EventCount != rows[j].EventCount {
			return rows[i].EventCount > rows[j].EventCount
		}
		return rows[i].DeviceID < rows[j].DeviceID
	})
	return rows, nil
}

func topTypes(counts map[string]int64, n int) []string {
	rows := make([]eventlog.TopNRow, 0, len(counts))
	for k, c := range counts {
		rows = append(rows, eventlog.TopNRow{Key: k, Count: c})
	}
	sortTopN(rows)
	out := make([]string, 0, n)
	for i := 0; i < len(rows) && i < n; i++ {
		out = append(out, rows[i].Key)
	}
	return out
}

// ProfileStats returns per-profile activity. An event with several profile ids counts
// toward each of them.
func (e *Engine) ProfileStats(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) ([]eventlog.ProfileStats, error) {
	q, err := newQuery(tr, scope)
	if err != nil {
		return nil, err
	}
	rows, err := call(ctx, e, "profile_stats", func(ctx context.Context) ([]eventlog.ProfileStats, error) {
		return e.store.ProfileStats(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].LastActive = rows[i].LastActive.UTC()
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].EventCount != rows[j].EventCount {
			return rows[i].EventCount > rows[j].EventCount
		}
		return rows[i].ProfileID < rows[j].ProfileID
	})
	return rows, nil
}

func (e *Engine) LocationStats(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) ([]eventlog.LocationStats, error) {
	q, err := newQuery(tr, scope)
	if err != nil {
		return nil, err
	}
	rows, err := call(ctx, e, "location_stats", func(ctx context.Context) ([]eventlog.LocationStats, error) {
		return e.store.LocationStats(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].EventCount != rows[j].EventCount {
			return rows[i].EventCount > rows[j].EventCount
		}
		return rows[i].LocationID < rows[j].LocationID
	})
	return rows, nil
}

// LocationSparklines returns a sparse hourly series per location, ordered by location id.
func (e *Engine) LocationSparklines(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope) ([]eventlog.LocationSeries, error) {
	q, err := newQuery(tr, scope)
	if err != nil {
		return nil, err
	}
	points, err := call(ctx, e, "location_volume", func(ctx context.Context) ([]eventlog.LocationBucket, error) {
		return e.store.LocationVolume(ctx, q, sparklineBucket)
	})
	if err != nil {
		return nil, err
	}
	byLocation := make(map[string][]eventlog.VolumeBucket)
	for _, p := range points {
		if p.Count == 0 || p.LocationID == "" {
			continue
		}
		byLocation[p.LocationID] = append(byLocation[p.LocationID], eventlog.VolumeBucket{Bucket: p.Bucket.UTC(), Count: p.Count})
	}
	out := make([]eventlog.LocationSeries, 0, len(byLocation))
	for id, series := range byLocation {
		sort.Slice(series, func(i, j int) bool { return series[i].Bucket.Before(series[j].Bucket) })
		out = append(out, eventlog.LocationSeries{LocationID: id, Points: series})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}
