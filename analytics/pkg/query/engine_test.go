package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/memstore"
	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/storetest"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
	dashtesting "github.com/malbeclabs/eventdash/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestAnalytics_Query_EngineConfig(t *testing.T) {
	t.Parallel()

	_, err := query.NewEngine(query.EngineConfig{Store: memstore.New(nil)})
	require.ErrorContains(t, err, "logger is required")

	_, err = query.NewEngine(query.EngineConfig{Logger: dashtesting.NewLogger()})
	require.ErrorContains(t, err, "store is required")

	engine, err := query.NewEngine(query.EngineConfig{Logger: dashtesting.NewLogger(), Store: memstore.New(nil)})
	require.NoError(t, err)
	require.NotNil(t, engine.Store())
}

func TestAnalytics_Query_LastHourScenario(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)
	store := memstore.New([]eventlog.Event{
		storetest.NewEvent("a", now.Add(-58*time.Minute), "ping", "d1", "", "", `{"profile_id":"p1"}`),
		storetest.NewEvent("b", now.Add(-30*time.Minute), "ping", "d1", "", "", `{}`),
		storetest.NewEvent("c", now.Add(-2*time.Minute), "ping", "d2", "", "", `{}`),
	})
	engine := newEngine(t, store)
	tr := timerange.NewResolver(clockwork.NewFakeClockAt(now)).Resolve("1h")
	ctx := t.Context()

	total, err := engine.TotalCount(ctx, tr, eventlog.Scope{})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	rate, err := engine.Rate(ctx, tr, eventlog.Scope{})
	require.NoError(t, err)
	require.Equal(t, 0.05, rate)

	profiles, err := engine.DistinctCount(ctx, tr, eventlog.Scope{}, eventlog.DimensionProfile)
	require.NoError(t, err)
	require.Equal(t, int64(1), profiles)

	series, err := engine.VolumeSeries(ctx, tr, eventlog.Scope{}, false)
	require.NoError(t, err)
	require.Len(t, series, 3)
	for _, p := range series {
		require.Equal(t, int64(1), p.Count)
		require.Zero(t, p.Bucket.Second())
	}
}

func TestAnalytics_Query_FanOutScenario(t *testing.T) {
	t.Parallel()

	store := memstore.New([]eventlog.Event{
		storetest.NewEvent("x", storetest.T0.Add(time.Hour), "visit", "", "", "", `{"profile_ids_present":["p1","p2"]}`),
	})
	engine := newEngine(t, store)
	tr := fixtureRange()
	ctx := t.Context()

	page, err := engine.Page(ctx, tr, eventlog.Scope{}, 50, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Len(t, page.Rows, 1)

	for _, p := range []string{"p1", "p2"} {
		n, err := engine.TotalCount(ctx, tr, eventlog.Scope{ProfileID: p})
		require.NoError(t, err)
		require.Equal(t, int64(1), n, p)
	}

	top, err := engine.TopN(ctx, tr, eventlog.Scope{}, eventlog.DimensionProfile, 10)
	require.NoError(t, err)
	require.Equal(t, []eventlog.TopNRow{{Key: "p1", Count: 1}, {Key: "p2", Count: 1}}, top)
}

func TestAnalytics_Query_Aggregates(t *testing.T) {
	t.Parallel()

	engine := newFixtureEngine(t)
	tr := fixtureRange()

	t.Run("volume is sorted by bucket then type", func(t *testing.T) {
		t.Parallel()

		series, err := engine.VolumeSeries(t.Context(), tr, eventlog.Scope{}, true)
		require.NoError(t, err)
		require.Equal(t, []eventlog.VolumeBucket{
			{Bucket: storetest.T0, EventType: "login", Count: 2},
			{Bucket: storetest.T0, EventType: "scan", Count: 1},
			{Bucket: storetest.T0.Add(time.Hour), EventType: "error", Count: 1},
			{Bucket: storetest.T0.Add(time.Hour), EventType: "scan", Count: 1},
			{Bucket: storetest.T0.Add(2 * time.Hour), EventType: "login", Count: 1},
			{Bucket: storetest.T0.Add(3 * time.Hour), EventType: "scan", Count: 2},
		}, series)
	})

	t.Run("top n truncates", func(t *testing.T) {
		t.Parallel()

		rows, err := engine.TopN(t.Context(), tr, eventlog.Scope{}, eventlog.DimensionProfile, 2)
		require.NoError(t, err)
		require.Equal(t, []eventlog.TopNRow{{Key: "A", Count: 3}, {Key: "C", Count: 2}}, rows)
	})

	t.Run("event type breakdown shares", func(t *testing.T) {
		t.Parallel()

		total, err := engine.EventTypeTotal(t.Context(), tr, "scan")
		require.NoError(t, err)
		require.Equal(t, int64(4), total)

		rows, err := engine.EventTypeBreakdown(t.Context(), tr, "scan", eventlog.DimensionDevice, 5)
		require.NoError(t, err)
		require.Equal(t, []eventlog.ShareRow{
			{Key: "d2", Count: 2, Percentage: "50.0"},
			{Key: "d1", Count: 1, Percentage: "25.0"},
			{Key: "d4", Count: 1, Percentage: "25.0"},
		}, rows)
	})

	t.Run("event type counts", func(t *testing.T) {
		t.Parallel()

		rows, err := engine.EventTypeCounts(t.Context(), tr, eventlog.Scope{})
		require.NoError(t, err)
		require.Equal(t, []eventlog.ShareRow{
			{Key: "scan", Count: 4, Percentage: "50.0"},
			{Key: "login", Count: 3, Percentage: "37.5"},
			{Key: "error", Count: 1, Percentage: "12.5"},
		}, rows)

		rows, err = engine.EventTypeCounts(t.Context(), tr, eventlog.Scope{DeviceID: "nope"})
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("event types are sorted", func(t *testing.T) {
		t.Parallel()

		types, err := engine.EventTypes(t.Context(), tr)
		require.NoError(t, err)
		require.Equal(t, []string{"error", "login", "scan"}, types)
	})

	t.Run("kpis", func(t *testing.T) {
		t.Parallel()

		kpis, err := engine.KPIs(t.Context(), tr, eventlog.Scope{})
		require.NoError(t, err)
		require.Equal(t, eventlog.KPIStats{
			TotalEvents:     8,
			EventsPerMinute: 0.01,
			UniqueDevices:   4,
			UniqueProfiles:  4,
			UniqueLocations: 2,
		}, kpis)
	})

	t.Run("overview", func(t *testing.T) {
		t.Parallel()

		overview, err := engine.Overview(t.Context(), tr, eventlog.Scope{LocationID: "L1"})
		require.NoError(t, err)
		require.Equal(t, int64(4), overview.KPIs.TotalEvents)
		require.Len(t, overview.EventTypes, 2)
		var sum int64
		for _, p := range overview.Volume {
			sum += p.Count
		}
		require.Equal(t, int64(4), sum)
	})
}

func TestAnalytics_Query_Stats(t *testing.T) {
	t.Parallel()

	engine := newFixtureEngine(t)
	tr := fixtureRange()

	t.Run("devices", func(t *testing.T) {
		t.Parallel()

		rows, err := engine.DeviceStats(t.Context(), tr, eventlog.Scope{})
		require.NoError(t, err)
		require.Len(t, rows, 4)
		require.Equal(t, "d1", rows[0].DeviceID)
		require.Equal(t, []string{"login", "scan"}, rows[0].TopTypes)
		require.Equal(t, "d2", rows[1].DeviceID)
		require.Equal(t, "d3", rows[2].DeviceID)
		require.Equal(t, "d4", rows[3].DeviceID)
	})

	t.Run("profiles", func(t *testing.T) {
		t.Parallel()

		rows, err := engine.ProfileStats(t.Context(), tr, eventlog.Scope{})
		require.NoError(t, err)
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ProfileID)
		}
		require.Equal(t, []string{"A", "C", "B", "D"}, ids)
	})

	t.Run("locations", func(t *testing.T) {
		t.Parallel()

		rows, err := engine.LocationStats(t.Context(), tr, eventlog.Scope{})
		require.NoError(t, err)
		require.Equal(t, []eventlog.LocationStats{
			{LocationID: "L1", EventCount: 4, DeviceCount: 3, ProfileCount: 3},
			{LocationID: "L2", EventCount: 3, DeviceCount: 2, ProfileCount: 3},
		}, rows)
	})

	t.Run("sparklines", func(t *testing.T) {
		t.Parallel()

		series, err := engine.LocationSparklines(t.Context(), tr, eventlog.Scope{})
		require.NoError(t, err)
		require.Equal(t, []eventlog.LocationSeries{
			{LocationID: "L1", Points: []eventlog.VolumeBucket{
				{Bucket: storetest.T0, Count: 3},
				{Bucket: storetest.T0.Add(3 * time.Hour), Count: 1},
			}},
			{LocationID: "L2", Points: []eventlog.VolumeBucket{
				{Bucket: storetest.T0.Add(time.Hour), Count: 1},
				{Bucket: storetest.T0.Add(2 * time.Hour), Count: 1},
				{Bucket: storetest.T0.Add(3 * time.Hour), Count: 1},
			}},
		}, series)
	})
}

func TestAnalytics_Query_Page(t *testing.T) {
	t.Parallel()

	engine := newFixtureEngine(t)
	tr := fixtureRange()

	page, err := engine.Page(t.Context(), tr, eventlog.Scope{}, 3, 3)
	require.NoError(t, err)
	require.Equal(t, int64(8), page.Total)
	require.Equal(t, []string{"e04", "e05", "e02"}, ids(page.Rows))

	page, err = engine.Page(t.Context(), tr, eventlog.Scope{}, 3, 30)
	require.NoError(t, err)
	require.Equal(t, int64(8), page.Total)
	require.NotNil(t, page.Rows)
	require.Empty(t, page.Rows)

	samples, err := engine.SamplePayloads(t.Context(), tr, "error", 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), samples.Total)
	code, ok := samples.Rows[0].Payload.String("code")
	require.True(t, ok)
	require.Equal(t, "E42", code)
}

func ids(rows []eventlog.EventRow) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestAnalytics_Query_InvalidArguments(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memstore.New(storetest.Fixture())}
	engine := newEngine(t, store)
	tr := fixtureRange()
	ctx := t.Context()

	_, err := engine.TopN(ctx, tr, eventlog.Scope{}, eventlog.DimensionDevice, 0)
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	_, err = engine.TopN(ctx, tr, eventlog.Scope{}, eventlog.Dimension("metro"), 5)
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	_, err = engine.DistinctCount(ctx, tr, eventlog.Scope{}, eventlog.Dimension("metro"))
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	_, err = engine.Page(ctx, tr, eventlog.Scope{}, 0, 0)
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	_, err = engine.Page(ctx, tr, eventlog.Scope{}, 10, -1)
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	_, err = engine.EventTypeBreakdown(ctx, tr, "scan", eventlog.DimensionDevice, -1)
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	_, err = engine.EventTypeTotal(ctx, tr, "")
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	reversed := tr
	reversed.Start, reversed.End = tr.End, tr.Start
	_, err = engine.TotalCount(ctx, reversed, eventlog.Scope{})
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	_, err = engine.VolumeSeries(ctx, tr.WithBucket(0), eventlog.Scope{}, false)
	require.ErrorIs(t, err, query.ErrInvalidArgument)

	require.Zero(t, store.calls.Load())
}

func TestAnalytics_Query_StoreUnavailable(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &failingStore{Store: memstore.New(nil), err: errBoom})
	tr := fixtureRange()
	ctx := t.Context()

	calls := map[string]func() error{
		"total": func() error { _, err := engine.TotalCount(ctx, tr, eventlog.Scope{}); return err },
		"rate":  func() error { _, err := engine.Rate(ctx, tr, eventlog.Scope{}); return err },
		"volume": func() error {
			_, err := engine.VolumeSeries(ctx, tr, eventlog.Scope{}, false)
			return err
		},
		"top": func() error {
			_, err := engine.TopN(ctx, tr, eventlog.Scope{}, eventlog.DimensionDevice, 5)
			return err
		},
		"page":      func() error { _, err := engine.Page(ctx, tr, eventlog.Scope{}, 5, 0); return err },
		"kpis":      func() error { _, err := engine.KPIs(ctx, tr, eventlog.Scope{}); return err },
		"devices":   func() error { _, err := engine.DeviceStats(ctx, tr, eventlog.Scope{}); return err },
		"profiles":  func() error { _, err := engine.ProfileStats(ctx, tr, eventlog.Scope{}); return err },
		"locations": func() error { _, err := engine.LocationStats(ctx, tr, eventlog.Scope{}); return err },
		"sparks":    func() error { _, err := engine.LocationSparklines(ctx, tr, eventlog.Scope{}); return err },
		"overview":  func() error { _, err := engine.Overview(ctx, tr, eventlog.Scope{}); return err },
	}
	for name, fn := range calls {
		err := fn()
		require.ErrorIs(t, err, query.ErrStoreUnavailable, name)
		require.ErrorIs(t, err, errBoom, name)

		var sue *query.StoreUnavailableError
		require.True(t, errors.As(err, &sue), name)
		require.NotEmpty(t, sue.Op, name)
	}
}

func TestAnalytics_Query_PartialFailureFailsKPIs(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memstore.New(storetest.Fixture()), err: errBoom, failOn: eventlog.DimensionProfile}
	engine := newEngine(t, store)

	kpis, err := engine.KPIs(t.Context(), fixtureRange(), eventlog.Scope{})
	require.ErrorIs(t, err, query.ErrStoreUnavailable)
	require.Equal(t, eventlog.KPIStats{}, kpis)
}

func TestAnalytics_Query_CancelledContext(t *testing.T) {
	t.Parallel()

	engine := newFixtureEngine(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := engine.TotalCount(ctx, fixtureRange(), eventlog.Scope{})
	require.ErrorIs(t, err, query.ErrStoreUnavailable)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnalytics_Query_Percent(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0.0", query.Percent(0, 0))
	require.Equal(t, "0.0", query.Percent(5, 0))
	require.Equal(t, "100.0", query.Percent(3, 3))
	require.Equal(t, "33.3", query.Percent(1, 3))
	require.Equal(t, "66.7", query.Percent(2, 3))
}
