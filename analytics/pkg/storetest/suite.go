package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/stretchr/testify/require"
)

// NewStoreFunc builds a store holding exactly the given events.
type NewStoreFunc func(t *testing.T, events []eventlog.Event) eventlog.Store

// Run builds one store from Fixture and checks every Store method against it.
func Run(t *testing.T, newStore NewStoreFunc) {
	store := newStore(t, Fixture())
	w := Window()
	q := func(scope eventlog.Scope) eventlog.Query {
		return eventlog.Query{Window: w, Scope: scope}
	}

	t.Run("count honors the half-open window", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		n, err := store.Count(ctx, q(eventlog.Scope{}))
		require.NoError(t, err)
		require.Equal(t, int64(8), n)

		// A window ending exactly at e07 excludes it; one starting at e08 includes it.
		n, err = store.Count(ctx, eventlog.Query{Window: eventlog.Window{Start: T0.Add(-time.Hour), End: T0.Add(-time.Second)}})
		require.NoError(t, err)
		require.Equal(t, int64(0), n)

		n, err = store.Count(ctx, eventlog.Query{Window: eventlog.Window{Start: T0.Add(24 * time.Hour), End: T0.Add(25 * time.Hour)}})
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		n, err = store.Count(ctx, eventlog.Query{Window: eventlog.Window{Start: T0, End: T0}})
		require.NoError(t, err)
		require.Equal(t, int64(0), n)
	})

	t.Run("count keeps sub-millisecond bounds", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		mid := T0.Add(time.Minute + 500*time.Microsecond)

		// e02 and e03 sit at T0+1m, half a millisecond before mid.
		n, err := store.Count(ctx, eventlog.Query{Window: eventlog.Window{Start: mid, End: T0.Add(2 * time.Hour)}})
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		n, err = store.Count(ctx, eventlog.Query{Window: eventlog.Window{Start: T0, End: mid}})
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
	})

	t.Run("count applies scope with AND semantics", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		tests := []struct {
			name  string
			scope eventlog.Scope
			want  int64
		}{
			{name: "primary, list and shadowed list", scope: eventlog.Scope{ProfileID: "A"}, want: 3},
			{name: "list only", scope: eventlog.Scope{ProfileID: "C"}, want: 2},
			{name: "payload profile id", scope: eventlog.Scope{ProfileID: "B"}, want: 1},
			{name: "payload id beats list", scope: eventlog.Scope{ProfileID: "D"}, want: 1},
			{name: "list shadowed by payload id", scope: eventlog.Scope{ProfileID: "E"}, want: 0},
			{name: "list shadowed by primary", scope: eventlog.Scope{ProfileID: "F"}, want: 0},
			{name: "numeric profile id is absent", scope: eventlog.Scope{ProfileID: "5"}, want: 0},
			{name: "device and type", scope: eventlog.Scope{DeviceID: "d1", EventTypes: []string{"scan"}}, want: 1},
			{name: "location and profile", scope: eventlog.Scope{LocationID: "L1", ProfileID: "A"}, want: 2},
			{name: "several types", scope: eventlog.Scope{EventTypes: []string{"login", "error"}}, want: 4},
			{name: "empty type list is no filter", scope: eventlog.Scope{EventTypes: []string{}}, want: 8},
			{name: "unknown type", scope: eventlog.Scope{EventTypes: []string{"nope"}}, want: 0},
			{name: "unknown device", scope: eventlog.Scope{DeviceID: "nope"}, want: 0},
		}
		for _, tt := range tests {
			n, err := store.Count(ctx, q(tt.scope))
			require.NoError(t, err, tt.name)
			require.Equal(t, tt.want, n, tt.name)
		}
	})

	t.Run("count distinct", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		for dim, want := range map[eventlog.Dimension]int64{
			eventlog.DimensionDevice:    4,
			eventlog.DimensionLocation:  2,
			eventlog.DimensionProfile:   4,
			eventlog.DimensionEventType: 3,
		} {
			n, err := store.CountDistinct(ctx, q(eventlog.Scope{}), dim)
			require.NoError(t, err, dim)
			require.Equal(t, want, n, dim)
		}

		n, err := store.CountDistinct(ctx, q(eventlog.Scope{LocationID: "L1"}), eventlog.DimensionProfile)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
	})

	t.Run("volume is sparse and epoch aligned", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		series, err := store.Volume(ctx, q(eventlog.Scope{}), time.Hour, false)
		require.NoError(t, err)
		require.ElementsMatch(t, []eventlog.VolumeBucket{
			{Bucket: T0, Count: 3},
			{Bucket: T0.Add(time.Hour), Count: 2},
			{Bucket: T0.Add(2 * time.Hour), Count: 1},
			{Bucket: T0.Add(3 * time.Hour), Count: 2},
		}, utc(series))

		series, err = store.Volume(ctx, q(eventlog.Scope{}), time.Hour, true)
		require.NoError(t, err)
		require.ElementsMatch(t, []eventlog.VolumeBucket{
			{Bucket: T0, EventType: "login", Count: 2},
			{Bucket: T0, EventType: "scan", Count: 1},
			{Bucket: T0.Add(time.Hour), EventType: "error", Count: 1},
			{Bucket: T0.Add(time.Hour), EventType: "scan", Count: 1},
			{Bucket: T0.Add(2 * time.Hour), EventType: "login", Count: 1},
			{Bucket: T0.Add(3 * time.Hour), EventType: "scan", Count: 2},
		}, utc(series))

		series, err = store.Volume(ctx, q(eventlog.Scope{ProfileID: "A"}), 5*time.Minute, false)
		require.NoError(t, err)
		require.ElementsMatch(t, []eventlog.VolumeBucket{
			{Bucket: T0, Count: 2},
			{Bucket: T0.Add(3 * time.Hour), Count: 1},
		}, utc(series))
	})

	t.Run("top orders by count then key", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		rows, err := store.Top(ctx, q(eventlog.Scope{}), eventlog.DimensionProfile, 0)
		require.NoError(t, err)
		require.Equal(t, []eventlog.TopNRow{{Key: "A", Count: 3}, {Key: "C", Count: 2}, {Key: "B", Count: 1}, {Key: "D", Count: 1}}, rows)

		rows, err = store.Top(ctx, q(eventlog.Scope{}), eventlog.DimensionDevice, 3)
		require.NoError(t, err)
		require.Equal(t, []eventlog.TopNRow{{Key: "d1", Count: 3}, {Key: "d2", Count: 2}, {Key: "d3", Count: 1}}, rows)

		rows, err = store.Top(ctx, q(eventlog.Scope{}), eventlog.DimensionEventType, 0)
		require.NoError(t, err)
		require.Equal(t, []eventlog.TopNRow{{Key: "scan", Count: 4}, {Key: "login", Count: 3}, {Key: "error", Count: 1}}, rows)

		rows, err = store.Top(ctx, q(eventlog.Scope{}), eventlog.DimensionLocation, 10)
		require.NoError(t, err)
		require.Equal(t, []eventlog.TopNRow{{Key: "L1", Count: 4}, {Key: "L2", Count: 3}}, rows)

		rows, err = store.Top(ctx, q(eventlog.Scope{EventTypes: []string{"nope"}}), eventlog.DimensionDevice, 10)
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("events page newest first with id tiebreak", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		var ids []string
		for offset := 0; offset < 12; offset += 3 {
			rows, err := store.Events(ctx, q(eventlog.Scope{}), 3, offset)
			require.NoError(t, err)
			require.LessOrEqual(t, len(rows), 3)
			for _, r := range rows {
				ids = append(ids, r.ID)
			}
		}
		require.Equal(t, []string{"e09", "e10", "e06", "e04", "e05", "e02", "e03", "e01"}, ids)

		rows, err := store.Events(ctx, q(eventlog.Scope{}), 3, 100)
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("events round trip columns and payload", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		rows, err := store.Events(ctx, q(eventlog.Scope{EventTypes: []string{"error"}}), 10, 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)

		e := rows[0]
		require.Equal(t, "e05", e.ID)
		require.True(t, e.CreatedAt.Equal(T0.Add(61*time.Minute)))
		require.Equal(t, "error", e.EventType)
		dev, ok := eventlog.Ref(e.DeviceID)
		require.True(t, ok)
		require.Equal(t, "d3", dev)
		_, ok = eventlog.Ref(e.LocationID)
		require.False(t, ok)
		_, ok = eventlog.Ref(e.PrimaryProfileID)
		require.False(t, ok)
		require.Equal(t, eventlog.Payload{"profile_id": float64(5), "code": "E42"}, e.Payload)

		rows, err = store.Events(ctx, q(eventlog.Scope{ProfileID: "C"}), 10, 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, "e04", rows[0].ID)
		require.Equal(t, "e03", rows[1].ID)
		ids, ok := rows[1].Payload.StringSlice("profile_ids_present")
		require.True(t, ok)
		require.Equal(t, []string{"A", "C"}, ids)
	})

	t.Run("device stats", func(t *testing.T) {
		t.Parallel()

		rows, err := store.DeviceStats(t.Context(), q(eventlog.Scope{}))
		require.NoError(t, err)
		byID := make(map[string]eventlog.DeviceStats)
		for _, r := range rows {
			byID[r.DeviceID] = r
		}
		require.Len(t, byID, 4)

		d1 := byID["d1"]
		require.Equal(t, int64(3), d1.EventCount)
		require.True(t, d1.LastEvent.Equal(T0.Add(3*time.Hour)))
		require.Equal(t, map[string]int64{"login": 2, "scan": 1}, d1.TypeCounts)

		d2 := byID["d2"]
		require.Equal(t, int64(2), d2.EventCount)
		require.True(t, d2.LastEvent.Equal(T0.Add(61*time.Minute)))
		require.Equal(t, map[string]int64{"scan": 2}, d2.TypeCounts)

		require.Equal(t, map[string]int64{"error": 1}, byID["d3"].TypeCounts)
		require.Equal(t, map[string]int64{"scan": 1}, byID["d4"].TypeCounts)
	})

	t.Run("profile stats fan out", func(t *testing.T) {
		t.Parallel()

		rows, err := store.ProfileStats(t.Context(), q(eventlog.Scope{}))
		require.NoError(t, err)
		for i := range rows {
			rows[i].LastActive = rows[i].LastActive.UTC()
		}
		require.ElementsMatch(t, []eventlog.ProfileStats{
			{ProfileID: "A", EventCount: 3, DeviceCount: 2, LocationCount: 2, LastActive: T0.Add(3 * time.Hour)},
			{ProfileID: "C", EventCount: 2, DeviceCount: 1, LocationCount: 2, LastActive: T0.Add(61 * time.Minute)},
			{ProfileID: "B", EventCount: 1, DeviceCount: 1, LocationCount: 1, LastActive: T0.Add(time.Minute)},
			{ProfileID: "D", EventCount: 1, DeviceCount: 0, LocationCount: 1, LastActive: T0.Add(2 * time.Hour)},
		}, rows)
	})

	t.Run("location stats", func(t *testing.T) {
		t.Parallel()

		rows, err := store.LocationStats(t.Context(), q(eventlog.Scope{}))
		require.NoError(t, err)
		require.ElementsMatch(t, []eventlog.LocationStats{
			{LocationID: "L1", EventCount: 4, DeviceCount: 3, ProfileCount: 3},
			{LocationID: "L2", EventCount: 3, DeviceCount: 2, ProfileCount: 3},
		}, rows)
	})

	t.Run("location volume", func(t *testing.T) {
		t.Parallel()

		points, err := store.LocationVolume(t.Context(), q(eventlog.Scope{}), time.Hour)
		require.NoError(t, err)
		for i := range points {
			points[i].Bucket = points[i].Bucket.UTC()
		}
		require.ElementsMatch(t, []eventlog.LocationBucket{
			{LocationID: "L1", Bucket: T0, Count: 3},
			{LocationID: "L1", Bucket: T0.Add(3 * time.Hour), Count: 1},
			{LocationID: "L2", Bucket: T0.Add(time.Hour), Count: 1},
			{LocationID: "L2", Bucket: T0.Add(2 * time.Hour), Count: 1},
			{LocationID: "L2", Bucket: T0.Add(3 * time.Hour), Count: 1},
		}, points)
	})

	t.Run("cancelled context fails", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := store.Count(ctx, q(eventlog.Scope{}))
		require.Error(t, err)
	})
}

func utc(series []eventlog.VolumeBucket) []eventlog.VolumeBucket {
	out := make([]eventlog.VolumeBucket, len(series))
	for i, p := range series {
		p.Bucket = p.Bucket.UTC()
		out[i] = p
	}
	return out
}
