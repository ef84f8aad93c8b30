package query_test

import (
	"context"
	"errors"
	"sync/atomic"
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

// fixtureRange covers storetest.Window() with hourly buckets.
func fixtureRange() timerange.TimeRange {
	w := storetest.Window()
	return timerange.TimeRange{Token: "24h", Start: w.Start, End: w.End, Bucket: time.Hour, Label: "Last 24 hours"}
}

func newEngine(t *testing.T, store eventlog.Store) *query.Engine {
	t.Helper()
	engine, err := query.NewEngine(query.EngineConfig{
		Logger: dashtesting.NewLogger(),
		Store:  store,
		Clock:  clockwork.NewFakeClockAt(storetest.T0),
	})
	require.NoError(t, err)
	return engine
}

func newFixtureEngine(t *testing.T) *query.Engine {
	return newEngine(t, memstore.New(storetest.Fixture()))
}

// countingStore records how many store calls were made.
type countingStore struct {
	eventlog.Store
	calls atomic.Int64
}

func (s *countingStore) Count(ctx context.Context, q eventlog.Query) (int64, error) {
	s.calls.Add(1)
	return s.Store.Count(ctx, q)
}

func (s *countingStore) CountDistinct(ctx context.Context, q eventlog.Query, dim eventlog.Dimension) (int64, error) {
	s.calls.Add(1)
	return s.Store.CountDistinct(ctx, q, dim)
}

func (s *countingStore) Volume(ctx context.Context, q eventlog.Query, width time.Duration, split bool) ([]eventlog.VolumeBucket, error) {
	s.calls.Add(1)
	return s.Store.Volume(ctx, q, width, split)
}

func (s *countingStore) Top(ctx context.Context, q eventlog.Query, dim eventlog.Dimension, n int) ([]eventlog.TopNRow, error) {
	s.calls.Add(1)
	return s.Store.Top(ctx, q, dim, n)
}

func (s *countingStore) Events(ctx context.Context, q eventlog.Query, limit, offset int) ([]eventlog.Event, error) {
	s.calls.Add(1)
	return s.Store.Events(ctx, q, limit, offset)
}

// failingStore fails every call with err. Only failOn ops fail when it is set.
type failingStore struct {
	eventlog.Store
	err    error
	failOn eventlog.Dimension
}

func (s *failingStore) Count(ctx context.Context, q eventlog.Query) (int64, error) {
	if s.failOn == "" {
		return 0, s.err
	}
	return s.Store.Count(ctx, q)
}

func (s *failingStore) CountDistinct(ctx context.Context, q eventlog.Query, dim eventlog.Dimension) (int64, error) {
	if s.failOn == "" || s.failOn == dim {
		return 0, s.err
	}
	return s.Store.CountDistinct(ctx, q, dim)
}

func (s *failingStore) Volume(context.Context, eventlog.Query, time.Duration, bool) ([]eventlog.VolumeBucket, error) {
	return nil, s.err
}

func (s *failingStore) Top(context.Context, eventlog.Query, eventlog.Dimension, int) ([]eventlog.TopNRow, error) {
	return nil, s.err
}

func (s *failingStore) Events(context.Context, eventlog.Query, int, int) ([]eventlog.Event, error) {
	return nil, s.err
}

func (s *failingStore) DeviceStats(context.Context, eventlog.Query) ([]eventlog.DeviceStats, error) {
	return nil, s.err
}

func (s *failingStore) ProfileStats(context.Context, eventlog.Query) ([]eventlog.ProfileStats, error) {
	return nil, s.err
}

func (s *failingStore) LocationStats(context.Context, eventlog.Query) ([]eventlog.LocationStats, error) {
	return nil, s.err
}

func (s *failingStore) LocationVolume(context.Context, eventlog.Query, time.Duration) ([]eventlog.LocationBucket, error) {
	return nil, s.err
}

var errBoom = errors.New("connection refused")
