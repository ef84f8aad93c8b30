package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/memstore"
	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"github.com/malbeclabs/eventdash/analytics/pkg/storetest"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
	"github.com/malbeclabs/eventdash/api/handlers"
	dashtesting "github.com/malbeclabs/eventdash/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

// testSource is an in-memory reference source. d3, d4, D and L2 are deliberately
// unknown.
type testSource struct {
	fail atomic.Bool
}

var (
	testDevices = map[string]refdata.Device{
		"d1": {ID: "d1", Name: "Front Door", Type: "reader", LocationID: "L1", LocationName: "HQ"},
		"d2": {ID: "d2", Name: "Turnstile", Type: "gate", LocationID: "L1", LocationName: "HQ"},
	}
	testProfiles = map[string]refdata.Profile{
		"A": {ID: "A", DisplayName: "Alice"},
		"B": {ID: "B", DisplayName: "Bob"},
		"C": {ID: "C"},
	}
	testLocations = map[string]refdata.Location{
		"L1": {ID: "L1", Name: "HQ"},
	}
)

var errSourceDown = errors.New("main database unavailable")

func get[T any](s *testSource, kind string, m map[string]T, id string) (T, error) {
	var zero T
	if s.fail.Load() {
		return zero, errSourceDown
	}
	v, ok := m[id]
	if !ok {
		return zero, fmt.Errorf("%s %s: %w", kind, id, refdata.ErrNotFound)
	}
	return v, nil
}

func values[T any](s *testSource, m map[string]T) ([]T, error) {
	if s.fail.Load() {
		return nil, errSourceDown
	}
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out, nil
}

func (s *testSource) Device(_ context.Context, id string) (refdata.Device, error) {
	return get(s, "device", testDevices, id)
}

func (s *testSource) Profile(_ context.Context, id string) (refdata.Profile, error) {
	return get(s, "profile", testProfiles, id)
}

func (s *testSource) Location(_ context.Context, id string) (refdata.Location, error) {
	return get(s, "location", testLocations, id)
}

func (s *testSource) Devices(context.Context) ([]refdata.Device, error) {
	return values(s, testDevices)
}

func (s *testSource) Profiles(context.Context) ([]refdata.Profile, error) {
	return values(s, testProfiles)
}

func (s *testSource) Locations(context.Context) ([]refdata.Location, error) {
	return values(s, testLocations)
}

func (s *testSource) LocationDeviceCounts(context.Context) ([]refdata.LocationCount, error) {
	if s.fail.Load() {
		return nil, errSourceDown
	}
	return []refdata.LocationCount{{LocationID: "L1", Count: 2}}, nil
}

func (s *testSource) LocationProfileCounts(context.Context) ([]refdata.LocationCount, error) {
	if s.fail.Load() {
		return nil, errSourceDown
	}
	return []refdata.LocationCount{{LocationID: "L1", Count: 2}}, nil
}

func (s *testSource) LocationProfiles(_ context.Context, locationID string) ([]refdata.Profile, error) {
	if s.fail.Load() {
		return nil, errSourceDown
	}
	if locationID != "L1" {
		return []refdata.Profile{}, nil
	}
	return []refdata.Profile{testProfiles["A"], testProfiles["B"]}, nil
}

// downStore fails every call like an unreachable database.
type downStore struct{}

var errStoreDown = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

func (downStore) Count(context.Context, eventlog.Query) (int64, error) { return 0, errStoreDown }
func (downStore) CountDistinct(context.Context, eventlog.Query, eventlog.Dimension) (int64, error) {
	return 0, errStoreDown
}
func (downStore) Volume(context.Context, eventlog.Query, time.Duration, bool) ([]eventlog.VolumeBucket, error) {
	return nil, errStoreDown
}
func (downStore) Top(context.Context, eventlog.Query, eventlog.Dimension, int) ([]eventlog.TopNRow, error) {
	return nil, errStoreDown
}
func (downStore) Events(context.Context, eventlog.Query, int, int) ([]eventlog.Event, error) {
	return nil, errStoreDown
}
func (downStore) DeviceStats(context.Context, eventlog.Query) ([]eventlog.DeviceStats, error) {
	return nil, errStoreDown
}
func (downStore) ProfileStats(context.Context, eventlog.Query) ([]eventlog.ProfileStats, error) {
	return nil, errStoreDown
}
func (downStore) LocationStats(context.Context, eventlog.Query) ([]eventlog.LocationStats, error) {
	return nil, errStoreDown
}
func (downStore) LocationVolume(context.Context, eventlog.Query, time.Duration) ([]eventlog.LocationBucket, error) {
	return nil, errStoreDown
}

type testServer struct {
	router http.Handler
	source *testSource
}

// newTestServer serves the fixture events with the clock at the end of the fixture
// window, so range=24h covers exactly storetest.Window().
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithStore(t, memstore.New(storetest.Fixture()))
}

func newTestServerWithStore(t *testing.T, store eventlog.Store) *testServer {
	t.Helper()
	log := dashtesting.NewLogger()
	clock := clockwork.NewFakeClockAt(storetest.Window().End)

	source := &testSource{}
	dir, err := refdata.NewDirectory(refdata.DirectoryConfig{Logger: log, Source: source, Clock: clock})
	require.NoError(t, err)
	engine, err := query.NewEngine(query.EngineConfig{Logger: log, Store: store, Clock: clock})
	require.NoError(t, err)
	api, err := handlers.New(handlers.Config{
		Logger:    log,
		Engine:    engine,
		Directory: dir,
		Resolver:  timerange.NewResolver(clock),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	api.Routes(r)
	return &testServer{router: r, source: source}
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// getJSON requests path, requires a 200 and decodes the body into T.
func getJSON[T any](t *testing.T, s *testServer, path string) T {
	t.Helper()
	rec := s.get(t, path)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func eventIDs(items []refdata.AnnotatedEvent) []string {
	ids := make([]string, len(items))
	for i, e := range items {
		ids[i] = e.ID
	}
	return ids
}
