package stream_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/memstore"
	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/storetest"
	"github.com/malbeclabs/eventdash/analytics/pkg/stream"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
	dashtesting "github.com/malbeclabs/eventdash/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// event n is n minutes old.
func event(n int, eventType, profile string) eventlog.Event {
	return storetest.NewEvent(fmt.Sprintf("ev%02d", n), now.Add(-time.Duration(n)*time.Minute), eventType, "d1", "L1", profile, `{}`)
}

type harness struct {
	clock *clockwork.FakeClock
	store *memstore.Store
	feed  *stream.Feed
}

func newHarness(t *testing.T, limit int, scope eventlog.Scope, events ...eventlog.Event) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	store := memstore.New(events)
	engine, err := query.NewEngine(query.EngineConfig{Logger: dashtesting.NewLogger(), Store: store, Clock: clock})
	require.NoError(t, err)
	feed, err := stream.NewFeed(stream.FeedConfig{
		Logger: dashtesting.NewLogger(),
		Pager:  engine,
		Clock:  clock,
		Range:  "1h",
		Scope:  scope,
		Limit:  limit,
	})
	require.NoError(t, err)
	return &harness{clock: clock, store: store, feed: feed}
}

func ids(rows []eventlog.EventRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestAnalytics_Stream_Feed_Config(t *testing.T) {
	t.Parallel()

	_, err := stream.NewFeed(stream.FeedConfig{})
	require.ErrorContains(t, err, "logger is required")

	_, err = stream.NewFeed(stream.FeedConfig{Logger: dashtesting.NewLogger()})
	require.ErrorContains(t, err, "pager is required")

	cfg := stream.FeedConfig{Logger: dashtesting.NewLogger(), Pager: failingPager{}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, stream.DefaultLimit, cfg.Limit)
	require.Equal(t, timerange.DefaultToken, cfg.Range)
	require.NotNil(t, cfg.Resolver)
}

func TestAnalytics_Stream_Feed_PollAndLoadMore(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3, eventlog.Scope{},
		event(5, "login", "A"), event(4, "scan", "B"), event(3, "login", "A"),
		event(2, "scan", "C"), event(1, "login", "B"),
	)
	ctx := t.Context()

	snap, err := h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ev01", "ev02", "ev03"}, ids(snap.Rows))
	require.Equal(t, 3, snap.Added)
	require.Equal(t, int64(5), snap.Total)

	snap, err = h.feed.LoadMore(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ev01", "ev02", "ev03", "ev04", "ev05"}, ids(snap.Rows))
	require.Equal(t, 2, snap.Added)

	snap, err = h.feed.LoadMore(ctx)
	require.NoError(t, err)
	require.Zero(t, snap.Added)
	require.Len(t, snap.Rows, 5)
}

func TestAnalytics_Stream_Feed_PollPrependsNewRows(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3, eventlog.Scope{}, event(30, "login", "A"), event(20, "scan", "B"))
	ctx := t.Context()

	snap, err := h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ev20", "ev30"}, ids(snap.Rows))

	snap, err = h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Zero(t, snap.Added, "rows already in the feed are not repeated")
	require.Len(t, snap.Rows, 2)

	h.store.Append(event(10, "scan", "C"), event(5, "login", "D"))
	snap, err = h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Added)
	require.Equal(t, []string{"ev05", "ev10", "ev20", "ev30"}, ids(snap.Rows))
	require.Equal(t, int64(4), snap.Total)

	snap, err = h.feed.LoadMore(ctx)
	require.NoError(t, err)
	require.Zero(t, snap.Added)
	require.Len(t, snap.Rows, 4)
}

func TestAnalytics_Stream_Feed_MissesOverflowBetweenPolls(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, eventlog.Scope{}, event(50, "login", "A"))
	ctx := t.Context()

	_, err := h.feed.Poll(ctx)
	require.NoError(t, err)

	h.store.Append(event(4, "scan", "A"), event(3, "scan", "A"), event(2, "scan", "A"))
	snap, err := h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ev02", "ev03", "ev50"}, ids(snap.Rows), "only the first page of new rows is merged")
	require.Equal(t, int64(4), snap.Total)
}

func TestAnalytics_Stream_Feed_Reset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, eventlog.Scope{},
		event(3, "login", "A"), event(2, "scan", "B"), event(1, "login", "B"),
	)
	ctx := t.Context()

	snap, err := h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Rows, 3)

	h.feed.Reset(eventlog.Scope{EventTypes: []string{"login"}})
	snap = h.feed.Snapshot()
	require.Empty(t, snap.Rows)
	require.Zero(t, snap.Total)

	snap, err = h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ev01", "ev03"}, ids(snap.Rows))

	h.feed.Reset(eventlog.Scope{ProfileID: "B"})
	snap, err = h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ev01", "ev02"}, ids(snap.Rows))
}

func TestAnalytics_Stream_Feed_WindowFollowsClock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, eventlog.Scope{}, event(59, "login", "A"))
	ctx := t.Context()

	h.clock.Advance(2 * time.Minute)
	snap, err := h.feed.Poll(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Rows, "the range is resolved again on every poll")
}

type failingPager struct{}

func (failingPager) Page(context.Context, timerange.TimeRange, eventlog.Scope, int, int) (eventlog.PaginatedEvents, error) {
	return eventlog.PaginatedEvents{}, errors.New("store down")
}

func TestAnalytics_Stream_Feed_PollError(t *testing.T) {
	t.Parallel()

	feed, err := stream.NewFeed(stream.FeedConfig{Logger: dashtesting.NewLogger(), Pager: failingPager{}})
	require.NoError(t, err)

	_, err = feed.Poll(t.Context())
	require.ErrorContains(t, err, "store down")
	_, err = feed.LoadMore(t.Context())
	require.ErrorContains(t, err, "store down")
}

func TestAnalytics_Stream_Feed_Run(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10, eventlog.Scope{}, event(3, "login", "A"))
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	updates := make(chan stream.Snapshot, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.feed.Run(ctx, time.Second, func(s stream.Snapshot) { updates <- s })
	}()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Second)

	select {
	case snap := <-updates:
		require.Equal(t, []string{"ev03"}, ids(snap.Rows))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first poll")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}
