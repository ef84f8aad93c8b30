package admin_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/eventdash/admin/internal/admin"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/memstore"
	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"github.com/malbeclabs/eventdash/analytics/pkg/storetest"
	"github.com/malbeclabs/eventdash/analytics/pkg/stream"
	dashtesting "github.com/malbeclabs/eventdash/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// idAnnotator names everything after its id.
type idAnnotator struct{}

func (idAnnotator) Annotate(_ context.Context, rows []eventlog.EventRow) []refdata.AnnotatedEvent {
	out := make([]refdata.AnnotatedEvent, len(rows))
	for i, r := range rows {
		device, _ := eventlog.Ref(r.DeviceID)
		location, _ := eventlog.Ref(r.LocationID)
		out[i] = refdata.AnnotatedEvent{EventRow: r, DeviceName: device, LocationName: location}
	}
	return out
}

func TestAdmin_Tail_Config_Validate(t *testing.T) {
	t.Parallel()

	err := admin.Tail(t.Context(), admin.TailConfig{})
	require.ErrorContains(t, err, "logger is required")
}

func TestAdmin_Tail_PrintsBacklogThenNewEvents(t *testing.T) {
	t.Parallel()

	log := dashtesting.NewLogger()
	clock := clockwork.NewFakeClockAt(storetest.Window().End)
	store := memstore.New(storetest.Fixture())
	engine, err := query.NewEngine(query.EngineConfig{Logger: log, Store: store, Clock: clock})
	require.NoError(t, err)
	feed, err := stream.NewFeed(stream.FeedConfig{Logger: log, Pager: engine, Clock: clock, Scope: eventlog.Scope{DeviceID: "d1"}})
	require.NoError(t, err)

	out := &lockedBuffer{}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- admin.Tail(ctx, admin.TailConfig{
			Logger:    log,
			Feed:      feed,
			Annotator: idAnnotator{},
			Out:       out,
			Interval:  time.Second,
		})
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	lines := out.lines()
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "\te01\t")
	require.Contains(t, lines[1], "\te02\t")
	require.Contains(t, lines[2], "\te09\t")

	store.Append(storetest.NewEvent("e11", storetest.T0.Add(23*time.Hour), "scan", "d1", "L1", "B", `{}`))
	clock.Advance(time.Second)

	// The window slides with the clock, so e08 at T0+24h enters alongside e11.
	require.Eventually(t, func() bool { return len(out.lines()) == 5 }, 5*time.Second, 10*time.Millisecond)
	lines = out.lines()
	require.Contains(t, lines[3], "\te11\t")
	require.Contains(t, lines[4], "\te08\t")

	cancel()
	require.NoError(t, <-done)
}

func TestAdmin_FormatEvent(t *testing.T) {
	t.Parallel()

	e := refdata.AnnotatedEvent{
		EventRow:     storetest.NewEvent("e03", storetest.T0.Add(time.Minute), "scan", "d2", "L1", "", `{}`),
		DeviceName:   "Turnstile",
		LocationName: "HQ",
		ProfileNames: []string{"Alice", "C"},
	}
	require.Equal(t, "2024-06-01T00:01:00Z\te03\tscan\tdevice=Turnstile\tlocation=HQ\tprofiles=Alice,C", admin.FormatEvent(e))

	e.ProfileNames = nil
	require.True(t, strings.HasSuffix(admin.FormatEvent(e), "\tprofiles=-"))
}
