// Package stream keeps a newest-first window of events up to date by polling the
// first page and merging by event id.
//
// Polling only looks at the first page, so if more than Limit matching events arrive
// between two polls the overflow is never shown.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
)

const (
	DefaultLimit        = 50
	DefaultPollInterval = 5 * time.Second
)

// Pager is satisfied by *query.Engine.
type Pager interface {
	Page(ctx context.Context, tr timerange.TimeRange, scope eventlog.Scope, limit, offset int) (eventlog.PaginatedEvents, error)
}

type FeedConfig struct {
	Logger   *slog.Logger
	Pager    Pager
	Resolver *timerange.Resolver
	Clock    clockwork.Clock
	// Range is the range token resolved on every request.
	Range string
	Scope eventlog.Scope
	Limit int
}

func (cfg *FeedConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pager == nil {
		return errors.New("pager is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = timerange.NewResolver(cfg.Clock)
	}
	if cfg.Range == "" {
		cfg.Range = timerange.DefaultToken
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return nil
}

// Snapshot is the feed state after an update. Added counts rows that were not in
// the feed before the update.
type Snapshot struct {
	Rows  []eventlog.EventRow `json:"rows"`
	Total int64               `json:"total"`
	Added int                 `json:"added"`
}

// Feed is safe for concurrent use.
type Feed struct {
	log *slog.Logger
	cfg FeedConfig

	mu     sync.Mutex
	gen    uint64
	scope  eventlog.Scope
	rows   []eventlog.EventRow
	seen   map[string]struct{}
	offset int
	total  int64
}

func NewFeed(cfg FeedConfig) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Feed{
		log:   cfg.Logger,
		cfg:   cfg,
		scope: cfg.Scope,
		seen:  make(map[string]struct{}),
	}, nil
}

func (f *Feed) page(ctx context.Context, scope eventlog.Scope, offset int) (eventlog.PaginatedEvents, error) {
	tr := f.cfg.Resolver.Resolve(f.cfg.Range)
	return f.cfg.Pager.Page(ctx, tr, scope, f.cfg.Limit, offset)
}

// Poll fetches the first page and prepends rows whose id is not in the feed yet.
func (f *Feed) Poll(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	scope, gen := f.scope, f.gen
	f.mu.Unlock()

	res, err := f.page(ctx, scope, 0)
	if err != nil {
		return Snapshot{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		// Reset raced with this poll.
		return f.snapshot(0), nil
	}
	fresh := f.unseen(res.Rows)
	f.rows = append(fresh, f.rows...)
	f.offset += len(fresh)
	f.total = res.Total
	return f.snapshot(len(fresh)), nil
}

// LoadMore appends the page following the rows already loaded.
func (f *Feed) LoadMore(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	scope, offset, gen := f.scope, f.offset, f.gen
	f.mu.Unlock()

	res, err := f.page(ctx, scope, offset)
	if err != nil {
		return Snapshot{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return f.snapshot(0), nil
	}
	older := f.unseen(res.Rows)
	f.rows = append(f.rows, older...)
	f.offset += len(res.Rows)
	f.total = res.Total
	return f.snapshot(len(older)), nil
}

// Reset drops every loaded row and switches the feed to scope.
func (f *Feed) Reset(scope eventlog.Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.scope = scope
	f.rows = nil
	f.seen = make(map[string]struct{})
	f.offset = 0
	f.total = 0
}

func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(0)
}

// Run polls every interval until ctx is done, calling onUpdate after each poll that
// added rows. Poll errors are logged and the next tick retries.
func (f *Feed) Run(ctx context.Context, interval time.Duration, onUpdate func(Snapshot)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := f.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			snap, err := f.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.log.Warn("stream: poll failed", "error", err)
				continue
			}
			if snap.Added > 0 && onUpdate != nil {
				onUpdate(snap)
			}
		}
	}
}

func (f *Feed) unseen(rows []eventlog.EventRow) []eventlog.EventRow {
	out := make([]eventlog.EventRow, 0, len(rows))
	for _, r := range rows {
		if _, ok := f.seen[r.ID]; ok {
			continue
		}
		f.seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (f *Feed) snapshot(added int) Snapshot {
	rows := make([]eventlog.EventRow, len(f.rows))
	copy(rows, f.rows)
	return Snapshot{Rows: rows, Total: f.total, Added: added}
}
