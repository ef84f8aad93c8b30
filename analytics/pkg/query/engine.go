// Package query is the event aggregation engine. It turns a time range and a scope into
// counts, sparse time series, top-N breakdowns and paginated rows over any
// eventlog.Store, and applies the ordering, rounding and error rules shared by every
// backend.
package query

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/metrics"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
)

type EngineConfig struct {
	Logger *slog.Logger
	Store  eventlog.Store
	Clock  clockwork.Clock
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine is safe for concurrent use. It holds no state besides its configuration.
type Engine struct {
	log   *slog.Logger
	cfg   EngineConfig
	store eventlog.Store
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log:   cfg.Logger,
		cfg:   cfg,
		store: cfg.Store,
	}, nil
}

func (e *Engine) Store() eventlog.Store {
	return e.store
}

// call runs one store operation with timing, metrics and error classification.
func call[T any](ctx context.Context, e *Engine, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := e.cfg.Clock.Now()
	v, err := fn(ctx)
	elapsed := e.cfg.Clock.Since(start)
	metrics.QueryDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		metrics.QueryErrorsTotal.WithLabelValues(op).Inc()
		e.log.Warn("query: store query failed", "op", op, "duration", elapsed, "error", err)
		var zero T
		return zero, &StoreUnavailableError{Op: op, Err: err}
	}
	e.log.Debug("query: store query", "op", op, "duration", elapsed)
	return v, nil
}

func newQuery(tr timerange.TimeRange, scope eventlog.Scope) (eventlog.Query, error) {
	if tr.End.Before(tr.Start) {
		return eventlog.Query{}, invalidArgument("window end %s is before start %s", tr.End, tr.Start)
	}
	return eventlog.Query{
		Window: eventlog.Window{Start: tr.Start.UTC(), End: tr.End.UTC()},
		Scope:  scope,
	}, nil
}
