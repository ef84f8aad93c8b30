package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"github.com/malbeclabs/eventdash/analytics/pkg/stream"
)

// Annotator is satisfied by *refdata.Joiner.
type Annotator interface {
	Annotate(ctx context.Context, rows []eventlog.EventRow) []refdata.AnnotatedEvent
}

type TailConfig struct {
	Logger    *slog.Logger
	Feed      *stream.Feed
	Annotator Annotator
	Out       io.Writer
	Interval  time.Duration
}

func (cfg *TailConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Feed == nil {
		return errors.New("feed is required")
	}
	if cfg.Annotator == nil {
		return errors.New("annotator is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = stream.DefaultPollInterval
	}
	return nil
}

// Tail prints the current first page of the feed, then every newly seen event, one
// line per event in chronological order. It returns nil when ctx is cancelled.
func Tail(ctx context.Context, cfg TailConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var mu sync.Mutex
	emit := func(rows []eventlog.EventRow) {
		mu.Lock()
		defer mu.Unlock()
		annotated := cfg.Annotator.Annotate(ctx, rows)
		for i := len(annotated) - 1; i >= 0; i-- {
			if _, err := fmt.Fprintln(cfg.Out, FormatEvent(annotated[i])); err != nil {
				cfg.Logger.Warn("admin: failed to write event", "error", err)
				return
			}
		}
	}

	snap, err := cfg.Feed.Poll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load initial page: %w", err)
	}
	cfg.Logger.Info("admin: tailing events", "total", snap.Total, "interval", cfg.Interval)
	emit(snap.Rows)

	err = cfg.Feed.Run(ctx, cfg.Interval, func(s stream.Snapshot) {
		emit(s.Rows[:s.Added])
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// FormatEvent renders one event as a tab separated line.
func FormatEvent(e refdata.AnnotatedEvent) string {
	profiles := "-"
	if len(e.ProfileNames) > 0 {
		profiles = strings.Join(e.ProfileNames, ",")
	}
	return strings.Join([]string{
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.ID,
		e.EventType,
		"device=" + e.DeviceName,
		"location=" + e.LocationName,
		"profiles=" + profiles,
	}, "\t")
}
