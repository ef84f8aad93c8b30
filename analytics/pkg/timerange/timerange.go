// Package timerange maps user-facing range tokens ("1h", "24h", "7d", ...) to absolute
// windows and aggregation bucket widths.
//
// Windows are half-open: an event belongs to a range when Start <= createdAt < End.
// Buckets are aligned to the Unix epoch in UTC so that every backend groups identical
// timestamps under identical keys.
package timerange

import (
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultToken = "24h"

type spec struct {
	token    string
	duration time.Duration
	bucket   time.Duration
	label    string
}

// Ordered smallest to largest; Options preserves this order.
var specs = []spec{
	{token: "1h", duration: time.Hour, bucket: time.Minute, label: "Last hour"},
	{token: "6h", duration: 6 * time.Hour, bucket: 5 * time.Minute, label: "Last 6 hours"},
	{token: "24h", duration: 24 * time.Hour, bucket: time.Hour, label: "Last 24 hours"},
	{token: "7d", duration: 7 * 24 * time.Hour, bucket: 6 * time.Hour, label: "Last 7 days"},
	{token: "30d", duration: 30 * 24 * time.Hour, bucket: 24 * time.Hour, label: "Last 30 days"},
}

func lookup(token string) spec {
	for _, s := range specs {
		if s.token == token {
			return s
		}
	}
	for _, s := range specs {
		if s.token == DefaultToken {
			return s
		}
	}
	panic("timerange: default token missing")
}

// TimeRange is an absolute window plus the bucket width used to aggregate it.
type TimeRange struct {
	Token  string
	Start  time.Time
	End    time.Time
	Bucket time.Duration
	Label  string
}

// Duration returns End - Start.
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Minutes returns the window length in minutes, never less than 1.
func (tr TimeRange) Minutes() float64 {
	m := tr.Duration().Minutes()
	if m < 1 {
		return 1
	}
	return m
}

// Contains reports whether t falls inside [Start, End).
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// WithBucket returns a copy using a different bucket width.
func (tr TimeRange) WithBucket(width time.Duration) TimeRange {
	tr.Bucket = width
	return tr
}

type Resolver struct {
	Clock clockwork.Clock
}

func NewResolver(clock clockwork.Clock) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{Clock: clock}
}

// Resolve maps a token to a window ending now. Unrecognized or empty tokens resolve to
// DefaultToken.
func (r *Resolver) Resolve(token string) TimeRange {
	s := lookup(token)
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	end := clock.Now().UTC()
	return TimeRange{
		Token:  s.token,
		Start:  end.Add(-s.duration),
		End:    end,
		Bucket: s.bucket,
		Label:  s.label,
	}
}

// FromValues resolves the "range" query parameter. Only the first value is used.
func (r *Resolver) FromValues(values url.Values) TimeRange {
	return r.Resolve(values.Get("range"))
}

var realResolver = NewResolver(clockwork.NewRealClock())

// Resolve resolves a token against the wall clock.
func Resolve(token string) TimeRange {
	return realResolver.Resolve(token)
}

// Valid reports whether token is one of the known range tokens.
func Valid(token string) bool {
	for _, s := range specs {
		if s.token == token {
			return true
		}
	}
	return false
}

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Options lists the selectable tokens in ascending order.
func Options() []Option {
	out := make([]Option, 0, len(specs))
	for _, s := range specs {
		out = append(out, Option{Value: s.token, Label: s.label})
	}
	return out
}
