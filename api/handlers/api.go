// Package handlers is the HTTP boundary over the query engine and the reference
// directory. Every route is a GET that reads a "range" token and returns JSON.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
)

type Config struct {
	Logger       *slog.Logger
	Engine       *query.Engine
	Directory    *refdata.Directory
	Resolver     *timerange.Resolver
	QueryTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Directory == nil {
		return errors.New("directory is required")
	}
	if cfg.Resolver == nil {
		return errors.New("resolver is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	return nil
}

type API struct {
	log    *slog.Logger
	cfg    Config
	joiner *refdata.Joiner
}

func New(cfg Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &API{
		log:    cfg.Logger,
		cfg:    cfg,
		joiner: refdata.NewJoiner(cfg.Directory),
	}, nil
}

// Routes registers every API route on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/api/version", GetVersion)
	r.Get("/api/ranges", a.GetRanges)
	r.Get("/api/overview", a.GetOverview)
	r.Get("/api/event-types", a.GetEventTypeList)
	r.Get("/api/event-types/{type}", a.GetEventType)
	r.Get("/api/event-types/{type}/samples", a.GetEventTypeSamples)
	r.Get("/api/devices", a.GetDevices)
	r.Get("/api/devices/{id}", a.GetDevice)
	r.Get("/api/devices/{id}/events", a.GetDeviceEvents)
	r.Get("/api/profiles", a.GetProfiles)
	r.Get("/api/profiles/{id}", a.GetProfile)
	r.Get("/api/profiles/{id}/events", a.GetProfileEvents)
	r.Get("/api/locations", a.GetLocations)
	r.Get("/api/locations/{id}", a.GetLocation)
	r.Get("/api/locations/{id}/events", a.GetLocationEvents)
	r.Get("/api/locations/{id}/profiles", a.GetLocationProfiles)
	r.Get("/api/stream", a.GetStream)
}

func (a *API) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.cfg.QueryTimeout)
}

func (a *API) timeRange(r *http.Request) timerange.TimeRange {
	return a.cfg.Resolver.FromValues(r.URL.Query())
}

// RangeResponse describes the resolved window a response covers.
type RangeResponse struct {
	Token         string    `json:"token"`
	Label         string    `json:"label"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	BucketSeconds int64     `json:"bucketSeconds"`
}

func rangeResponse(tr timerange.TimeRange) RangeResponse {
	return RangeResponse{
		Token:         tr.Token,
		Label:         tr.Label,
		Start:         tr.Start,
		End:           tr.End,
		BucketSeconds: int64(tr.Bucket / time.Second),
	}
}

// parseScope reads device, profile, location and types. types accepts both a
// comma separated list and repeated parameters.
func parseScope(r *http.Request) eventlog.Scope {
	q := r.URL.Query()
	scope := eventlog.Scope{
		DeviceID:   strings.TrimSpace(q.Get("device")),
		ProfileID:  strings.TrimSpace(q.Get("profile")),
		LocationID: strings.TrimSpace(q.Get("location")),
	}
	for _, v := range q["types"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				scope.EventTypes = append(scope.EventTypes, t)
			}
		}
	}
	return scope
}

// volume returns an unsplit series, zero-filled when the request asks for dense=true.
func volume(r *http.Request, series []eventlog.VolumeBucket, tr timerange.TimeRange) []eventlog.VolumeBucket {
	if r.URL.Query().Get("dense") == "true" {
		return timerange.Densify(series, tr)
	}
	if series == nil {
		return []eventlog.VolumeBucket{}
	}
	return series
}
