package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"golang.org/x/sync/errgroup"
)

type ProfileRow struct {
	eventlog.ProfileStats
	Name string `json:"name"`
}

type ProfilesResponse struct {
	Range    RangeResponse `json:"range"`
	Profiles []ProfileRow  `json:"profiles"`
}

// GetProfiles lists every profile resolved from events in the range. One event can
// count toward several profiles.
func (a *API) GetProfiles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	tr := a.timeRange(r)
	stats, err := a.cfg.Engine.ProfileStats(ctx, tr, parseScope(r))
	if err != nil {
		writeError(w, a.log, "failed to load profile stats", err)
		return
	}

	rows := make([]ProfileRow, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, ProfileRow{ProfileStats: s, Name: a.cfg.Directory.ProfileName(ctx, s.ProfileID)})
	}
	writeJSON(w, a.log, http.StatusOK, ProfilesResponse{Range: rangeResponse(tr), Profiles: rows})
}

type ProfileResponse struct {
	Range        RangeResponse      `json:"range"`
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Profile      *refdata.Profile   `json:"profile"`
	Activity     Activity           `json:"activity"`
	TopDevices   []refdata.NamedRow `json:"topDevices"`
	TopLocations []refdata.NamedRow `json:"topLocations"`
}

func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	tr := a.timeRange(r)
	scope := parseScope(r)
	scope.ProfileID = id

	resp := ProfileResponse{Range: rangeResponse(tr), ID: id}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resp.Activity, err = a.activity(gctx, r, tr, scope)
		return err
	})
	g.Go(func() error {
		var err error
		resp.TopDevices, err = a.topNamed(gctx, tr, scope, eventlog.DimensionDevice, topEntities)
		return err
	})
	g.Go(func() error {
		var err error
		resp.TopLocations, err = a.topNamed(gctx, tr, scope, eventlog.DimensionLocation, topEntities)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, a.log, "failed to load profile", err)
		return
	}

	resp.Profile = entity(ctx, a, "profile", id, a.cfg.Directory.Profile)
	resp.Name = a.cfg.Directory.ProfileName(ctx, id)
	writeJSON(w, a.log, http.StatusOK, resp)
}

func (a *API) GetProfileEvents(w http.ResponseWriter, r *http.Request) {
	scope := parseScope(r)
	scope.ProfileID = chi.URLParam(r, "id")
	a.writeEvents(w, r, scope, "failed to load profile events", DefaultLimit)
}
