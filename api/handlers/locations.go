package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"golang.org/x/sync/errgroup"
)

type LocationRow struct {
	eventlog.LocationStats
	Name string `json:"name"`
	// RegisteredDevices and RegisteredProfiles come from the reference tables, not
	// from events.
	RegisteredDevices  int64                   `json:"registeredDevices"`
	RegisteredProfiles int64                   `json:"registeredProfiles"`
	Sparkline          []eventlog.VolumeBucket `json:"sparkline"`
}

type LocationsResponse struct {
	Range     RangeResponse `json:"range"`
	Locations []LocationRow `json:"locations"`
}

func countsByLocation(counts []refdata.LocationCount) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.LocationID] = c.Count
	}
	return out
}

// GetLocations lists locations with events in the range, each with an hourly
// sparkline and the device and profile counts registered to it.
func (a *API) GetLocations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	tr := a.timeRange(r)
	scope := parseScope(r)

	var (
		stats      []eventlog.LocationStats
		sparklines []eventlog.LocationSeries
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = a.cfg.Engine.LocationStats(gctx, tr, scope)
		return err
	})
	g.Go(func() error {
		var err error
		sparklines, err = a.cfg.Engine.LocationSparklines(gctx, tr, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, a.log, "failed to load location stats", err)
		return
	}

	var deviceCounts, profileCounts map[string]int64
	if counts, err := a.cfg.Directory.LocationDeviceCounts(ctx); err != nil {
		a.log.Warn("handlers: failed to load location device counts", "error", err)
	} else {
		deviceCounts = countsByLocation(counts)
	}
	if counts, err := a.cfg.Directory.LocationProfileCounts(ctx); err != nil {
		a.log.Warn("handlers: failed to load location profile counts", "error", err)
	} else {
		profileCounts = countsByLocation(counts)
	}

	points := make(map[string][]eventlog.VolumeBucket, len(sparklines))
	for _, s := range sparklines {
		points[s.LocationID] = s.Points
	}

	rows := make([]LocationRow, 0, len(stats))
	for _, s := range stats {
		spark := points[s.LocationID]
		if spark == nil {
			spark = []eventlog.VolumeBucket{}
		}
		rows = append(rows, LocationRow{
			LocationStats:      s,
			Name:               a.cfg.Directory.LocationName(ctx, s.LocationID),
			RegisteredDevices:  deviceCounts[s.LocationID],
			RegisteredProfiles: profileCounts[s.LocationID],
			Sparkline:          spark,
		})
	}
	writeJSON(w, a.log, http.StatusOK, LocationsResponse{Range: rangeResponse(tr), Locations: rows})
}

type LocationResponse struct {
	Range      RangeResponse      `json:"range"`
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Location   *refdata.Location  `json:"location"`
	Activity   Activity           `json:"activity"`
	TopDevices []refdata.NamedRow `json:"topDevices"`
	Profiles   []refdata.Profile  `json:"profiles"`
}

func (a *API) GetLocation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	tr := a.timeRange(r)
	scope := parseScope(r)
	scope.LocationID = id

	resp := LocationResponse{Range: rangeResponse(tr), ID: id}
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
	if err := g.Wait(); err != nil {
		writeError(w, a.log, "failed to load location", err)
		return
	}

	resp.Location = entity(ctx, a, "location", id, a.cfg.Directory.Location)
	resp.Name = a.cfg.Directory.LocationName(ctx, id)
	profiles, err := a.cfg.Directory.LocationProfiles(ctx, id)
	if err != nil {
		a.log.Warn("handlers: failed to load location profiles", "location", id, "error", err)
		profiles = []refdata.Profile{}
	}
	resp.Profiles = profiles
	writeJSON(w, a.log, http.StatusOK, resp)
}

func (a *API) GetLocationEvents(w http.ResponseWriter, r *http.Request) {
	scope := parseScope(r)
	scope.LocationID = chi.URLParam(r, "id")
	a.writeEvents(w, r, scope, "failed to load location events", DefaultLimit)
}

type LocationProfilesResponse struct {
	Location refdata.Location  `json:"location"`
	Profiles []refdata.Profile `json:"profiles"`
}

// GetLocationProfiles returns the profiles registered to a location. Unknown
// locations are a 404.
func (a *API) GetLocationProfiles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	loc, err := a.cfg.Directory.Location(ctx, id)
	if err != nil {
		writeError(w, a.log, "failed to load location", err)
		return
	}
	profiles, err := a.cfg.Directory.LocationProfiles(ctx, id)
	if err != nil {
		writeError(w, a.log, "failed to load location profiles", err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, LocationProfilesResponse{Location: loc, Profiles: profiles})
}
