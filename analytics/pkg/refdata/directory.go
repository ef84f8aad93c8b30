package refdata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultTTL       = 5 * time.Minute
	defaultCacheSize = 16 * 1024 * 1024
)

type DirectoryConfig struct {
	Logger *slog.Logger
	Source Source
	// Cache defaults to an in-process MemoryCache driven by Clock.
	Cache Cacher
	TTL   time.Duration
	Clock clockwork.Clock
}

func (cfg *DirectoryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache(defaultCacheSize, cfg.Clock)
	}
	return nil
}

// Directory serves reference lookups through a cache. Records stay cached for the
// TTL; misses and source errors are not cached.
type Directory struct {
	log *slog.Logger
	cfg DirectoryConfig
}

func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Directory{log: cfg.Logger, cfg: cfg}, nil
}

func (d *Directory) Device(ctx context.Context, id string) (Device, error) {
	if id == "" {
		return Device{}, ErrNotFound
	}
	return Fetch(ctx, d.cfg.Cache, "device:"+id, d.cfg.TTL, func(ctx context.Context) (Device, error) {
		return d.cfg.Source.Device(ctx, id)
	})
}

func (d *Directory) Profile(ctx context.Context, id string) (Profile, error) {
	if id == "" {
		return Profile{}, ErrNotFound
	}
	return Fetch(ctx, d.cfg.Cache, "profile:"+id, d.cfg.TTL, func(ctx context.Context) (Profile, error) {
		return d.cfg.Source.Profile(ctx, id)
	})
}

func (d *Directory) Location(ctx context.Context, id string) (Location, error) {
	if id == "" {
		return Location{}, ErrNotFound
	}
	return Fetch(ctx, d.cfg.Cache, "location:"+id, d.cfg.TTL, func(ctx context.Context) (Location, error) {
		return d.cfg.Source.Location(ctx, id)
	})
}

func (d *Directory) Devices(ctx context.Context) ([]Device, error) {
	return Fetch(ctx, d.cfg.Cache, "devices:all", d.cfg.TTL, d.cfg.Source.Devices)
}

func (d *Directory) Profiles(ctx context.Context) ([]Profile, error) {
	return Fetch(ctx, d.cfg.Cache, "profiles:all", d.cfg.TTL, d.cfg.Source.Profiles)
}

func (d *Directory) Locations(ctx context.Context) ([]Location, error) {
	return Fetch(ctx, d.cfg.Cache, "locations:all", d.cfg.TTL, d.cfg.Source.Locations)
}

func (d *Directory) LocationDeviceCounts(ctx context.Context) ([]LocationCount, error) {
	return Fetch(ctx, d.cfg.Cache, "locations:device_counts", d.cfg.TTL, d.cfg.Source.LocationDeviceCounts)
}

func (d *Directory) LocationProfileCounts(ctx context.Context) ([]LocationCount, error) {
	return Fetch(ctx, d.cfg.Cache, "locations:profile_counts", d.cfg.TTL, d.cfg.Source.LocationProfileCounts)
}

func (d *Directory) LocationProfiles(ctx context.Context, locationID string) ([]Profile, error) {
	return Fetch(ctx, d.cfg.Cache, "location_profiles:"+locationID, d.cfg.TTL, func(ctx context.Context) ([]Profile, error) {
		return d.cfg.Source.LocationProfiles(ctx, locationID)
	})
}

// DeviceName returns the device's name. It never fails: an empty id gives
// UnknownName and an unresolvable id gives the id itself.
func (d *Directory) DeviceName(ctx context.Context, id string) string {
	return name(ctx, d, "device", id, d.Device, Device.DisplayName)
}

func (d *Directory) ProfileName(ctx context.Context, id string) string {
	return name(ctx, d, "profile", id, d.Profile, Profile.Name)
}

func (d *Directory) LocationName(ctx context.Context, id string) string {
	return name(ctx, d, "location", id, d.Location, Location.DisplayName)
}

func name[T any](ctx context.Context, d *Directory, kind, id string, lookup func(context.Context, string) (T, error), display func(T) string) string {
	if id == "" {
		return UnknownName
	}
	v, err := lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.log.Warn("refdata: lookup failed, using id as name", "kind", kind, "id", id, "error", err)
		}
		return id
	}
	return display(v)
}
