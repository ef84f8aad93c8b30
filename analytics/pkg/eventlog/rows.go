package eventlog

import (
	"context"
	"time"
)

// VolumeBucket is one point of a sparse volume series. EventType is empty unless the
// series was split by event type.
type VolumeBucket struct {
	Bucket    time.Time `json:"bucket"`
	EventType string    `json:"eventType,omitempty"`
	Count     int64     `json:"count"`
}

// TopNRow is one entry of a breakdown, keyed by the dimension value.
type TopNRow struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// ShareRow is a breakdown entry with its share of a whole, formatted to one decimal.
type ShareRow struct {
	Key        string `json:"key"`
	Count      int64  `json:"count"`
	Percentage string `json:"percentage"`
}

type PaginatedEvents struct {
	Rows  []EventRow `json:"rows"`
	Total int64      `json:"total"`
}

type KPIStats struct {
	TotalEvents     int64   `json:"totalEvents"`
	EventsPerMinute float64 `json:"eventsPerMinute"`
	UniqueDevices   int64   `json:"uniqueDevices"`
	UniqueProfiles  int64   `json:"uniqueProfiles"`
	UniqueLocations int64   `json:"uniqueLocations"`
}

type DeviceStats struct {
	DeviceID   string           `json:"deviceId"`
	EventCount int64            `json:"eventCount"`
	LastEvent  time.Time        `json:"lastEvent"`
	TypeCounts map[string]int64 `json:"typeCounts"`
	TopTypes   []string         `json:"topTypes"`
}

type ProfileStats struct {
	ProfileID     string    `json:"profileId"`
	EventCount    int64     `json:"eventCount"`
	DeviceCount   int64     `json:"deviceCount"`
	LocationCount int64     `json:"locationCount"`
	LastActive    time.Time `json:"lastActive"`
}

type LocationStats struct {
	LocationID   string `json:"locationId"`
	EventCount   int64  `json:"eventCount"`
	DeviceCount  int64  `json:"deviceCount"`
	ProfileCount int64  `json:"profileCount"`
}

// LocationBucket is one point of a per-location series.
type LocationBucket struct {
	LocationID string    `json:"locationId"`
	Bucket     time.Time `json:"bucket"`
	Count      int64     `json:"count"`
}

type LocationSeries struct {
	LocationID string         `json:"locationId"`
	Points     []VolumeBucket `json:"points"`
}

// Store is a read-only event store that evaluates windowed, scoped aggregates. Every
// implementation applies the same semantics:
//   - Window is half-open.
//   - Scope fields AND together; an empty type list is no filter.
//   - The profile dimension and profile filter use identity resolution with set
//     semantics (one event can count toward several profiles).
//   - Buckets are epoch-aligned in UTC and sparse.
//   - Rows without a key (no device, no location, no profile) are left out of
//     breakdowns and distinct counts.
//
// Ordering of the returned slices is not part of the contract except for Events,
// which is created_at DESC, id ASC. The engine imposes the documented order on all
// other results.
type Store interface {
	Count(ctx context.Context, q Query) (int64, error)
	CountDistinct(ctx context.Context, q Query, dim Dimension) (int64, error)
	Volume(ctx context.Context, q Query, width time.Duration, splitByEventType bool) ([]VolumeBucket, error)
	// Top groups by dim ordered by count descending, then key ascending, and returns the
	// first n groups; n <= 0 returns every group.
	Top(ctx context.Context, q Query, dim Dimension, n int) ([]TopNRow, error)
	Events(ctx context.Context, q Query, limit, offset int) ([]Event, error)

	DeviceStats(ctx context.Context, q Query) ([]DeviceStats, error)
	ProfileStats(ctx context.Context, q Query) ([]ProfileStats, error)
	LocationStats(ctx context.Context, q Query) ([]LocationStats, error)
	LocationVolume(ctx context.Context, q Query, width time.Duration) ([]LocationBucket, error)
}
