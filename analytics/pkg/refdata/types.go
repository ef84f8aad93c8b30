// Package refdata resolves device, profile and location ids to their reference
// records and display names. Lookups go through a TTL cache in front of the main
// Postgres database.
package refdata

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an id has no reference record.
var ErrNotFound = errors.New("not found")

// UnknownName is shown for events that carry no id at all.
const UnknownName = "Unknown"

type Profile struct {
	ID          string         `json:"id" msgpack:"id"`
	DisplayName string         `json:"displayName" msgpack:"display_name"`
	Metadata    map[string]any `json:"metadata" msgpack:"metadata"`
	CreatedAt   time.Time      `json:"createdAt" msgpack:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" msgpack:"updated_at"`
}

// Name returns the display name, or the id when the profile has none.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

type Device struct {
	ID           string    `json:"id" msgpack:"id"`
	Name         string    `json:"name" msgpack:"name"`
	Type         string    `json:"type" msgpack:"type"`
	LocationID   string    `json:"locationId" msgpack:"location_id"`
	LocationName string    `json:"locationName" msgpack:"location_name"`
	CreatedAt    time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

type Location struct {
	ID        string    `json:"id" msgpack:"id"`
	Name      string    `json:"name" msgpack:"name"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updated_at"`
}

func (l Location) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.ID
}

// LocationCount pairs a location with a number of related records.
type LocationCount struct {
	LocationID string `json:"locationId" msgpack:"location_id"`
	Count      int64  `json:"count" msgpack:"count"`
}
