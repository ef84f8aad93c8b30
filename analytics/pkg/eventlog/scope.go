package eventlog

import (
	"fmt"
	"slices"
	"time"
)

// Scope narrows a query to one entity and/or a set of event types. Set fields combine
// with AND. Empty strings and an empty EventTypes slice mean "no filter".
type Scope struct {
	DeviceID   string   `json:"deviceId,omitempty"`
	ProfileID  string   `json:"profileId,omitempty"`
	LocationID string   `json:"locationId,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
}

// Types returns the event type filter with empty entries and duplicates removed, sorted.
// A nil result means the filter is unset.
func (s Scope) Types() []string {
	var out []string
	for _, t := range s.EventTypes {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

// IsZero reports whether no filter is set.
func (s Scope) IsZero() bool {
	return s.DeviceID == "" && s.ProfileID == "" && s.LocationID == "" && len(s.Types()) == 0
}

// WithEventType returns a copy restricted to a single event type.
func (s Scope) WithEventType(eventType string) Scope {
	s.EventTypes = []string{eventType}
	return s
}

func (s Scope) String() string {
	return fmt.Sprintf("device=%q profile=%q location=%q types=%v", s.DeviceID, s.ProfileID, s.LocationID, s.Types())
}

// Window is the half-open interval [Start, End) a store query covers.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Query is what the engine hands to a Store: a window plus a scope.
type Query struct {
	Window Window
	Scope  Scope
}

// Dimension names a grouping key for distinct counts and top-N breakdowns.
type Dimension string

const (
	DimensionDevice    Dimension = "device"
	DimensionLocation  Dimension = "location"
	DimensionProfile   Dimension = "profile"
	DimensionEventType Dimension = "eventType"
)

func (d Dimension) Valid() bool {
	switch d {
	case DimensionDevice, DimensionLocation, DimensionProfile, DimensionEventType:
		return true
	}
	return false
}

// ParseDimension accepts the JSON names plus "event_type".
func ParseDimension(s string) (Dimension, bool) {
	switch s {
	case "device":
		return DimensionDevice, true
	case "location":
		return DimensionLocation, true
	case "profile":
		return DimensionProfile, true
	case "eventType", "event_type", "type":
		return DimensionEventType, true
	}
	return "", false
}
