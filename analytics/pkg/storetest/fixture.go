// Package storetest holds the behavior every eventlog.Store backend must share, as a
// suite that backend tests run against their own store built from Fixture.
package storetest

import (
	"time"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
)

// T0 is the start of the fixture window. Window() covers [T0, T0+24h).
var T0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func Window() eventlog.Window {
	return eventlog.Window{Start: T0, End: T0.Add(24 * time.Hour)}
}

// Fixture returns the events the suite expects a store to be built from. Two of them
// sit just outside Window().
func Fixture() []eventlog.Event {
	return []eventlog.Event{
		NewEvent("e01", T0, "login", "d1", "L1", "A", `{}`),
		NewEvent("e02", T0.Add(time.Minute), "login", "d1", "L1", "", `{"profile_id":"B"}`),
		NewEvent("e03", T0.Add(time.Minute), "scan", "d2", "L1", "", `{"profile_ids_present":["A","C"]}`),
		NewEvent("e04", T0.Add(61*time.Minute), "scan", "d2", "L2", "", `{"profile_ids_present":["C","C",""]}`),
		NewEvent("e05", T0.Add(61*time.Minute), "error", "d3", "", "", `{"profile_id":5,"code":"E42"}`),
		withEmptyPrimary(NewEvent("e06", T0.Add(2*time.Hour), "login", "", "L2", "", `{"profile_id":"D","profile_ids_present":["E"]}`)),
		NewEvent("e07", T0.Add(-time.Second), "login", "d1", "L1", "A", `{}`),
		NewEvent("e08", T0.Add(24*time.Hour), "login", "d1", "L1", "A", `{}`),
		NewEvent("e09", T0.Add(3*time.Hour), "scan", "d1", "L2", "A", `{"profile_ids_present":["F"]}`),
		NewEvent("e10", T0.Add(3*time.Hour), "scan", "d4", "L1", "", `{"profile_ids_present":"A"}`),
	}
}

// NewEvent builds an event. Empty references become nil; payload must be a JSON object.
func NewEvent(id string, createdAt time.Time, eventType, deviceID, locationID, primaryProfileID, payload string) eventlog.Event {
	p, err := eventlog.DecodePayload([]byte(payload))
	if err != nil {
		panic(err)
	}
	return eventlog.Event{
		ID:               id,
		CreatedAt:        createdAt.UTC(),
		EventType:        eventType,
		DeviceID:         eventlog.StringPtr(deviceID),
		LocationID:       eventlog.StringPtr(locationID),
		PrimaryProfileID: eventlog.StringPtr(primaryProfileID),
		Payload:          p,
	}
}

// An empty, non-null primary id must behave like NULL.
func withEmptyPrimary(e eventlog.Event) eventlog.Event {
	empty := ""
	e.PrimaryProfileID = &empty
	return e
}
