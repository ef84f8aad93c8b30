// Package identity resolves which user profiles an event belongs to.
//
// An event can name its profile three ways, checked in order:
//  1. the primary_profile_id column
//  2. a string at payload.profile_id
//  3. an array of strings at payload.profile_ids_present
//
// The first non-empty source wins. Only the list form can attach an event to more than
// one profile, in which case the event counts once toward each of them.
package identity

import (
	"slices"

	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
)

const (
	PayloadProfileKey  = "profile_id"
	PayloadProfilesKey = "profile_ids_present"
)

type Source int

const (
	SourceNone Source = iota
	SourcePrimary
	SourcePayload
	SourceList
)

func (s Source) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourcePayload:
		return "payload"
	case SourceList:
		return "list"
	}
	return "none"
}

// Direct returns the single profile id from the primary column or payload.profile_id.
func Direct(e eventlog.Event) (string, Source) {
	if id, ok := eventlog.Ref(e.PrimaryProfileID); ok {
		return id, SourcePrimary
	}
	if id, ok := e.Payload.String(PayloadProfileKey); ok {
		return id, SourcePayload
	}
	return "", SourceNone
}

// Resolve returns the sorted, de-duplicated set of profile ids for e. The result is nil
// when the event has no profile association.
func Resolve(e eventlog.Event) []string {
	ids, _ := resolve(e)
	return ids
}

// ResolveSource is Resolve plus the encoding the ids came from.
func ResolveSource(e eventlog.Event) ([]string, Source) {
	return resolve(e)
}

func resolve(e eventlog.Event) ([]string, Source) {
	if id, src := Direct(e); src != SourceNone {
		return []string{id}, src
	}
	list, ok := e.Payload.StringSlice(PayloadProfilesKey)
	if !ok || len(list) == 0 {
		return nil, SourceNone
	}
	ids := slices.Clone(list)
	slices.Sort(ids)
	return slices.Compact(ids), SourceList
}

// Contains reports whether profileID is in Resolve(e). An empty profileID matches
// nothing.
func Contains(e eventlog.Event, profileID string) bool {
	if profileID == "" {
		return false
	}
	if id, src := Direct(e); src != SourceNone {
		return id == profileID
	}
	list, _ := e.Payload.StringSlice(PayloadProfilesKey)
	return slices.Contains(list, profileID)
}

// Union returns the sorted set of profile ids across events.
func Union(events []eventlog.Event) []string {
	seen := make(map[string]struct{})
	for _, e := range events {
		for _, id := range Resolve(e) {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
